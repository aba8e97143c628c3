package cohort

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/tabular"
)

// brokenSeparator shows up where a site exported decimal commas from a
// spreadsheet set to semicolon lists.
const brokenSeparator = `;"`

const minColumns = 3

var genders = map[string]string{
	"Female": "F",
	"Male":   "M",
}

// Sheet holds the raw rows of one cognitive battery datasheet.
type Sheet struct {
	Location string
	Header   []string
	Rows     []tabular.Record
}

// ReadSheet reads a latin1 datasheet in whatever dialect the site exported.
func ReadSheet(r io.Reader, location string) (Sheet, error) {
	reader, err := tabular.NewSniffingReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	if err != nil {
		return Sheet{}, fmt.Errorf("%s: %w", location, err)
	}
	sheet := Sheet{Location: location, Header: reader.Header()}
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("%s: %w", location, err)
		}
		sheet.Rows = append(sheet.Rows, row.Record)
	}
	return sheet, nil
}

// CleanDatasheet reduces the single data row of a subject's datasheet to a
// cohort record keyed by field name. Start times become ages in days and
// the subject field is set to internal. A nil record means the sheet was
// rejected; the diagnostics say why.
func CleanDatasheet(internal string, sheet Sheet, columns []Column, transform *dates.Transform) (tabular.Record, []models.Diagnostic) {
	location := sheet.Location
	reject := func(kind models.DiagnosticKind, message, sample string) (tabular.Record, []models.Diagnostic) {
		return nil, []models.Diagnostic{models.NewDiagnostic(kind, location, message, sample)}
	}

	if len(sheet.Header) < minColumns {
		return reject(models.KindUnexpectedStructure,
			fmt.Sprintf("Datasheet has %d columns instead of at least %d", len(sheet.Header), minColumns),
			strings.Join(sheet.Header, ","))
	}
	switch n := len(sheet.Rows); {
	case n > 1:
		return reject(models.KindUnexpectedStructure, "Multiple data rows in datasheet", strconv.Itoa(n))
	case n < 1:
		return reject(models.KindMissingRequiredField, "Missing data in datasheet", "")
	}

	record := make(tabular.Record, len(sheet.Header))
	for k, v := range sheet.Rows[0] {
		if k == "" || strings.Contains(k, "Warning") {
			continue
		}
		record[k] = repairSeparator(v)
	}

	var diags []models.Diagnostic
	for _, c := range columns {
		if _, ok := record[c.Field]; c.Required && !ok {
			diags = append(diags, models.NewDiagnostic(models.KindMissingRequiredField, location,
				fmt.Sprintf("Missing required field '%s'", c.Field), "").WithSeverity(models.SeverityWarning))
		}
	}

	subject := strings.Trim(record[fieldSubject], `"`)
	if len(subject) < len(internal) || subject[:len(internal)] != internal {
		return nil, append(diags, models.NewDiagnostic(models.KindIdentifierMismatch, location,
			fmt.Sprintf("Incorrect PSC1 code in datasheet (expected %s)", internal), subject))
	}
	record[fieldSubject] = internal

	if gender, ok := record[fieldGender]; ok {
		if mapped, known := genders[gender]; known {
			record[fieldGender] = mapped
		} else if gender != "" {
			diags = append(diags, models.NewDiagnostic(models.KindMalformedIdentifier, location,
				fmt.Sprintf("Invalid value for '%s'", fieldGender), gender))
			record[fieldGender] = ""
		}
	}

	for _, field := range []string{fieldSessionStart, fieldTestStart} {
		value := record[field]
		if value == "" {
			continue
		}
		age, err := transform.AgeInDays(internal, value, dates.CantabTimestamps)
		if err != nil {
			diags = append(diags, dates.Diagnose(err, location+": "+field, value))
			record[field] = ""
			continue
		}
		record[field] = strconv.Itoa(age)
	}

	for k, v := range record {
		record[k] = normalizeNumber(strings.Trim(v, `"`))
	}
	return record, diags
}

func repairSeparator(value string) string {
	if strings.Contains(value, brokenSeparator) && strings.HasSuffix(value, `"`) {
		repaired := strings.ReplaceAll(value, brokenSeparator, ".")
		return repaired[:len(repaired)-1]
	}
	return value
}

// normalizeNumber turns continental decimal commas into points. Only
// values made of digits, minus signs and commas are touched.
func normalizeNumber(value string) string {
	if strings.Trim(value, "-0123456789,") != "" {
		return value
	}
	return strings.ReplaceAll(value, ",", ".")
}
