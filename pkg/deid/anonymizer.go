package deid

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/identity"
	"github.com/neurocohort/databank/pkg/tabular"
)

// Directory is the part of the identity registry the anonymizer reads.
type Directory interface {
	PublicCodeOf(internal string) (string, bool)
	InternalCodeOfToken(token string) (string, bool)
	DateOfBirth(internal string) (time.Time, bool)
}

// Source yields header-keyed rows.
type Source interface {
	Name() string
	Header() []string
	Next() (tabular.Row, error)
}

// Sink receives anonymized records as cells in output header order.
type Sink interface {
	WriteFields([]string) error
}

// TableSource adapts a delimited reader to a named Source.
type TableSource struct {
	*tabular.Reader
	name string
}

// NewSource reads the header of a CSV export, sniffing its dialect, or of
// a tab-separated key/value export.
func NewSource(name string, r io.Reader, format Format) (*TableSource, error) {
	var (
		reader *tabular.Reader
		err    error
	)
	if format == FormatTSV {
		reader, err = tabular.NewReader(r, tabular.TSV)
	} else {
		reader, err = tabular.NewSniffingReader(r)
	}
	if err != nil {
		return nil, err
	}
	return &TableSource{Reader: reader, name: name}, nil
}

func (s *TableSource) Name() string {
	return s.name
}

// Stats counts records through one unit.
type Stats struct {
	Read    int `json:"read"`
	Written int `json:"written"`
	Dropped int `json:"dropped"`
}

// Anonymizer rewrites subject identifiers and dates according to a schema.
// It holds no mutable state and may be shared by workers.
type Anonymizer struct {
	schema    *Schema
	dir       Directory
	transform *dates.Transform
	// trials are free of the acquisition floor; they hold parents' birth
	// dates and end-of-education dates.
	trials *dates.Transform
}

func NewAnonymizer(schema *Schema, dir Directory, floor time.Time) *Anonymizer {
	base := dates.NewTransform(dir, floor)
	transform := base
	if !schema.DateFloor {
		transform = base.WithFloor(time.Time{})
	}
	return &Anonymizer{
		schema:    schema,
		dir:       dir,
		transform: transform,
		trials:    base.WithFloor(time.Time{}),
	}
}

func (a *Anonymizer) Schema() *Schema {
	return a.schema
}

// OutputHeader is the source header without dropped columns.
func (a *Anonymizer) OutputHeader(header []string) []string {
	kept := a.keptColumns(header)
	out := make([]string, len(kept))
	for i, c := range kept {
		out[i] = header[c]
	}
	return out
}

func (a *Anonymizer) keptColumns(header []string) []int {
	kept := make([]int, 0, len(header))
	for i, name := range header {
		if !a.schema.IsDroppedField(name) {
			kept = append(kept, i)
		}
	}
	return kept
}

// AnonymizeStream reads one export from r and writes its anonymized form
// to w in the same dialect.
func (a *Anonymizer) AnonymizeStream(name string, r io.Reader, w io.Writer) (Stats, []models.Diagnostic, error) {
	src, err := NewSource(name, r, a.schema.Format)
	if errors.Is(err, tabular.ErrNoHeader) {
		return Stats{}, []models.Diagnostic{
			models.NewDiagnostic(models.KindUnexpectedStructure, name, "Empty file", ""),
		}, nil
	}
	if err != nil {
		return Stats{}, nil, fmt.Errorf("%s: %w", name, err)
	}
	sink, err := tabular.NewWriter(w, src.Dialect(), a.OutputHeader(src.Header()))
	if err != nil {
		return Stats{}, nil, fmt.Errorf("%s: %w", name, err)
	}
	stats, diags, err := a.Anonymize(src, sink)
	if err != nil {
		return stats, diags, err
	}
	if err := sink.Flush(); err != nil {
		return stats, diags, fmt.Errorf("%s: %w", name, err)
	}
	return stats, diags, nil
}

// Anonymize processes every record of src. Each record is either written
// to sink once or dropped with at least one diagnostic. The error return
// is reserved for read and write failures.
func (a *Anonymizer) Anonymize(src Source, sink Sink) (Stats, []models.Diagnostic, error) {
	var (
		stats Stats
		diags []models.Diagnostic
	)
	header := src.Header()
	idField := a.schema.IDField
	if idField == "" && len(header) > 0 {
		idField = header[0]
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		if present[h] {
			diags = append(diags, models.NewDiagnostic(models.KindUnexpectedStructure, src.Name(),
				fmt.Sprintf("Column %q appears more than once", h), "").WithSeverity(models.SeverityWarning))
		}
		present[h] = true
	}
	for _, f := range a.schema.DateFields {
		if !present[f] {
			diags = append(diags, models.NewDiagnostic(models.KindMissingRequiredField, src.Name(),
				fmt.Sprintf("Date column %q is missing", f), "").WithSeverity(models.SeverityWarning))
		}
	}
	cols := columns{
		header: header,
		kept:   a.keptColumns(header),
		id:     -1,
	}
	for i, h := range header {
		if h == idField && cols.id < 0 {
			cols.id = i
		}
		if a.schema.IsDateField(h) {
			cols.dates = append(cols.dates, i)
		}
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, diags, fmt.Errorf("%s: %w", src.Name(), err)
		}
		stats.Read++

		location := fmt.Sprintf("%s:%d", src.Name(), row.Line)
		record, rowDiags, keep := a.anonymizeRecord(location, cols, row)
		diags = append(diags, rowDiags...)
		if !keep {
			stats.Dropped++
			continue
		}
		if err := sink.WriteFields(record); err != nil {
			return stats, diags, fmt.Errorf("%s: %w", src.Name(), err)
		}
		stats.Written++
	}

	logger.WithFields(logrus.Fields{
		"unit":    src.Name(),
		"schema":  a.schema.Name,
		"read":    stats.Read,
		"written": stats.Written,
		"dropped": stats.Dropped,
	}).Debug("unit anonymized")
	return stats, diags, nil
}

// columns locates the cells of a source header the anonymizer rewrites.
type columns struct {
	header []string
	kept   []int
	// id is the first column holding the subject identifier, or -1.
	id    int
	dates []int
}

func (a *Anonymizer) anonymizeRecord(location string, cols columns, row tabular.Row) ([]string, []models.Diagnostic, bool) {
	s := a.schema
	raw := row.Record
	var diags []models.Diagnostic

	rowKey := ""
	if s.RowKeyField != "" {
		rowKey = raw[s.RowKeyField]
		if s.IsDroppedRow(rowKey) {
			return nil, []models.Diagnostic{
				models.NewDiagnostic(models.KindDiscarded, location, "Row carries identifying content", rowKey).
					WithSeverity(models.SeverityInfo),
			}, false
		}
	}

	if cols.id < 0 {
		return nil, []models.Diagnostic{
			models.NewDiagnostic(models.KindMissingRequiredField, location,
				fmt.Sprintf("Subject column %q is missing", s.IDField), ""),
		}, false
	}
	rawID := cellAt(row.Fields, cols.id)
	subject := SplitSubjectID(rawID, s)
	internal, public, drop := a.resolve(location, rawID, subject)
	if drop != nil {
		return nil, []models.Diagnostic{*drop}, false
	}

	if row.Width > len(cols.header) {
		diags = append(diags, models.NewDiagnostic(models.KindUnexpectedStructure, location,
			fmt.Sprintf("Row has %d cells for %d columns, extra cells removed", row.Width, len(cols.header)), "").
			WithSeverity(models.SeverityWarning))
	}

	cells := make([]string, len(cols.header))
	for i := range cells {
		cells[i] = cellAt(row.Fields, i)
	}
	cells[cols.id] = subject.Rewrite(public)

	for _, c := range cols.dates {
		value := cells[c]
		if value == "" {
			continue
		}
		age, err := a.transform.AgeInDays(internal, value, s.dateLayouts)
		if err != nil {
			cells[c] = ""
			diags = append(diags, dates.Diagnose(err, location+": "+cols.header[c], value))
			continue
		}
		cells[c] = strconv.Itoa(age)
	}

	for i := range s.TrialDates {
		td := &s.TrialDates[i]
		if rowKey == "" || !contains(td.Rows, rowKey) {
			continue
		}
		for c, name := range cols.header {
			if name != td.ValueField || cells[c] == "" {
				continue
			}
			converted, d := a.trialDate(location+": "+rowKey, internal, cells[c], raw, td)
			cells[c] = converted
			if d != nil {
				diags = append(diags, *d)
			}
		}
	}

	out := make([]string, len(cols.kept))
	for i, c := range cols.kept {
		out[i] = cells[c]
	}
	return out, diags, true
}

func cellAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// resolve maps the subject to its internal and public codes, or explains
// why the record is dropped.
func (a *Anonymizer) resolve(location, raw string, subject SubjectID) (string, string, *models.Diagnostic) {
	s := a.schema
	drop := func(kind models.DiagnosticKind, severity models.Severity, message string) (string, string, *models.Diagnostic) {
		d := models.NewDiagnostic(kind, location, message, raw).WithSeverity(severity)
		return "", "", &d
	}

	if subject.Base == "" {
		return drop(models.KindMissingRequiredField, models.SeverityError, "Missing subject identifier")
	}
	if contains(s.IgnoredIDs, subject.Base) {
		return drop(models.KindDiscarded, models.SeverityInfo, "Withdrawn subject identifier")
	}
	if contains(s.KnownInvalidIDs, subject.Base) {
		return drop(models.KindDiscarded, models.SeverityInfo, "Known invalid subject identifier")
	}

	internal := subject.Base
	if s.IDNamespace == NamespaceToken {
		code, ok := a.dir.InternalCodeOfToken(subject.Base)
		if ok {
			internal = code
		} else {
			internal = ""
		}
	}
	if internal != "" {
		if public, ok := a.dir.PublicCodeOf(internal); ok {
			return internal, public, nil
		}
		if s.IDNamespace == NamespaceToken {
			return drop(models.KindUnknownIdentifier, models.SeverityError, "Internal code missing from conversion table")
		}
	}

	if s.IsTestSubject(raw) {
		return drop(models.KindDiscarded, models.SeverityInfo, "Test subject")
	}
	switch s.IDNamespace {
	case NamespaceToken:
		if !identity.AllDigits(subject.Base) {
			return drop(models.KindMalformedIdentifier, models.SeverityError, "Malformed survey token")
		}
		return drop(models.KindUnknownIdentifier, models.SeverityError, "Survey token missing from conversion table")
	default:
		if !identity.ValidInternalCode(subject.Base) {
			return drop(models.KindMalformedIdentifier, models.SeverityError, "Malformed subject identifier")
		}
		return drop(models.KindUnknownIdentifier, models.SeverityError, "Unknown subject identifier")
	}
}

func (a *Anonymizer) trialDate(location, internal, value string, raw tabular.Record, td *TrialDate) (string, *models.Diagnostic) {
	if td.RelativeTo == "" {
		age, err := a.trials.AgeInDays(internal, value, td.layouts)
		if err != nil {
			d := dates.Diagnose(err, location, value)
			return "", &d
		}
		return strconv.Itoa(age), nil
	}

	event, ok := dates.Parse(value, td.layouts)
	if !ok {
		d := dates.Diagnose(dates.ErrUnparsable, location, value)
		return "", &d
	}
	reference, ok := dates.Parse(raw[td.RelativeTo], td.relativeLayouts)
	if !ok {
		d := models.NewDiagnostic(models.KindUnparsableDate, location,
			fmt.Sprintf("Cannot interpret reference date %q", td.RelativeTo), raw[td.RelativeTo])
		return "", &d
	}
	return strconv.Itoa(dates.DaysBetween(event, reference)), nil
}
