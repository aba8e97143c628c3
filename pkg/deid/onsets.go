package deid

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
)

// OnsetsFileName names a released task export.
func OnsetsFileName(task, public, timepoint string) string {
	return task + "_" + public + timepoint + ".csv"
}

// AnonymizeTaskHeader rewrites line 1 of a behavioral task export: the
// time stamp becomes the age in days and the internal code in the subject
// field becomes the public code. Other lines are copied byte for byte.
// Nothing is written when the header names another subject.
func AnonymizeTaskHeader(r io.Reader, w io.Writer, location, internal, public string, transform *dates.Transform) ([]models.Diagnostic, bool, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("%s: %w", location, err)
	}
	if strings.TrimSpace(line) == "" {
		return []models.Diagnostic{
			models.NewDiagnostic(models.KindUnexpectedStructure, location, "Empty file", ""),
		}, false, nil
	}

	var diags []models.Diagnostic
	columns := strings.Split(line, "\t")
	if len(columns) < 3 {
		return []models.Diagnostic{
			models.NewDiagnostic(models.KindUnexpectedStructure, location,
				fmt.Sprintf("Line 1 contains %d columns instead of 4", len(columns)), line),
		}, false, nil
	}
	if !strings.Contains(columns[2], internal) {
		return []models.Diagnostic{
			models.NewDiagnostic(models.KindIdentifierMismatch, location,
				fmt.Sprintf("Subject field was expected to name %s", internal), columns[2]),
		}, false, nil
	}

	stamp := strings.TrimSpace(columns[1])
	if age, err := transform.AgeInDays(internal, stamp, dates.BehavioralTimestamps); err != nil {
		diags = append(diags, dates.Diagnose(err, location, stamp))
		columns[1] = ""
	} else {
		columns[1] = strconv.Itoa(age)
	}
	columns[2] = strings.ReplaceAll(columns[2], internal, public)

	if _, err := io.WriteString(w, strings.Join(columns, "\t")); err != nil {
		return diags, false, err
	}
	if _, err := io.Copy(w, br); err != nil {
		return diags, false, err
	}
	return diags, true, nil
}
