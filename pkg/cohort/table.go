package cohort

import (
	"fmt"
	"io"
	"sort"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/tabular"
)

// Table collects cleaned records keyed by public code. It is filled by the
// single writer once all workers are done and is not safe for concurrent
// use.
type Table struct {
	columns     []Column
	rows        map[string]tabular.Record
	diagnostics []models.Diagnostic
}

func NewTable(columns []Column) *Table {
	return &Table{
		columns: append([]Column(nil), columns...),
		rows:    make(map[string]tabular.Record),
	}
}

// Add files a record under its public code. The first record of a subject
// wins; later ones are reported and ignored.
func (t *Table) Add(public string, record tabular.Record) bool {
	if _, exists := t.rows[public]; exists {
		t.diagnostics = append(t.diagnostics, models.NewDiagnostic(models.KindDuplicateIdentifier, public,
			"Duplicate subject in cohort table", record[fieldSubject]))
		return false
	}
	t.rows[public] = record
	return true
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Diagnostics() []models.Diagnostic {
	return t.diagnostics
}

// Header lists the output column names.
func (t *Table) Header() []string {
	header := make([]string, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Header()
	}
	return header
}

// WriteTo writes the table as comma-separated values sorted by public code.
// The first column carries the public code; absent fields are empty cells.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	out, err := tabular.NewWriter(cw, tabular.Excel, t.Header())
	if err != nil {
		return cw.n, err
	}

	codes := make([]string, 0, len(t.rows))
	for code := range t.rows {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		record := t.rows[code]
		row := make(tabular.Record, len(t.columns))
		for i, c := range t.columns {
			if i == 0 {
				row[c.Header()] = code
				continue
			}
			row[c.Header()] = record[c.Field]
		}
		if err := out.Write(row); err != nil {
			return cw.n, fmt.Errorf("write %s: %w", code, err)
		}
	}
	if err := out.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
