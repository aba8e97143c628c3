package tabular

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
)

// Writer emits records in header order. Missing fields become empty cells.
type Writer struct {
	csv     *csv.Writer
	literal *bufio.Writer
	comma   string
	header  []string
}

func NewWriter(w io.Writer, d Dialect, header []string) (*Writer, error) {
	out := &Writer{header: append([]string(nil), header...)}
	if d.Literal {
		out.literal = bufio.NewWriter(w)
		out.comma = string(d.Delimiter)
	} else {
		out.csv = csv.NewWriter(w)
		if d.Delimiter != 0 {
			out.csv.Comma = d.Delimiter
		}
	}
	if err := out.WriteFields(header); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Writer) Header() []string {
	return append([]string(nil), w.header...)
}

func (w *Writer) Write(record Record) error {
	row := make([]string, len(w.header))
	for i, name := range w.header {
		row[i] = record[name]
	}
	return w.WriteFields(row)
}

// WriteFields writes cells in the order given. A literal dialect writes
// them unquoted.
func (w *Writer) WriteFields(fields []string) error {
	if w.literal == nil {
		return w.csv.Write(fields)
	}
	if _, err := w.literal.WriteString(strings.Join(fields, w.comma)); err != nil {
		return err
	}
	return w.literal.WriteByte('\n')
}

// Flush writes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	if w.literal != nil {
		return w.literal.Flush()
	}
	w.csv.Flush()
	return w.csv.Error()
}
