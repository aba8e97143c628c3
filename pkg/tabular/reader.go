package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record maps column names to cell values. When a header repeats a name,
// the record holds the first cell of that name.
type Record map[string]string

// Row is a record with the line it was read from, used for diagnostics.
type Row struct {
	Line   int
	Record Record
	// Fields holds the raw cells in file order; Width is their count before
	// padding.
	Fields []string
	Width  int
}

// Reader yields header-keyed rows from a delimited file.
type Reader struct {
	read    func() ([]string, int, error)
	header  []string
	dialect Dialect
}

var ErrNoHeader = errors.New("missing header row")

// NewReader reads the header with the given dialect.
func NewReader(r io.Reader, d Dialect) (*Reader, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := &Reader{dialect: d}
	if d.Literal {
		reader.read = literalLines(br, string(d.Delimiter))
	} else {
		reader.read = csvRecords(br, d)
	}

	header, _, err := reader.read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	reader.header = header
	return reader, nil
}

func csvRecords(r io.Reader, d Dialect) func() ([]string, int, error) {
	cr := csv.NewReader(r)
	cr.Comma = d.Delimiter
	cr.LazyQuotes = d.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	return func() ([]string, int, error) {
		fields, err := cr.Read()
		if err != nil {
			return nil, 0, err
		}
		line, _ := cr.FieldPos(0)
		return fields, line, nil
	}
}

// literalLines splits every line on the delimiter. Quotes are plain
// characters.
func literalLines(br *bufio.Reader, delimiter string) func() ([]string, int, error) {
	line := 0
	return func() ([]string, int, error) {
		text, err := br.ReadString('\n')
		if text == "" && err != nil {
			return nil, 0, err
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, err
		}
		line++
		text = strings.TrimSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\r")
		return strings.Split(text, delimiter), line, nil
	}
}

// NewSniffingReader buffers the start of r to detect the dialect first.
func NewSniffingReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	sample, err := br.Peek(32 * 1024)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	return NewReader(br, Sniff(sample))
}

func (r *Reader) Header() []string {
	out := make([]string, len(r.header))
	copy(out, r.header)
	return out
}

func (r *Reader) Dialect() Dialect {
	return r.dialect
}

// Duplicates lists the header names that appear more than once.
func (r *Reader) Duplicates() []string {
	seen := make(map[string]int, len(r.header))
	var dups []string
	for _, name := range r.header {
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}

// Next returns the next non-blank row, or io.EOF. Short rows are padded
// with empty cells in Record; Fields keeps every cell, including those
// beyond the header.
func (r *Reader) Next() (Row, error) {
	for {
		fields, line, err := r.read()
		if err != nil {
			return Row{}, err
		}
		if blank(fields) {
			continue
		}
		record := make(Record, len(r.header))
		for i, name := range r.header {
			if _, ok := record[name]; ok {
				continue
			}
			if i < len(fields) {
				record[name] = fields[i]
			} else {
				record[name] = ""
			}
		}
		return Row{Line: line, Record: record, Fields: fields, Width: len(fields)}, nil
	}
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
