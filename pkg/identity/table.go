package identity

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Table is one reference table: a PSC1=DAWBA=PSC2 mapping file or a
// date-of-birth file.
type Table struct {
	Name string
	path string
	data []byte
}

// FileTable reads a table from disk at Build time.
func FileTable(path string) Table {
	return Table{Name: filepath.Base(path), path: filepath.Clean(path)}
}

// TextTable wraps in-memory content, mostly for tests and embedded fixtures.
func TextTable(name, content string) Table {
	return Table{Name: name, data: []byte(content)}
}

func (t Table) open() (io.ReadCloser, error) {
	if t.path != "" {
		return os.Open(t.path)
	}
	return io.NopCloser(bytes.NewReader(t.data)), nil
}

type tableLine struct {
	number int
	text   string
}

// lines yields non-blank lines with their 1-based line numbers. Carriage
// returns left by spreadsheet exports are dropped.
func (t Table) lines() ([]tableLine, error) {
	rc, err := t.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []tableLine
	scanner := bufio.NewScanner(rc)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, tableLine{number: n, text: text})
	}
	return out, scanner.Err()
}

// splitRow splits on '=' when present and on ',' otherwise.
func splitRow(text string) []string {
	sep := ","
	if strings.Contains(text, "=") {
		sep = "="
	}
	fields := strings.Split(text, sep)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}
