package tabular

import (
	"bufio"
	"bytes"
)

// Dialect describes how a delimited file is laid out. Quoting is always the
// double quote; LazyQuotes tolerates the stray quotes sites leave in cells.
// A Literal dialect has no quoting at all: one line is one record and
// every delimiter splits a cell.
type Dialect struct {
	Delimiter  rune
	LazyQuotes bool
	Literal    bool
}

var (
	Excel = Dialect{Delimiter: ',', LazyQuotes: true}
	TSV   = Dialect{Delimiter: '\t', Literal: true}
)

var sniffCandidates = []rune{',', ';', '\t', '|'}

const sniffLines = 20

// Sniff guesses the delimiter from the first lines of a file. A delimiter
// that appears the same number of times on every sampled line wins; ties
// go to the most frequent, then to candidate order. Tab-separated files are
// read literally.
func Sniff(sample []byte) Dialect {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(trimBOM(sample)))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() && len(lines) < sniffLines {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if len(lines) == 0 {
		return Excel
	}

	best, bestCount, bestConsistent := ',', 0, false
	for _, candidate := range sniffCandidates {
		first := countOutsideQuotes(lines[0], candidate)
		if first == 0 {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if countOutsideQuotes(line, candidate) != first {
				consistent = false
				break
			}
		}
		switch {
		case consistent && !bestConsistent:
			best, bestCount, bestConsistent = candidate, first, true
		case consistent == bestConsistent && first > bestCount:
			best, bestCount = candidate, first
		}
	}
	if best == '\t' {
		return TSV
	}
	return Dialect{Delimiter: best, LazyQuotes: true}
}

func countOutsideQuotes(line []byte, delimiter rune) int {
	count := 0
	quoted := false
	for _, r := range string(line) {
		switch {
		case r == '"' && delimiter != '\t':
			quoted = !quoted
		case r == delimiter && !quoted:
			count++
		}
	}
	return count
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func trimBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}
