package instruments

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
)

const (
	subjectColumn  = "Subject ID:"
	taskTypeColumn = "Task type: Scanning"
)

// TaskLayout describes the fixed shape of one behavioral task export.
type TaskLayout struct {
	Header  string
	Columns []string
	// TrialColumn is the zero-based column holding the trial number.
	TrialColumn int
	// Strict requires trial numbers to be strictly ascending; otherwise
	// repeated numbers continue the current sequence.
	Strict bool
}

var taskLayouts = map[classifier.FileType]TaskLayout{
	classifier.MIDTask: {
		Header: "MID_TASK task",
		Columns: []string{
			"Trial",
			"Trial Category",
			"Trial Start Time (Onset)",
			"Pre-determined Onset",
			"Cue Presented",
			"Anticipation Phase Start Time",
			"Anticipation Phase Duration",
			"Target Phase Start Time",
			"Target Phase Duration",
			"Response Made by Subject",
			"Response time",
			"Feedback Phase Start Time",
			"Outcome",
			"Amount",
			"Fixation Phase Start Time (Lasts until next trial start time)",
			"Success Rate",
			"Scanner Pulse",
		},
		Strict: true,
	},
	classifier.FaceTask: {
		Header: "FACE_TASK task",
		Columns: []string{
			"Trial Start Time (Onset)",
			"Video Clip Name",
		},
		Strict: true,
	},
	classifier.StopSignalTask: {
		Header: "STOP_SIGNAL_TASK task",
		Columns: []string{
			"Trial",
			"Trial Category",
			"Trial Start Time (Onset)",
			"Pre-determined/randomised onset",
			"Go Stimulus Presentation Time",
			"Stimulus Presented",
			"Delay",
			"Stop Stimulus Presentation Time",
			"Response made by subject",
			"Absolute Response Time",
			"Relative Response Time",
			"Response Outcome",
			"Real Jitter",
			"Pre-determined Jitter",
			"Success Rate of Variable Delay Stop Trials",
			"Scanner Pulse",
		},
	},
	classifier.RecognitionTask: {
		Header: "RECOGNITION_TASK task",
		Columns: []string{
			"TimePassed",
			"UserResponse",
			"ImageFileName",
		},
		Strict: true,
	},
}

// Layout returns the expected layout of a behavioral task type.
func Layout(task classifier.FileType) (TaskLayout, bool) {
	l, ok := taskLayouts[task]
	return l, ok
}

// BehavioralFile is what a task export tells us about its session.
type BehavioralFile struct {
	Task      classifier.FileType
	SubjectID string
	Timestamp time.Time
	// Trials is the last ascending run of trial numbers; earlier runs are
	// aborted attempts.
	Trials      []int
	Diagnostics []models.Diagnostic
}

// HasTimestamp reports whether line 1 carried a readable time stamp.
func (b BehavioralFile) HasTimestamp() bool {
	return !b.Timestamp.IsZero()
}

// LastTrial returns the final trial number, or 0 when there were none.
func (b BehavioralFile) LastTrial() int {
	if len(b.Trials) == 0 {
		return 0
	}
	return b.Trials[len(b.Trials)-1]
}

// ReadBehavioral parses a behavioral task export. Lines wholly enclosed in
// quotes are repaired when strict is false. Shape problems are reported as
// diagnostics; only read failures are returned as errors.
func ReadBehavioral(r io.Reader, location string, task classifier.FileType, strict bool) (BehavioralFile, error) {
	layout, ok := taskLayouts[task]
	if !ok {
		return BehavioralFile{}, fmt.Errorf("%s: %q is not a behavioral task", location, task)
	}
	lines, err := readLines(r)
	if err != nil {
		return BehavioralFile{}, fmt.Errorf("%s: %w", location, err)
	}

	if !strict && maxFields(lines) < 2 {
		for i := range lines {
			lines[i] = fixSpuriousQuotes(lines[i])
		}
	}
	for i := range lines {
		lines[i] = fixTerminalTab(lines[i])
	}

	out := BehavioralFile{Task: task}
	report := func(kind models.DiagnosticKind, row []string, format string, args ...interface{}) {
		out.Diagnostics = append(out.Diagnostics,
			models.NewDiagnostic(kind, location, fmt.Sprintf(format, args...), strings.Join(row, "\t")))
	}

	if len(lines) == 0 {
		report(models.KindUnexpectedStructure, nil, "Empty file")
		return out, nil
	}

	header := trimAll(splitTabbed(lines[0]))
	if len(header) == 0 {
		report(models.KindUnexpectedStructure, nil, "Empty file")
	} else {
		if len(header) != 4 {
			report(models.KindUnexpectedStructure, header, "Line 1 contains %d columns instead of 4", len(header))
		}
		if len(header) > 3 && header[3] != taskTypeColumn {
			report(models.KindUnexpectedStructure, header, "Column 4 of line 1 must be %q instead of %q", taskTypeColumn, header[3])
		}
		if len(header) > 2 {
			if strings.HasPrefix(header[2], subjectColumn) {
				out.SubjectID = strings.TrimSpace(header[2][len(subjectColumn):])
			} else {
				report(models.KindUnexpectedStructure, header, "Column 3 of line 1 %q must start with %q", header[2], subjectColumn)
			}
		}
		if len(header) > 1 {
			if ts, ok := dates.Parse(header[1], dates.BehavioralTimestamps); ok {
				out.Timestamp = ts
			} else {
				report(models.KindUnparsableDate, header, "Column 2 of line 1 %q is not a standard time stamp", header[1])
			}
		}
		if header[0] != layout.Header {
			report(models.KindUnexpectedStructure, header, "Column 1 of line 1 must be %q instead of %q", layout.Header, header[0])
		}
	}

	if len(lines) < 2 {
		report(models.KindMissingRequiredField, nil, "Missing 2nd line")
		return out, nil
	}
	columns := trimAll(splitTabbed(lines[1]))
	if len(columns) != len(layout.Columns) {
		report(models.KindUnexpectedStructure, columns, "Line 2 contains %d columns instead of %d", len(columns), len(layout.Columns))
	}
	for i := 0; i < len(columns) && i < len(layout.Columns); i++ {
		if columns[i] != layout.Columns[i] {
			report(models.KindUnexpectedStructure, columns, "Column %d of line 2 must be %s instead of %s", i+1, layout.Columns[i], columns[i])
			break
		}
	}

	last := 0
	for n, line := range lines[2:] {
		lineNo := n + 3
		row := trimAll(splitTabbed(line))
		if blankRow(row) {
			continue
		}
		if len(row) != len(layout.Columns) {
			report(models.KindUnexpectedStructure, row, "Line %d contains %d columns instead of %d", lineNo, len(row), len(layout.Columns))
		}
		cell := ""
		if layout.TrialColumn < len(row) {
			cell = row[layout.TrialColumn]
		}
		current, err := strconv.Atoi(cell)
		if err != nil {
			report(models.KindUnexpectedStructure, row, "Column %d of line %d %q should contain only numbers", layout.TrialColumn+1, lineNo, cell)
			last = 0
			continue
		}
		if last != 0 {
			if layout.Strict && current <= last || !layout.Strict && current < last {
				out.Trials = out.Trials[:0]
			}
		}
		out.Trials = append(out.Trials, current)
		last = current
	}
	return out, nil
}

// HeaderFields splits line 1 of a task export. The onsets flow rewrites
// these fields in place.
func HeaderFields(line string) []string {
	return splitTabbed(fixTerminalTab(line))
}

// SubjectOf extracts the subject id from the third header field.
func SubjectOf(field string) (string, bool) {
	field = strings.TrimSpace(field)
	if !strings.HasPrefix(field, subjectColumn) {
		return "", false
	}
	return strings.TrimSpace(field[len(subjectColumn):]), true
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func splitTabbed(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil {
		return strings.Split(line, "\t")
	}
	return fields
}

func maxFields(lines []string) int {
	max := 0
	for _, line := range lines {
		if n := len(splitTabbed(line)); n > max {
			max = n
		}
	}
	return max
}

// fixSpuriousQuotes unwraps a line enclosed in a single pair of quotes.
func fixSpuriousQuotes(s string) string {
	if !strings.HasPrefix(s, `"`) {
		return s
	}
	last := strings.LastIndex(s, `"`)
	if last <= 0 {
		return s
	}
	if tail := s[last+1:]; strings.TrimSpace(tail) == "" {
		return s[1:last] + tail
	}
	return s
}

// fixTerminalTab drops a tab that ends a line.
func fixTerminalTab(s string) string {
	last := strings.LastIndex(s, "\t")
	if last <= 0 {
		return s
	}
	if tail := s[last+1:]; strings.TrimSpace(tail) == "" {
		return s[:last] + tail
	}
	return s
}

func trimAll(fields []string) []string {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
