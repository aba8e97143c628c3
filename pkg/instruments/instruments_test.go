package instruments

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/models"
)

func taskFile(task classifier.FileType, subject string, trials ...int) string {
	layout, _ := Layout(task)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t01.02.2015 12:34:56\tSubject ID: %s\t%s\n", layout.Header, subject, taskTypeColumn)
	b.WriteString(strings.Join(layout.Columns, "\t") + "\n")
	for _, trial := range trials {
		row := make([]string, len(layout.Columns))
		for i := range row {
			row[i] = "x"
		}
		row[layout.TrialColumn] = fmt.Sprint(trial)
		b.WriteString(strings.Join(row, "\t") + "\n")
	}
	return b.String()
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestReadBehavioralMID(t *testing.T) {
	content := taskFile(classifier.MIDTask, "012345678901FU3", sequence(42)...)

	got, err := ReadBehavioral(strings.NewReader(content), "mid_012345678901FU3.csv", classifier.MIDTask, true)
	require.NoError(t, err)

	assert.Empty(t, got.Diagnostics)
	assert.Equal(t, "012345678901FU3", got.SubjectID)
	assert.Equal(t, time.Date(2015, time.February, 1, 12, 34, 56, 0, time.UTC), got.Timestamp)
	assert.True(t, got.HasTimestamp())
	assert.Equal(t, 42, got.LastTrial())
	assert.Len(t, got.Trials, 42)
}

func TestReadBehavioralKeepsLastAscendingRun(t *testing.T) {
	content := taskFile(classifier.MIDTask, "012345678901", 1, 2, 3, 1, 2)
	got, err := ReadBehavioral(strings.NewReader(content), "mid.csv", classifier.MIDTask, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got.Trials)

	// Stop-signal trials may repeat a number without restarting.
	content = taskFile(classifier.StopSignalTask, "012345678901", 1, 2, 2, 3)
	got, err = ReadBehavioral(strings.NewReader(content), "ss.csv", classifier.StopSignalTask, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 3}, got.Trials)
}

func TestReadBehavioralReportsShape(t *testing.T) {
	content := "FACE_TASK task\tyesterday\tPatient: 012345678901\tTask type: Training\n" +
		"Trial Start Time (Onset)\tClip\n" +
		"abc\tclip1.avi\n" +
		"5\tclip2.avi\textra\n"

	got, err := ReadBehavioral(strings.NewReader(content), "ft.csv", classifier.FaceTask, true)
	require.NoError(t, err)

	var messages []string
	for _, d := range got.Diagnostics {
		messages = append(messages, d.Message)
	}
	assert.Contains(t, messages, `Column 4 of line 1 must be "Task type: Scanning" instead of "Task type: Training"`)
	assert.Contains(t, messages, `Column 3 of line 1 "Patient: 012345678901" must start with "Subject ID:"`)
	assert.Contains(t, messages, `Column 2 of line 1 "yesterday" is not a standard time stamp`)
	assert.Contains(t, messages, "Column 2 of line 2 must be Video Clip Name instead of Clip")
	assert.Contains(t, messages, `Column 1 of line 3 "abc" should contain only numbers`)
	assert.Contains(t, messages, "Line 4 contains 3 columns instead of 2")
	assert.Empty(t, got.SubjectID)
	assert.False(t, got.HasTimestamp())
	assert.Equal(t, []int{5}, got.Trials)
	assert.Equal(t, models.KindUnparsableDate, got.Diagnostics[2].Kind)
}

func TestReadBehavioralRepairsQuotedLines(t *testing.T) {
	content := "\"RECOGNITION_TASK task\t01/02/2015 12:34:56\tSubject ID: 012345678901\tTask type: Scanning\"\n" +
		"\"TimePassed\tUserResponse\tImageFileName\"\n" +
		"\"1\tyes\ta.jpg\t\"\n" +
		"\"2\tno\tb.jpg\"\n"

	got, err := ReadBehavioral(strings.NewReader(content), "recog.csv", classifier.RecognitionTask, false)
	require.NoError(t, err)
	assert.Empty(t, got.Diagnostics)
	assert.Equal(t, "012345678901", got.SubjectID)
	assert.Equal(t, []int{1, 2}, got.Trials)

	strict, err := ReadBehavioral(strings.NewReader(content), "recog.csv", classifier.RecognitionTask, true)
	require.NoError(t, err)
	assert.NotEmpty(t, strict.Diagnostics)
}

func TestReadBehavioralEmptyAndUnknownTask(t *testing.T) {
	got, err := ReadBehavioral(strings.NewReader(""), "mid.csv", classifier.MIDTask, true)
	require.NoError(t, err)
	require.Len(t, got.Diagnostics, 1)
	assert.Equal(t, "Empty file", got.Diagnostics[0].Message)

	_, err = ReadBehavioral(strings.NewReader(""), "x.csv", classifier.Datasheet, true)
	assert.Error(t, err)
}

func TestFixTerminalTab(t *testing.T) {
	assert.Equal(t, "a\tb", fixTerminalTab("a\tb\t"))
	assert.Equal(t, "a\tb ", fixTerminalTab("a\tb\t "))
	assert.Equal(t, "a\tb", fixTerminalTab("a\tb"))
}

func TestSubjectOf(t *testing.T) {
	id, ok := SubjectOf(" Subject ID: 012345678901 ")
	require.True(t, ok)
	assert.Equal(t, "012345678901", id)

	_, ok = SubjectOf("Patient: 1")
	assert.False(t, ok)
}

func TestReadCclar(t *testing.T) {
	index := `<?xml version="1.0" encoding="UTF-8"?>
<p:entity xmlns:p="http://www.camcog.com/proteus/entity/xml">
  <p:attribute name="ID" value="012345678901"/>
  <p:attribute name="Gender" value="Male"/>
  <attribute name="ID" value="ignored"/>
</p:entity>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("session/index.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(index))
	require.NoError(t, err)
	w, err = zw.Create("session/data.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ids, err := ReadCclar(buf.Bytes(), "cant_012345678901.cclar")
	require.NoError(t, err)
	assert.Equal(t, []string{"012345678901"}, ids)

	_, err = ReadCclar([]byte("not a zip"), "broken.cclar")
	assert.Error(t, err)
}

func TestReadDatasheet(t *testing.T) {
	content := "Subject ID;Session start time;Gender\n" +
		"012345678901;01-Feb-2015 12:34:56;Male\n" +
		"023456789012;03-Mar-2005 09:00:00;Female\n" +
		"\n"

	got, err := ReadDatasheet(strings.NewReader(content), "datasheet.csv", time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, []string{"012345678901", "023456789012"}, got.SubjectIDs)
	assert.Equal(t, 3, got.Rows)
	assert.Equal(t, 3, got.MinColumns)
	assert.Equal(t, []string{"Subject ID", "Session start time", "Gender"}, got.Fields)
	require.Len(t, got.SessionStartTimes, 2)
	assert.Equal(t, 2005, got.SessionStartTimes[0].Year())
	require.Len(t, got.Diagnostics, 1)
	assert.Equal(t, models.KindImplausibleDate, got.Diagnostics[0].Kind)
	assert.Equal(t, models.SeverityWarning, got.Diagnostics[0].Severity)
	assert.Equal(t, "datasheet.csv:3", got.Diagnostics[0].Location)
}

func TestReadDetailedDatasheetLatin1(t *testing.T) {
	content := []byte("\"Subject ID : 012345678901\"\nTest site: M\xfcnchen\nSubject ID : 023456789012\n  Subject ID : ignored\n")
	ids, err := ReadDetailedDatasheet(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, []string{"012345678901", "023456789012"}, ids)
}

func TestReadReport(t *testing.T) {
	content := "<html><table>\n" +
		"<th>Subject ID</th><td>012345678901</td><th>Gender</th><td>Male</td>\n" +
		"</table></html>\n"
	ids, err := ReadReport(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, []string{"012345678901"}, ids)
}

func TestReadScanningLog(t *testing.T) {
	content := "## physiological log\n" +
		"01/02/2015 12:34:56\tSubject ID: 012345678901FU3\n" +
		"01.02.2015 12:40:00\tSubject ID: pilot7\n" +
		"garbage\tSubject ID: 023456789012\n"
	ids, err := ReadScanningLog(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, []string{"012345678901", "pilot7"}, ids)
}
