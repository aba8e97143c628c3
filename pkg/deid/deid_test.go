package deid

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/tabular"
)

type fakeDirectory struct {
	public map[string]string
	tokens map[string]string
	births map[string]time.Time
}

func (d fakeDirectory) PublicCodeOf(internal string) (string, bool) {
	v, ok := d.public[internal]
	return v, ok
}

func (d fakeDirectory) InternalCodeOfToken(token string) (string, bool) {
	v, ok := d.tokens[token]
	return v, ok
}

func (d fakeDirectory) DateOfBirth(internal string) (time.Time, bool) {
	v, ok := d.births[internal]
	return v, ok
}

func testDirectory() fakeDirectory {
	return fakeDirectory{
		public: map[string]string{
			"012345678901": "098765432100",
			"023456789012": "087654321099",
		},
		tokens: map[string]string{"100001": "012345678901"},
		births: map[string]time.Time{
			"012345678901": time.Date(1997, time.March, 1, 0, 0, 0, 0, time.UTC),
			"023456789012": time.Date(1998, time.December, 31, 0, 0, 0, 0, time.UTC),
		},
	}
}

func loadPreset(t *testing.T, name string) *Schema {
	t.Helper()
	s, err := LoadSchema(name)
	require.NoError(t, err)
	return s
}

func readOutput(t *testing.T, content string, d tabular.Dialect) []tabular.Record {
	t.Helper()
	r, err := tabular.NewReader(strings.NewReader(content), d)
	require.NoError(t, err)
	rows, err := r.ReadAll()
	require.NoError(t, err)
	var out []tabular.Record
	for _, row := range rows {
		out = append(out, row.Record)
	}
	return out
}

func TestSplitSubjectIDRole(t *testing.T) {
	s := loadPreset(t, "psytools-legacy")

	id := SplitSubjectID("012345678901-C", s)
	assert.Equal(t, "012345678901", id.Base)
	assert.Equal(t, "C", id.Role)
	assert.Equal(t, "098765432100-C", id.Rewrite("098765432100"))

	id = SplitSubjectID("012345678901SB-P", s)
	assert.Equal(t, "012345678901", id.Base)
	assert.Equal(t, "SB", id.Timepoint)
	assert.Equal(t, "098765432100-P", id.Rewrite("098765432100"))

	id = SplitSubjectID("012345678901", s)
	assert.Equal(t, "012345678901", id.Base)
	assert.Empty(t, id.Role)
	assert.Equal(t, "098765432100", id.Rewrite("098765432100"))
}

func TestSplitSubjectIDLongestTimepointFirst(t *testing.T) {
	s, err := ParseSchema([]byte("id_field: id\ntimepoint_suffixes: [FU, FU3]\nkeep_timepoint: true\n"))
	require.NoError(t, err)

	id := SplitSubjectID("012345678901fu3", s)
	assert.Equal(t, "012345678901", id.Base)
	assert.Equal(t, "fu3", id.Timepoint)
	assert.Equal(t, "098765432100fu3", id.Rewrite("098765432100"))
}

func TestAnonymizeLegacyPsytools(t *testing.T) {
	input := strings.Join([]string{
		"User code,Trial,Trial result,Completed Timestamp,Processed Timestamp",
		"012345678901-C,q1,3,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901-P,id_check_dob,01-03-1997,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901SB-C,DATE_BIRTH_1,01-03-1997,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"TEST_ANNA-C,q1,1,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"056789012345-C,q1,1,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"abc-C,q1,1,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901-C,education_end,02-03-2015,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901-P,pbq_01,01-03-1970,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901-C,ni_date,01-03-2015,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"012345678901-C,ni_period,soon,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000",
		"023456789012-I,q1,2,2005-06-01 10:00:00.000,2015-03-03 11:00:00.000",
	}, "\n") + "\n"

	a := NewAnonymizer(loadPreset(t, "psytools-legacy"), testDirectory(), dates.DefaultFloor)
	var out bytes.Buffer
	stats, diags, err := a.AnonymizeStream("IMAGEN-test.csv", strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 11, Written: 6, Dropped: 5}, stats)

	records := readOutput(t, out.String(), tabular.Excel)
	require.Len(t, records, 6)

	first := records[0]
	assert.Equal(t, "098765432100-C", first["User code"])
	assert.Equal(t, "6575", first["Completed Timestamp"])
	assert.Equal(t, "6576", first["Processed Timestamp"])
	assert.Equal(t, "3", first["Trial result"])

	assert.Equal(t, "6575", records[1]["Trial result"], "education_end is the age at that date")
	assert.Equal(t, "16437", records[2]["Trial result"], "pbq dates count to the completed timestamp")
	assert.Equal(t, "2", records[3]["Trial result"], "ni dates count to the processed timestamp")
	assert.Equal(t, "", records[4]["Trial result"])
	assert.Equal(t, "087654321099-I", records[5]["User code"])
	assert.Equal(t, "", records[5]["Completed Timestamp"])

	counts := models.CountByKind(diags)
	assert.Equal(t, 3, counts[models.KindDiscarded])
	assert.Equal(t, 1, counts[models.KindUnknownIdentifier])
	assert.Equal(t, 1, counts[models.KindMalformedIdentifier])
	assert.Equal(t, 1, counts[models.KindUnparsableDate])
	assert.Equal(t, 1, counts[models.KindImplausibleDate])

	for _, d := range diags {
		if d.Kind == models.KindDiscarded {
			assert.Equal(t, models.SeverityInfo, d.Severity)
		}
	}
	assert.NotContains(t, out.String(), "012345678901")
	assert.NotContains(t, out.String(), "id_check_")
	assert.NotContains(t, out.String(), "DATE_BIRTH")
}

func TestAnonymizeLSRC2DropsColumns(t *testing.T) {
	input := "id;token;ipaddr;startdate;submitdate;IdCheckDob;answer\n" +
		"012345678901FU3;tok;10.0.0.1;2015-03-02 10:00:00;;1997-03-01;yes\n" +
		"0x0000xxxxxx;tok;10.0.0.2;2015-03-02 10:00:00;;;no\n" +
		"TESTFU3;tok;10.0.0.3;2015-03-02 10:00:00;;;no\n"

	a := NewAnonymizer(loadPreset(t, "psytools-lsrc2"), testDirectory(), dates.DefaultFloor)
	var out bytes.Buffer
	stats, diags, err := a.AnonymizeStream("Imagen_test.csv", strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 2, stats.Dropped)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id;startdate;submitdate;answer", lines[0], "same dialect, identifying columns removed")
	assert.Equal(t, "098765432100;6575;;yes", lines[1])

	counts := models.CountByKind(diags)
	assert.Equal(t, 2, counts[models.KindDiscarded])
	assert.Equal(t, 1, counts[models.KindMissingRequiredField], "datestamp column absent")
}

func TestAnonymizeDawbaTokens(t *testing.T) {
	input := "code\tsstartdate\tratername\tq1\n" +
		"100001\t12.05.08\tDr X\t2\n" +
		"127657\t12.05.08\tDr X\t1\n" +
		"19042\t12.05.08\tDr X\t1\n" +
		"999999\t12.05.08\tDr X\t1\n" +
		"abc\t12.05.08\tDr X\t1\n"

	a := NewAnonymizer(loadPreset(t, "dawba"), testDirectory(), dates.DefaultFloor)
	var out bytes.Buffer
	stats, diags, err := a.AnonymizeStream("dawba.tsv", strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 5, Written: 1, Dropped: 4}, stats)
	assert.Equal(t, "code\tsstartdate\tq1\n098765432100\t4090\t2\n", out.String())

	counts := models.CountByKind(diags)
	assert.Equal(t, 2, counts[models.KindDiscarded])
	assert.Equal(t, 1, counts[models.KindUnknownIdentifier])
	assert.Equal(t, 1, counts[models.KindMalformedIdentifier])
}

func TestAnonymizeDawbaKeepsQuotesAndColumns(t *testing.T) {
	input := "code\tsstartdate\tq1\tq1\n" +
		"100001\t12.05.08\tfirst\tsecond\textra\n" +
		"100001\t12.05.08\t\"open quote\tx\n" +
		"100001\t12.05.08\tz\tw\n"

	a := NewAnonymizer(loadPreset(t, "dawba"), testDirectory(), dates.DefaultFloor)
	var out bytes.Buffer
	stats, diags, err := a.AnonymizeStream("dawba.tsv", strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 3, Written: 3}, stats)
	assert.Equal(t, "code\tsstartdate\tq1\tq1\n"+
		"098765432100\t4090\tfirst\tsecond\n"+
		"098765432100\t4090\t\"open quote\tx\n"+
		"098765432100\t4090\tz\tw\n", out.String())

	require.Len(t, diags, 2)
	assert.Equal(t, models.KindUnexpectedStructure, diags[0].Kind)
	assert.Equal(t, "dawba.tsv", diags[0].Location, "repeated q1 column")
	assert.Equal(t, models.KindUnexpectedStructure, diags[1].Kind)
	assert.Equal(t, "dawba.tsv:2", diags[1].Location, "cell beyond the header")
	assert.Equal(t, models.SeverityWarning, diags[1].Severity)
}

func TestAnonymizeOwnOutputDoesNotCrash(t *testing.T) {
	input := "User code,Trial,Trial result,Completed Timestamp,Processed Timestamp\n" +
		"012345678901-C,q1,3,2015-03-02 10:00:00.000,2015-03-03 11:00:00.000\n"
	a := NewAnonymizer(loadPreset(t, "psytools-legacy"), testDirectory(), dates.DefaultFloor)

	var once bytes.Buffer
	_, _, err := a.AnonymizeStream("pass1.csv", strings.NewReader(input), &once)
	require.NoError(t, err)

	var twice bytes.Buffer
	stats, diags, err := a.AnonymizeStream("pass2.csv", strings.NewReader(once.String()), &twice)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Written)
	assert.Equal(t, 1, stats.Dropped)
	require.NotEmpty(t, diags)
}

func TestAnonymizeEmptyFile(t *testing.T) {
	a := NewAnonymizer(loadPreset(t, "psytools-lsrc2"), testDirectory(), dates.DefaultFloor)
	var out bytes.Buffer
	_, diags, err := a.AnonymizeStream("empty.csv", strings.NewReader(""), &out)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, models.KindUnexpectedStructure, diags[0].Kind)
}

func TestParseSchemaValidation(t *testing.T) {
	_, err := ParseSchema([]byte("format: xml\nid_field: id\n"))
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = ParseSchema([]byte("format: csv\n"))
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = ParseSchema([]byte("id_field: id\ndate_formats: martian\n"))
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = ParseSchema([]byte("id_field: id\ndrop_field_patterns: ['(']\n"))
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = LoadSchema("no-such-preset")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"dawba", "psytools-legacy", "psytools-lsrc2"}, Presets())
	for _, name := range Presets() {
		loadPreset(t, name)
	}
}

func TestAnonymizeTaskHeader(t *testing.T) {
	input := "MID_TASK task\t01.02.2015 12:34:56\tSubject ID: 012345678901FU3\tTask type: Scanning\n" +
		"Trial\tTrial Category\n1\tA\n"
	transform := dates.NewTransform(testDirectory(), dates.DefaultFloor)

	var out bytes.Buffer
	diags, written, err := AnonymizeTaskHeader(strings.NewReader(input), &out, "mid.csv", "012345678901", "098765432100", transform)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Empty(t, diags)
	assert.Equal(t, "MID_TASK task\t6546\tSubject ID: 098765432100FU3\tTask type: Scanning\n"+
		"Trial\tTrial Category\n1\tA\n", out.String())

	out.Reset()
	diags, written, err = AnonymizeTaskHeader(strings.NewReader(input), &out, "mid.csv", "023456789012", "087654321099", transform)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Empty(t, out.String())
	require.Len(t, diags, 1)
	assert.Equal(t, models.KindIdentifierMismatch, diags[0].Kind)

	assert.Equal(t, "mid_098765432100FU3.csv", OnsetsFileName("mid", "098765432100", "FU3"))
}
