package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStrictPrefersDetailedDatasheet(t *testing.T) {
	c := Default()

	got, ok := c.Classify("detailed_datasheet_012345678901.csv", true)
	require.True(t, ok)
	assert.Equal(t, DetailedDatasheet, got)

	got, ok = c.Classify("detailed_datasheet_012345678901.csv", false)
	require.True(t, ok)
	assert.Equal(t, DetailedDatasheet, got, "loose datasheet rule also matches but comes later")

	got, ok = c.Classify("datasheet_012345678901FU3.csv", true)
	require.True(t, ok)
	assert.Equal(t, Datasheet, got)
}

func TestClassifyStrictRejectsSloppyNames(t *testing.T) {
	c := Default()

	for _, name := range []string{
		"Datasheet_012345678901.csv",
		"datasheet_01234567890.csv",
		"datasheet_012345678901_v2.csv",
		"datasheet_012345678901.csv.bak",
		"notes.txt",
	} {
		_, ok := c.Classify(name, true)
		assert.False(t, ok, name)
	}

	got, ok := c.Classify("SS_012345678901fu2.csv", true)
	require.True(t, ok)
	assert.Equal(t, StopSignalTask, got)
}

func TestClassifyLoose(t *testing.T) {
	c := Default()

	cases := map[string]FileType{
		"site_cant_012345678901_retest.cclar": Cantab,
		"Detailed Datasheet_012345678901.CSV": DetailedDatasheet,
		"berlin_datasheet.csv":                Datasheet,
		"REPORT_012345678901.html":            Report,
		"ft_012345678901.csv":                 FaceTask,
		"MID_012345678901FU.csv":              MIDTask,
		"recog_x.csv":                         RecognitionTask,
		"ss_012345678901_second_attempt.csv":  StopSignalTask,
	}
	for name, want := range cases {
		got, ok := c.Classify(name, false)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := c.Classify("summary.pdf", false)
	assert.False(t, ok)
}

func TestClassifySeriesOrder(t *testing.T) {
	c := Default()

	cases := map[string]SeriesType{
		"3Plane Loc":        SeriesLocalizer,
		"T2 FLAIR":          SeriesT2Flair,
		"T2_TSE":            SeriesT2,
		"short MPRAGE":      SeriesShortMPRAGE,
		"ADNI MPRAGE":       SeriesMPRAGE,
		"EPI reward task":   SeriesMID,
		"EPI faces":         SeriesFaces,
		"stop-signal":       SeriesStopSignal,
		"B0 map":            SeriesB0Map,
		"DTI 32 directions": SeriesDTI,
		"Resting state":     SeriesRestingState,
	}
	for description, want := range cases {
		got, ok := c.ClassifySeries(description)
		require.True(t, ok, description)
		assert.Equal(t, want, got, description)
	}
	assert.Equal(t, "T2 Flair", SeriesT2Flair.String())

	_, ok := c.ClassifySeries("unknown sequence")
	assert.False(t, ok)
}

func TestParseTaskFilename(t *testing.T) {
	task, id, ok := ParseTaskFilename("mid_012345678901FU3.csv")
	require.True(t, ok)
	assert.Equal(t, MIDTask, task)
	assert.Equal(t, "012345678901FU3", id)
	assert.True(t, task.IsBehavioral())

	task, id, ok = ParseTaskFilename("recog_.csv")
	require.True(t, ok)
	assert.Equal(t, RecognitionTask, task)
	assert.Empty(t, id)

	_, _, ok = ParseTaskFilename("mid_012345678901.txt")
	assert.False(t, ok)
}

func TestParsePhysiologicalFilename(t *testing.T) {
	kind, id, ok := ParsePhysiologicalFilename("012345678901FU3_rest.resp")
	require.True(t, ok)
	assert.Equal(t, "resp", kind)
	assert.Equal(t, "012345678901FU3", id)

	kind, id, ok = ParsePhysiologicalFilename("SCANPHYSLOG20140409112224.log")
	require.True(t, ok)
	assert.Equal(t, "log", kind)
	assert.Empty(t, id)

	_, id, ok = ParsePhysiologicalFilename("ImagenBRest_Resting_1_Times_012345678901FU3.txt")
	require.True(t, ok)
	assert.Equal(t, "012345678901FU3", id)

	_, _, ok = ParsePhysiologicalFilename("SCANPHYSLOG2014.log")
	assert.False(t, ok)
	_, _, ok = ParsePhysiologicalFilename("notes.txt")
	assert.False(t, ok)
}

func TestLoadRules(t *testing.T) {
	cfg, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Strict)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
strict:
  - name: questionnaire
    type: datasheet
    pattern: 'questionnaire_\d{12}\.csv'
    enabled: true
series:
  - name: noddi
    type: "17"
    pattern: NODDI
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err = LoadRules(path)
	require.NoError(t, err)
	c, err := NewClassifier(cfg)
	require.NoError(t, err)

	got, ok := c.Classify("questionnaire_012345678901.csv", true)
	require.True(t, ok)
	assert.Equal(t, Datasheet, got)

	_, ok = c.Classify("datasheet_012345678901.csv", true)
	assert.False(t, ok, "configured strict rules replace the defaults")

	got, ok = c.Classify("berlin_datasheet.csv", false)
	require.True(t, ok, "loose rules fall back to defaults")
	assert.Equal(t, Datasheet, got)

	series, ok := c.ClassifySeries("NODDI b2000")
	require.True(t, ok)
	assert.Equal(t, SeriesNODDI, series)
}

func TestNewClassifierRejectsBadRules(t *testing.T) {
	_, err := NewClassifier(RulesConfig{Loose: []Rule{{Name: "bad", Pattern: "(", Enabled: true}}})
	assert.Error(t, err)

	_, err = NewClassifier(RulesConfig{Series: []Rule{{Name: "bad", Pattern: "X", Type: "99", Enabled: true}}})
	assert.Error(t, err)
}
