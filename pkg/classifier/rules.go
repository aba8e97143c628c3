package classifier

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileType tags a file of the cognitive or behavioral batteries.
type FileType string

const (
	Cantab            FileType = "cantab"
	DetailedDatasheet FileType = "detailed_datasheet"
	Datasheet         FileType = "datasheet"
	Report            FileType = "report"
	FaceTask          FileType = "ft"
	MIDTask           FileType = "mid"
	RecognitionTask   FileType = "recog"
	StopSignalTask    FileType = "ss"
)

// IsBehavioral reports whether the type is one of the scanner tasks.
func (t FileType) IsBehavioral() bool {
	switch t {
	case FaceTask, MIDTask, RecognitionTask, StopSignalTask:
		return true
	}
	return false
}

// Rule maps a filename or series description pattern to a tag. Rules are
// evaluated in file order and the first match wins.
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Pattern    string `yaml:"pattern" json:"pattern"`
	Type       string `yaml:"type" json:"type"`
	IgnoreCase bool   `yaml:"ignore_case" json:"ignore_case"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Loose  []Rule `yaml:"loose" json:"loose"`
	Strict []Rule `yaml:"strict" json:"strict"`
	Series []Rule `yaml:"series" json:"series"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}

	if len(cfg.Loose) == 0 && len(cfg.Strict) == 0 && len(cfg.Series) == 0 {
		return RulesConfig{}, errors.New("no classification rules configured")
	}

	defaults := DefaultRules()
	if len(cfg.Loose) == 0 {
		cfg.Loose = defaults.Loose
	}
	if len(cfg.Strict) == 0 {
		cfg.Strict = defaults.Strict
	}
	if len(cfg.Series) == 0 {
		cfg.Series = defaults.Series
	}
	return cfg, nil
}

const (
	prefixAny = `(\w+_)?`
	suffixAny = `(_\w+)?`
	codeTail  = `_\d{12}(?i:fu[23]?|sb)?`
)

// DefaultRules lists the layouts seen at acquisition centres. A detailed
// datasheet must be tested before the plain datasheet because the plain
// pattern also matches it.
func DefaultRules() RulesConfig {
	return RulesConfig{
		Loose: []Rule{
			{Name: "cantab", Type: string(Cantab), Pattern: prefixAny + `cant` + suffixAny + `\.cclar`, IgnoreCase: true, Enabled: true},
			{Name: "detailed datasheet", Type: string(DetailedDatasheet), Pattern: prefixAny + `detailed[_ ]datasheet` + suffixAny + `\.csv`, IgnoreCase: true, Enabled: true},
			{Name: "datasheet", Type: string(Datasheet), Pattern: prefixAny + `datasheet` + suffixAny + `\.csv`, IgnoreCase: true, Enabled: true},
			{Name: "report", Type: string(Report), Pattern: prefixAny + `report` + suffixAny + `\.html`, IgnoreCase: true, Enabled: true},
			{Name: "faces", Type: string(FaceTask), Pattern: `ft_\w+\.csv`, IgnoreCase: true, Enabled: true},
			{Name: "mid", Type: string(MIDTask), Pattern: `mid_\w+\.csv`, IgnoreCase: true, Enabled: true},
			{Name: "recognition", Type: string(RecognitionTask), Pattern: `recog_\w+\.csv`, IgnoreCase: true, Enabled: true},
			{Name: "stop signal", Type: string(StopSignalTask), Pattern: `ss_\w+\.csv`, IgnoreCase: true, Enabled: true},
		},
		Strict: []Rule{
			{Name: "cantab", Type: string(Cantab), Pattern: `cant` + codeTail + `\.cclar`, Enabled: true},
			{Name: "detailed datasheet", Type: string(DetailedDatasheet), Pattern: `detailed_datasheet` + codeTail + `\.csv`, Enabled: true},
			{Name: "datasheet", Type: string(Datasheet), Pattern: `datasheet` + codeTail + `\.csv`, Enabled: true},
			{Name: "report", Type: string(Report), Pattern: `report` + codeTail + `\.html`, Enabled: true},
			{Name: "faces", Type: string(FaceTask), Pattern: `ft` + codeTail + `\.csv`, Enabled: true},
			{Name: "mid", Type: string(MIDTask), Pattern: `mid` + codeTail + `\.csv`, Enabled: true},
			{Name: "recognition", Type: string(RecognitionTask), Pattern: `recog` + codeTail + `\.csv`, Enabled: true},
			{Name: "stop signal", Type: string(StopSignalTask), Pattern: `ss` + codeTail + `\.csv`, IgnoreCase: true, Enabled: true},
		},
		Series: []Rule{
			{Name: "localizer", Type: SeriesLocalizer.key(), Pattern: `LOCALI[ZS]ER`, IgnoreCase: true, Enabled: true},
			{Name: "asset calibration", Type: SeriesLocalizer.key(), Pattern: `ASSET[- ]Cal`, IgnoreCase: true, Enabled: true},
			{Name: "philips survey", Type: SeriesLocalizer.key(), Pattern: `Survey_SHC`, Enabled: true},
			{Name: "ge 3-plane", Type: SeriesLocalizer.key(), Pattern: `3Plane`, Enabled: true},
			{Name: "flair", Type: SeriesT2Flair.key(), Pattern: `FLAIR`, IgnoreCase: true, Enabled: true},
			{Name: "t2", Type: SeriesT2.key(), Pattern: `T2`, IgnoreCase: true, Enabled: true},
			{Name: "short mprage", Type: SeriesShortMPRAGE.key(), Pattern: `short MPRAGE`, IgnoreCase: true, Enabled: true},
			{Name: "mprage", Type: SeriesMPRAGE.key(), Pattern: `MPRAGE`, IgnoreCase: true, Enabled: true},
			{Name: "mid", Type: SeriesMID.key(), Pattern: `MID`, IgnoreCase: true, Enabled: true},
			{Name: "reward", Type: SeriesMID.key(), Pattern: `reward`, IgnoreCase: true, Enabled: true},
			{Name: "faces", Type: SeriesFaces.key(), Pattern: `face`, IgnoreCase: true, Enabled: true},
			{Name: "stop signal", Type: SeriesStopSignal.key(), Pattern: `stop[- ]signal`, IgnoreCase: true, Enabled: true},
			{Name: "sst", Type: SeriesStopSignal.key(), Pattern: `SST`, IgnoreCase: true, Enabled: true},
			{Name: "global", Type: SeriesGlobal.key(), Pattern: `global`, IgnoreCase: true, Enabled: true},
			{Name: "b0", Type: SeriesB0Map.key(), Pattern: `B0`, Enabled: true},
			{Name: "fieldmap", Type: SeriesB0Map.key(), Pattern: `FIELDMAP`, IgnoreCase: true, Enabled: true},
			{Name: "dti", Type: SeriesDTI.key(), Pattern: `DTI`, Enabled: true},
			{Name: "rest", Type: SeriesRestingState.key(), Pattern: `REST`, IgnoreCase: true, Enabled: true},
		},
	}
}
