package deid

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neurocohort/databank/pkg/dates"
)

// Namespace tells which registry column the subject field is keyed on.
type Namespace string

const (
	NamespaceInternal Namespace = "internal"
	NamespaceToken    Namespace = "token"
)

// Format of the source file.
type Format string

const (
	FormatCSV Format = "csv"
	FormatTSV Format = "tsv"
)

// TrialDate converts a date held in the value column of selected rows.
// Without RelativeTo the result is the subject's age at that date;
// otherwise it is the number of days from that date to the date found in
// the RelativeTo field of the same record.
type TrialDate struct {
	Rows            []string `yaml:"rows" json:"rows"`
	ValueField      string   `yaml:"value_field" json:"value_field"`
	Formats         string   `yaml:"formats" json:"formats"`
	RelativeTo      string   `yaml:"relative_to" json:"relative_to"`
	RelativeFormats string   `yaml:"relative_formats" json:"relative_formats"`

	layouts         []dates.Layout
	relativeLayouts []dates.Layout
}

// Schema declares how one family of exports is de-identified.
type Schema struct {
	Name        string    `yaml:"name" json:"name"`
	Format      Format    `yaml:"format" json:"format"`
	IDField     string    `yaml:"id_field" json:"id_field"`
	IDNamespace Namespace `yaml:"id_namespace" json:"id_namespace"`

	RoleSeparator     string   `yaml:"role_separator" json:"role_separator"`
	RoleSuffixes      []string `yaml:"role_suffixes" json:"role_suffixes"`
	TimepointSuffixes []string `yaml:"timepoint_suffixes" json:"timepoint_suffixes"`
	KeepTimepoint     bool     `yaml:"keep_timepoint" json:"keep_timepoint"`

	DateFields        []string `yaml:"date_fields" json:"date_fields"`
	DateFieldPatterns []string `yaml:"date_field_patterns" json:"date_field_patterns"`
	DateFormats       string   `yaml:"date_formats" json:"date_formats"`
	// DateFloor applies the acquisition floor to date fields. Questionnaires
	// filled in before the first scan leave it off.
	DateFloor bool `yaml:"date_floor" json:"date_floor"`

	DropFields        []string `yaml:"drop_fields" json:"drop_fields"`
	DropFieldPatterns []string `yaml:"drop_field_patterns" json:"drop_field_patterns"`

	RowKeyField     string      `yaml:"row_key_field" json:"row_key_field"`
	DropRows        []string    `yaml:"drop_rows" json:"drop_rows"`
	DropRowPatterns []string    `yaml:"drop_row_patterns" json:"drop_row_patterns"`
	TrialDates      []TrialDate `yaml:"trial_dates" json:"trial_dates"`

	TestSubjectPatterns []string `yaml:"test_subject_patterns" json:"test_subject_patterns"`
	IgnoredIDs          []string `yaml:"ignored_ids" json:"ignored_ids"`
	KnownInvalidIDs     []string `yaml:"known_invalid_ids" json:"known_invalid_ids"`

	dateLayouts  []dates.Layout
	datePatterns []*regexp.Regexp
	dropPatterns []*regexp.Regexp
	rowPatterns  []*regexp.Regexp
	testPatterns []*regexp.Regexp
	roles        []string
	timepoints   []string
}

var ErrInvalidSchema = errors.New("invalid de-identification schema")

//go:embed schemas/*.yaml
var presets embed.FS

// Presets lists the schemas shipped with the binary.
func Presets() []string {
	entries, _ := presets.ReadDir("schemas")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadSchema reads a schema from a YAML file, or returns the shipped
// preset of that name when no such file exists.
func LoadSchema(path string) (*Schema, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		content, err = presets.ReadFile("schemas/" + path + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("%w: no schema file or preset %q", ErrInvalidSchema, path)
		}
	} else if err != nil {
		return nil, err
	}
	return ParseSchema(content)
}

// ParseSchema decodes and validates a YAML schema.
func ParseSchema(content []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) compile() error {
	if s.Format == "" {
		s.Format = FormatCSV
	}
	if s.Format != FormatCSV && s.Format != FormatTSV {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidSchema, s.Format)
	}
	if s.IDNamespace == "" {
		s.IDNamespace = NamespaceInternal
	}
	if s.IDNamespace != NamespaceInternal && s.IDNamespace != NamespaceToken {
		return fmt.Errorf("%w: unknown id namespace %q", ErrInvalidSchema, s.IDNamespace)
	}
	if s.IDField == "" && s.Format != FormatTSV {
		return fmt.Errorf("%w: id_field is required for %s sources", ErrInvalidSchema, s.Format)
	}
	if s.RoleSeparator == "" {
		s.RoleSeparator = "-"
	}

	var err error
	if s.dateLayouts, err = layouts(s.DateFormats, "survey"); err != nil {
		return err
	}
	for i := range s.TrialDates {
		td := &s.TrialDates[i]
		if td.ValueField == "" || len(td.Rows) == 0 {
			return fmt.Errorf("%w: trial date %d needs rows and value_field", ErrInvalidSchema, i)
		}
		if td.layouts, err = layouts(td.Formats, "trial"); err != nil {
			return err
		}
		if td.relativeLayouts, err = layouts(td.RelativeFormats, "survey"); err != nil {
			return err
		}
	}

	compile := func(patterns []string, prefix string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(prefix + p)
			if err != nil {
				return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidSchema, p, err)
			}
			out = append(out, re)
		}
		return out, nil
	}
	if s.datePatterns, err = compile(s.DateFieldPatterns, ""); err != nil {
		return err
	}
	if s.dropPatterns, err = compile(s.DropFieldPatterns, ""); err != nil {
		return err
	}
	if s.rowPatterns, err = compile(s.DropRowPatterns, ""); err != nil {
		return err
	}
	if s.testPatterns, err = compile(s.TestSubjectPatterns, "(?i)"); err != nil {
		return err
	}

	s.roles = longestFirst(s.RoleSuffixes)
	s.timepoints = longestFirst(s.TimepointSuffixes)
	return nil
}

func layouts(name, fallback string) ([]dates.Layout, error) {
	if name == "" {
		name = fallback
	}
	set, ok := dates.Formats(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown date formats %q", ErrInvalidSchema, name)
	}
	return set, nil
}

func longestFirst(values []string) []string {
	out := append([]string(nil), values...)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i]) > len(out[j])
	})
	return out
}

// IsDateField reports whether a column holds an absolute date.
func (s *Schema) IsDateField(name string) bool {
	for _, f := range s.DateFields {
		if f == name {
			return true
		}
	}
	for _, re := range s.datePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IsDroppedField reports whether a column must not reach the output.
func (s *Schema) IsDroppedField(name string) bool {
	for _, f := range s.DropFields {
		if f == name {
			return true
		}
	}
	for _, re := range s.dropPatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IsDroppedRow reports whether a row key marks identifying content.
func (s *Schema) IsDroppedRow(key string) bool {
	for _, r := range s.DropRows {
		if r == key {
			return true
		}
	}
	for _, re := range s.rowPatterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// IsTestSubject matches the naming habits of site staff entering dummy
// subjects.
func (s *Schema) IsTestSubject(id string) bool {
	for _, re := range s.testPatterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
