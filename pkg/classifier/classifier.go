package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neurocohort/databank/pkg/common/logger"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Classifier holds the ordered rule lists. It is immutable once built.
type Classifier struct {
	loose  []compiledRule
	strict []compiledRule
	series []compiledRule
}

func NewClassifier(cfg RulesConfig) (*Classifier, error) {
	loose, err := compileRules(cfg.Loose, true)
	if err != nil {
		return nil, err
	}
	strict, err := compileRules(cfg.Strict, true)
	if err != nil {
		return nil, err
	}
	series, err := compileRules(cfg.Series, false)
	if err != nil {
		return nil, err
	}
	for _, c := range series {
		if _, ok := parseSeriesType(c.rule.Type); !ok {
			return nil, fmt.Errorf("rule %q: unknown series type %q", c.rule.Name, c.rule.Type)
		}
	}
	return &Classifier{loose: loose, strict: strict, series: series}, nil
}

// Default returns a classifier built from DefaultRules.
func Default() *Classifier {
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// compileRules anchors filename rules on both ends; series rules search
// anywhere in the description.
func compileRules(rules []Rule, anchored bool) ([]compiledRule, error) {
	var compiled []compiledRule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		pattern := rule.Pattern
		if anchored {
			pattern = `^(?:` + pattern + `)$`
		}
		if rule.IgnoreCase {
			pattern = `(?i)` + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return compiled, nil
}

// Classify tags a bare filename. Strict mode requires the canonical
// <prefix>_<code><timepoint>.<ext> shape; loose mode tolerates the extra
// prefixes and suffixes sites add. The first matching rule wins.
func (c *Classifier) Classify(filename string, strict bool) (FileType, bool) {
	rules := c.loose
	if strict {
		rules = c.strict
	}
	for _, r := range rules {
		if r.re.MatchString(filename) {
			logger.WithFields(map[string]interface{}{
				"filename": filename,
				"type":     r.rule.Type,
			}).Debug("filename classified")
			return FileType(r.rule.Type), true
		}
	}
	return "", false
}

// ClassifySeries maps an imaging series description to its sequence.
func (c *Classifier) ClassifySeries(description string) (SeriesType, bool) {
	for _, r := range c.series {
		if r.re.MatchString(description) {
			series, _ := parseSeriesType(r.rule.Type)
			return series, true
		}
	}
	return 0, false
}

var taskPrefixes = []struct {
	prefix string
	task   FileType
}{
	{"mid_", MIDTask},
	{"ft_", FaceTask},
	{"ss_", StopSignalTask},
	{"recog_", RecognitionTask},
}

// ParseTaskFilename splits a Scanning folder task file name such as
// mid_012345678901FU3.csv into its task and subject id. The subject id may
// be empty when the name is only a prefix and extension.
func ParseTaskFilename(filename string) (FileType, string, bool) {
	for _, p := range taskPrefixes {
		if strings.HasPrefix(filename, p.prefix) && strings.HasSuffix(filename, ".csv") && len(filename) >= len(p.prefix)+len(".csv") {
			return p.task, filename[len(p.prefix) : len(filename)-len(".csv")], true
		}
	}
	return "", "", false
}

const (
	physioLogPrefix   = "SCANPHYSLOG"
	restingRawPrefix  = "ImagenBRest_Resting_1_Raw_"
	restingTimePrefix = "ImagenBRest_Resting_1_Times_"
)

// ParsePhysiologicalFilename recognizes physiological recordings. It
// returns the recording kind (the extension) and the embedded subject id,
// if the naming scheme carries one.
func ParsePhysiologicalFilename(filename string) (kind, subjectID string, ok bool) {
	root, ext := filename, ""
	if i := strings.LastIndex(filename, "."); i >= 0 {
		root, ext = filename[:i], filename[i+1:]
	}
	switch ext {
	case "ecg", "ext", "puls", "resp":
		return ext, strings.TrimSuffix(root, "_rest"), true
	case "log":
		if strings.HasPrefix(root, physioLogPrefix) {
			stamp := root[len(physioLogPrefix):]
			if len(stamp) == len("20140409112224") && isDigits(stamp) {
				return ext, "", true
			}
		}
	case "txt":
		if strings.HasPrefix(root, restingRawPrefix) {
			return ext, root[len(restingRawPrefix):], true
		}
		if strings.HasPrefix(root, restingTimePrefix) {
			return ext, root[len(restingTimePrefix):], true
		}
	}
	return "", "", false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
