package dlp

import (
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/tabular"
)

// Codes tells which internal codes exist.
type Codes interface {
	Known(internal string) bool
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Detector looks for identifying data left in released files. It is
// read-only after construction.
type Detector struct {
	rules []compiledRule
	codes Codes
}

func NewDetector(cfg RulesConfig, codes Codes) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled, codes: codes}, nil
}

// ScanText reports every rule match in one cell.
func (d *Detector) ScanText(location, text string) []models.Diagnostic {
	if d == nil || text == "" {
		return nil
	}
	var diags []models.Diagnostic
	for _, cr := range d.rules {
		for _, match := range cr.re.FindAllString(text, -1) {
			if cr.rule.Registry && (d.codes == nil || !d.codes.Known(match)) {
				continue
			}
			diags = append(diags, models.NewDiagnostic(models.KindResidualIdentifier, location,
				fmt.Sprintf("Released file contains %s", cr.rule.Name), match).WithSeverity(severity(cr.rule.Severity)))
		}
	}
	return diags
}

// Scan reads a released delimited file and reports identifying data in
// its header and cells.
func (d *Detector) Scan(name string, r io.Reader) ([]models.Diagnostic, error) {
	if d == nil {
		return nil, nil
	}
	reader, err := tabular.NewSniffingReader(r)
	if errors.Is(err, tabular.ErrNoHeader) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	header := reader.Header()

	var diags []models.Diagnostic
	for _, h := range header {
		diags = append(diags, d.ScanText(name+":1", h)...)
	}
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return diags, fmt.Errorf("%s: %w", name, err)
		}
		for i, cell := range row.Fields {
			location := fmt.Sprintf("%s:%d", name, row.Line)
			if i < len(header) {
				location += ":" + header[i]
			}
			diags = append(diags, d.ScanText(location, cell)...)
		}
	}
	return diags, nil
}

func severity(s string) models.Severity {
	switch models.Severity(s) {
	case models.SeverityInfo, models.SeverityWarning:
		return models.Severity(s)
	default:
		return models.SeverityError
	}
}
