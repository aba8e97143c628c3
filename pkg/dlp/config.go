package dlp

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule matches one kind of identifying data in released cells. With
// Registry set, a match is only reported when the registry knows it as an
// internal code.
type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Registry bool   `yaml:"registry" json:"registry"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Severity string `yaml:"severity" json:"severity"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
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

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no leak rules configured")
	}

	return cfg, nil
}

func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "internal code", Pattern: `\d{12}`, Registry: true, Enabled: true, Severity: "error"},
		{Name: "ISO date", Pattern: `\b(19|20)\d\d-[01]\d-[0-3]\d\b`, Enabled: true, Severity: "warning"},
		{Name: "day-first date", Pattern: `\b[0-3]?\d[./][01]?\d[./](19|20)\d\d\b`, Enabled: true, Severity: "warning"},
		{Name: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Enabled: true, Severity: "warning"},
	}}
}
