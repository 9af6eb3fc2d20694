package quality

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Detector screens free text for patterns characteristic of directly
// identifying information. The engine fails closed: any match blocks the
// write, and false positives are accepted by design in preference to
// letting identifiers into a de-identified registry.
type Detector interface {
	LooksLikePII(text string) (rule string, found bool)
}

// PIIRule is one named detection pattern.
type PIIRule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// PIIRulesConfig is the rule set, loadable from YAML so patterns can be
// extended per deployment without touching persistence code.
type PIIRulesConfig struct {
	Rules []PIIRule `yaml:"rules"`
}

// LoadPIIRules reads a rule file, falling back to the compiled-in defaults
// when path is empty.
func LoadPIIRules(path string) (PIIRulesConfig, error) {
	if path == "" {
		return DefaultPIIRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIIRulesConfig{}, fmt.Errorf("read PII rules: %w", err)
	}
	var cfg PIIRulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return PIIRulesConfig{}, fmt.Errorf("parse PII rules: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return PIIRulesConfig{}, errors.New("PII rule file defines no rules")
	}
	return cfg, nil
}

// DefaultPIIRules covers the identifier shapes seen in multi-center intake
// notes: long digit runs, mobile numbers, national IDs with an embedded
// birth date, labeled admission/record/bed numbers, labeled names, and
// email addresses.
func DefaultPIIRules() PIIRulesConfig {
	return PIIRulesConfig{Rules: []PIIRule{
		{Name: "digit-run", Pattern: `\d{8,}`, Enabled: true},
		{Name: "mobile-number", Pattern: `1[3-9]\d[-\s]?\d{4}[-\s]?\d{4}`, Enabled: true},
		{Name: "phone-number", Pattern: `\(?\d{3,4}\)?[-\s]\d{7,8}`, Enabled: true},
		{Name: "national-id", Pattern: `\d{6}(19|20)\d{2}(0[1-9]|1[0-2])(0[1-9]|[12]\d|3[01])\d{3}[\dXx]`, Enabled: true},
		{Name: "id-label", Pattern: `(住院号|病案号|床号|门诊号|(?i:admission|record|bed|chart)\s*(?i:no\.?|number|#)?)\s*[:：#]?\s*\d+`, Enabled: true},
		{Name: "name-label", Pattern: `(姓名|患者姓名)\s*[:：]?\s*\p{Han}{2,4}|(?i:patient\s+name|name)\s*[:：]\s*[A-Za-z]{2,}`, Enabled: true},
		{Name: "email", Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`, Enabled: true},
	}}
}

type compiledPIIRule struct {
	name string
	re   *regexp.Regexp
}

// RegexDetector is the default Detector: a list of compiled patterns,
// first match wins.
type RegexDetector struct {
	rules []compiledPIIRule
}

// NewDetector compiles the enabled rules of a config.
func NewDetector(cfg PIIRulesConfig) (*RegexDetector, error) {
	var compiled []compiledPIIRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("PII rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledPIIRule{name: rule.Name, re: re})
	}
	if len(compiled) == 0 {
		return nil, errors.New("no enabled PII rules")
	}
	return &RegexDetector{rules: compiled}, nil
}

func (d *RegexDetector) LooksLikePII(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, r := range d.rules {
		if r.re.MatchString(text) {
			return r.name, true
		}
	}
	return "", false
}
