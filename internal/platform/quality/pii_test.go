package quality

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectorMatchesIdentifierShapes(t *testing.T) {
	det, err := NewDetector(DefaultPIIRules())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		text string
	}{
		{"long digit run", "transferred from unit, MRN 4417230958"},
		{"mobile number", "family contact 139-5566-7788 per intake"},
		{"phone with area code", "call (021) 66321180 for records"},
		{"admission label", "admission no: 88219 transferred to nephrology"},
		{"bed label", "bed #12045 moved after dialysis"},
		{"name label", "patient name: Zhang follow-up in 2 weeks"},
		{"email address", "send report to j.doe@example.org"},
		{"chinese name label", "姓名：王小明，循环稳定"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, found := det.LooksLikePII(tt.text)
			if !found {
				t.Errorf("text %q should match a rule", tt.text)
			}
			if rule == "" {
				t.Error("match should report the rule name")
			}
		})
	}
}

func TestDetectorPassesClinicalText(t *testing.T) {
	det, err := NewDetector(DefaultPIIRules())
	if err != nil {
		t.Fatal(err)
	}
	tests := []string{
		"",
		"creatinine up from 1.2 to 1.8 over 3 months",
		"started lisinopril 10mg daily, BP 142/88",
		"proteinuria 0.8 g/g, stable vs prior visit",
		"dose reduced 50% after potassium 5.9",
	}
	for _, text := range tests {
		if rule, found := det.LooksLikePII(text); found {
			t.Errorf("clinical text %q matched rule %q", text, rule)
		}
	}
}

func TestLoadPIIRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pii.yaml")
	content := []byte(`rules:
  - name: badge-number
    pattern: 'badge\s+\d+'
    enabled: true
  - name: disabled-rule
    pattern: 'never'
    enabled: false
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadPIIRules(path)
	if err != nil {
		t.Fatal(err)
	}
	det, err := NewDetector(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rule, found := det.LooksLikePII("escorted by badge 4471"); !found || rule != "badge-number" {
		t.Errorf("got (%q, %v), want badge-number match", rule, found)
	}
	if _, found := det.LooksLikePII("never say never"); found {
		t.Error("disabled rule must not be compiled")
	}
}

func TestLoadPIIRulesEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadPIIRules("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Rules) == 0 {
		t.Fatal("default rule set is empty")
	}
}

func TestLoadPIIRulesRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPIIRules(path); err == nil {
		t.Error("rule file with no rules should be rejected")
	}
}

func TestNewDetectorRejectsBadPattern(t *testing.T) {
	_, err := NewDetector(PIIRulesConfig{Rules: []PIIRule{
		{Name: "broken", Pattern: "[unclosed", Enabled: true},
	}})
	if err == nil {
		t.Error("invalid pattern should fail compilation")
	}
}

func TestNewDetectorRejectsAllDisabled(t *testing.T) {
	_, err := NewDetector(PIIRulesConfig{Rules: []PIIRule{
		{Name: "off", Pattern: `\d+`, Enabled: false},
	}})
	if err == nil {
		t.Error("a config with no enabled rules should be rejected")
	}
}
