package detector

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

// CustomRule is one user-supplied pattern rule loaded from a rules file.
// It mirrors the built-in catalogue's shape; unknown severities fall back
// to medium so a typo weakens a rule instead of dropping it.
type CustomRule struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Family       string   `yaml:"family"`
	Severity     string   `yaml:"severity"`
	Type         string   `yaml:"type"`
	Triggers     []string `yaml:"triggers"`
	SafePatterns []string `yaml:"safe_patterns"`
}

type rulesFile struct {
	Rules []CustomRule `yaml:"rules"`
}

// LoadRulesFile parses a YAML rules file and validates that every trigger
// compiles. A rule with no triggers or an uncompilable regex is an error:
// a silently dead custom rule is worse than a failed load.
func LoadRulesFile(path string) ([]CustomRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for _, r := range f.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule without an id", domain.ErrValidation)
		}
		if len(r.Triggers) == 0 {
			return nil, fmt.Errorf("%w: rule %s has no triggers", domain.ErrValidation, r.ID)
		}
		for _, pat := range append(append([]string{}, r.Triggers...), r.SafePatterns...) {
			if _, err := regexp.Compile(pat); err != nil {
				return nil, fmt.Errorf("%w: rule %s pattern %q: %v", domain.ErrValidation, r.ID, pat, err)
			}
		}
	}
	return f.Rules, nil
}

func severityFromString(s string) domain.Severity {
	switch s {
	case string(domain.SeverityCritical):
		return domain.SeverityCritical
	case string(domain.SeverityHigh):
		return domain.SeverityHigh
	case string(domain.SeverityLow):
		return domain.SeverityLow
	default:
		return domain.SeverityMedium
	}
}

func (c CustomRule) toRule() rule {
	family := Family(c.Family)
	if c.Family == "" {
		family = FamilyAntiAnalysis
	}
	threatType := domain.ThreatType(c.Type)
	if c.Type == "" {
		threatType = domain.ThreatSuspiciousFile
	}
	return rule{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Family:       family,
		Severity:     severityFromString(c.Severity),
		Type:         threatType,
		Triggers:     c.Triggers,
		SafePatterns: c.SafePatterns,
	}
}
