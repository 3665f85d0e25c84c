package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
)

// Config holds operator customizations of the rule table.
type Config struct {
	Disabled        []string          `yaml:"disabled"`
	ExtraPatterns   []ExtraPatternDef `yaml:"extra_patterns"`
	MedicalKeywords []string          `yaml:"medical_keywords"`
	StreetSuffixes  []string          `yaml:"street_suffixes"`
}

// ExtraPatternDef defines a custom pattern from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Regex string `yaml:"regex"`
}

// compilePatterns validates and compiles extra patterns from config.
// Extras without a kind are reported as drift.
func compilePatterns(cfg *Config) ([]rule, error) {
	if cfg == nil {
		return nil, nil
	}

	var rules []rule
	for i, def := range cfg.ExtraPatterns {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		kind := model.KindDrift
		if def.Kind != "" {
			kind = model.FindingKind(strings.ToLower(def.Kind))
			if !kind.Valid() {
				return nil, fmt.Errorf("extra_patterns[%d] %q: unknown kind %q", i, def.Name, def.Kind)
			}
		}
		rules = append(rules, rule{name: strings.ToLower(def.Name), kind: kind, re: re})
	}
	return rules, nil
}
