package provider

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quotaguard/quotaguard/core"
)

//go:embed presets/limits.yaml
var presetLimitsYAML []byte

// presetRule is the YAML shape of one default rule.
type presetRule struct {
	Kind         string  `yaml:"kind"`
	Limit        float64 `yaml:"limit"`
	Window       string  `yaml:"window"`
	SafetyMargin float64 `yaml:"safety_margin"`
}

var (
	presetOnce  sync.Once
	presetRules map[string]map[string][]core.RateLimitRule
	presetErr   error
)

// defaultRules returns the embedded preset rules for provider/resource,
// falling back to the provider's "default" resource entry. Returns nil
// when neither is known.
func defaultRules(providerID, resource string) []core.RateLimitRule {
	presetOnce.Do(loadPresets)
	if presetErr != nil || presetRules == nil {
		return nil
	}

	byResource, ok := presetRules[strings.ToLower(providerID)]
	if !ok {
		return nil
	}
	if rules, ok := byResource[strings.ToLower(strings.TrimSpace(resource))]; ok {
		return rules
	}
	return byResource["default"]
}

func loadPresets() {
	var raw map[string]map[string][]presetRule
	if err := yaml.Unmarshal(presetLimitsYAML, &raw); err != nil {
		presetErr = fmt.Errorf("parse embedded limit presets: %w", err)
		return
	}

	presetRules = make(map[string]map[string][]core.RateLimitRule, len(raw))
	for providerID, byResource := range raw {
		out := make(map[string][]core.RateLimitRule, len(byResource))
		for resource, docs := range byResource {
			rules := make([]core.RateLimitRule, 0, len(docs))
			for _, doc := range docs {
				rule, err := doc.toRule()
				if err != nil {
					presetErr = fmt.Errorf("preset %s/%s: %w", providerID, resource, err)
					presetRules = nil
					return
				}
				rules = append(rules, rule)
			}
			out[strings.ToLower(resource)] = rules
		}
		presetRules[strings.ToLower(providerID)] = out
	}
}

func (p presetRule) toRule() (core.RateLimitRule, error) {
	rule := core.RateLimitRule{
		Kind:         core.RuleKind(strings.ToLower(p.Kind)),
		Limit:        p.Limit,
		SafetyMargin: p.SafetyMargin,
	}
	if p.Window != "" {
		window, err := time.ParseDuration(p.Window)
		if err != nil {
			return core.RateLimitRule{}, fmt.Errorf("window %q: %w", p.Window, err)
		}
		rule.Window = window
	}
	if err := rule.Validate(); err != nil {
		return core.RateLimitRule{}, err
	}
	return rule, nil
}
