// Package alerting evaluates threshold rules against finalized windows and
// guarantees at most one alert per rule and window.
package alerting

import (
	"logsentinel/internal/config"
	"logsentinel/internal/domain"
)

// Rule is one row of the threshold table.
type Rule struct {
	Name      string          `json:"name"`
	Metric    domain.Metric   `json:"metric"`
	Operator  domain.Operator `json:"operator"`
	Threshold float64         `json:"threshold"`
}

// Matches returns the observed value and whether the rule's condition holds.
// A rule never matches a window for which its metric is undefined.
func (r Rule) Matches(m *domain.WindowMetrics) (float64, bool) {
	value, ok := r.Metric.Value(m)
	if !ok {
		return 0, false
	}
	return value, r.Operator.Compare(value, r.Threshold)
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return RulesFromConfig(config.DefaultRules())
}

// RulesFromConfig converts configured rules. The configuration is expected
// to have been validated.
func RulesFromConfig(cfgs []config.RuleConfig) []Rule {
	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, Rule{
			Name:      c.Name,
			Metric:    c.Metric,
			Operator:  c.Operator,
			Threshold: c.Threshold,
		})
	}
	return rules
}
