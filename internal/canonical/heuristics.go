package canonical

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var defaultRulesYAML []byte

// Rule maps freeform labels onto a canonical field
type Rule struct {
	Field  string   `yaml:"field"`
	Scalar bool     `yaml:"scalar"`
	Match  []string `yaml:"match"`

	patterns []*regexp.Regexp
}

// Rules is an ordered rule table
type Rules struct {
	Rules []*Rule `yaml:"rules"`
}

// ParseRules decodes and compiles a YAML rule table
func ParseRules(data []byte) (*Rules, error) {
	var rs Rules
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse heuristic rules: %w", err)
	}
	for _, r := range rs.Rules {
		if r.Field == "" {
			return nil, fmt.Errorf("heuristic rule without field")
		}
		for _, m := range r.Match {
			re, err := globToRegexp(m)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Field, err)
			}
			r.patterns = append(r.patterns, re)
		}
	}
	return &rs, nil
}

// DefaultRules returns the embedded rule table
func DefaultRules() *Rules {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(err)
	}
	return rs
}

// Match returns the first rule whose patterns match label
func (rs *Rules) Match(label string) (*Rule, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return nil, false
	}
	for _, r := range rs.Rules {
		for _, re := range r.patterns {
			if re.MatchString(label) {
				return r, true
			}
		}
	}
	return nil, false
}

// globToRegexp turns "*pain*level*" into an anchored, case-insensitive regexp
func globToRegexp(glob string) (*regexp.Regexp, error) {
	parts := strings.Split(strings.ToLower(glob), "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("(?is)^" + strings.Join(parts, ".*") + "$")
}
