package tracker

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	idleActivity   = "Idle"
	activeActivity = "Active"
)

//go:embed activity_rules.yaml
var defaultActivityRules []byte

// ActivityRule maps application-name keywords to an activity label.
type ActivityRule struct {
	Activity string   `yaml:"activity"`
	Keywords []string `yaml:"keywords"`
}

// ActivityRules is an ordered keyword table; the first match wins.
type ActivityRules struct {
	Rules []ActivityRule `yaml:"rules"`
}

// DefaultActivityRules returns the built-in rule table.
func DefaultActivityRules() *ActivityRules {
	rules, err := parseActivityRules(defaultActivityRules)
	if err != nil {
		panic(fmt.Sprintf("embedded activity rules: %v", err))
	}
	return rules
}

// LoadActivityRules reads a YAML rule table from path. An empty path yields the defaults.
func LoadActivityRules(path string) (*ActivityRules, error) {
	if path == "" {
		return DefaultActivityRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read activity rules: %w", err)
	}
	return parseActivityRules(data)
}

func parseActivityRules(data []byte) (*ActivityRules, error) {
	var rules ActivityRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode activity rules: %w", err)
	}
	if len(rules.Rules) == 0 {
		return nil, errors.New("activity rules: no rules defined")
	}
	for i, r := range rules.Rules {
		if strings.TrimSpace(r.Activity) == "" {
			return nil, fmt.Errorf("activity rules: rule %d has no activity", i)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("activity rules: rule %q has no keywords", r.Activity)
		}
		for j, k := range r.Keywords {
			rules.Rules[i].Keywords[j] = strings.ToLower(strings.TrimSpace(k))
		}
	}
	return &rules, nil
}

// Guess returns the app label and activity guess for a sampled window.
// A nil window means nothing is in the foreground.
func (r *ActivityRules) Guess(w *Window) (app, activity string) {
	if w == nil {
		return UnknownApp, idleActivity
	}
	app = strings.TrimSpace(w.OwnerName)
	if app == "" {
		app = UnknownApp
	}
	lower := strings.ToLower(app)
	for _, rule := range r.Rules {
		for _, k := range rule.Keywords {
			if k != "" && strings.Contains(lower, k) {
				return app, rule.Activity
			}
		}
	}
	if app == UnknownApp {
		return app, activeActivity
	}
	return app, "Using " + app
}
