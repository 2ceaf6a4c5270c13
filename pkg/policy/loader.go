package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is a versioned rule file. Bundles let deployments change policy
// without a code release: the engine loads them at startup from the
// directory named in configuration.
type Bundle struct {
	Version string       `json:"version" yaml:"version"`
	Name    string       `json:"name" yaml:"name"`
	Rules   []BundleRule `json:"rules" yaml:"rules"`
}

// BundleRule wraps a Rule with the load-time enable switch. A nil Enabled
// counts as enabled.
type BundleRule struct {
	Rule    `yaml:",inline"`
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// ActiveRules returns the bundle's enabled rules in file order.
func (b *Bundle) ActiveRules() []Rule {
	rules := make([]Rule, 0, len(b.Rules))
	for _, br := range b.Rules {
		if br.Enabled != nil && !*br.Enabled {
			continue
		}
		rules = append(rules, br.Rule)
	}
	return rules
}

// LoadBundle reads one bundle file, YAML or JSON.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle: %w", err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("policy: parse bundle %s: %w", filepath.Base(path), err)
	}
	return &b, nil
}

// LoadRules loads every bundle in dir, lexical filename order, and
// concatenates their enabled rules. Filename order is rule precedence
// across bundles, same as rule order within one.
func LoadRules(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rules []Rule
	for _, name := range names {
		b, err := LoadBundle(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		rules = append(rules, b.ActiveRules()...)
	}
	return rules, nil
}
