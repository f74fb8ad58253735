package strategy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

//go:embed strategies.yaml
var defaultTable []byte

// Config is the decoded strategy table.
type Config struct {
	Strategies map[string]*Strategy `yaml:"strategies"`
	Rules      []Rule               `yaml:"rules"`
}

// Rule selects a strategy when every populated criterion holds.
type Rule struct {
	Name         string      `yaml:"name" json:"name"`
	Strategy     string      `yaml:"strategy" json:"strategy"`
	Source       string      `yaml:"source,omitempty" json:"source,omitempty"`
	Subtypes     []string    `yaml:"subtypes,omitempty" json:"subtypes,omitempty"`
	Schema       string      `yaml:"schema,omitempty" json:"schema,omitempty"`
	Localization string      `yaml:"localization,omitempty" json:"localization,omitempty"`
	Conditions   []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Condition compares one notice attribute against a literal.
type Condition struct {
	Attribute string `yaml:"attribute" json:"attribute"`
	Op        string `yaml:"op" json:"op"`
	Value     any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Default returns the built-in strategy table.
func Default() (*Config, error) {
	return Parse("strategies.yaml", defaultTable)
}

// Load reads and validates a strategy table from path. An empty path
// yields the built-in table.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the table schema and decodes it.
func Parse(name string, data []byte) (*Config, error) {
	if err := validate(name, data); err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	for n, s := range c.Strategies {
		if s == nil {
			return nil, fmt.Errorf("strategy %q is empty", n)
		}
		s.Name = n
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &c, nil
}

func validate(name string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile strategy schema: %w", err)
	}

	f, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	doc := ctx.BuildFile(f)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	final := schema.Unify(doc)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return nil
}

func (c *Config) check() error {
	var errs []error
	if _, ok := c.Strategies[DefaultName]; !ok {
		errs = append(errs, fmt.Errorf("missing mandatory %s strategy", DefaultName))
	}
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule name %q", i, r.Name))
		}
		seen[r.Name] = true
		if _, ok := c.Strategies[r.Strategy]; !ok {
			errs = append(errs, fmt.Errorf("rules[%d] %q: unknown strategy %q", i, r.Name, r.Strategy))
		}
		for j, cond := range r.Conditions {
			if cond.Op != OpExists && cond.Value == nil {
				errs = append(errs, fmt.Errorf("rules[%d] %q: conditions[%d]: operator %q needs a value", i, r.Name, j, cond.Op))
			}
		}
	}
	return errors.Join(errs...)
}

// Names returns the configured strategy names in sorted order.
func (c *Config) Names() []string {
	out := make([]string, 0, len(c.Strategies))
	for n := range c.Strategies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
