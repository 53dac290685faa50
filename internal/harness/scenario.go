package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Suraj520/automl/internal/parity"
)

// Scenario kinds.
const (
	KindVariableNames = "variable_names"
	KindOutputs       = "outputs"
	KindGrid          = "grid"
)

// Scenario is one parity check between the two variants of a builder.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Kind        string `yaml:"kind"`
	Builder     string `yaml:"builder"`

	// Preset names a model config; empty selects the default preset.
	Preset    string                 `yaml:"preset,omitempty"`
	Overrides map[string]interface{} `yaml:"overrides,omitempty"`

	Inputs     []InputDef `yaml:"inputs"`
	Seed       int64      `yaml:"seed,omitempty"`
	Collection string     `yaml:"collection,omitempty"`
	Params     Params     `yaml:"params,omitempty"`

	// Grid toggles are config keys. Compare selects what each combination
	// checks: outputs (default) or variable_names.
	Grid    parity.Grid `yaml:"grid,omitempty"`
	Compare string      `yaml:"compare,omitempty"`

	Normalize    *NormalizeRules `yaml:"normalize,omitempty"`
	SetSemantics bool            `yaml:"set_semantics,omitempty"`
	DType        string          `yaml:"dtype,omitempty"`
}

// InputDef describes one input. Fill "value" uses Value for every element.
type InputDef struct {
	Shape []int    `yaml:"shape"`
	Fill  string   `yaml:"fill,omitempty"`
	Value *float32 `yaml:"value,omitempty"`
}

// NormalizeRules rewrite names before comparison. ApplyTo is legacy, layers
// or empty for both.
type NormalizeRules struct {
	StripSuffix   string         `yaml:"strip_suffix,omitempty"`
	StripPrefix   string         `yaml:"strip_prefix,omitempty"`
	ReplacePrefix *PrefixReplace `yaml:"replace_prefix,omitempty"`
	ApplyTo       string         `yaml:"apply_to,omitempty"`
}

type PrefixReplace struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", s.Name, err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml file of dir whose base name matches filter (a
// filepath.Match pattern; empty matches all), sorted by file name.
func LoadDir(dir, filter string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []*Scenario
	for _, p := range paths {
		if filter != "" {
			ok, err := filepath.Match(filter, filepath.Base(p))
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
			}
			if !ok {
				continue
			}
		}
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Kind {
	case KindVariableNames, KindOutputs:
	case KindGrid:
		if len(s.Grid) == 0 {
			return fmt.Errorf("grid scenario needs at least one grid key")
		}
		switch s.Compare {
		case "", KindOutputs, KindVariableNames:
		default:
			return fmt.Errorf("unknown grid compare %q", s.Compare)
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if _, ok := registry[s.Builder]; !ok {
		return fmt.Errorf("unknown builder %q (known: %v)", s.Builder, Builders())
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("inputs list is required and must be non-empty")
	}
	for i, in := range s.Inputs {
		if len(in.Shape) == 0 {
			return fmt.Errorf("input %d: shape is required", i)
		}
		fill, err := parity.ParseFill(in.Fill)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if fill == parity.FillValue && in.Value == nil {
			return fmt.Errorf("input %d: fill value needs a value", i)
		}
	}
	if p := s.Params; p.TargetHeight < 0 || p.TargetWidth < 0 || p.TargetChannels < 0 {
		return fmt.Errorf("params: target sizes must be positive, got %dx%dx%d", p.TargetHeight, p.TargetWidth, p.TargetChannels)
	}
	if _, ok := parity.ParseCollection(s.Collection); !ok {
		return fmt.Errorf("unknown collection %q", s.Collection)
	}
	if n := s.Normalize; n != nil {
		switch n.ApplyTo {
		case "", LegacyVariant, LayersVariant:
		default:
			return fmt.Errorf("normalize.apply_to must be %s or %s", LegacyVariant, LayersVariant)
		}
	}
	return nil
}
