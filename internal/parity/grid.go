package parity

import (
	"fmt"
	"strings"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/metrics"
)

// GridParam is one toggle and the values it takes, in order.
type GridParam struct {
	Key    string        `yaml:"key"`
	Values []interface{} `yaml:"values"`
}

// Grid is an ordered list of toggles. Combinations vary the last key fastest.
type Grid []GridParam

// Setting is one toggle value inside a Combination.
type Setting struct {
	Key   string
	Value interface{}
}

// Combination holds one value per grid key, in grid order.
type Combination []Setting

func (c Combination) String() string {
	if len(c) == 0 {
		return "(none)"
	}
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = fmt.Sprintf("%s=%v", s.Key, s.Value)
	}
	return strings.Join(parts, " ")
}

func (c Combination) Value(key string) (interface{}, bool) {
	for _, s := range c {
		if s.Key == key {
			return s.Value, true
		}
	}
	return nil, false
}

// Bool returns the value of key, or false when it is absent or not a bool.
func (c Combination) Bool(key string) bool {
	v, _ := c.Value(key)
	b, _ := v.(bool)
	return b
}

// Text returns the value of key formatted as a string, or "".
func (c Combination) Text(key string) string {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c Combination) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(c))
	for _, s := range c {
		m[s.Key] = s.Value
	}
	return m
}

// ApplyTo returns a copy of cfg with every setting applied as an override.
func (c Combination) ApplyTo(cfg *config.Config) (*config.Config, error) {
	out := cfg.Clone()
	if err := out.Override(c.Map()); err != nil {
		return nil, fmt.Errorf("combination %s: %w", c, err)
	}
	return out, nil
}

// Combinations expands the Cartesian product of the grid. An empty grid has
// a single empty combination.
func (gr Grid) Combinations() ([]Combination, error) {
	seen := make(map[string]bool, len(gr))
	for _, p := range gr {
		if p.Key == "" {
			return nil, fmt.Errorf("grid: empty key")
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("grid: duplicate key %q", p.Key)
		}
		seen[p.Key] = true
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("grid: key %q has no values", p.Key)
		}
	}
	combos := []Combination{{}}
	for _, p := range gr {
		next := make([]Combination, 0, len(combos)*len(p.Values))
		for _, c := range combos {
			for _, v := range p.Values {
				n := make(Combination, len(c), len(c)+1)
				copy(n, c)
				next = append(next, append(n, Setting{Key: p.Key, Value: v}))
			}
		}
		combos = next
	}
	return combos, nil
}

// GridFunc compares a and b under one combination, typically with
// CompareOutputs or CompareVariableNames on freshly seeded graphs.
type GridFunc func(a, b Variant, c Combination) error

// GridReport lists the combinations that were run.
type GridReport struct {
	VariantA     string
	VariantB     string
	Combinations []Combination
	Passed       int
}

// CompareUnderParameterGrid runs run once per grid combination. The first
// failure stops the sweep and is returned as a *CombinationError; nothing is
// retried.
func CompareUnderParameterGrid(a, b Variant, grid Grid, run GridFunc) (*GridReport, error) {
	combos, err := grid.Combinations()
	if err != nil {
		return nil, err
	}
	report := &GridReport{VariantA: a.Name(), VariantB: b.Name()}
	logger.Log.Info("Comparing under parameter grid", "a", a.Name(), "b", b.Name(), "combinations", len(combos))
	for _, c := range combos {
		report.Combinations = append(report.Combinations, c)
		metrics.RecordGridCombination()
		logger.Log.Debug("Grid combination", "combination", c.String())
		if err := run(a, b, c); err != nil {
			metrics.RecordComparison("grid", false)
			logger.Log.Warn("Grid combination failed", "combination", c.String(), "error", err.Error())
			return report, &CombinationError{Combination: c, Err: err}
		}
		report.Passed++
	}
	metrics.RecordComparison("grid", true)
	return report, nil
}
