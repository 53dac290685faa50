// Package harness runs parity scenarios described in YAML: it resolves the
// builder pair, the model config and the inputs, and reports whether the two
// variants agree.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/parity"
	"github.com/Suraj520/automl/internal/tensor"
)

// Result is the outcome of one scenario. Mismatches fail the scenario;
// construction errors are returned by Run instead.
type Result struct {
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	Builder      string        `json:"builder"`
	Pass         bool          `json:"pass"`
	Errors       []string      `json:"errors,omitempty"`
	Combinations int           `json:"combinations,omitempty"`
	Duration     time.Duration `json:"duration_ns"`

	Names   *parity.NamesReport   `json:"-"`
	Outputs *parity.OutputsReport `json:"-"`
}

// IsMismatch reports whether err is a comparison failure rather than an
// error building or running a variant.
func IsMismatch(err error) bool {
	var sm *parity.StructuralMismatch
	var nm *parity.NumericMismatch
	return errors.As(err, &sm) || errors.As(err, &nm)
}

// Config resolves the scenario's preset and overrides.
func (s *Scenario) Config() (*config.Config, error) {
	cfg, err := config.Get(s.Preset)
	if err != nil {
		return nil, err
	}
	if err := cfg.Override(s.Overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InputSpecs converts the scenario inputs.
func (s *Scenario) InputSpecs() ([]parity.InputSpec, error) {
	specs := make([]parity.InputSpec, len(s.Inputs))
	for i, in := range s.Inputs {
		fill, err := parity.ParseFill(in.Fill)
		if err != nil {
			return nil, err
		}
		specs[i] = parity.InputSpec{Shape: in.Shape, Fill: fill}
		if fill == parity.FillValue {
			if in.Value == nil {
				return nil, fmt.Errorf("input %d: fill value needs a value", i)
			}
			specs[i].Value = tensor.Full(*in.Value, in.Shape...)
		}
	}
	return specs, nil
}

// Options converts the scenario comparison settings.
func (s *Scenario) Options() ([]parity.Option, error) {
	var opts []parity.Option
	if c, ok := parity.ParseCollection(s.Collection); ok {
		opts = append(opts, parity.WithCollection(c))
	} else {
		return nil, fmt.Errorf("unknown collection %q", s.Collection)
	}
	if s.SetSemantics {
		opts = append(opts, parity.WithSetSemantics())
	}
	d, err := tensor.ParseDType(s.DType)
	if err != nil {
		return nil, err
	}
	opts = append(opts, parity.WithDType(d))
	if n := s.Normalize; n != nil {
		var rules []parity.Normalizer
		if n.ReplacePrefix != nil {
			rules = append(rules, parity.ReplacePrefix(n.ReplacePrefix.From, n.ReplacePrefix.To))
		}
		if n.StripPrefix != "" {
			rules = append(rules, parity.StripPrefix(n.StripPrefix))
		}
		if n.StripSuffix != "" {
			rules = append(rules, parity.StripSuffix(n.StripSuffix))
		}
		norm := parity.Chain(rules...)
		switch n.ApplyTo {
		case LegacyVariant:
			opts = append(opts, parity.WithVariantNormalizers(norm, nil))
		case LayersVariant:
			opts = append(opts, parity.WithVariantNormalizers(nil, norm))
		default:
			opts = append(opts, parity.WithNormalizer(norm))
		}
	}
	return opts, nil
}

// Run executes one scenario. A mismatch yields a failing Result and a nil
// error; anything else that goes wrong is returned as an error.
func Run(s *Scenario) (*Result, error) {
	return RunContext(context.Background(), s)
}

// RunContext is Run with a context that cancels graph execution.
func RunContext(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	res := &Result{Name: s.Name, Kind: s.Kind, Builder: s.Builder}
	legacy, layers, err := Pair(s.Builder, s.Params)
	if err != nil {
		return nil, err
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	inputs, err := s.InputSpecs()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	opts, err := s.Options()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	opts = append(opts, parity.WithContext(ctx))
	logger.Log.Info("Running scenario", "name", s.Name, "kind", s.Kind, "builder", s.Builder, "preset", cfg.Name)

	switch s.Kind {
	case KindVariableNames:
		res.Names, err = parity.CompareVariableNames(legacy, layers, inputs, cfg, opts...)
	case KindOutputs:
		res.Outputs, err = parity.CompareOutputs(legacy, layers, inputs, cfg, s.Seed, opts...)
	case KindGrid:
		var report *parity.GridReport
		report, err = parity.CompareUnderParameterGrid(legacy, layers, s.Grid, func(a, b parity.Variant, c parity.Combination) error {
			combo, err := c.ApplyTo(cfg)
			if err != nil {
				return err
			}
			if s.Compare == KindVariableNames {
				_, err = parity.CompareVariableNames(a, b, inputs, combo, opts...)
			} else {
				_, err = parity.CompareOutputs(a, b, inputs, combo, s.Seed, opts...)
			}
			return err
		})
		if report != nil {
			res.Combinations = len(report.Combinations)
		}
	default:
		return nil, fmt.Errorf("scenario %s: unknown kind %q", s.Name, s.Kind)
	}
	res.Duration = time.Since(start)
	if err != nil {
		if !IsMismatch(err) {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		res.Errors = append(res.Errors, err.Error())
		logger.Log.Warn("Scenario failed", "name", s.Name, "error", err.Error())
		return res, nil
	}
	res.Pass = true
	logger.Log.Info("Scenario passed", "name", s.Name, "elapsed", res.Duration.String())
	return res, nil
}

// RunAll runs scenarios in order and stops at the first error.
func RunAll(ctx context.Context, scenarios []*Scenario) ([]*Result, error) {
	var results []*Result
	for _, s := range scenarios {
		r, err := RunContext(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
