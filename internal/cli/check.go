package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/harness"
)

// checkOptions are the flags shared by names, outputs and grid. They are
// turned into an in-memory scenario so every command runs through the
// harness the same way a scenario file does.
type checkOptions struct {
	Preset        string
	Builder       string
	Overrides     string
	OverridesFile string
	Collection    string
	DType         string
	Fill          string
	Seed          int64
	SetSemantics  bool
	LegacyName    string
	LayersName    string
}

func (o *checkOptions) register(cmd *cobra.Command, builder string) {
	f := cmd.Flags()
	f.StringVar(&o.Preset, "preset", "", "model preset (default "+config.DefaultModelName+")")
	f.StringVar(&o.Builder, "builder", builder, fmt.Sprintf("builder pair to compare %v", harness.Builders()))
	f.StringVar(&o.Overrides, "override", "", "config overrides as key=value,key=value")
	f.StringVar(&o.OverridesFile, "overrides-file", "", "YAML file of config overrides, applied before --override")
	f.StringVar(&o.DType, "dtype", "float32", "comparison precision (float32|float16|bfloat16|float64)")
	f.StringVar(&o.Fill, "fill", "uniform", "input fill (uniform|ones|zeros)")
	f.StringVar(&o.LegacyName, "legacy-name", "", "resample builder: legacy layer name")
	f.StringVar(&o.LayersName, "layers-name", "", "resample builder: layer object name")
}

func (o *checkOptions) overrides() (map[string]interface{}, error) {
	merged := make(map[string]interface{})
	if o.OverridesFile != "" {
		fromFile, err := config.LoadOverrides(o.OverridesFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			merged[k] = v
		}
	}
	fromFlag, err := config.ParseOverrides(o.Overrides)
	if err != nil {
		return nil, err
	}
	for k, v := range fromFlag {
		merged[k] = v
	}
	return merged, nil
}

// scenario builds the scenario for kind with inputs derived from the config.
func (o *checkOptions) scenario(kind string) (*harness.Scenario, error) {
	overrides, err := o.overrides()
	if err != nil {
		return nil, err
	}
	s := &harness.Scenario{
		Name:         o.Builder + "_" + kind,
		Kind:         kind,
		Builder:      o.Builder,
		Preset:       o.Preset,
		Overrides:    overrides,
		Seed:         o.Seed,
		Collection:   o.Collection,
		DType:        o.DType,
		SetSemantics: o.SetSemantics,
		Params:       harness.Params{LegacyName: o.LegacyName, LayersName: o.LayersName},
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	inputs, err := harness.DefaultInputs(o.Builder, cfg)
	if err != nil {
		return nil, err
	}
	for i := range inputs {
		inputs[i].Fill = o.Fill
	}
	s.Inputs = inputs
	return s, nil
}
