package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/parity"
)

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios", "")
	require.NoError(t, err)
	require.Len(t, scenarios, 7)
	assert.Equal(t, "bifpn_variable_names", scenarios[0].Name)

	grid := scenarios[1]
	assert.Equal(t, KindGrid, grid.Kind)
	require.Len(t, grid.Grid, 3)
	assert.Equal(t, []interface{}{true, false}, grid.Grid[0].Values)
	assert.Equal(t, []interface{}{"tpu", ""}, grid.Grid[2].Values)
	assert.Equal(t, int64(111111), grid.Seed)

	only, err := LoadDir("testdata/scenarios", "04_*")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "p0", only[0].Params.LegacyName)
}

func TestParseScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nkind: outputs\nbuilder: bifpn\ninputs: [{shape: [1]}]\nseeds: 1\n", "field seeds not found"},
		{"missing name", "kind: outputs\nbuilder: bifpn\ninputs: [{shape: [1]}]\n", "name is required"},
		{"unknown kind", "name: x\nkind: speed\nbuilder: bifpn\ninputs: [{shape: [1]}]\n", "unknown kind"},
		{"unknown builder", "name: x\nkind: outputs\nbuilder: yolo\ninputs: [{shape: [1]}]\n", "unknown builder"},
		{"no inputs", "name: x\nkind: outputs\nbuilder: bifpn\n", "inputs list is required"},
		{"grid without keys", "name: x\nkind: grid\nbuilder: bifpn\ninputs: [{shape: [1]}]\n", "at least one grid key"},
		{"bad fill", "name: x\nkind: outputs\nbuilder: bifpn\ninputs: [{shape: [1], fill: gauss}]\n", "unknown input fill"},
		{"value without value", "name: x\nkind: outputs\nbuilder: bifpn\ninputs: [{shape: [1], fill: value}]\n", "needs a value"},
		{"bad collection", "name: x\nkind: outputs\nbuilder: bifpn\ninputs: [{shape: [1]}]\ncollection: local\n", "unknown collection"},
		{"negative target", "name: x\nkind: outputs\nbuilder: resample\ninputs: [{shape: [1]}]\nparams: {target_height: -20}\n", "target sizes must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"bifpn", "class_box", "efficientdet", "feature_network", "resample"}, Builders())
	for _, name := range Builders() {
		legacy, layers, err := Pair(name, Params{})
		require.NoError(t, err)
		assert.Equal(t, LegacyVariant, legacy.Name())
		assert.Equal(t, LayersVariant, layers.Name())
	}
	_, _, err := Pair("retinanet", Params{})
	assert.Error(t, err)
}

func TestRunScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios", "")
	require.NoError(t, err)
	for _, s := range scenarios {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			if testing.Short() && s.Builder == "efficientdet" {
				t.Skip("full detector")
			}
			res, err := Run(s)
			require.NoError(t, err)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
			if s.Kind == KindGrid {
				assert.Equal(t, 8, res.Combinations)
			}
		})
	}
}

func TestRunReportsMismatch(t *testing.T) {
	// Different names on both sides with no normalization.
	s, err := ParseScenario([]byte(`
name: renamed
kind: variable_names
builder: resample
collection: trainable
params: {legacy_name: p1, layers_name: resample_p0, target_height: 8, target_width: 8, target_channels: 64}
inputs: [{shape: [1, 16, 16, 32]}]
`))
	require.NoError(t, err)
	res, err := Run(s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "resample_p1/conv2d/kernel:0")

	s.Normalize = &NormalizeRules{ReplacePrefix: &PrefixReplace{From: "resample_p1/", To: "resample_p0/"}, ApplyTo: LegacyVariant}
	res, err = Run(s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRunConstructionError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: incompatible
kind: outputs
builder: resample
params: {target_height: 32, target_width: 4, target_channels: 8}
inputs: [{shape: [1, 16, 16, 8]}]
`))
	require.NoError(t, err)
	_, err = Run(s)
	require.Error(t, err)
	assert.False(t, IsMismatch(err))

	s.Kind = KindOutputs
	s.Overrides = map[string]interface{}{"no_such_key": 1}
	_, err = Run(s)
	assert.ErrorContains(t, err, "unknown config key")
}

func TestScenarioOptions(t *testing.T) {
	v := float32(0.5)
	s := &Scenario{
		Inputs:     []InputDef{{Shape: []int{2}, Fill: "value", Value: &v}, {Shape: []int{3}}},
		Collection: "trainable",
		DType:      "float16",
	}
	specs, err := s.InputSpecs()
	require.NoError(t, err)
	assert.Equal(t, parity.FillValue, specs[0].Fill)
	assert.Equal(t, []float32{0.5, 0.5}, specs[0].Value.Data())
	assert.Equal(t, parity.FillUniform, specs[1].Fill)

	opts, err := s.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	s.DType = "int8"
	_, err = s.Options()
	assert.Error(t, err)
}

func TestLoadScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nkind: outputs\nbuilder: resample\ninputs: [{shape: [1, 4, 4, 2]}]\n"), 0o644))
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "resample", s.Builder)

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestDefaultInputs(t *testing.T) {
	cfg, err := config.Get("efficientdet-d0")
	require.NoError(t, err)

	tests := []struct {
		builder string
		shapes  [][]int
	}{
		{"resample", [][]int{{1, 64, 64, 320}}},
		{"bifpn", [][]int{{1, 64, 64, 64}, {1, 32, 32, 64}, {1, 16, 16, 64}, {1, 8, 8, 64}, {1, 4, 4, 64}}},
		{"feature_network", [][]int{{1, 64, 64, 40}, {1, 32, 32, 112}, {1, 16, 16, 320}}},
		{"efficientdet", [][]int{{1, 512, 512, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.builder, func(t *testing.T) {
			inputs, err := DefaultInputs(tt.builder, cfg)
			require.NoError(t, err)
			var shapes [][]int
			for _, in := range inputs {
				shapes = append(shapes, in.Shape)
			}
			assert.Equal(t, tt.shapes, shapes)
		})
	}

	_, err = DefaultInputs("retinanet", cfg)
	assert.ErrorContains(t, err, "unknown builder")
}

func TestPresetVariableNamesMatch(t *testing.T) {
	for _, preset := range config.Names() {
		for _, builder := range []string{"bifpn", "class_box", "feature_network", "efficientdet"} {
			t.Run(preset+"/"+builder, func(t *testing.T) {
				if builder == "efficientdet" && testing.Short() {
					t.Skip("full model build skipped in short mode")
				}
				cfg, err := config.Get(preset)
				require.NoError(t, err)
				defs, err := DefaultInputs(builder, cfg)
				require.NoError(t, err)
				specs := make([]parity.InputSpec, len(defs))
				for i, d := range defs {
					specs[i] = parity.InputSpec{Shape: d.Shape}
				}
				legacy, layers, err := Pair(builder, Params{})
				require.NoError(t, err)

				report, err := parity.CompareVariableNames(legacy, layers, specs, cfg)
				require.NoError(t, err)
				assert.NotEmpty(t, report.NamesA)
				assert.Equal(t, report.NamesA, report.NamesB)
			})
		}
	}
}
