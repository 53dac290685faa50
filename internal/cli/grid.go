package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Suraj520/automl/internal/harness"
	"github.com/Suraj520/automl/internal/parity"
)

// defaultGrid is the batch norm and strategy grid resampling is usually
// checked under.
var defaultGrid = []string{
	"apply_bn_for_resampling=true,false",
	"is_training_bn=true,false",
	"strategy=tpu,''",
}

type gridOptions struct {
	checkOptions
	Params  []string
	Compare string
}

// NewGridCommand creates the grid command.
func NewGridCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &gridOptions{}
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Compare both variants under every combination of config toggles",
		Long: `Run a comparison for the cartesian product of config toggles, stopping at
the first combination that fails. Each --param is key=value,value,...; values
use YAML scalar rules and '' is the empty string.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrid(cmd, rootOpts, opts)
		},
	}
	opts.register(cmd, "resample")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 111111, "seed for variables and inputs")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "grid toggle key=v1,v2 (repeatable)")
	cmd.Flags().StringVar(&opts.Compare, "compare", harness.KindOutputs, "what each combination compares (outputs|variable_names)")
	return cmd
}

func runGrid(cmd *cobra.Command, rootOpts *RootOptions, opts *gridOptions) error {
	params := opts.Params
	if len(params) == 0 {
		params = defaultGrid
	}
	grid, err := parseGrid(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "grid", err)
	}
	switch opts.Compare {
	case harness.KindOutputs, harness.KindVariableNames:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown compare %q", opts.Compare))
	}
	s, err := opts.scenario(harness.KindGrid)
	if err != nil {
		return WrapExitError(ExitCommandError, "grid", err)
	}
	s.Grid = grid
	s.Compare = opts.Compare
	res, err := harness.RunContext(cmd.Context(), s)
	if err != nil {
		return WrapExitError(ExitCommandError, "grid", err)
	}
	results := []*harness.Result{res}
	return finish(cmd, rootOpts, results)
}

func parseGrid(params []string) (parity.Grid, error) {
	var grid parity.Grid
	for _, p := range params {
		key, list, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid grid param %q (want key=v1,v2)", p)
		}
		gp := parity.GridParam{Key: strings.TrimSpace(key)}
		for _, raw := range strings.Split(list, ",") {
			var v interface{}
			if err := yaml.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
				return nil, fmt.Errorf("invalid value %q for %s: %w", raw, gp.Key, err)
			}
			if v == nil {
				v = ""
			}
			gp.Values = append(gp.Values, v)
		}
		grid = append(grid, gp)
	}
	return grid, nil
}
