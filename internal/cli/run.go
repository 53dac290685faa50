package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/harness"
)

type runOptions struct {
	Filter string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <scenarios-dir>",
		Short: "Run every scenario file in a directory",
		Long: `Load the *.yaml scenarios of a directory in file name order and run them.
Exits 1 when any scenario finds a mismatch and 2 when a scenario cannot be
loaded or built.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run files whose base name matches this glob")
	return cmd
}

func runScenarios(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions, dir string) error {
	scenarios, err := harness.LoadDir(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenarios", err)
	}
	if len(scenarios) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenarios found in %s", dir))
	}
	results, err := harness.RunAll(cmd.Context(), scenarios)
	if err != nil {
		return WrapExitError(ExitCommandError, "run", err)
	}
	return finish(cmd, rootOpts, results)
}
