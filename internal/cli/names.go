package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/harness"
	"github.com/Suraj520/automl/internal/snapshot"
)

type namesOptions struct {
	checkOptions
	Dump string
}

// NewNamesCommand creates the names command.
func NewNamesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &namesOptions{}
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Compare the variable names both variants create",
		Long: `Build both variants of a builder in fresh graphs and compare the ordered
names of the variables they create.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNames(cmd, rootOpts, opts)
		},
	}
	opts.register(cmd, "efficientdet")
	cmd.Flags().StringVar(&opts.Collection, "collection", "global", "variable collection (global|trainable)")
	cmd.Flags().BoolVar(&opts.SetSemantics, "set", false, "ignore creation order")
	cmd.Flags().StringVar(&opts.Dump, "dump", "", "directory to write both name lists to as Arrow files")
	return cmd
}

func runNames(cmd *cobra.Command, rootOpts *RootOptions, opts *namesOptions) error {
	s, err := opts.scenario(harness.KindVariableNames)
	if err != nil {
		return WrapExitError(ExitCommandError, "names", err)
	}
	res, err := harness.RunContext(cmd.Context(), s)
	if err != nil {
		return WrapExitError(ExitCommandError, "names", err)
	}
	if opts.Dump != "" && res.Names != nil {
		if err := snapshot.SaveNames(filepath.Join(opts.Dump, "legacy.names.arrow"), res.Names.NamesA); err != nil {
			return WrapExitError(ExitCommandError, "dump", err)
		}
		if err := snapshot.SaveNames(filepath.Join(opts.Dump, "layers.names.arrow"), res.Names.NamesB); err != nil {
			return WrapExitError(ExitCommandError, "dump", err)
		}
	}
	results := []*harness.Result{res}
	return finish(cmd, rootOpts, results)
}
