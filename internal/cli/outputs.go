package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/harness"
	"github.com/Suraj520/automl/internal/parity"
	"github.com/Suraj520/automl/internal/snapshot"
	"github.com/Suraj520/automl/internal/tensor"
)

type outputsOptions struct {
	checkOptions
	Dump     string
	Baseline string
}

// NewOutputsCommand creates the outputs command.
func NewOutputsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &outputsOptions{}
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Compare the forward outputs of both variants",
		Long: `Feed identical seeded inputs to both variants, built with identical
seeded variables, and compare every output within the dtype tolerance.

--dump writes legacy.arrow and layers.arrow; --baseline compares the layer
variant's outputs against a file written by an earlier --dump.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutputs(cmd, rootOpts, opts)
		},
	}
	opts.register(cmd, "resample")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 111111, "seed for variables and inputs")
	cmd.Flags().StringVar(&opts.Dump, "dump", "", "directory to write both variants' outputs to as Arrow files")
	cmd.Flags().StringVar(&opts.Baseline, "baseline", "", "Arrow file of expected layer outputs")
	return cmd
}

func runOutputs(cmd *cobra.Command, rootOpts *RootOptions, opts *outputsOptions) error {
	s, err := opts.scenario(harness.KindOutputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "outputs", err)
	}
	res, err := harness.RunContext(cmd.Context(), s)
	if err != nil {
		return WrapExitError(ExitCommandError, "outputs", err)
	}
	results := []*harness.Result{res}

	if report := res.Outputs; report != nil {
		if opts.Dump != "" {
			if err := dumpOutputs(opts.Dump, report); err != nil {
				return WrapExitError(ExitCommandError, "dump", err)
			}
		}
		if opts.Baseline != "" {
			b, err := compareBaseline(opts.Baseline, report, opts.DType)
			if err != nil {
				return err
			}
			results = append(results, b)
		}
	}
	return finish(cmd, rootOpts, results)
}

func dumpOutputs(dir string, report *parity.OutputsReport) error {
	if len(report.ValuesA) > 0 {
		if err := snapshot.SaveTensors(filepath.Join(dir, "legacy.arrow"), snapshot.Outputs(report.ValuesA)); err != nil {
			return err
		}
	}
	if len(report.ValuesB) > 0 {
		if err := snapshot.SaveTensors(filepath.Join(dir, "layers.arrow"), snapshot.Outputs(report.ValuesB)); err != nil {
			return err
		}
	}
	return nil
}

func compareBaseline(path string, report *parity.OutputsReport, dtype string) (*harness.Result, error) {
	d, err := tensor.ParseDType(dtype)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "baseline", err)
	}
	baseline, err := snapshot.LoadTensors(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "baseline", err)
	}
	res := &harness.Result{Name: "baseline", Kind: harness.KindOutputs, Builder: filepath.Base(path)}
	res.Outputs, err = snapshot.CompareBaseline(baseline, snapshot.Outputs(report.ValuesB), d, tensor.ToleranceFor(d))
	switch {
	case err == nil:
		res.Pass = true
	case harness.IsMismatch(err):
		res.Errors = append(res.Errors, err.Error())
	default:
		return nil, WrapExitError(ExitCommandError, "baseline", fmt.Errorf("%s: %w", path, err))
	}
	return res, nil
}
