// Package cli implements the parity command line: one-off name and output
// comparisons for a builder pair, parameter grids and scenario directories.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/monitoring"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Format      string // "json" | "text"

	monitor *monitoring.HealthMonitor
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the parity CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{monitor: monitoring.NewHealthMonitor()}

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Check that two EfficientDet builders agree",
		Long: `Compare the legacy functional EfficientDet builders against their
layer-object counterparts: variable names, forward outputs and both across
grids of config toggles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			logger.SetupWriter(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			if opts.MetricsAddr != "" {
				serveMetrics(opts.MetricsAddr, opts.monitor)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "console", "log format (console|json)")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics", "", "address to serve Prometheus metrics and health on, e.g. :9090")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewNamesCommand(opts))
	cmd.AddCommand(NewOutputsCommand(opts))
	cmd.AddCommand(NewGridCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
