package cli

import (
	"github.com/spf13/cobra"

	"github.com/Suraj520/automl/internal/harness"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/monitoring"
)

// serveMetrics exposes metrics and health for the lifetime of the process.
func serveMetrics(addr string, hm *monitoring.HealthMonitor) {
	go func() {
		if err := hm.Start(addr); err != nil {
			logger.Log.Error("Metrics server error", "error", err.Error())
		}
	}()
}

// finish records results with the health monitor, prints them and maps
// failures to an exit error.
func finish(cmd *cobra.Command, rootOpts *RootOptions, results []*harness.Result) error {
	for _, r := range results {
		rootOpts.monitor.RecordCheck(r.Name, r.Pass, r.Duration)
	}
	if err := writeResults(cmd.OutOrStdout(), rootOpts.Format, results); err != nil {
		return WrapExitError(ExitCommandError, "output", err)
	}
	return failures(results)
}
