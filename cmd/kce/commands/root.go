package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kce-engine/kce/pkg/telemetry"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kce",
		Short: "KCE - Knowledge-driven Configuration Engine",
		Long: `KCE is a goal-directed planner over a live knowledge base.

Operations and rules are declared in YAML, materialized as statements, and
selected at runtime by precondition: the planner interleaves goal checks,
operation execution, and rule-based stabilization until the goal holds or no
operation is eligible.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(newSolveCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}

func newCLILogger() (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
}
