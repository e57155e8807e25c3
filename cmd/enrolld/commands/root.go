package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	serverAddr string
	jsonOutput bool

	// buildVersion is stamped by Execute for telemetry.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enrolld",
		Short: "enrolld - Device Provisioning Orchestrator",
		Long: `enrolld drives device and profile enrollment: it executes the ordered
provisioning task flows, survives the encryption reboot, and decides when
to hand provisioning off to the device management role holder.

Features:
  - Strictly ordered task execution with a single terminal outcome
  - Cooperative cancellation with profile rollback
  - Encryption reboot resume from a persisted request slot
  - Role holder delegation decisions
  - Run history and admin completion notifications`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "localhost:8440", "daemon address for client commands")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
