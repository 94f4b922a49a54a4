package cli

import (
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/logging"
)

var (
	logLevel      string
	statePath     string
	stateBackend  string
	backendConfig map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Declarative infrastructure reconciliation",
	Long: `Loom reconciles declared infrastructure against its real state.

Configuration is written in HCL; loom computes the minimal ordered set
of create, update, replace, and delete actions and executes them
through providers, tracking what it applied in a state store.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", ".loom/state.db", "Local state database path")
	rootCmd.PersistentFlags().StringVar(&stateBackend, "state-backend", "local", "State backend (local, s3)")
	rootCmd.PersistentFlags().StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
