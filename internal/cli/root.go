// Package cli implements the rmplan-state maintenance command-line
// interface. It is a thin inspection and repair layer over the state
// repositories; the product CLI talks to the same database through the
// same repository surface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dimfeld/rmplan/internal/config"
)

var (
	configDir string
	jsonOut   bool
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rmplan-state",
	Short: "Inspect and maintain the rmplan state database",
	Long: `rmplan-state inspects and maintains the shared state database used by
rmplan processes: tracked projects, workspaces, execution locks, and
plan assignments.

Commands:
  projects     List tracked projects
  workspaces   List workspaces, with lock state
  locks        List execution locks; --clean sweeps stale ones
  import       Import legacy JSON state into a fresh database
  path         Print the resolved config and database paths

Quick start:
  rmplan-state path                 Where is my state?
  rmplan-state projects             What projects are tracked?
  rmplan-state locks --clean        Sweep locks left by crashed runs`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
// Structured state errors map to distinct codes so scripts can branch on
// the failure category.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		return exitCode(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (default is $RMPLAN_CONFIG_DIR or ~/.config/rmplan)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	// Add subcommands
	rootCmd.AddCommand(newProjectsCmd())
	rootCmd.AddCommand(newWorkspacesCmd())
	rootCmd.AddCommand(newLocksCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newPathCmd())
}

// initConfig binds environment variables and applies the config-dir flag.
func initConfig() {
	viper.SetEnvPrefix("RMPLAN")
	viper.AutomaticEnv()

	if configDir == "" {
		configDir = viper.GetString("config_dir")
	}
	if configDir != "" {
		_ = os.Setenv(config.EnvConfigDir, configDir)
	}
}
