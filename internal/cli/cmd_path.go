package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dimfeld/rmplan/internal/config"
)

// newPathCmd creates the path command
func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config and database paths",
		Long: `Print where rmplan state lives on this machine.

Resolution order for the config directory: $RMPLAN_CONFIG_DIR, then
$XDG_CONFIG_HOME/rmplan, then ~/.config/rmplan.

Examples:
  rmplan-state path
  rmplan-state path --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.ConfigRoot()
			if err != nil {
				return err
			}
			dbPath, err := config.StateDBPath()
			if err != nil {
				return err
			}
			settingsPath, err := config.SettingsPath()
			if err != nil {
				return err
			}
			settings := config.LoadSettings()

			if jsonOut {
				return printJSON(map[string]string{
					"config_dir": root,
					"database":   dbPath,
					"settings":   settingsPath,
					"dialect":    settings.Database.Dialect,
				})
			}

			fmt.Printf("Config directory: %s\n", root)
			fmt.Printf("State database:   %s\n", dbPath)
			fmt.Printf("Settings file:    %s\n", settingsPath)
			fmt.Printf("Dialect:          %s\n", settings.Database.Dialect)

			return nil
		},
	}
}
