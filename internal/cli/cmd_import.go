package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dimfeld/rmplan/internal/config"
	"github.com/dimfeld/rmplan/internal/db"
)

// newImportCmd creates the import command
func newImportCmd() *cobra.Command {
	var fromDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import legacy JSON state into a fresh database",
		Long: `Import the pre-database JSON state files into the state database.

This normally happens automatically the first time the database file is
created. The command exists for re-running a migration by hand: point it
at a directory holding the old workspaces.json and repositories/ tree.

The import only runs against an empty database. To redo it, remove the
database file first; the JSON files are never modified and remain as a
backup.

Examples:
  rmplan-state import                        # From the config directory
  rmplan-state import --from ~/old-config    # From a saved copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromDir == "" {
				root, err := config.ConfigRoot()
				if err != nil {
					return err
				}
				fromDir = root
			}

			sdb, err := db.Shared()
			if err != nil {
				return err
			}

			existing, err := sdb.ListProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(existing) > 0 {
				fmt.Printf("State database already has %d project(s); nothing imported.\n", len(existing))
				fmt.Println("Remove the database file to re-run the import.")
				return nil
			}

			if err := sdb.ImportLegacyState(context.Background(), fromDir); err != nil {
				return err
			}

			imported, err := sdb.ListProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(imported) == 0 {
				fmt.Printf("No legacy state found under %s.\n", fromDir)
				return nil
			}
			fmt.Printf("Imported %d project(s) from %s.\n", len(imported), fromDir)

			return nil
		},
	}

	cmd.Flags().StringVar(&fromDir, "from", "", "directory holding the legacy JSON files (default: config directory)")
	return cmd
}
