package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dimfeld/rmplan/internal/db"
	"github.com/dimfeld/rmplan/internal/lock"
)

// newLocksCmd creates the locks command
func newLocksCmd() *cobra.Command {
	var clean bool

	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List workspace execution locks",
		Long: `List the execution locks currently recorded in the state database.

Locks are advisory: rmplan processes take one per workspace while
running there. A pid lock whose process has exited, or one older than
the maximum pid-lock age, is stale and safe to remove. Acquire and
inspect reclaim stale locks on contact; --clean sweeps them all at once.

Examples:
  rmplan-state locks           # List all locks
  rmplan-state locks --clean   # Remove stale locks
  rmplan-state locks --json    # Machine-readable output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sdb, err := db.Shared()
			if err != nil {
				return err
			}

			if clean {
				removed, err := sdb.CleanStaleLocks()
				if err != nil {
					return fmt.Errorf("clean stale locks: %w", err)
				}
				if removed == 0 {
					fmt.Println("No stale locks found.")
				} else {
					fmt.Printf("Removed %d stale lock(s).\n", removed)
				}
				return nil
			}

			locks, err := sdb.ListLocks()
			if err != nil {
				return fmt.Errorf("list locks: %w", err)
			}

			if jsonOut {
				return printJSON(locks)
			}

			if len(locks) == 0 {
				fmt.Println("No locks held.")
				return nil
			}

			// Leave room for the fixed columns; the command line gets the rest.
			commandWidth := termWidth() - 60
			if commandWidth < 20 {
				commandWidth = 20
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "WORKSPACE\tKIND\tHOLDER\tSINCE\tCOMMAND")
			for _, l := range locks {
				holder := l.Info.Hostname
				if l.Info.Kind == lock.KindPID {
					holder = fmt.Sprintf("%d@%s", l.Info.PID, l.Info.Hostname)
				}
				kind := string(l.Info.Kind)
				if l.Info.IsStale() {
					kind = warn(kind + " (stale)")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					l.WorkspacePath, kind, holder,
					formatAge(l.Info.AcquiredAt), truncate(l.Info.Command, commandWidth))
			}
			_ = w.Flush()

			return nil
		},
	}

	cmd.Flags().BoolVar(&clean, "clean", false, "remove stale locks instead of listing")
	return cmd
}
