package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dimfeld/rmplan/internal/db"
	"github.com/dimfeld/rmplan/internal/errors"
	"github.com/dimfeld/rmplan/internal/lock"
)

// workspaceRow is the JSON shape for workspace listings.
type workspaceRow struct {
	db.Workspace
	RepositoryID string     `json:"repository_id"`
	Lock         *lock.Info `json:"lock,omitempty"`
}

// newWorkspacesCmd creates the workspaces command
func newWorkspacesCmd() *cobra.Command {
	var projectFilter string

	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces, with lock state",
		Long: `List tracked workspaces across all projects, or for one project.

The LOCK column shows the current execution lock holder, if any. Stale
locks still on disk are marked; 'rmplan-state locks --clean' removes
them.

Examples:
  rmplan-state workspaces                              # All workspaces
  rmplan-state workspaces --project github.com/o/repo  # One project
  rmplan-state workspaces --json                       # Machine-readable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sdb, err := db.Shared()
			if err != nil {
				return err
			}

			var projects []db.Project
			if projectFilter != "" {
				project, err := sdb.GetProject(projectFilter)
				if err != nil {
					return fmt.Errorf("get project: %w", err)
				}
				if project == nil {
					return errors.ErrNotFound("project", projectFilter)
				}
				projects = []db.Project{*project}
			} else {
				projects, err = sdb.ListProjects()
				if err != nil {
					return fmt.Errorf("list projects: %w", err)
				}
			}

			locks, err := sdb.ListLocks()
			if err != nil {
				return fmt.Errorf("list locks: %w", err)
			}
			lockByWorkspace := make(map[int64]lock.Info, len(locks))
			for _, l := range locks {
				lockByWorkspace[l.WorkspaceID] = l.Info
			}

			var rows []workspaceRow
			for _, p := range projects {
				workspaces, err := sdb.FindWorkspacesByProjectID(p.ID)
				if err != nil {
					return fmt.Errorf("list workspaces for %s: %w", p.RepositoryID, err)
				}
				for _, ws := range workspaces {
					row := workspaceRow{Workspace: ws, RepositoryID: p.RepositoryID}
					if info, ok := lockByWorkspace[ws.ID]; ok {
						row.Lock = &info
					}
					rows = append(rows, row)
				}
			}

			if jsonOut {
				return printJSON(rows)
			}

			if len(rows) == 0 {
				fmt.Println("No workspaces tracked yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PATH\tREPOSITORY\tTASK\tPLAN\tLOCK\tUPDATED")
			for _, row := range rows {
				task := row.TaskID
				if task == "" {
					task = dim("-")
				}
				plan := dim("-")
				if row.PlanID != nil {
					plan = fmt.Sprintf("%d", *row.PlanID)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					row.WorkspacePath, row.RepositoryID, task, plan,
					describeLock(row.Lock), formatAge(row.UpdatedAt))
			}
			_ = w.Flush()

			return nil
		},
	}

	cmd.Flags().StringVar(&projectFilter, "project", "", "limit to one project by repository identity")
	return cmd
}

// describeLock renders the lock column for table output.
func describeLock(info *lock.Info) string {
	if info == nil {
		return dim("-")
	}
	holder := info.Holder()
	if info.IsStale() {
		return warn(holder + " (stale)")
	}
	return holder
}
