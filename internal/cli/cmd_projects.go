package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dimfeld/rmplan/internal/db"
)

// newProjectsCmd creates the projects command
func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List tracked projects",
		Long: `List every project the state database knows about.

A project is one repository, keyed by its stable repository identity.
The PLANS column is the high-water mark of the per-project plan ID
counter; new plan files are numbered above it.

Examples:
  rmplan-state projects          # Table output
  rmplan-state projects --json   # Machine-readable output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sdb, err := db.Shared()
			if err != nil {
				return err
			}

			projects, err := sdb.ListProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}

			if jsonOut {
				return printJSON(projects)
			}

			if len(projects) == 0 {
				fmt.Println("No projects tracked yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tREPOSITORY\tLABEL\tPLANS\tUPDATED")
			for _, p := range projects {
				label := p.Label
				if label == "" {
					label = dim("-")
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					p.ID, p.RepositoryID, label, p.HighestPlanID, formatAge(p.UpdatedAt))
			}
			_ = w.Flush()

			return nil
		},
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAge renders a timestamp as a short relative age for table output.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
