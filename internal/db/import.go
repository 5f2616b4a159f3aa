package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dimfeld/rmplan/internal/legacy"
)

// ImportLegacyState lifts the pre-database JSON files under root into
// relational rows. It runs only against an empty database (any existing
// project row means the data already lives here) and performs all inserts
// in one transaction, so a failure leaves the database empty rather than
// half-imported. The legacy files are never modified; they stay on disk
// as an implicit backup.
//
// Discovery and translation live in the legacy package; this function
// only executes the resulting row set.
func (s *StateDB) ImportLegacyState(ctx context.Context, root string) error {
	var count int64
	if err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return fmt.Errorf("count projects: %w", err)
	}
	if count > 0 {
		return nil
	}

	state := legacy.Discover(root)
	if state.Empty() {
		return nil
	}

	rows := legacy.MapRows(state, time.Now().UTC())
	for _, path := range rows.SkippedWorkspaces {
		slog.Warn("skipping legacy workspace with no repository", "workspace", path)
	}

	var projects, workspaces, assignments, permissions int

	err := s.RunInTx(ctx, func(tx *TxOps) error {
		projectIDs := map[string]int64{}
		workspaceIDs := map[string]int64{}

		for _, row := range rows.Projects {
			var id int64
			err := tx.QueryRow(`
				INSERT INTO projects (repository_id, remote_url, last_git_root, external_config_path, external_tasks_dir, label, highest_plan_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(repository_id) DO NOTHING
				RETURNING id
			`, row.RepositoryID, row.RemoteURL, row.LastGitRoot, row.ExternalConfigPath, row.ExternalTasksDir,
				row.Label, row.HighestPlanID, row.CreatedAt.Format(time.RFC3339), row.UpdatedAt.Format(time.RFC3339)).Scan(&id)
			if err == sql.ErrNoRows {
				// Another process imported between our guard check and
				// this transaction; its row wins.
				if err := tx.QueryRow(`SELECT id FROM projects WHERE repository_id = ?`, row.RepositoryID).Scan(&id); err != nil {
					return fmt.Errorf("import project %s: %w", row.RepositoryID, err)
				}
			} else if err != nil {
				return fmt.Errorf("import project %s: %w", row.RepositoryID, err)
			} else {
				projects++
			}
			projectIDs[row.RepositoryID] = id
		}

		for _, row := range rows.Workspaces {
			var id int64
			err := tx.QueryRow(`
				INSERT INTO workspaces (project_id, workspace_path, task_id, plan_file_path, branch, name, description, plan_id, plan_title, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(workspace_path) DO NOTHING
				RETURNING id
			`, projectIDs[row.RepositoryID], row.Path, row.TaskID, row.PlanFilePath, row.Branch, row.Name,
				row.Description, row.PlanID, row.PlanTitle,
				row.CreatedAt.Format(time.RFC3339), row.UpdatedAt.Format(time.RFC3339)).Scan(&id)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("import workspace %s: %w", row.Path, err)
			}
			workspaces++
			workspaceIDs[row.Path] = id

			for _, url := range row.IssueURLs {
				if _, err := tx.Exec(`INSERT INTO workspace_issues (workspace_id, issue_url) VALUES (?, ?)`, id, url); err != nil {
					return fmt.Errorf("import workspace %s issues: %w", row.Path, err)
				}
			}
		}

		for _, row := range rows.Assignments {
			var workspaceID any
			if id, ok := workspaceIDs[row.WorkspacePath]; ok {
				workspaceID = id
			}
			_, err := tx.Exec(`
				INSERT INTO assignments (project_id, plan_uuid, plan_id, workspace_id, claimed_by_user, status, assigned_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(project_id, plan_uuid) DO NOTHING
			`, projectIDs[row.RepositoryID], row.PlanUUID, row.PlanID, workspaceID, row.User, row.Status,
				row.AssignedAt.Format(time.RFC3339), row.UpdatedAt.Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("import assignment %s: %w", row.PlanUUID, err)
			}
			assignments++
		}

		for _, row := range rows.Permissions {
			if _, err := tx.Exec(`INSERT INTO permissions (project_id, permission_type, pattern) VALUES (?, ?, ?)`,
				projectIDs[row.RepositoryID], row.Type, row.Pattern); err != nil {
				return fmt.Errorf("import permissions for %s: %w", row.RepositoryID, err)
			}
			permissions++
		}

		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("imported legacy state",
		"projects", projects,
		"workspaces", workspaces,
		"assignments", assignments,
		"permissions", permissions)
	return nil
}
