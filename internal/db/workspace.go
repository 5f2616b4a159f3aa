package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dimfeld/rmplan/internal/db/driver"
	rmerrors "github.com/dimfeld/rmplan/internal/errors"
)

// Workspace is one on-disk working copy. Every workspace belongs to
// exactly one project; the absolute path is its unique identity.
type Workspace struct {
	ID            int64
	ProjectID     int64
	WorkspacePath string
	TaskID        string
	PlanFilePath  string
	Branch        string
	Name          string
	Description   string
	PlanID        *int64
	PlanTitle     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorkspacePatch is a partial update. Nil fields are left unchanged.
type WorkspacePatch struct {
	TaskID       *string
	PlanFilePath *string
	Branch       *string
	Name         *string
	Description  *string
	PlanID       *int64
	PlanTitle    *string
}

// RecordWorkspace saves or updates a workspace keyed by its path. The
// struct's ID and CreatedAt are populated from the stored row on return.
func (s *StateDB) RecordWorkspace(ws *Workspace) error {
	if ws.ProjectID == 0 {
		return rmerrors.ErrConstraintViolation(fmt.Sprintf("workspace %s has no project", ws.WorkspacePath))
	}

	now := time.Now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now

	_, err := s.Exec(`
		INSERT INTO workspaces (project_id, workspace_path, task_id, plan_file_path, branch, name, description, plan_id, plan_title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_path) DO UPDATE SET
			project_id = excluded.project_id,
			task_id = excluded.task_id,
			plan_file_path = excluded.plan_file_path,
			branch = excluded.branch,
			name = excluded.name,
			description = excluded.description,
			plan_id = excluded.plan_id,
			plan_title = excluded.plan_title,
			updated_at = excluded.updated_at
	`,
		ws.ProjectID, ws.WorkspacePath, ws.TaskID, ws.PlanFilePath, ws.Branch,
		ws.Name, ws.Description, ws.PlanID, ws.PlanTitle,
		ws.CreatedAt.Format(time.RFC3339), ws.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if driver.IsConstraintViolation(err) {
			return rmerrors.ErrConstraintViolation(fmt.Sprintf("workspace %s references a missing project", ws.WorkspacePath)).WithCause(err)
		}
		return fmt.Errorf("save workspace %s: %w", ws.WorkspacePath, err)
	}

	// On the update path created_at keeps its original value, so read the
	// stored row back rather than trusting the struct.
	var createdAt string
	err = s.QueryRow(`SELECT id, created_at FROM workspaces WHERE workspace_path = ?`, ws.WorkspacePath).
		Scan(&ws.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("read workspace %s after save: %w", ws.WorkspacePath, err)
	}
	ws.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return nil
}

// GetWorkspaceByPath retrieves a workspace by its absolute path.
// Returns nil without error if no workspace exists.
func (s *StateDB) GetWorkspaceByPath(path string) (*Workspace, error) {
	row := s.QueryRow(`
		SELECT id, project_id, workspace_path, task_id, plan_file_path, branch,
		       name, description, plan_id, plan_title, created_at, updated_at
		FROM workspaces
		WHERE workspace_path = ?
	`, path)

	ws, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", path, err)
	}
	return ws, nil
}

// FindWorkspacesByTaskID returns all workspaces recorded for a task.
func (s *StateDB) FindWorkspacesByTaskID(taskID string) ([]Workspace, error) {
	return s.findWorkspaces(`
		SELECT id, project_id, workspace_path, task_id, plan_file_path, branch,
		       name, description, plan_id, plan_title, created_at, updated_at
		FROM workspaces
		WHERE task_id = ?
		ORDER BY workspace_path
	`, taskID)
}

// FindWorkspacesByProjectID returns all workspaces belonging to a project.
func (s *StateDB) FindWorkspacesByProjectID(projectID int64) ([]Workspace, error) {
	return s.findWorkspaces(`
		SELECT id, project_id, workspace_path, task_id, plan_file_path, branch,
		       name, description, plan_id, plan_title, created_at, updated_at
		FROM workspaces
		WHERE project_id = ?
		ORDER BY workspace_path
	`, projectID)
}

func (s *StateDB) findWorkspaces(query string, args ...any) ([]Workspace, error) {
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var workspaces []Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, *ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}

	return workspaces, nil
}

// PatchWorkspace applies the non-nil fields of patch to the workspace at
// path and bumps updated_at. Patching a workspace that does not exist is
// an error.
func (s *StateDB) PatchWorkspace(path string, patch WorkspacePatch) error {
	sets := []string{}
	args := []any{}

	if patch.TaskID != nil {
		sets = append(sets, "task_id = ?")
		args = append(args, *patch.TaskID)
	}
	if patch.PlanFilePath != nil {
		sets = append(sets, "plan_file_path = ?")
		args = append(args, *patch.PlanFilePath)
	}
	if patch.Branch != nil {
		sets = append(sets, "branch = ?")
		args = append(args, *patch.Branch)
	}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.PlanID != nil {
		sets = append(sets, "plan_id = ?")
		args = append(args, *patch.PlanID)
	}
	if patch.PlanTitle != nil {
		sets = append(sets, "plan_title = ?")
		args = append(args, *patch.PlanTitle)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, path)

	query := fmt.Sprintf("UPDATE workspaces SET %s WHERE workspace_path = ?", strings.Join(sets, ", "))
	result, err := s.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("patch workspace %s: %w", path, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("patch workspace %s: no such workspace", path)
	}
	return nil
}

// DeleteWorkspace removes a workspace by path. Its issues and lock go
// with it through the foreign-key cascade. Deleting a workspace that does
// not exist is a no-op.
func (s *StateDB) DeleteWorkspace(path string) error {
	_, err := s.Exec(`DELETE FROM workspaces WHERE workspace_path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete workspace %s: %w", path, err)
	}
	return nil
}

// SetWorkspaceIssues replaces the issue URL list for a workspace.
func (s *StateDB) SetWorkspaceIssues(workspaceID int64, urls []string) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec(`DELETE FROM workspace_issues WHERE workspace_id = ?`, workspaceID); err != nil {
			return fmt.Errorf("clear workspace %d issues: %w", workspaceID, err)
		}
		for _, url := range urls {
			if _, err := tx.Exec(`INSERT INTO workspace_issues (workspace_id, issue_url) VALUES (?, ?)`, workspaceID, url); err != nil {
				if driver.IsConstraintViolation(err) {
					return rmerrors.ErrConstraintViolation(fmt.Sprintf("workspace %d does not exist", workspaceID)).WithCause(err)
				}
				return fmt.Errorf("add workspace %d issue: %w", workspaceID, err)
			}
		}
		return nil
	})
}

// AddWorkspaceIssue appends one issue URL to a workspace.
func (s *StateDB) AddWorkspaceIssue(workspaceID int64, url string) error {
	_, err := s.Exec(`INSERT INTO workspace_issues (workspace_id, issue_url) VALUES (?, ?)`, workspaceID, url)
	if err != nil {
		if driver.IsConstraintViolation(err) {
			return rmerrors.ErrConstraintViolation(fmt.Sprintf("workspace %d does not exist", workspaceID)).WithCause(err)
		}
		return fmt.Errorf("add workspace %d issue: %w", workspaceID, err)
	}
	return nil
}

// GetWorkspaceIssues returns the issue URLs recorded for a workspace, in
// insertion order.
func (s *StateDB) GetWorkspaceIssues(workspaceID int64) ([]string, error) {
	rows, err := s.Query(`SELECT issue_url FROM workspace_issues WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace %d issues: %w", workspaceID, err)
	}
	defer func() { _ = rows.Close() }()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan issue url: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue urls: %w", err)
	}

	return urls, nil
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	ws := &Workspace{}
	var taskID, planFilePath, branch, name, description, planTitle sql.NullString
	var planID sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&ws.ID,
		&ws.ProjectID,
		&ws.WorkspacePath,
		&taskID,
		&planFilePath,
		&branch,
		&name,
		&description,
		&planID,
		&planTitle,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ws.TaskID = taskID.String
	ws.PlanFilePath = planFilePath.String
	ws.Branch = branch.String
	ws.Name = name.String
	ws.Description = description.String
	if planID.Valid {
		ws.PlanID = &planID.Int64
	}
	ws.PlanTitle = planTitle.String
	ws.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	ws.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return ws, nil
}
