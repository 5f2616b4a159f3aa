package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dimfeld/rmplan/internal/db/driver"
	rmerrors "github.com/dimfeld/rmplan/internal/errors"
)

// StatusClaimed is the status a new assignment starts in when the caller
// does not supply one.
const StatusClaimed = "claimed"

// Assignment records that a plan is claimed by a workspace, a user, or
// both. One row per (project, plan UUID).
type Assignment struct {
	ID            int64
	ProjectID     int64
	PlanUUID      string
	PlanID        *int64
	WorkspaceID   *int64
	ClaimedByUser string
	Status        string
	AssignedAt    time.Time
	UpdatedAt     time.Time
}

// ClaimOptions carries the claimant details for ClaimPlan. Nil and empty
// fields leave the stored values alone when the claim already exists.
type ClaimOptions struct {
	PlanID      *int64
	WorkspaceID *int64
	User        string
	Status      string
}

// ClaimResult reports whether a claim created a new assignment or updated
// an existing one.
type ClaimResult struct {
	Created    bool
	Assignment *Assignment
}

// ReleaseResult reports what a release did: deleted the row, narrowed it
// to the remaining claimant, or found nothing to do.
type ReleaseResult struct {
	Released bool
	Narrowed bool
}

// ClaimPlan claims a plan for the given workspace and/or user. The first
// claim creates the assignment; claiming an already-claimed plan updates
// the supplied fields and bumps updated_at, so the caller can distinguish
// "claimed" from "already claimed" via Created.
func (s *StateDB) ClaimPlan(projectID int64, planUUID string, opts ClaimOptions) (*ClaimResult, error) {
	status := opts.Status
	if status == "" {
		status = StatusClaimed
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.Exec(`
		INSERT INTO assignments (project_id, plan_uuid, plan_id, workspace_id, claimed_by_user, status, assigned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, plan_uuid) DO NOTHING
	`, projectID, planUUID, opts.PlanID, opts.WorkspaceID, opts.User, status, now, now)
	if err != nil {
		if driver.IsConstraintViolation(err) {
			return nil, rmerrors.ErrConstraintViolation(fmt.Sprintf("claim of plan %s in project %d", planUUID, projectID)).WithCause(err)
		}
		return nil, fmt.Errorf("claim plan %s in project %d: %w", planUUID, projectID, err)
	}

	affected, _ := result.RowsAffected()
	created := affected == 1

	if !created {
		sets := []string{"status = ?", "updated_at = ?"}
		args := []any{status, now}

		if opts.PlanID != nil {
			sets = append(sets, "plan_id = ?")
			args = append(args, *opts.PlanID)
		}
		if opts.WorkspaceID != nil {
			sets = append(sets, "workspace_id = ?")
			args = append(args, *opts.WorkspaceID)
		}
		if opts.User != "" {
			sets = append(sets, "claimed_by_user = ?")
			args = append(args, opts.User)
		}
		args = append(args, projectID, planUUID)

		query := fmt.Sprintf("UPDATE assignments SET %s WHERE project_id = ? AND plan_uuid = ?", strings.Join(sets, ", "))
		if _, err := s.Exec(query, args...); err != nil {
			if driver.IsConstraintViolation(err) {
				return nil, rmerrors.ErrConstraintViolation(fmt.Sprintf("claim of plan %s in project %d", planUUID, projectID)).WithCause(err)
			}
			return nil, fmt.Errorf("update claim on plan %s in project %d: %w", planUUID, projectID, err)
		}
	}

	assignment, err := s.GetAssignment(projectID, planUUID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, fmt.Errorf("assignment for plan %s missing after claim", planUUID)
	}

	return &ClaimResult{Created: created, Assignment: assignment}, nil
}

// ReleasePlan releases a claim on a plan. With no workspacePath or user
// filter the assignment is deleted outright. With filters, only the
// matching claimant is cleared; the row is deleted once no claimant
// remains and kept (narrowed) otherwise. Releasing a plan that is not
// claimed is a no-op.
func (s *StateDB) ReleasePlan(projectID int64, planUUID, workspacePath, user string) (*ReleaseResult, error) {
	assignment, err := s.GetAssignment(projectID, planUUID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return &ReleaseResult{}, nil
	}

	if workspacePath == "" && user == "" {
		if err := s.deleteAssignment(projectID, planUUID); err != nil {
			return nil, err
		}
		return &ReleaseResult{Released: true}, nil
	}

	clearWorkspace := false
	if workspacePath != "" && assignment.WorkspaceID != nil {
		ws, err := s.GetWorkspaceByPath(workspacePath)
		if err != nil {
			return nil, err
		}
		if ws != nil && ws.ID == *assignment.WorkspaceID {
			clearWorkspace = true
		}
	}

	clearUser := user != "" && assignment.ClaimedByUser == user

	if !clearWorkspace && !clearUser {
		return &ReleaseResult{}, nil
	}

	workspaceRemains := assignment.WorkspaceID != nil && !clearWorkspace
	userRemains := assignment.ClaimedByUser != "" && !clearUser

	if !workspaceRemains && !userRemains {
		if err := s.deleteAssignment(projectID, planUUID); err != nil {
			return nil, err
		}
		return &ReleaseResult{Released: true}, nil
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}
	if clearWorkspace {
		sets = append(sets, "workspace_id = NULL")
	}
	if clearUser {
		sets = append(sets, "claimed_by_user = NULL")
	}
	args = append(args, projectID, planUUID)

	query := fmt.Sprintf("UPDATE assignments SET %s WHERE project_id = ? AND plan_uuid = ?", strings.Join(sets, ", "))
	if _, err := s.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("narrow claim on plan %s in project %d: %w", planUUID, projectID, err)
	}

	return &ReleaseResult{Narrowed: true}, nil
}

func (s *StateDB) deleteAssignment(projectID int64, planUUID string) error {
	_, err := s.Exec(`DELETE FROM assignments WHERE project_id = ? AND plan_uuid = ?`, projectID, planUUID)
	if err != nil {
		return fmt.Errorf("delete assignment for plan %s in project %d: %w", planUUID, projectID, err)
	}
	return nil
}

// GetAssignment retrieves the assignment for a plan.
// Returns nil without error if the plan is not claimed.
func (s *StateDB) GetAssignment(projectID int64, planUUID string) (*Assignment, error) {
	row := s.QueryRow(`
		SELECT id, project_id, plan_uuid, plan_id, workspace_id, claimed_by_user, status, assigned_at, updated_at
		FROM assignments
		WHERE project_id = ? AND plan_uuid = ?
	`, projectID, planUUID)

	assignment, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment for plan %s in project %d: %w", planUUID, projectID, err)
	}
	return assignment, nil
}

// ListAssignmentsByProject returns all assignments for a project, most
// recently updated first.
func (s *StateDB) ListAssignmentsByProject(projectID int64) ([]Assignment, error) {
	rows, err := s.Query(`
		SELECT id, project_id, plan_uuid, plan_id, workspace_id, claimed_by_user, status, assigned_at, updated_at
		FROM assignments
		WHERE project_id = ?
		ORDER BY updated_at DESC, plan_uuid
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for project %d: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return assignments, nil
}

// CleanStaleAssignments deletes assignments in a project whose updated_at
// is older than staleDays days, returning how many were removed. RFC3339
// UTC strings compare lexicographically in time order, so the cutoff works
// as a plain string comparison.
func (s *StateDB) CleanStaleAssignments(projectID int64, staleDays int) (int, error) {
	if staleDays < 1 {
		return 0, fmt.Errorf("clean stale assignments: staleDays must be positive, got %d", staleDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -staleDays).Format(time.RFC3339)
	result, err := s.Exec(`
		DELETE FROM assignments
		WHERE project_id = ? AND updated_at < ?
	`, projectID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean stale assignments for project %d: %w", projectID, err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	a := &Assignment{}
	var planID, workspaceID sql.NullInt64
	var claimedByUser, status sql.NullString
	var assignedAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.PlanUUID,
		&planID,
		&workspaceID,
		&claimedByUser,
		&status,
		&assignedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if planID.Valid {
		a.PlanID = &planID.Int64
	}
	if workspaceID.Valid {
		a.WorkspaceID = &workspaceID.Int64
	}
	a.ClaimedByUser = claimedByUser.String
	a.Status = status.String
	a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return a, nil
}
