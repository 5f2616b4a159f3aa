package db

import (
	"context"
	"fmt"

	"github.com/dimfeld/rmplan/internal/db/driver"
	rmerrors "github.com/dimfeld/rmplan/internal/errors"
)

// PermissionType distinguishes allow rules from deny rules.
type PermissionType string

const (
	PermissionAllow PermissionType = "allow"
	PermissionDeny  PermissionType = "deny"
)

// PermissionSet is the full rule set for one project. Deny rules win over
// allow rules when callers evaluate them.
type PermissionSet struct {
	Allow []string
	Deny  []string
}

// GetPermissions returns all permission patterns for a project. A project
// with no rules yields an empty set, not an error.
func (s *StateDB) GetPermissions(projectID int64) (PermissionSet, error) {
	var set PermissionSet

	rows, err := s.Query(`
		SELECT permission_type, pattern
		FROM permissions
		WHERE project_id = ?
		ORDER BY id
	`, projectID)
	if err != nil {
		return set, fmt.Errorf("get permissions for project %d: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ptype, pattern string
		if err := rows.Scan(&ptype, &pattern); err != nil {
			return set, fmt.Errorf("scan permission: %w", err)
		}
		switch PermissionType(ptype) {
		case PermissionAllow:
			set.Allow = append(set.Allow, pattern)
		case PermissionDeny:
			set.Deny = append(set.Deny, pattern)
		}
	}
	if err := rows.Err(); err != nil {
		return set, fmt.Errorf("iterate permissions: %w", err)
	}

	return set, nil
}

// AddPermission records one pattern for a project. Adding a pattern that
// is already present is a no-op, so callers can re-approve freely.
func (s *StateDB) AddPermission(projectID int64, ptype PermissionType, pattern string) error {
	_, err := s.Exec(`
		INSERT INTO permissions (project_id, permission_type, pattern)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM permissions
			WHERE project_id = ? AND permission_type = ? AND pattern = ?
		)
	`, projectID, string(ptype), pattern, projectID, string(ptype), pattern)
	if err != nil {
		if driver.IsConstraintViolation(err) {
			return rmerrors.ErrConstraintViolation(fmt.Sprintf("permission %q/%s for project %d", ptype, pattern, projectID)).WithCause(err)
		}
		return fmt.Errorf("add permission for project %d: %w", projectID, err)
	}
	return nil
}

// RemovePermission deletes one pattern for a project. Removing a pattern
// that is not present is a no-op.
func (s *StateDB) RemovePermission(projectID int64, ptype PermissionType, pattern string) error {
	_, err := s.Exec(`
		DELETE FROM permissions
		WHERE project_id = ? AND permission_type = ? AND pattern = ?
	`, projectID, string(ptype), pattern)
	if err != nil {
		return fmt.Errorf("remove permission for project %d: %w", projectID, err)
	}
	return nil
}

// ReplaceAllPermissions swaps the project's entire rule set in one
// transaction, so readers never observe a half-replaced set.
func (s *StateDB) ReplaceAllPermissions(projectID int64, set PermissionSet) error {
	return s.RunInTx(context.Background(), func(tx *TxOps) error {
		if _, err := tx.Exec(`DELETE FROM permissions WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("clear permissions for project %d: %w", projectID, err)
		}
		for _, pattern := range set.Allow {
			if _, err := tx.Exec(`INSERT INTO permissions (project_id, permission_type, pattern) VALUES (?, ?, ?)`,
				projectID, string(PermissionAllow), pattern); err != nil {
				return fmt.Errorf("insert allow pattern for project %d: %w", projectID, err)
			}
		}
		for _, pattern := range set.Deny {
			if _, err := tx.Exec(`INSERT INTO permissions (project_id, permission_type, pattern) VALUES (?, ?, ?)`,
				projectID, string(PermissionDeny), pattern); err != nil {
				return fmt.Errorf("insert deny pattern for project %d: %w", projectID, err)
			}
		}
		return nil
	})
}
