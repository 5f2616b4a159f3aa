package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dimfeld/rmplan/internal/db/driver"
	rmerrors "github.com/dimfeld/rmplan/internal/errors"
	"github.com/dimfeld/rmplan/internal/lock"
)

// AcquireWorkspaceLock takes the execution lock for a workspace. If the
// workspace is already locked by a live holder it returns
// lock.AlreadyLockedError; a stale lock (dead process, or a pid lock past
// its maximum age) is reclaimed in place and acquisition proceeds.
//
// The unique constraint on workspace_id is the decision point: of two
// processes racing to acquire, exactly one insert lands.
func (s *StateDB) AcquireWorkspaceLock(workspaceID int64, info lock.Info) error {
	for {
		var pid any
		if info.Kind == lock.KindPID {
			pid = info.PID
		}
		result, err := s.Exec(`
			INSERT INTO workspace_locks (workspace_id, lock_kind, pid, hostname, command, acquired_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id) DO NOTHING
		`, workspaceID, string(info.Kind), pid, info.Hostname, info.Command, info.AcquiredAt.UTC().Format(time.RFC3339))
		if err != nil {
			if driver.IsConstraintViolation(err) {
				return rmerrors.ErrConstraintViolation(fmt.Sprintf("workspace %d does not exist", workspaceID)).WithCause(err)
			}
			return fmt.Errorf("acquire lock for workspace %d: %w", workspaceID, err)
		}

		affected, _ := result.RowsAffected()
		if affected == 1 {
			return nil
		}

		current, err := s.loadLock(workspaceID)
		if err != nil {
			return err
		}
		if current == nil {
			// Holder released between our insert and this read; go again.
			continue
		}
		if current.IsStale() {
			if err := s.reclaimLock(workspaceID, current); err != nil {
				return err
			}
			continue
		}
		return &lock.AlreadyLockedError{WorkspaceID: workspaceID, Info: *current}
	}
}

// ReleaseWorkspaceLock drops the lock on a workspace. Releasing an
// unlocked workspace is a no-op.
//
// When opts.PID is set, a lock held by a different, still-running process
// is left in place and lock.HeldByOtherError is returned, unless
// opts.Force overrides. The lock is advisory, so this is a courtesy
// check, not an OS-enforced one.
func (s *StateDB) ReleaseWorkspaceLock(workspaceID int64, opts lock.ReleaseOptions) error {
	current, err := s.loadLock(workspaceID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	if opts.PID != 0 && !opts.Force &&
		current.Kind == lock.KindPID && current.PID != opts.PID && lock.ProcessAlive(current.PID) {
		return &lock.HeldByOtherError{WorkspaceID: workspaceID, HolderPID: current.PID}
	}

	if _, err := s.Exec(`DELETE FROM workspace_locks WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("release lock for workspace %d: %w", workspaceID, err)
	}
	return nil
}

// InspectWorkspaceLock reports the current lock on a workspace, or nil if
// it is unlocked. A stale lock is reclaimed here too, so callers never
// see a logically dead holder.
func (s *StateDB) InspectWorkspaceLock(workspaceID int64) (*lock.Info, error) {
	current, err := s.loadLock(workspaceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if current.IsStale() {
		if err := s.reclaimLock(workspaceID, current); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return current, nil
}

// LockRow pairs a stored lock with the workspace it guards.
type LockRow struct {
	WorkspaceID   int64
	WorkspacePath string
	Info          lock.Info
}

// ListLocks returns every lock row joined with its workspace path,
// ordered by path. Stale locks are reported as stored; CleanStaleLocks
// sweeps them.
func (s *StateDB) ListLocks() ([]LockRow, error) {
	rows, err := s.Query(`
		SELECT l.workspace_id, l.lock_kind, l.pid, l.hostname, l.command, l.acquired_at, w.workspace_path
		FROM workspace_locks l
		JOIN workspaces w ON w.id = l.workspace_id
		ORDER BY w.workspace_path
	`)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var locks []LockRow
	for rows.Next() {
		var row LockRow
		var kind string
		var pid sql.NullInt64
		var hostname, command sql.NullString
		var acquiredAt string
		if err := rows.Scan(&row.WorkspaceID, &kind, &pid, &hostname, &command, &acquiredAt, &row.WorkspacePath); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		row.Info = lock.Info{
			Kind:     lock.Kind(kind),
			PID:      int(pid.Int64),
			Hostname: hostname.String,
			Command:  command.String,
		}
		row.Info.AcquiredAt, _ = time.Parse(time.RFC3339, acquiredAt)
		locks = append(locks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locks: %w", err)
	}
	return locks, nil
}

// CleanStaleLocks sweeps every lock row and deletes the stale ones,
// returning how many were removed. Acquire and inspect already self-heal,
// so this is opportunistic hygiene.
func (s *StateDB) CleanStaleLocks() (int, error) {
	rows, err := s.Query(`SELECT workspace_id, lock_kind, pid, hostname, command, acquired_at FROM workspace_locks`)
	if err != nil {
		return 0, fmt.Errorf("list locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type heldLock struct {
		workspaceID int64
		info        *lock.Info
	}
	var stale []heldLock
	for rows.Next() {
		var workspaceID int64
		info, err := scanLock(rows, &workspaceID)
		if err != nil {
			return 0, fmt.Errorf("scan lock: %w", err)
		}
		if info.IsStale() {
			stale = append(stale, heldLock{workspaceID, info})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate locks: %w", err)
	}

	removed := 0
	for _, l := range stale {
		if err := s.reclaimLock(l.workspaceID, l.info); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// reclaimLock deletes a specific stale lock generation. The pid and
// acquired_at guards keep it from racing a fresh lock acquired by another
// process in the meantime. Only pid-kind locks can go stale.
func (s *StateDB) reclaimLock(workspaceID int64, info *lock.Info) error {
	_, err := s.Exec(`
		DELETE FROM workspace_locks
		WHERE workspace_id = ? AND lock_kind = ? AND pid = ? AND acquired_at = ?
	`, workspaceID, string(lock.KindPID), info.PID, info.AcquiredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("reclaim stale lock for workspace %d: %w", workspaceID, err)
	}
	return nil
}

func (s *StateDB) loadLock(workspaceID int64) (*lock.Info, error) {
	row := s.QueryRow(`
		SELECT workspace_id, lock_kind, pid, hostname, command, acquired_at
		FROM workspace_locks
		WHERE workspace_id = ?
	`, workspaceID)

	var id int64
	info, err := scanLock(row, &id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock for workspace %d: %w", workspaceID, err)
	}
	return info, nil
}

func scanLock(row rowScanner, workspaceID *int64) (*lock.Info, error) {
	var kind string
	var pid sql.NullInt64
	var hostname, command sql.NullString
	var acquiredAt string

	if err := row.Scan(workspaceID, &kind, &pid, &hostname, &command, &acquiredAt); err != nil {
		return nil, err
	}

	info := &lock.Info{
		Kind:     lock.Kind(kind),
		PID:      int(pid.Int64),
		Hostname: hostname.String,
		Command:  command.String,
	}
	info.AcquiredAt, _ = time.Parse(time.RFC3339, acquiredAt)
	return info, nil
}
