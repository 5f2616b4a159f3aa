package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Project is one repository the tool has seen. RepositoryID is the stable
// identity (derived from the remote URL or the filesystem path); everything
// else is metadata observed along the way.
type Project struct {
	ID                 int64
	RepositoryID       string
	RemoteURL          string
	LastGitRoot        string
	ExternalConfigPath string
	ExternalTasksDir   string
	Label              string
	HighestPlanID      int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProjectDetails carries optional attributes applied when a project row is
// first created. Ignored when the project already exists.
type ProjectDetails struct {
	RemoteURL   string
	LastGitRoot string
	Label       string
}

// ProjectUpdate is a partial update. Nil fields are left unchanged.
type ProjectUpdate struct {
	RemoteURL          *string
	LastGitRoot        *string
	ExternalConfigPath *string
	ExternalTasksDir   *string
	Label              *string
}

// GetOrCreateProject returns the project for repositoryID, inserting a new
// row first if none exists. Concurrent creators race on the unique
// constraint; the loser's insert becomes a no-op and both read the same row.
func (s *StateDB) GetOrCreateProject(repositoryID string, details *ProjectDetails) (*Project, error) {
	if details == nil {
		details = &ProjectDetails{}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		INSERT INTO projects (repository_id, remote_url, last_git_root, label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id) DO NOTHING
	`, repositoryID, details.RemoteURL, details.LastGitRoot, details.Label, now, now)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", repositoryID, err)
	}

	project, err := s.GetProject(repositoryID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s missing after insert", repositoryID)
	}
	return project, nil
}

// GetProject retrieves a project by repository ID.
// Returns nil without error if no project exists.
func (s *StateDB) GetProject(repositoryID string) (*Project, error) {
	row := s.QueryRow(`
		SELECT id, repository_id, remote_url, last_git_root, external_config_path,
		       external_tasks_dir, label, highest_plan_id, created_at, updated_at
		FROM projects
		WHERE repository_id = ?
	`, repositoryID)

	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", repositoryID, err)
	}
	return project, nil
}

// GetProjectByID retrieves a project by its surrogate ID.
// Returns nil without error if no project exists.
func (s *StateDB) GetProjectByID(id int64) (*Project, error) {
	row := s.QueryRow(`
		SELECT id, repository_id, remote_url, last_git_root, external_config_path,
		       external_tasks_dir, label, highest_plan_id, created_at, updated_at
		FROM projects
		WHERE id = ?
	`, id)

	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return project, nil
}

// UpdateProject applies the non-nil fields of upd to the project and bumps
// updated_at. Updating a project that does not exist is an error.
func (s *StateDB) UpdateProject(projectID int64, upd ProjectUpdate) error {
	sets := []string{}
	args := []any{}

	if upd.RemoteURL != nil {
		sets = append(sets, "remote_url = ?")
		args = append(args, *upd.RemoteURL)
	}
	if upd.LastGitRoot != nil {
		sets = append(sets, "last_git_root = ?")
		args = append(args, *upd.LastGitRoot)
	}
	if upd.ExternalConfigPath != nil {
		sets = append(sets, "external_config_path = ?")
		args = append(args, *upd.ExternalConfigPath)
	}
	if upd.ExternalTasksDir != nil {
		sets = append(sets, "external_tasks_dir = ?")
		args = append(args, *upd.ExternalTasksDir)
	}
	if upd.Label != nil {
		sets = append(sets, "label = ?")
		args = append(args, *upd.Label)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, projectID)

	query := fmt.Sprintf("UPDATE projects SET %s WHERE id = ?", strings.Join(sets, ", "))
	result, err := s.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update project %d: %w", projectID, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("update project %d: no such project", projectID)
	}
	return nil
}

// ReserveNextPlanIDs atomically reserves count new plan IDs for the
// repository and returns the inclusive range [first, last].
//
// The counter is advanced from max(stored, localMaxObserved) so a caller
// that has seen higher IDs on disk (plan files written by another machine)
// never receives a colliding block. The read-compute-write happens in a
// single UPDATE so concurrent processes serialize on the database write
// lock rather than racing a separate read.
func (s *StateDB) ReserveNextPlanIDs(repositoryID string, localMaxObserved, count int64) (int64, int64, error) {
	if count < 1 {
		return 0, 0, fmt.Errorf("reserve plan ids for %s: count must be positive, got %d", repositoryID, count)
	}

	if _, err := s.GetOrCreateProject(repositoryID, nil); err != nil {
		return 0, 0, err
	}

	var newHighest int64
	err := s.QueryRow(`
		UPDATE projects
		SET highest_plan_id = MAX(highest_plan_id, ?) + ?, updated_at = ?
		WHERE repository_id = ?
		RETURNING highest_plan_id
	`, localMaxObserved, count, time.Now().UTC().Format(time.RFC3339), repositoryID).Scan(&newHighest)
	if err != nil {
		return 0, 0, fmt.Errorf("reserve plan ids for %s: %w", repositoryID, err)
	}

	return newHighest - count + 1, newHighest, nil
}

// ListProjects returns all projects ordered by repository ID.
func (s *StateDB) ListProjects() ([]Project, error) {
	rows, err := s.Query(`
		SELECT id, repository_id, remote_url, last_git_root, external_config_path,
		       external_tasks_dir, label, highest_plan_id, created_at, updated_at
		FROM projects
		ORDER BY repository_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	return projects, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var remoteURL, lastGitRoot, externalConfigPath, externalTasksDir, label sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.RepositoryID,
		&remoteURL,
		&lastGitRoot,
		&externalConfigPath,
		&externalTasksDir,
		&label,
		&p.HighestPlanID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RemoteURL = remoteURL.String
	p.LastGitRoot = lastGitRoot.String
	p.ExternalConfigPath = externalConfigPath.String
	p.ExternalTasksDir = externalTasksDir.String
	p.Label = label.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return p, nil
}
