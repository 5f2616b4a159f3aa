package legacy

import "time"

// Rows is the insert-ready translation of a discovered State: one entry
// per row the importer will write, keyed by natural identity rather than
// database ids so no database is needed to compute it.
type Rows struct {
	Projects    []ProjectRow
	Workspaces  []WorkspaceRow
	Assignments []AssignmentRow
	Permissions []PermissionRow
	// SkippedWorkspaces lists workspace paths dropped because their entry
	// named no repository; the caller decides how loudly to report them.
	SkippedWorkspaces []string
}

// ProjectRow is one projects-table row to insert.
type ProjectRow struct {
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

// WorkspaceRow is one workspaces-table row to insert, with its issue URLs.
type WorkspaceRow struct {
	RepositoryID string
	Path         string
	TaskID       string
	PlanFilePath string
	Branch       string
	Name         string
	Description  string
	PlanID       *int64
	PlanTitle    string
	IssueURLs    []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AssignmentRow is one assignments-table row to insert. WorkspacePath is
// the collapsed claim location; empty means the claim has no workspace.
type AssignmentRow struct {
	RepositoryID  string
	PlanUUID      string
	PlanID        *int64
	WorkspacePath string
	User          string
	Status        string
	AssignedAt    time.Time
	UpdatedAt     time.Time
}

// PermissionRow is one permissions-table row to insert.
type PermissionRow struct {
	RepositoryID string
	Type         string
	Pattern      string
}

// MapRows translates a discovered State into the rows the importer
// writes. The translation is lossy on purpose: multi-workspace claims
// collapse to one workspace and owner via CollapseClaim. Zero legacy
// timestamps become now. Duplicate repository directories keep the first
// directory's project row; their assignments and permissions still map.
func MapRows(state *State, now time.Time) *Rows {
	rows := &Rows{}
	updatedAts := state.WorkspaceUpdatedAts()
	seen := map[string]bool{}

	for _, repo := range state.Repos {
		if !seen[repo.RepositoryID] {
			seen[repo.RepositoryID] = true
			rows.Projects = append(rows.Projects, mapProject(repo, now))
		}

		for _, entry := range repo.Assignments {
			path, user := CollapseClaim(entry, updatedAts)
			rows.Assignments = append(rows.Assignments, AssignmentRow{
				RepositoryID:  repo.RepositoryID,
				PlanUUID:      entry.UUID,
				PlanID:        entry.PlanID,
				WorkspacePath: path,
				User:          user,
				Status:        entry.Status,
				AssignedAt:    orNow(entry.AssignedAt, now),
				UpdatedAt:     orNow(entry.UpdatedAt, now),
			})
		}

		for _, pattern := range repo.Allow {
			rows.Permissions = append(rows.Permissions, PermissionRow{
				RepositoryID: repo.RepositoryID, Type: "allow", Pattern: pattern,
			})
		}
		for _, pattern := range repo.Deny {
			rows.Permissions = append(rows.Permissions, PermissionRow{
				RepositoryID: repo.RepositoryID, Type: "deny", Pattern: pattern,
			})
		}
	}

	for _, ws := range state.Workspaces {
		if ws.RepositoryID == "" {
			rows.SkippedWorkspaces = append(rows.SkippedWorkspaces, ws.Path)
			continue
		}
		// Workspaces can reference repositories that never had a
		// per-repository directory; those still need a project row.
		if !seen[ws.RepositoryID] {
			seen[ws.RepositoryID] = true
			rows.Projects = append(rows.Projects, ProjectRow{
				RepositoryID: ws.RepositoryID,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}

		rows.Workspaces = append(rows.Workspaces, WorkspaceRow{
			RepositoryID: ws.RepositoryID,
			Path:         ws.Path,
			TaskID:       ws.TaskID,
			PlanFilePath: ws.OriginalPlanFile,
			Branch:       ws.Branch,
			Name:         ws.Name,
			Description:  ws.Description,
			PlanID:       ws.PlanID,
			PlanTitle:    ws.PlanTitle,
			IssueURLs:    ws.IssueURLs,
			CreatedAt:    orNow(ws.CreatedAt, now),
			UpdatedAt:    orNow(ws.UpdatedAt, now),
		})
	}

	return rows
}

func mapProject(repo RepoState, now time.Time) ProjectRow {
	row := ProjectRow{
		RepositoryID:  repo.RepositoryID,
		RemoteURL:     repo.RemoteURL,
		HighestPlanID: repo.HighestPlanID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if md := repo.Metadata; md != nil {
		row.LastGitRoot = md.LastGitRoot
		row.ExternalConfigPath = md.ExternalConfigPath
		row.ExternalTasksDir = md.ExternalTasksDir
		row.Label = md.RemoteLabel
		if row.Label == "" {
			row.Label = md.RepositoryName
		}
		row.CreatedAt = orNow(md.CreatedAt, now)
		row.UpdatedAt = orNow(md.UpdatedAt, now)
	}
	return row
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
