package legacy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestDiscoverFullTree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "workspaces.json", `{
		"/work/alpha": {
			"taskId": "task-1",
			"originalPlanFilePath": "/plans/1.yml",
			"repositoryId": "github.com/acme/widgets",
			"branch": "feature/alpha",
			"name": "alpha",
			"description": "first cut",
			"planId": 3,
			"planTitle": "Alpha work",
			"issueUrls": ["https://github.com/acme/widgets/issues/7"],
			"createdAt": "2024-03-01T10:00:00Z",
			"updatedAt": "2024-03-02T10:00:00Z"
		},
		"/work/beta": {
			"repositoryId": "github.com/acme/widgets",
			"updatedAt": "2024-03-05T09:00:00Z"
		}
	}`)
	writeFile(t, root, "repositories/acme-widgets/assignments.json", `{
		"repositoryId": "github.com/acme/widgets",
		"repositoryRemoteUrl": "https://github.com/acme/widgets.git",
		"highestPlanId": 42,
		"assignments": {
			"11111111-1111-1111-1111-111111111111": {
				"planId": 12,
				"workspacePaths": ["/work/alpha"],
				"workspaceOwners": {"/work/alpha": "alice"},
				"users": ["alice"],
				"status": "claimed",
				"assignedAt": "2024-03-01T12:00:00Z",
				"updatedAt": "2024-03-05T10:00:00Z"
			}
		}
	}`)
	writeFile(t, root, "repositories/acme-widgets/permissions.json", `{
		"permissions": {"allow": ["Read"], "deny": ["WebFetch"]}
	}`)
	writeFile(t, root, "repositories/acme-widgets/metadata.json", `{
		"repositoryName": "widgets",
		"remoteLabel": "acme/widgets",
		"lastGitRoot": "/home/alice/src/widgets",
		"createdAt": "2024-01-15T08:00:00Z",
		"updatedAt": "2024-03-05T10:00:00Z"
	}`)

	state := Discover(root)
	if state.Empty() {
		t.Fatal("Discover found nothing")
	}

	if len(state.Workspaces) != 2 {
		t.Fatalf("workspaces = %d, want 2", len(state.Workspaces))
	}
	alpha := state.Workspaces[0]
	if alpha.Path != "/work/alpha" {
		t.Errorf("workspace order not preserved: first = %q", alpha.Path)
	}
	if alpha.TaskID != "task-1" || alpha.OriginalPlanFile != "/plans/1.yml" || alpha.Branch != "feature/alpha" {
		t.Errorf("workspace fields = %q/%q/%q", alpha.TaskID, alpha.OriginalPlanFile, alpha.Branch)
	}
	if alpha.PlanID == nil || *alpha.PlanID != 3 {
		t.Errorf("PlanID = %v, want 3", alpha.PlanID)
	}
	if len(alpha.IssueURLs) != 1 {
		t.Errorf("IssueURLs = %v", alpha.IssueURLs)
	}
	wantCreated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !alpha.CreatedAt.Equal(wantCreated) {
		t.Errorf("CreatedAt = %v, want %v", alpha.CreatedAt, wantCreated)
	}

	if len(state.Repos) != 1 {
		t.Fatalf("repos = %d, want 1", len(state.Repos))
	}
	repo := state.Repos[0]
	if repo.DirName != "acme-widgets" {
		t.Errorf("DirName = %q", repo.DirName)
	}
	if repo.RepositoryID != "github.com/acme/widgets" {
		t.Errorf("RepositoryID = %q", repo.RepositoryID)
	}
	if repo.RemoteURL != "https://github.com/acme/widgets.git" {
		t.Errorf("RemoteURL = %q", repo.RemoteURL)
	}
	if repo.HighestPlanID != 42 {
		t.Errorf("HighestPlanID = %d, want 42", repo.HighestPlanID)
	}
	if len(repo.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(repo.Assignments))
	}
	entry := repo.Assignments[0]
	if entry.UUID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("UUID = %q", entry.UUID)
	}
	if entry.PlanID == nil || *entry.PlanID != 12 {
		t.Errorf("PlanID = %v, want 12", entry.PlanID)
	}
	if entry.WorkspaceOwners["/work/alpha"] != "alice" {
		t.Errorf("WorkspaceOwners = %v", entry.WorkspaceOwners)
	}
	if len(repo.Allow) != 1 || len(repo.Deny) != 1 {
		t.Errorf("permissions = %v / %v", repo.Allow, repo.Deny)
	}
	if repo.Metadata == nil || repo.Metadata.RemoteLabel != "acme/widgets" {
		t.Errorf("Metadata = %+v", repo.Metadata)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	t.Parallel()
	state := Discover(filepath.Join(t.TempDir(), "nope"))
	if !state.Empty() {
		t.Errorf("state from missing root not empty: %+v", state)
	}
}

func TestDiscoverSkipsInvalidAssignmentKeys(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	// One invalid uuid key, one uppercase key that normalizes.
	writeFile(t, root, "repositories/r/assignments.json", `{
		"repositoryId": "r",
		"assignments": {
			"not-a-uuid": {"status": "claimed"},
			"AAAAAAAA-BBBB-1CCC-8DDD-EEEEEEEEEEEE": {"status": "claimed"}
		}
	}`)

	state := Discover(root)
	if len(state.Repos) != 1 {
		t.Fatalf("repos = %d, want 1", len(state.Repos))
	}
	entries := state.Repos[0].Assignments
	if len(entries) != 1 {
		t.Fatalf("assignments = %d, want 1", len(entries))
	}
	if entries[0].UUID != "aaaaaaaa-bbbb-1ccc-8ddd-eeeeeeeeeeee" {
		t.Errorf("UUID = %q, want lowercase canonical form", entries[0].UUID)
	}
}

func TestDiscoverMalformedWorkspacesFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "workspaces.json", `{broken`)
	writeFile(t, root, "repositories/r/permissions.json", `{
		"repositoryId": "r",
		"permissions": {"allow": ["Read"], "deny": []}
	}`)

	state := Discover(root)
	if len(state.Workspaces) != 0 {
		t.Errorf("workspaces from broken file = %d, want 0", len(state.Workspaces))
	}
	if len(state.Repos) != 1 {
		t.Errorf("repos = %d, want 1", len(state.Repos))
	}
}

func TestDiscoverRepoIDFallsBackToDirName(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "repositories/plain-dir/metadata.json", `{
		"repositoryName": "plain"
	}`)

	state := Discover(root)
	if len(state.Repos) != 1 {
		t.Fatalf("repos = %d, want 1", len(state.Repos))
	}
	if state.Repos[0].RepositoryID != "plain-dir" {
		t.Errorf("RepositoryID = %q, want plain-dir", state.Repos[0].RepositoryID)
	}
}

func TestCollapseClaim(t *testing.T) {
	t.Parallel()
	at := func(hour int) time.Time {
		return time.Date(2024, 3, 1, hour, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name       string
		entry      AssignmentEntry
		updatedAts map[string]time.Time
		wantPath   string
		wantUser   string
	}{
		{
			name: "single path keeps its owner",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a"},
				WorkspaceOwners: map[string]string{"/a": "alice"},
			},
			updatedAts: map[string]time.Time{"/a": at(1)},
			wantPath:   "/a",
			wantUser:   "alice",
		},
		{
			name: "most recently updated path wins",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a", "/b"},
				WorkspaceOwners: map[string]string{"/a": "alice", "/b": "bob"},
			},
			updatedAts: map[string]time.Time{"/a": at(1), "/b": at(2)},
			wantPath:   "/b",
			wantUser:   "bob",
		},
		{
			name: "earlier path wins when more recent",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a", "/b"},
				WorkspaceOwners: map[string]string{"/a": "alice", "/b": "bob"},
			},
			updatedAts: map[string]time.Time{"/a": at(5), "/b": at(2)},
			wantPath:   "/a",
			wantUser:   "alice",
		},
		{
			name: "tie goes to the later listing",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a", "/b"},
				WorkspaceOwners: map[string]string{"/a": "alice", "/b": "bob"},
			},
			updatedAts: map[string]time.Time{"/a": at(3), "/b": at(3)},
			wantPath:   "/b",
			wantUser:   "bob",
		},
		{
			name: "untracked path loses to a tracked one",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/gone", "/a"},
				WorkspaceOwners: map[string]string{"/a": "alice"},
			},
			updatedAts: map[string]time.Time{"/a": at(1)},
			wantPath:   "/a",
			wantUser:   "alice",
		},
		{
			name: "all untracked falls back to the last listing",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/gone1", "/gone2"},
				WorkspaceOwners: map[string]string{},
				Users:           []string{"carol"},
			},
			updatedAts: map[string]time.Time{},
			wantPath:   "/gone2",
			wantUser:   "carol",
		},
		{
			name: "no paths keeps the first user",
			entry: AssignmentEntry{
				WorkspaceOwners: map[string]string{},
				Users:           []string{"carol", "dave"},
			},
			updatedAts: map[string]time.Time{},
			wantPath:   "",
			wantUser:   "carol",
		},
		{
			name: "chosen path without an owner falls back to the first user",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a"},
				WorkspaceOwners: map[string]string{},
				Users:           []string{"dave"},
			},
			updatedAts: map[string]time.Time{"/a": at(1)},
			wantPath:   "/a",
			wantUser:   "dave",
		},
		{
			name: "nothing known yields empty user",
			entry: AssignmentEntry{
				WorkspacePaths:  []string{"/a"},
				WorkspaceOwners: map[string]string{},
			},
			updatedAts: map[string]time.Time{},
			wantPath:   "/a",
			wantUser:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, user := CollapseClaim(tt.entry, tt.updatedAts)
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
			if user != tt.wantUser {
				t.Errorf("user = %q, want %q", user, tt.wantUser)
			}
		})
	}
}

func TestWorkspaceUpdatedAts(t *testing.T) {
	t.Parallel()
	state := &State{Workspaces: []WorkspaceEntry{
		{Path: "/a", UpdatedAt: time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)},
		{Path: "/b", UpdatedAt: time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)},
	}}

	byPath := state.WorkspaceUpdatedAts()
	if len(byPath) != 2 {
		t.Fatalf("entries = %d, want 2", len(byPath))
	}
	if !byPath["/b"].After(byPath["/a"]) {
		t.Errorf("timestamps not preserved: %v", byPath)
	}
}

func TestMapRowsFullState(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	planID := int64(12)

	state := &State{
		Repos: []RepoState{{
			DirName:       "acme-widgets",
			RepositoryID:  "github.com/acme/widgets",
			RemoteURL:     "https://github.com/acme/widgets.git",
			HighestPlanID: 42,
			Assignments: []AssignmentEntry{{
				UUID:            "11111111-1111-1111-1111-111111111111",
				PlanID:          &planID,
				WorkspacePaths:  []string{"/work/alpha", "/work/beta"},
				WorkspaceOwners: map[string]string{"/work/alpha": "alice", "/work/beta": "bob"},
				Users:           []string{"alice"},
				Status:          "claimed",
				AssignedAt:      created,
				UpdatedAt:       created,
			}},
			Allow:    []string{"Read", "Bash(git *)"},
			Deny:     []string{"WebFetch"},
			Metadata: &RepoMetadata{RemoteLabel: "acme/widgets", LastGitRoot: "/src/widgets", CreatedAt: created},
		}},
		Workspaces: []WorkspaceEntry{
			{Path: "/work/alpha", RepositoryID: "github.com/acme/widgets",
				TaskID: "task-1", IssueURLs: []string{"https://github.com/acme/widgets/issues/7"},
				UpdatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
			{Path: "/work/beta", RepositoryID: "github.com/acme/widgets",
				UpdatedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
			{Path: "/work/stray", RepositoryID: "github.com/other/repo"},
		},
	}

	rows := MapRows(state, now)

	if len(rows.Projects) != 2 {
		t.Fatalf("projects = %d, want 2", len(rows.Projects))
	}
	widgets := rows.Projects[0]
	if widgets.RepositoryID != "github.com/acme/widgets" {
		t.Errorf("RepositoryID = %q", widgets.RepositoryID)
	}
	if widgets.Label != "acme/widgets" {
		t.Errorf("Label = %q, want the remote label", widgets.Label)
	}
	if widgets.HighestPlanID != 42 {
		t.Errorf("HighestPlanID = %d, want 42", widgets.HighestPlanID)
	}
	if !widgets.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want metadata value", widgets.CreatedAt)
	}
	if !widgets.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want now for a zero legacy value", widgets.UpdatedAt)
	}
	// The stray workspace's repository had no repositories/ directory but
	// still gets a bare project row.
	other := rows.Projects[1]
	if other.RepositoryID != "github.com/other/repo" || other.HighestPlanID != 0 {
		t.Errorf("bare project = %+v", other)
	}

	if len(rows.Workspaces) != 3 {
		t.Fatalf("workspaces = %d, want 3", len(rows.Workspaces))
	}
	if rows.Workspaces[0].TaskID != "task-1" || len(rows.Workspaces[0].IssueURLs) != 1 {
		t.Errorf("workspace fields not mapped: %+v", rows.Workspaces[0])
	}
	if !rows.Workspaces[0].CreatedAt.Equal(now) {
		t.Errorf("zero CreatedAt should map to now, got %v", rows.Workspaces[0].CreatedAt)
	}

	if len(rows.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(rows.Assignments))
	}
	claim := rows.Assignments[0]
	if claim.WorkspacePath != "/work/beta" || claim.User != "bob" {
		t.Errorf("collapsed claim = %q/%q, want /work/beta/bob", claim.WorkspacePath, claim.User)
	}
	if claim.PlanID == nil || *claim.PlanID != 12 {
		t.Errorf("PlanID = %v, want 12", claim.PlanID)
	}
	if !claim.AssignedAt.Equal(created) {
		t.Errorf("AssignedAt = %v, want legacy value", claim.AssignedAt)
	}

	wantPerms := []PermissionRow{
		{RepositoryID: "github.com/acme/widgets", Type: "allow", Pattern: "Read"},
		{RepositoryID: "github.com/acme/widgets", Type: "allow", Pattern: "Bash(git *)"},
		{RepositoryID: "github.com/acme/widgets", Type: "deny", Pattern: "WebFetch"},
	}
	if len(rows.Permissions) != len(wantPerms) {
		t.Fatalf("permissions = %d, want %d", len(rows.Permissions), len(wantPerms))
	}
	for i, want := range wantPerms {
		if rows.Permissions[i] != want {
			t.Errorf("permissions[%d] = %+v, want %+v", i, rows.Permissions[i], want)
		}
	}

	if len(rows.SkippedWorkspaces) != 0 {
		t.Errorf("SkippedWorkspaces = %v, want none", rows.SkippedWorkspaces)
	}
}

func TestMapRowsLabelFallsBackToRepositoryName(t *testing.T) {
	t.Parallel()
	state := &State{Repos: []RepoState{{
		RepositoryID: "r",
		Metadata:     &RepoMetadata{RepositoryName: "widgets"},
	}}}

	rows := MapRows(state, time.Now().UTC())
	if len(rows.Projects) != 1 || rows.Projects[0].Label != "widgets" {
		t.Errorf("projects = %+v, want label widgets", rows.Projects)
	}
}

func TestMapRowsSkipsWorkspaceWithoutRepository(t *testing.T) {
	t.Parallel()
	state := &State{Workspaces: []WorkspaceEntry{
		{Path: "/work/orphan"},
		{Path: "/work/kept", RepositoryID: "r"},
	}}

	rows := MapRows(state, time.Now().UTC())
	if len(rows.Workspaces) != 1 || rows.Workspaces[0].Path != "/work/kept" {
		t.Errorf("workspaces = %+v, want only /work/kept", rows.Workspaces)
	}
	if len(rows.SkippedWorkspaces) != 1 || rows.SkippedWorkspaces[0] != "/work/orphan" {
		t.Errorf("SkippedWorkspaces = %v, want /work/orphan", rows.SkippedWorkspaces)
	}
}

func TestMapRowsDuplicateRepositoryKeepsFirst(t *testing.T) {
	t.Parallel()
	state := &State{Repos: []RepoState{
		{DirName: "first", RepositoryID: "r", HighestPlanID: 10,
			Allow: []string{"Read"}},
		{DirName: "second", RepositoryID: "r", HighestPlanID: 99,
			Allow: []string{"Write"}},
	}}

	rows := MapRows(state, time.Now().UTC())
	if len(rows.Projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(rows.Projects))
	}
	if rows.Projects[0].HighestPlanID != 10 {
		t.Errorf("HighestPlanID = %d, want the first directory's 10", rows.Projects[0].HighestPlanID)
	}
	// Both directories' permissions still import under the one project.
	if len(rows.Permissions) != 2 {
		t.Errorf("permissions = %d, want 2", len(rows.Permissions))
	}
}
