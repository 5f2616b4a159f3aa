// Package legacy reads the JSON state files that predate the embedded
// database: a global workspace-tracking file plus per-repository
// assignment, permission, and metadata files. Everything here is
// read-only and defensive; a missing or mangled file costs only its own
// contents, never the whole import.
package legacy

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dimfeld/rmplan/internal/config"
)

// Per-repository file names under repositories/<dir>/.
const (
	AssignmentsFileName = "assignments.json"
	PermissionsFileName = "permissions.json"
	MetadataFileName    = "metadata.json"
)

// State is everything salvageable from the legacy files.
type State struct {
	Repos []RepoState
	// Workspaces keeps the file's own ordering; ties between equally
	// recent entries resolve to the later one.
	Workspaces []WorkspaceEntry
}

// RepoState is the merged contents of one repositories/<dir> directory.
type RepoState struct {
	DirName       string
	RepositoryID  string
	RemoteURL     string
	HighestPlanID int64
	Assignments   []AssignmentEntry
	Allow         []string
	Deny          []string
	Metadata      *RepoMetadata
}

// RepoMetadata mirrors the legacy metadata.json shape.
type RepoMetadata struct {
	RepositoryName     string
	RemoteLabel        string
	LastGitRoot        string
	ExternalConfigPath string
	ExternalTasksDir   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AssignmentEntry is one claim from the legacy assignments file. The old
// format tracked several workspace paths and users per claim; CollapseClaim
// picks the pair that survives.
type AssignmentEntry struct {
	UUID            string
	PlanID          *int64
	WorkspacePaths  []string
	WorkspaceOwners map[string]string
	Users           []string
	Status          string
	AssignedAt      time.Time
	UpdatedAt       time.Time
}

// WorkspaceEntry is one entry from the global workspace-tracking file.
type WorkspaceEntry struct {
	Path             string
	TaskID           string
	OriginalPlanFile string
	RepositoryID     string
	Branch           string
	Name             string
	Description      string
	PlanID           *int64
	PlanTitle        string
	IssueURLs        []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Discover reads all legacy state under the given config root. Nothing
// here is fatal: unreadable or unparsable files are logged and skipped,
// and an empty State comes back when there is nothing to migrate.
func Discover(root string) *State {
	state := &State{}

	wsPath := config.LegacyWorkspacesPath(root)
	if data, err := os.ReadFile(wsPath); err == nil {
		state.Workspaces = parseWorkspaces(data, wsPath)
	} else if !os.IsNotExist(err) {
		slog.Warn("skipping unreadable legacy workspaces file", "path", wsPath, "error", err)
	}

	pattern := filepath.Join(config.LegacyRepositoriesDir(root), "*")
	dirs, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		slog.Warn("legacy repositories scan failed", "pattern", pattern, "error", err)
		return state
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if repo, ok := readRepoDir(dir); ok {
			state.Repos = append(state.Repos, repo)
		}
	}

	return state
}

// WorkspaceUpdatedAts indexes the global workspace entries by path for
// the collapse rule.
func (s *State) WorkspaceUpdatedAts() map[string]time.Time {
	byPath := make(map[string]time.Time, len(s.Workspaces))
	for _, ws := range s.Workspaces {
		byPath[ws.Path] = ws.UpdatedAt
	}
	return byPath
}

// Empty reports whether discovery found nothing to import.
func (s *State) Empty() bool {
	return len(s.Repos) == 0 && len(s.Workspaces) == 0
}

// CollapseClaim reduces a legacy multi-workspace claim to the single
// workspace path and owning user the imported row keeps: the path whose
// global workspace entry was updated most recently wins, paths with no
// entry sort earliest, and ties go to the later position in the claim's
// list. The user is that path's recorded owner, falling back to the
// claim's first user.
func CollapseClaim(entry AssignmentEntry, updatedAts map[string]time.Time) (string, string) {
	var chosen string
	var chosenAt time.Time
	first := true
	for _, path := range entry.WorkspacePaths {
		at := updatedAts[path]
		if first || !at.Before(chosenAt) {
			chosen = path
			chosenAt = at
			first = false
		}
	}

	user := entry.WorkspaceOwners[chosen]
	if user == "" && len(entry.Users) > 0 {
		user = entry.Users[0]
	}

	return chosen, user
}

func readRepoDir(dir string) (RepoState, bool) {
	repo := RepoState{DirName: filepath.Base(dir)}
	found := false

	if data, err := os.ReadFile(filepath.Join(dir, AssignmentsFileName)); err == nil {
		if parseAssignments(data, dir, &repo) {
			found = true
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, PermissionsFileName)); err == nil {
		if parsePermissions(data, dir, &repo) {
			found = true
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, MetadataFileName)); err == nil {
		if parseMetadata(data, dir, &repo) {
			found = true
		}
	}

	// The files carry their own repositoryId; the directory name is the
	// fallback when none of them do.
	if repo.RepositoryID == "" {
		repo.RepositoryID = repo.DirName
	}

	return repo, found
}

func parseAssignments(data []byte, dir string, repo *RepoState) bool {
	if !gjson.ValidBytes(data) {
		slog.Warn("skipping malformed legacy assignments file", "dir", dir)
		return false
	}

	doc := gjson.ParseBytes(data)
	if id := doc.Get("repositoryId").String(); id != "" {
		repo.RepositoryID = id
	}
	if url := doc.Get("repositoryRemoteUrl").String(); url != "" {
		repo.RemoteURL = url
	}
	repo.HighestPlanID = doc.Get("highestPlanId").Int()

	doc.Get("assignments").ForEach(func(key, value gjson.Result) bool {
		id, err := uuid.Parse(key.String())
		if err != nil {
			slog.Warn("skipping legacy assignment with invalid uuid", "dir", dir, "uuid", key.String())
			return true
		}

		entry := AssignmentEntry{
			UUID:            id.String(),
			WorkspaceOwners: map[string]string{},
			Status:          value.Get("status").String(),
			AssignedAt:      parseTime(value.Get("assignedAt")),
			UpdatedAt:       parseTime(value.Get("updatedAt")),
		}
		if v := value.Get("planId"); v.Exists() {
			n := v.Int()
			entry.PlanID = &n
		}
		value.Get("workspacePaths").ForEach(func(_, p gjson.Result) bool {
			entry.WorkspacePaths = append(entry.WorkspacePaths, p.String())
			return true
		})
		value.Get("workspaceOwners").ForEach(func(p, u gjson.Result) bool {
			entry.WorkspaceOwners[p.String()] = u.String()
			return true
		})
		value.Get("users").ForEach(func(_, u gjson.Result) bool {
			entry.Users = append(entry.Users, u.String())
			return true
		})

		repo.Assignments = append(repo.Assignments, entry)
		return true
	})

	return true
}

func parsePermissions(data []byte, dir string, repo *RepoState) bool {
	if !gjson.ValidBytes(data) {
		slog.Warn("skipping malformed legacy permissions file", "dir", dir)
		return false
	}

	doc := gjson.ParseBytes(data)
	if id := doc.Get("repositoryId").String(); id != "" && repo.RepositoryID == "" {
		repo.RepositoryID = id
	}
	doc.Get("permissions.allow").ForEach(func(_, p gjson.Result) bool {
		repo.Allow = append(repo.Allow, p.String())
		return true
	})
	doc.Get("permissions.deny").ForEach(func(_, p gjson.Result) bool {
		repo.Deny = append(repo.Deny, p.String())
		return true
	})

	return true
}

func parseMetadata(data []byte, dir string, repo *RepoState) bool {
	if !gjson.ValidBytes(data) {
		slog.Warn("skipping malformed legacy metadata file", "dir", dir)
		return false
	}

	doc := gjson.ParseBytes(data)
	repo.Metadata = &RepoMetadata{
		RepositoryName:     doc.Get("repositoryName").String(),
		RemoteLabel:        doc.Get("remoteLabel").String(),
		LastGitRoot:        doc.Get("lastGitRoot").String(),
		ExternalConfigPath: doc.Get("externalConfigPath").String(),
		ExternalTasksDir:   doc.Get("externalTasksDir").String(),
		CreatedAt:          parseTime(doc.Get("createdAt")),
		UpdatedAt:          parseTime(doc.Get("updatedAt")),
	}

	return true
}

func parseWorkspaces(data []byte, path string) []WorkspaceEntry {
	if !gjson.ValidBytes(data) {
		slog.Warn("skipping malformed legacy workspaces file", "path", path)
		return nil
	}

	var entries []WorkspaceEntry
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		wsPath := key.String()
		if wsPath == "" || !value.IsObject() {
			slog.Warn("skipping malformed legacy workspace entry", "path", path, "workspace", wsPath)
			return true
		}

		entry := WorkspaceEntry{
			Path:             wsPath,
			TaskID:           value.Get("taskId").String(),
			OriginalPlanFile: value.Get("originalPlanFilePath").String(),
			RepositoryID:     value.Get("repositoryId").String(),
			Branch:           value.Get("branch").String(),
			Name:             value.Get("name").String(),
			Description:      value.Get("description").String(),
			PlanTitle:        value.Get("planTitle").String(),
			CreatedAt:        parseTime(value.Get("createdAt")),
			UpdatedAt:        parseTime(value.Get("updatedAt")),
		}
		if v := value.Get("planId"); v.Exists() {
			n := v.Int()
			entry.PlanID = &n
		}
		value.Get("issueUrls").ForEach(func(_, u gjson.Result) bool {
			entry.IssueURLs = append(entry.IssueURLs, u.String())
			return true
		})

		entries = append(entries, entry)
		return true
	})

	return entries
}

func parseTime(result gjson.Result) time.Time {
	t, _ := time.Parse(time.RFC3339, result.String())
	return t
}
