package db

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestGetOrCreateProjectFresh(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	project, err := sdb.GetOrCreateProject("repo-a", nil)
	if err != nil {
		t.Fatalf("GetOrCreateProject failed: %v", err)
	}
	if project.ID == 0 {
		t.Error("project ID not assigned")
	}
	if project.RepositoryID != "repo-a" {
		t.Errorf("RepositoryID = %q, want %q", project.RepositoryID, "repo-a")
	}
	if project.HighestPlanID != 0 {
		t.Errorf("HighestPlanID = %d, want 0", project.HighestPlanID)
	}
	if project.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGetOrCreateProjectIdempotent(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	first, err := sdb.GetOrCreateProject("repo-a", &ProjectDetails{RemoteURL: "https://example.com/a.git"})
	if err != nil {
		t.Fatalf("first GetOrCreateProject failed: %v", err)
	}

	// Details are only applied on creation.
	second, err := sdb.GetOrCreateProject("repo-a", &ProjectDetails{RemoteURL: "https://example.com/other.git"})
	if err != nil {
		t.Fatalf("second GetOrCreateProject failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("project IDs differ: %d vs %d", first.ID, second.ID)
	}
	if second.RemoteURL != "https://example.com/a.git" {
		t.Errorf("RemoteURL = %q, want the original", second.RemoteURL)
	}

	projects, err := sdb.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("project count = %d, want 1", len(projects))
	}
}

func TestGetOrCreateProjectConcurrent(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	const workers = 8
	ids := make([]int64, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			project, err := sdb.GetOrCreateProject("repo-a", nil)
			if err != nil {
				return err
			}
			ids[i] = project.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent GetOrCreateProject failed: %v", err)
	}

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Errorf("worker %d got project %d, want %d", i, ids[i], ids[0])
		}
	}

	projects, err := sdb.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("project count = %d, want 1", len(projects))
	}
}

func TestGetProjectMissing(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	project, err := sdb.GetProject("nope")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if project != nil {
		t.Errorf("GetProject = %+v, want nil", project)
	}
}

func TestUpdateProjectPartial(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	project, err := sdb.GetOrCreateProject("repo-a", &ProjectDetails{
		RemoteURL:   "https://example.com/a.git",
		LastGitRoot: "/home/dev/a",
	})
	if err != nil {
		t.Fatalf("GetOrCreateProject failed: %v", err)
	}

	label := "Project A"
	tasksDir := "/home/dev/tasks"
	err = sdb.UpdateProject(project.ID, ProjectUpdate{Label: &label, ExternalTasksDir: &tasksDir})
	if err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}

	got, err := sdb.GetProject("repo-a")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Label != "Project A" {
		t.Errorf("Label = %q, want %q", got.Label, "Project A")
	}
	if got.ExternalTasksDir != "/home/dev/tasks" {
		t.Errorf("ExternalTasksDir = %q, want %q", got.ExternalTasksDir, "/home/dev/tasks")
	}
	if got.RemoteURL != "https://example.com/a.git" {
		t.Errorf("RemoteURL = %q, untouched field changed", got.RemoteURL)
	}
	if got.LastGitRoot != "/home/dev/a" {
		t.Errorf("LastGitRoot = %q, untouched field changed", got.LastGitRoot)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("UpdatedAt went backwards")
	}
}

func TestUpdateProjectMissing(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	label := "nope"
	err := sdb.UpdateProject(12345, ProjectUpdate{Label: &label})
	if err == nil {
		t.Fatal("UpdateProject on a missing project should fail")
	}
}

func TestUpdateProjectNoFields(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	if err := sdb.UpdateProject(12345, ProjectUpdate{}); err != nil {
		t.Fatalf("empty update should be a no-op, got: %v", err)
	}
}

func TestReserveNextPlanIDs(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	if _, err := sdb.GetOrCreateProject("repo-a", nil); err != nil {
		t.Fatalf("GetOrCreateProject failed: %v", err)
	}

	first, last, err := sdb.ReserveNextPlanIDs("repo-a", 0, 3)
	if err != nil {
		t.Fatalf("ReserveNextPlanIDs failed: %v", err)
	}
	if first != 1 || last != 3 {
		t.Errorf("reserved [%d, %d], want [1, 3]", first, last)
	}

	first, last, err = sdb.ReserveNextPlanIDs("repo-a", 0, 1)
	if err != nil {
		t.Fatalf("second ReserveNextPlanIDs failed: %v", err)
	}
	if first != 4 || last != 4 {
		t.Errorf("reserved [%d, %d], want [4, 4]", first, last)
	}
}

func TestReserveNextPlanIDsCreatesProject(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	first, last, err := sdb.ReserveNextPlanIDs("brand-new", 0, 2)
	if err != nil {
		t.Fatalf("ReserveNextPlanIDs failed: %v", err)
	}
	if first != 1 || last != 2 {
		t.Errorf("reserved [%d, %d], want [1, 2]", first, last)
	}

	project, err := sdb.GetProject("brand-new")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if project == nil {
		t.Fatal("project not created by reservation")
	}
	if project.HighestPlanID != 2 {
		t.Errorf("HighestPlanID = %d, want 2", project.HighestPlanID)
	}
}

func TestReserveNextPlanIDsHonorsLocalMax(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	if _, _, err := sdb.ReserveNextPlanIDs("repo-a", 0, 3); err != nil {
		t.Fatalf("ReserveNextPlanIDs failed: %v", err)
	}

	// A caller that has observed plan 10 on disk must get IDs above it
	// even though the stored counter is only 3.
	first, last, err := sdb.ReserveNextPlanIDs("repo-a", 10, 2)
	if err != nil {
		t.Fatalf("ReserveNextPlanIDs failed: %v", err)
	}
	if first != 11 || last != 12 {
		t.Errorf("reserved [%d, %d], want [11, 12]", first, last)
	}

	// A stale local max never rolls the counter back.
	first, last, err = sdb.ReserveNextPlanIDs("repo-a", 1, 1)
	if err != nil {
		t.Fatalf("ReserveNextPlanIDs failed: %v", err)
	}
	if first != 13 || last != 13 {
		t.Errorf("reserved [%d, %d], want [13, 13]", first, last)
	}
}

func TestReserveNextPlanIDsRejectsBadCount(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	if _, _, err := sdb.ReserveNextPlanIDs("repo-a", 0, 0); err == nil {
		t.Error("count 0 should be rejected")
	}
	if _, _, err := sdb.ReserveNextPlanIDs("repo-a", 0, -2); err == nil {
		t.Error("negative count should be rejected")
	}
}

func TestReserveNextPlanIDsConcurrent(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	const workers = 8
	ids := make([]int64, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			first, last, err := sdb.ReserveNextPlanIDs("repo-a", 0, 1)
			if err != nil {
				return err
			}
			if first != last {
				return fmt.Errorf("count 1 reservation returned range [%d, %d]", first, last)
			}
			ids[i] = first
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ReserveNextPlanIDs failed: %v", err)
	}

	seen := make(map[int64]bool, workers)
	for i, id := range ids {
		if id < 1 || id > workers {
			t.Errorf("worker %d got id %d, want 1..%d", i, id, workers)
		}
		if seen[id] {
			t.Errorf("id %d handed out twice", id)
		}
		seen[id] = true
	}
}

func TestListProjectsOrdered(t *testing.T) {
	t.Parallel()
	sdb := newTestStateDB(t)

	for _, id := range []string{"zebra", "alpha", "middle"} {
		if _, err := sdb.GetOrCreateProject(id, nil); err != nil {
			t.Fatalf("GetOrCreateProject(%s) failed: %v", id, err)
		}
	}

	projects, err := sdb.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("project count = %d, want 3", len(projects))
	}
	want := []string{"alpha", "middle", "zebra"}
	for i, p := range projects {
		if p.RepositoryID != want[i] {
			t.Errorf("projects[%d] = %q, want %q", i, p.RepositoryID, want[i])
		}
	}
}
