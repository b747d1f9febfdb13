package state

import (
	"testing"

	"github.com/prdeck/prdeck/internal/pr"
)

func threePRs() []pr.PR {
	return []pr.PR{{Number: 1}, {Number: 2}, {Number: 3}}
}

func TestRepoKey(t *testing.T) {
	r := Repo{Org: "octo", Repo: "hello", Branch: "main"}
	if r.Key() != "octo/hello#main" {
		t.Fatalf("Key() = %q", r.Key())
	}
}

func TestSetPRs_PrunesSelectionAndClampsCursor(t *testing.T) {
	d := NewRepoData()
	d.SetPRs(threePRs())
	d.ToggleSelect(1)
	d.ToggleSelect(3)
	d.Cursor = 2

	d.SetPRs([]pr.PR{{Number: 3}})

	if _, ok := d.Selected[1]; ok {
		t.Error("selection of vanished PR should be pruned")
	}
	if _, ok := d.Selected[3]; !ok {
		t.Error("selection of surviving PR should persist")
	}
	if d.Cursor != 0 {
		t.Errorf("cursor should clamp to 0, got %d", d.Cursor)
	}
}

func TestSetPRs_EmptyList(t *testing.T) {
	d := NewRepoData()
	d.SetPRs(threePRs())
	d.Cursor = 1

	d.SetPRs(nil)
	if d.Cursor != 0 {
		t.Errorf("cursor = %d", d.Cursor)
	}
	if _, ok := d.CursorPR(); ok {
		t.Error("CursorPR on empty list should report absence")
	}
}

func TestToggleSelect_UnknownNumberIgnored(t *testing.T) {
	d := NewRepoData()
	d.SetPRs(threePRs())

	d.ToggleSelect(42)
	if len(d.Selected) != 0 {
		t.Errorf("unknown number must not select: %v", d.Selected)
	}
}

func TestSelectedNumbers_DisplayOrder(t *testing.T) {
	d := NewRepoData()
	d.SetPRs([]pr.PR{{Number: 9}, {Number: 2}, {Number: 5}})
	d.ToggleSelect(5)
	d.ToggleSelect(9)

	got := d.SelectedNumbers()
	if len(got) != 2 || got[0] != 9 || got[1] != 5 {
		t.Fatalf("SelectedNumbers() = %v, want list order", got)
	}
}

func TestSetStatus(t *testing.T) {
	d := NewRepoData()
	d.SetPRs(threePRs())

	if !d.SetStatus(2, pr.StatusConflicted) {
		t.Fatal("expected update to succeed")
	}
	if p, _ := d.PR(2); p.Status != pr.StatusConflicted {
		t.Errorf("status = %q", p.Status)
	}
	if d.SetStatus(42, pr.StatusReady) {
		t.Error("unknown PR should report false")
	}
}

func TestAddRemoveRepo(t *testing.T) {
	s := New([]Repo{{Org: "octo", Repo: "a", Branch: "main"}})

	if !s.AddRepo(Repo{Org: "octo", Repo: "b", Branch: "main"}) {
		t.Fatal("adding a new repo should succeed")
	}
	if s.AddRepo(Repo{Org: "octo", Repo: "b", Branch: "main"}) {
		t.Error("duplicate key should be rejected")
	}

	s.ActiveRepo = 1
	if !s.RemoveRepo("octo/b#main") {
		t.Fatal("removing a tracked repo should succeed")
	}
	if s.ActiveRepo != 0 {
		t.Errorf("active index should clamp, got %d", s.ActiveRepo)
	}
	if _, ok := s.Data["octo/b#main"]; ok {
		t.Error("repo data should be dropped")
	}
}

func TestRecomputeBooting(t *testing.T) {
	repos := []Repo{
		{Org: "octo", Repo: "a", Branch: "main"},
		{Org: "octo", Repo: "b", Branch: "main"},
	}
	s := New(repos)
	if !s.Booting {
		t.Fatal("new state starts booting")
	}

	s.Data[repos[0].Key()].Loading = LoadingState{Phase: LoadLoaded}
	s.RecomputeBooting()
	if !s.Booting {
		t.Fatal("still booting while a repo has not finished")
	}

	s.Data[repos[1].Key()].Loading = LoadingState{Phase: LoadError}
	s.RecomputeBooting()
	if s.Booting {
		t.Fatal("errors count as terminal for bootstrap")
	}
}

func TestMonitorAndAutoMergeBookkeeping(t *testing.T) {
	d := NewRepoData()
	d.Monitors = []OperationMonitor{{Number: 4, Op: OpRebase}, {Number: 7, Op: OpMerge}}
	d.AutoMerge = []AutoMergePR{{Number: 4}}

	if d.FindMonitor(7) != 1 || d.FindMonitor(5) != -1 {
		t.Error("FindMonitor lookup wrong")
	}
	d.RemoveMonitor(4)
	if len(d.Monitors) != 1 || d.Monitors[0].Number != 7 {
		t.Errorf("unexpected monitors: %v", d.Monitors)
	}

	d.RemoveAutoMerge(4)
	if len(d.AutoMerge) != 0 {
		t.Errorf("unexpected auto-merge entries: %v", d.AutoMerge)
	}
}
