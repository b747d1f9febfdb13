package reducer

import (
	"testing"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/effect"
	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

var repoA = state.Repo{Org: "octo", Repo: "alpha", Branch: "main"}
var repoB = state.Repo{Org: "octo", Repo: "beta", Branch: "main"}

func newState(repos ...state.Repo) *state.AppState {
	return state.New(repos)
}

func load(s *state.AppState, r state.Repo, prs ...pr.PR) {
	Reduce(s, action.PRsLoaded{RepoKey: r.Key(), PRs: prs})
}

func TestPRsLoaded_FansOutStatusAndCommentChecks(t *testing.T) {
	s := newState(repoA)
	effs := Reduce(s, action.PRsLoaded{RepoKey: repoA.Key(), PRs: []pr.PR{
		{Number: 3, Status: pr.StatusReady},
		{Number: 7, Status: pr.StatusBuildInProgress},
	}})

	if len(effs) != 2 {
		t.Fatalf("expected status and comment checks, got %v", effs)
	}
	ms, ok := effs[0].(effect.CheckMergeStatus)
	if !ok || len(ms.Numbers) != 2 || ms.Numbers[0] != 3 || ms.Numbers[1] != 7 {
		t.Fatalf("unexpected merge status check: %+v", effs[0])
	}
	cc, ok := effs[1].(effect.CheckCommentCounts)
	if !ok || len(cc.Numbers) != 2 {
		t.Fatalf("unexpected comment counts check: %+v", effs[1])
	}
}

func TestPRsLoaded_EmptyListSkipsFollowUps(t *testing.T) {
	s := newState(repoA)
	if effs := Reduce(s, action.PRsLoaded{RepoKey: repoA.Key()}); len(effs) != 0 {
		t.Fatalf("no follow-ups expected for an empty list, got %v", effs)
	}
}

func TestSelectionSurvivesReload(t *testing.T) {
	s := newState(repoA)
	load(s, repoA,
		pr.PR{Number: 1, Status: pr.StatusReady},
		pr.PR{Number: 2, Status: pr.StatusReady},
		pr.PR{Number: 3, Status: pr.StatusReady},
	)
	d := s.RepoData(repoA)
	d.Selected[1] = struct{}{}
	d.Selected[3] = struct{}{}

	// Reload returns a reordered list where #3 is gone.
	load(s, repoA,
		pr.PR{Number: 2, Status: pr.StatusReady},
		pr.PR{Number: 1, Status: pr.StatusReady},
	)

	if _, ok := d.Selected[1]; !ok {
		t.Error("selection of #1 must survive the reload")
	}
	if _, ok := d.Selected[3]; ok {
		t.Error("vanished #3 must be pruned from the selection")
	}
	if len(d.Selected) != 1 {
		t.Errorf("unexpected selection: %v", d.Selected)
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	s := newState(repoA)
	prs := []pr.PR{{Number: 1, Status: pr.StatusReady}, {Number: 2, Status: pr.StatusReady}}
	load(s, repoA, prs...)
	d := s.RepoData(repoA)
	d.Selected[2] = struct{}{}
	d.Cursor = 1

	load(s, repoA, prs...)

	if len(d.Selected) != 1 || d.Cursor != 1 {
		t.Errorf("identical reload changed state: selected=%v cursor=%d", d.Selected, d.Cursor)
	}
	if d.Loading.Phase != state.LoadLoaded {
		t.Errorf("unexpected loading phase: %s", d.Loading.Phase)
	}
}

func TestBootingClearsOnceAllReposSettle(t *testing.T) {
	s := newState(repoA, repoB)
	if !s.Booting {
		t.Fatal("fresh state should be booting")
	}
	load(s, repoA, pr.PR{Number: 1})
	if !s.Booting {
		t.Fatal("still booting with one repo pending")
	}
	Reduce(s, action.LoadFailed{RepoKey: repoB.Key(), Err: "401"})
	if s.Booting {
		t.Fatal("error is a terminal phase; booting should clear")
	}
}

func TestToggleSelectUsesCursorPRNumber(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 5}, pr.PR{Number: 9})
	d := s.RepoData(repoA)
	d.Cursor = 1

	Reduce(s, action.ToggleSelect{})
	if _, ok := d.Selected[9]; !ok {
		t.Fatalf("expected #9 selected, got %v", d.Selected)
	}
	Reduce(s, action.ToggleSelect{})
	if len(d.Selected) != 0 {
		t.Fatalf("second toggle should deselect, got %v", d.Selected)
	}
}

func TestRebaseItemResult_StartsMonitorAndTransientStatus(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusNeedsRebase, HeadSHA: "sha4"})

	effs := Reduce(s, action.BatchItemResult{
		RepoKey: repoA.Key(), Number: 4, Op: action.BatchRebase, OK: true,
	})

	d := s.RepoData(repoA)
	if p, _ := d.PR(4); p.Status != pr.StatusRebasing {
		t.Errorf("expected transient rebasing status, got %s", p.Status)
	}
	if d.FindMonitor(4) < 0 {
		t.Error("expected an operation monitor for #4")
	}
	if len(effs) != 1 {
		t.Fatalf("expected 1 effect, got %v", effs)
	}
	mon, ok := effs[0].(effect.StartOperationMonitor)
	if !ok || mon.Op != state.OpRebase || mon.HeadSHA != "sha4" {
		t.Fatalf("unexpected effect: %+v", effs[0])
	}
}

func TestMergeItemResult_AddsConfirmationProbe(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusReady, HeadSHA: "sha4"})

	effs := Reduce(s, action.BatchItemResult{
		RepoKey: repoA.Key(), Number: 4, Op: action.BatchMerge, OK: true,
	})

	if len(effs) != 2 {
		t.Fatalf("expected monitor + probe, got %v", effs)
	}
	if _, ok := effs[0].(effect.StartOperationMonitor); !ok {
		t.Errorf("expected StartOperationMonitor first, got %T", effs[0])
	}
	if _, ok := effs[1].(effect.PollMergeConfirmation); !ok {
		t.Errorf("expected PollMergeConfirmation second, got %T", effs[1])
	}
	if p, _ := s.RepoData(repoA).PR(4); p.Status != pr.StatusMerging {
		t.Errorf("expected merging status, got %s", p.Status)
	}
}

func TestFailedBatchItemHasNoEffects(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusReady})

	effs := Reduce(s, action.BatchItemResult{
		RepoKey: repoA.Key(), Number: 4, Op: action.BatchMerge, OK: false, Reason: "405",
	})
	if len(effs) != 0 {
		t.Fatalf("failed item must not start monitors, got %v", effs)
	}
}

func TestPRsLoaded_ReappliesTransientStatusUnderMonitor(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusNeedsRebase, HeadSHA: "sha4"})
	Reduce(s, action.BatchItemResult{RepoKey: repoA.Key(), Number: 4, Op: action.BatchRebase, OK: true})

	// A reload lands while the rebase is still monitored.
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusNeedsRebase, HeadSHA: "sha4"})

	if p, _ := s.RepoData(repoA).PR(4); p.Status != pr.StatusRebasing {
		t.Errorf("monitored PR must keep its transient status, got %s", p.Status)
	}
}

func TestMonitorDone_RemovesMonitorAndReloads(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusNeedsRebase, HeadSHA: "sha4"})
	Reduce(s, action.BatchItemResult{RepoKey: repoA.Key(), Number: 4, Op: action.BatchRebase, OK: true})

	effs := Reduce(s, action.OperationMonitorDone{
		RepoKey: repoA.Key(), Number: 4, Op: state.OpRebase,
		FinalStatus: pr.StatusReady, Reason: "rebase completed",
	})

	d := s.RepoData(repoA)
	if d.FindMonitor(4) >= 0 {
		t.Error("monitor must be removed")
	}
	if p, _ := d.PR(4); p.Status != pr.StatusReady {
		t.Errorf("final status not applied: %s", p.Status)
	}
	if len(effs) != 1 {
		t.Fatalf("expected a delayed reload, got %v", effs)
	}
	if _, ok := effs[0].(effect.DelayedReload); !ok {
		t.Fatalf("expected DelayedReload, got %T", effs[0])
	}
}

func TestAddRepo_PersistsBeforeLoading(t *testing.T) {
	s := newState(repoA)
	effs := Reduce(s, action.AddRepo{Repo: repoB})

	if len(effs) != 2 {
		t.Fatalf("expected save then dispatch, got %v", effs)
	}
	if _, ok := effs[0].(effect.SaveRepos); !ok {
		t.Fatalf("repo list must be saved before the follow-up load, got %T first", effs[0])
	}
	disp, ok := effs[1].(effect.Dispatch)
	if !ok {
		t.Fatalf("expected Dispatch second, got %T", effs[1])
	}
	if _, ok := disp.Action.(action.RepositoryAdded); !ok {
		t.Fatalf("expected RepositoryAdded, got %T", disp.Action)
	}

	effs = Reduce(s, disp.Action)
	if len(effs) != 1 {
		t.Fatalf("expected load effect, got %v", effs)
	}
	if lr, ok := effs[0].(effect.LoadRepo); !ok || !lr.Bypass {
		t.Fatalf("expected cache-bypassing LoadRepo, got %+v", effs[0])
	}
}

func TestAddRepo_DuplicateIsRejected(t *testing.T) {
	s := newState(repoA)
	if effs := Reduce(s, action.AddRepo{Repo: repoA}); len(effs) != 0 {
		t.Fatalf("duplicate repo must not persist, got %v", effs)
	}
	if len(s.Repos) != 1 {
		t.Fatalf("repo list grew: %v", s.Repos)
	}
}

func TestMergeBot_FullFlowThroughReducer(t *testing.T) {
	s := newState(repoA)
	load(s, repoA,
		pr.PR{Number: 10, Status: pr.StatusReady, HeadSHA: "a"},
		pr.PR{Number: 8, Status: pr.StatusNeedsRebase, HeadSHA: "b"},
	)
	d := s.RepoData(repoA)
	d.Selected[10] = struct{}{}
	d.Selected[8] = struct{}{}

	Reduce(s, action.StartMergeBot{})
	if !s.Bot.Running() {
		t.Fatal("bot should be running")
	}

	// First tick merges #10 (display order preserved in the queue).
	effs := Reduce(s, action.MergeBotTick{})
	if len(effs) != 1 {
		t.Fatalf("expected merge effect, got %v", effs)
	}
	mp, ok := effs[0].(effect.MergePR)
	if !ok || mp.Number != 10 || !mp.ForBot {
		t.Fatalf("expected bot merge of #10, got %+v", effs[0])
	}

	// Submission succeeded: confirmation probe is mandatory.
	effs = Reduce(s, action.MergeBotOperationResult{
		RepoKey: repoA.Key(), Number: 10, Op: mergebot.OpMerge, OK: true,
	})
	if len(effs) != 1 {
		t.Fatalf("expected confirmation probe, got %v", effs)
	}
	if _, ok := effs[0].(effect.PollMergeConfirmation); !ok {
		t.Fatalf("expected PollMergeConfirmation, got %T", effs[0])
	}

	// Inconclusive probe: ask again.
	effs = Reduce(s, action.MergeConfirmationResult{RepoKey: repoA.Key(), Number: 10})
	if len(effs) != 1 {
		t.Fatalf("expected re-probe, got %v", effs)
	}

	// Confirmed: bot advances to #8 and the next tick rebases it.
	Reduce(s, action.MergeConfirmationResult{RepoKey: repoA.Key(), Number: 10, Merged: true})
	effs = Reduce(s, action.MergeBotTick{})
	rb, ok := effs[0].(effect.RebasePRForBot)
	if !ok || rb.PR.Number != 8 {
		t.Fatalf("expected bot rebase of #8, got %+v", effs[0])
	}

	// Rebase submitted: bot watches CI.
	effs = Reduce(s, action.MergeBotOperationResult{
		RepoKey: repoA.Key(), Number: 8, Op: mergebot.OpRebase, OK: true,
	})
	if _, ok := effs[0].(effect.PollCIStatus); !ok {
		t.Fatalf("expected CI poll, got %T", effs[0])
	}

	// CI still running: keep polling. Ready: resume.
	effs = Reduce(s, action.MergeStatusChecked{RepoKey: repoA.Key(), Number: 8, Status: pr.StatusBuildInProgress})
	if _, ok := effs[0].(effect.PollCIStatus); !ok {
		t.Fatalf("expected another CI poll, got %v", effs)
	}
	Reduce(s, action.MergeStatusChecked{RepoKey: repoA.Key(), Number: 8, Status: pr.StatusReady})

	effs = Reduce(s, action.MergeBotTick{})
	mp2, ok := effs[0].(effect.MergePR)
	if !ok || mp2.Number != 8 {
		t.Fatalf("expected bot merge of #8 after rebase, got %+v", effs[0])
	}

	Reduce(s, action.MergeBotOperationResult{RepoKey: repoA.Key(), Number: 8, Op: mergebot.OpMerge, OK: true})
	Reduce(s, action.MergeConfirmationResult{RepoKey: repoA.Key(), Number: 8, Merged: true})

	if s.Bot.Phase != mergebot.PhaseCompleted {
		t.Fatalf("expected completed bot, got %s", s.Bot.Phase)
	}
	if len(s.Bot.Merged) != 2 {
		t.Fatalf("expected 2 merged, got %v", s.Bot.Merged)
	}
}

func TestMergeBotTick_IdleDoesNothing(t *testing.T) {
	s := newState(repoA)
	if effs := Reduce(s, action.MergeBotTick{}); len(effs) != 0 {
		t.Fatalf("idle bot tick must be a no-op, got %v", effs)
	}
}

func startAutoMerge(t *testing.T, s *state.AppState, n pr.Number) {
	t.Helper()
	Reduce(s, action.BatchItemResult{RepoKey: repoA.Key(), Number: n, Op: action.BatchAutoMerge, OK: true})
	if s.RepoData(repoA).FindAutoMerge(n) < 0 {
		t.Fatalf("expected auto-merge entry for #%d", n)
	}
}

func TestAutoMergeChecked_ReadyTriggersMergeAndStopsWatch(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 7, Status: pr.StatusBuildInProgress})
	startAutoMerge(t, s, 7)

	effs := Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7, Status: pr.StatusReady})

	if s.RepoData(repoA).FindAutoMerge(7) >= 0 {
		t.Error("ready PR must leave the auto-merge watch")
	}
	if len(effs) != 1 {
		t.Fatalf("expected a merge effect, got %v", effs)
	}
	mp, ok := effs[0].(effect.MergePRs)
	if !ok || len(mp.Numbers) != 1 || mp.Numbers[0] != 7 {
		t.Fatalf("expected merge of #7, got %+v", effs[0])
	}
}

func TestAutoMergeChecked_BuildFailedStopsWatch(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 7, Status: pr.StatusBuildInProgress})
	startAutoMerge(t, s, 7)

	effs := Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7, Status: pr.StatusBuildFailed})

	if s.RepoData(repoA).FindAutoMerge(7) >= 0 {
		t.Error("failed build must leave the auto-merge watch")
	}
	if len(effs) != 0 {
		t.Fatalf("no effects expected on a failed build, got %v", effs)
	}
	if s.StatusLine == "" {
		t.Error("expected a status line explaining the stop")
	}
}

func TestAutoMergeChecked_NeedsRebaseStopsWatch(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 7, Status: pr.StatusBuildInProgress})
	startAutoMerge(t, s, 7)

	Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7, Status: pr.StatusNeedsRebase})
	if s.RepoData(repoA).FindAutoMerge(7) >= 0 {
		t.Error("stale branch must leave the auto-merge watch")
	}
}

func TestAutoMergeChecked_InconclusiveKeepsCounting(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 7, Status: pr.StatusBuildInProgress})
	startAutoMerge(t, s, 7)

	Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7, Status: pr.StatusBuildInProgress})
	Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7})

	d := s.RepoData(repoA)
	i := d.FindAutoMerge(7)
	if i < 0 || d.AutoMerge[i].CheckCount != 2 {
		t.Fatalf("expected 2 checks counted, got %+v", d.AutoMerge)
	}
}

func TestAutoMergeDone_StaleResultIgnored(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 7, Status: pr.StatusBuildInProgress})
	startAutoMerge(t, s, 7)
	Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 7, Status: pr.StatusBuildFailed})

	s.StatusLine = ""
	effs := Reduce(s, action.AutoMergeDone{RepoKey: repoA.Key(), Number: 7, Reason: "timed out"})
	if len(effs) != 0 || s.StatusLine != "" {
		t.Fatalf("resolved watch must ignore a straggling poll, got %v / %q", effs, s.StatusLine)
	}
}

func TestAutoMergeDone_RemovesEntry(t *testing.T) {
	s := newState(repoA)
	load(s, repoA, pr.PR{Number: 4, Status: pr.StatusReady})
	Reduce(s, action.BatchItemResult{RepoKey: repoA.Key(), Number: 4, Op: action.BatchAutoMerge, OK: true})

	d := s.RepoData(repoA)
	if d.FindAutoMerge(4) < 0 {
		t.Fatal("expected auto-merge entry for #4")
	}
	Reduce(s, action.AutoMergeChecked{RepoKey: repoA.Key(), Number: 4})
	if d.AutoMerge[0].CheckCount != 1 {
		t.Errorf("check count not incremented: %+v", d.AutoMerge[0])
	}
	Reduce(s, action.AutoMergeDone{RepoKey: repoA.Key(), Number: 4, Reason: "timed out"})
	if d.FindAutoMerge(4) >= 0 {
		t.Error("auto-merge entry must be removed")
	}
}

func TestQuitSavesSession(t *testing.T) {
	s := newState(repoA)
	effs := Reduce(s, action.Quit{})
	if len(effs) != 1 {
		t.Fatalf("expected session save, got %v", effs)
	}
	if _, ok := effs[0].(effect.SaveSession); !ok {
		t.Fatalf("expected SaveSession, got %T", effs[0])
	}
}

func TestSwitchRepo_LoadsIdleRepo(t *testing.T) {
	s := newState(repoA, repoB)
	load(s, repoA, pr.PR{Number: 1})

	effs := Reduce(s, action.NextRepo{})
	if s.ActiveRepo != 1 {
		t.Fatalf("expected active repo 1, got %d", s.ActiveRepo)
	}
	if len(effs) != 1 {
		t.Fatalf("expected a load for the idle repo, got %v", effs)
	}
	if lr := effs[0].(effect.LoadRepo); lr.Repo.Key() != repoB.Key() {
		t.Fatalf("unexpected load target: %+v", lr)
	}

	// Switching back to a loaded repo does not reload.
	if effs := Reduce(s, action.PrevRepo{}); len(effs) != 0 {
		t.Fatalf("loaded repo must not reload on focus, got %v", effs)
	}
}
