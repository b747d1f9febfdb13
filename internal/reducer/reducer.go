// Package reducer holds the pure transition function of the engine. It
// mutates the AppState it owns and describes side effects; it performs no
// I/O itself. The dispatch loop executes the returned effects strictly in
// order.
package reducer

import (
	"fmt"
	"time"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/effect"
	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// now is a seam for tests.
var now = time.Now

// Reduce applies one action to the state and returns the effects it
// implies.
func Reduce(s *state.AppState, a action.Action) []effect.Effect {
	switch a := a.(type) {
	case action.NextRepo:
		return switchRepo(s, 1)
	case action.PrevRepo:
		return switchRepo(s, -1)
	case action.CursorUp:
		if _, d, ok := s.Active(); ok && d.Cursor > 0 {
			d.Cursor--
		}
	case action.CursorDown:
		if _, d, ok := s.Active(); ok && d.Cursor < len(d.PRs)-1 {
			d.Cursor++
		}

	case action.ToggleSelect:
		if _, d, ok := s.Active(); ok {
			if p, ok := d.CursorPR(); ok {
				d.ToggleSelect(p.Number)
			}
		}
	case action.SelectAll:
		if _, d, ok := s.Active(); ok {
			for _, p := range d.PRs {
				d.Selected[p.Number] = struct{}{}
			}
		}
	case action.ClearSelection:
		if _, d, ok := s.Active(); ok {
			d.Selected = make(map[pr.Number]struct{})
		}

	case action.Reload:
		if r, d, ok := s.Active(); ok {
			d.Loading = state.LoadingState{Phase: state.LoadLoading}
			return []effect.Effect{effect.LoadRepo{Repo: r, Bypass: a.Bypass}}
		}
	case action.ReloadAll:
		for _, r := range s.Repos {
			s.RepoData(r).Loading = state.LoadingState{Phase: state.LoadLoading}
		}
		return []effect.Effect{effect.LoadAllRepos{Repos: s.Repos}}

	case action.PRsLoaded:
		return prsLoaded(s, a)
	case action.LoadFailed:
		if r, ok := s.RepoByKey(a.RepoKey); ok {
			s.RepoData(r).Loading = state.LoadingState{Phase: state.LoadError, Err: a.Err}
			s.RecomputeBooting()
			s.StatusLine = fmt.Sprintf("loading %s failed: %s", a.RepoKey, a.Err)
		}

	case action.ApproveSelected:
		return bulk(s, func(r state.Repo, d *state.RepoData, nums []pr.Number) effect.Effect {
			return effect.ApprovePRs{Repo: r, Numbers: nums}
		}, "approving")
	case action.MergeSelected:
		return bulk(s, func(r state.Repo, d *state.RepoData, nums []pr.Number) effect.Effect {
			return effect.MergePRs{Repo: r, Numbers: nums}
		}, "merging")
	case action.EnableAutoMergeSelected:
		return bulk(s, func(r state.Repo, d *state.RepoData, nums []pr.Number) effect.Effect {
			return effect.EnableAutoMerge{Repo: r, Numbers: nums}
		}, "enabling auto-merge for")
	case action.CloseSelected:
		return bulkPRs(s, func(r state.Repo, prs []pr.PR) effect.Effect {
			return effect.ClosePRs{Repo: r, PRs: prs}
		}, "closing")
	case action.RebaseSelected:
		return bulkPRs(s, func(r state.Repo, prs []pr.PR) effect.Effect {
			return effect.RebasePRs{Repo: r, PRs: prs}
		}, "rebasing")

	case action.BatchItemResult:
		return batchItem(s, a)
	case action.BatchFinished:
		return batchFinished(s, a)

	case action.MergeStatusChecked:
		return statusChecked(s, a)
	case action.CommentCountsLoaded:
		if r, ok := s.RepoByKey(a.RepoKey); ok {
			d := s.RepoData(r)
			for i := range d.PRs {
				if d.PRs[i].Number == a.Number {
					d.PRs[i].IssueComments = a.Issue
					d.PRs[i].ReviewComments = a.Review
				}
			}
		}

	case action.OperationMonitorChecked:
		if r, ok := s.RepoByKey(a.RepoKey); ok {
			d := s.RepoData(r)
			if i := d.FindMonitor(a.Number); i >= 0 {
				d.Monitors[i].CheckCount++
			}
		}
	case action.OperationMonitorDone:
		return monitorDone(s, a)

	case action.AutoMergeChecked:
		return autoMergeChecked(s, a)
	case action.AutoMergeDone:
		return autoMergeDone(s, a)

	case action.MergeConfirmationResult:
		return mergeConfirmation(s, a)

	case action.StartMergeBot:
		return startMergeBot(s)
	case action.StopMergeBot:
		s.Bot.Stop()
		s.StatusLine = "merge bot stopped"
	case action.MergeBotTick:
		return mergeBotTick(s)
	case action.MergeBotOperationResult:
		return botCommand(s, s.Bot.OperationResult(a.Number, a.Op, a.OK, a.Reason))

	case action.AddRepo:
		if !s.AddRepo(a.Repo) {
			s.StatusLine = fmt.Sprintf("%s is already tracked", a.Repo.Key())
			return nil
		}
		// Persist before loading so a crash mid-load doesn't lose the repo.
		return []effect.Effect{
			effect.SaveRepos{Repos: s.Repos},
			effect.Dispatch{Action: action.RepositoryAdded{Repo: a.Repo}},
		}
	case action.RepositoryAdded:
		s.RepoData(a.Repo).Loading = state.LoadingState{Phase: state.LoadLoading}
		s.StatusLine = fmt.Sprintf("added %s", a.Repo.Key())
		return []effect.Effect{effect.LoadRepo{Repo: a.Repo, Bypass: true}}
	case action.RemoveRepo:
		if s.RemoveRepo(a.Key) {
			s.StatusLine = fmt.Sprintf("removed %s", a.Key)
			return []effect.Effect{effect.SaveRepos{Repos: s.Repos}}
		}

	case action.RerunFailedJobs:
		if r, d, ok := s.Active(); ok {
			if p, ok := d.CursorPR(); ok {
				return []effect.Effect{effect.RerunFailedJobs{Repo: r, Number: p.Number, HeadSHA: p.HeadSHA}}
			}
		}
	case action.ViewBuildLogs:
		if r, d, ok := s.Active(); ok {
			if p, ok := d.CursorPR(); ok {
				s.StatusLine = fmt.Sprintf("fetching build logs for #%d", p.Number)
				return []effect.Effect{effect.FetchBuildLogs{Repo: r, Number: p.Number, HeadSHA: p.HeadSHA}}
			}
		}
	case action.BuildLogsLoaded:
		s.LogView = &state.LogView{PRNumber: a.Number, Jobs: a.Jobs}
		s.StatusLine = ""
	case action.BuildLogsFailed:
		s.StatusLine = fmt.Sprintf("build logs for #%d: %s", a.Number, a.Err)
	case action.CloseLogView:
		s.LogView = nil

	case action.OpenInBrowser:
		if _, d, ok := s.Active(); ok {
			if p, ok := d.CursorPR(); ok && p.HTMLURL != "" {
				return []effect.Effect{effect.OpenInBrowser{URL: p.HTMLURL}}
			}
		}
	case action.OpenInIDE:
		if r, d, ok := s.Active(); ok {
			if p, ok := d.CursorPR(); ok {
				return []effect.Effect{effect.OpenInIDE{Repo: r, PR: p}}
			}
		}

	case action.TickSpinner:
		s.Spinner++
	case action.SetStatusLine:
		s.StatusLine = a.Text
	case action.Quit:
		return []effect.Effect{effect.SaveSession{Snapshot: *s}}
	}
	return nil
}

func switchRepo(s *state.AppState, dir int) []effect.Effect {
	if len(s.Repos) == 0 {
		return nil
	}
	s.ActiveRepo = (s.ActiveRepo + dir + len(s.Repos)) % len(s.Repos)
	r, d, _ := s.Active()
	if d.Loading.Phase == state.LoadIdle {
		d.Loading = state.LoadingState{Phase: state.LoadLoading}
		return []effect.Effect{effect.LoadRepo{Repo: r}}
	}
	return nil
}

// prsLoaded replaces the list, prunes the selection, and re-applies the
// transient status of any PR still under an operation monitor.
func prsLoaded(s *state.AppState, a action.PRsLoaded) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)
	d.SetPRs(a.PRs)
	d.Loading = state.LoadingState{Phase: state.LoadLoaded}
	for _, m := range d.Monitors {
		d.SetStatus(m.Number, transientStatus(m.Op))
	}
	s.RecomputeBooting()
	if len(a.PRs) == 0 {
		return nil
	}
	// Follow up with fresh mergeability and comment counters; list
	// payloads go stale between polls.
	nums := make([]pr.Number, len(a.PRs))
	for i, p := range a.PRs {
		nums[i] = p.Number
	}
	return []effect.Effect{
		effect.CheckMergeStatus{Repo: r, Numbers: nums},
		effect.CheckCommentCounts{Repo: r, Numbers: nums},
	}
}

func transientStatus(op state.Operation) pr.Status {
	if op == state.OpMerge {
		return pr.StatusMerging
	}
	return pr.StatusRebasing
}

func bulk(s *state.AppState, mk func(state.Repo, *state.RepoData, []pr.Number) effect.Effect, verb string) []effect.Effect {
	r, d, ok := s.Active()
	if !ok {
		return nil
	}
	nums := d.SelectedNumbers()
	if len(nums) == 0 {
		s.StatusLine = "no pull requests selected"
		return nil
	}
	s.StatusLine = fmt.Sprintf("%s %d pull requests", verb, len(nums))
	return []effect.Effect{mk(r, d, nums)}
}

func bulkPRs(s *state.AppState, mk func(state.Repo, []pr.PR) effect.Effect, verb string) []effect.Effect {
	r, d, ok := s.Active()
	if !ok {
		return nil
	}
	var prs []pr.PR
	for _, n := range d.SelectedNumbers() {
		if p, ok := d.PR(n); ok {
			prs = append(prs, p)
		}
	}
	if len(prs) == 0 {
		s.StatusLine = "no pull requests selected"
		return nil
	}
	s.StatusLine = fmt.Sprintf("%s %d pull requests", verb, len(prs))
	return []effect.Effect{mk(r, prs)}
}

// batchItem reacts to one PR's outcome inside a bulk operation. Rebase and
// merge submissions that went through get an operation monitor and a
// transient status; merges also get the confirmation probe.
func batchItem(s *state.AppState, a action.BatchItemResult) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)
	if !a.OK {
		return nil
	}

	switch a.Op {
	case action.BatchApprove:
		for i := range d.PRs {
			if d.PRs[i].Number == a.Number {
				d.PRs[i].Approvals++
			}
		}
	case action.BatchRebase:
		return startMonitor(s, r, d, a.Number, state.OpRebase)
	case action.BatchMerge:
		effects := startMonitor(s, r, d, a.Number, state.OpMerge)
		return append(effects, effect.PollMergeConfirmation{Repo: r, Number: a.Number})
	case action.BatchAutoMerge:
		if d.FindAutoMerge(a.Number) < 0 {
			d.AutoMerge = append(d.AutoMerge, state.AutoMergePR{Number: a.Number, StartedAt: now()})
		}
		return []effect.Effect{effect.StartAutoMergeMonitor{Repo: r, Number: a.Number}}
	}
	return nil
}

func startMonitor(s *state.AppState, r state.Repo, d *state.RepoData, n pr.Number, op state.Operation) []effect.Effect {
	p, ok := d.PR(n)
	if !ok {
		return nil
	}
	d.SetStatus(n, transientStatus(op))
	if d.FindMonitor(n) < 0 {
		d.Monitors = append(d.Monitors, state.OperationMonitor{
			Number:           n,
			Op:               op,
			StartedAt:        now(),
			LastKnownHeadSHA: p.HeadSHA,
		})
	}
	return []effect.Effect{effect.StartOperationMonitor{Repo: r, Number: n, Op: op, HeadSHA: p.HeadSHA}}
}

func batchFinished(s *state.AppState, a action.BatchFinished) []effect.Effect {
	s.StatusLine = fmt.Sprintf("%sd %d/%d", a.Op, a.OK, a.Total)
	if a.Op == action.BatchApprove || a.Op == action.BatchClose {
		if r, ok := s.RepoByKey(a.RepoKey); ok {
			return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
		}
	}
	return nil
}

// statusChecked applies a freshly classified status and forwards it to the
// merge bot, which may be watching CI on that PR after a rebase.
func statusChecked(s *state.AppState, a action.MergeStatusChecked) []effect.Effect {
	if r, ok := s.RepoByKey(a.RepoKey); ok {
		d := s.RepoData(r)
		// Monitors own the transient status; don't fight them.
		if d.FindMonitor(a.Number) < 0 {
			d.SetStatus(a.Number, a.Status)
		}
	}
	if a.RepoKey == s.BotRepo.Key() {
		return botCommand(s, s.Bot.HandleStatusUpdate(a.Number, a.Status))
	}
	return nil
}

func monitorDone(s *state.AppState, a action.OperationMonitorDone) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)
	d.RemoveMonitor(a.Number)
	d.SetStatus(a.Number, a.FinalStatus)
	s.StatusLine = fmt.Sprintf("%s of #%d: %s", a.Op, a.Number, a.Reason)
	return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
}

// autoMergeChecked applies one heartbeat of the auto-merge watch. Ready
// ends the watch and triggers the merge ourselves; BuildFailed and
// NeedsRebase end it too, since native auto-merge will never fire for
// those. Any other status just advances the check count.
func autoMergeChecked(s *state.AppState, a action.AutoMergeChecked) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)
	i := d.FindAutoMerge(a.Number)
	if i < 0 {
		return nil
	}
	d.AutoMerge[i].CheckCount++

	switch a.Status {
	case pr.StatusReady:
		d.RemoveAutoMerge(a.Number)
		s.StatusLine = fmt.Sprintf("auto-merge: #%d is ready, merging", a.Number)
		return []effect.Effect{effect.MergePRs{Repo: r, Numbers: []pr.Number{a.Number}}}
	case pr.StatusBuildFailed:
		d.RemoveAutoMerge(a.Number)
		s.StatusLine = fmt.Sprintf("auto-merge of #%d stopped: build failed", a.Number)
	case pr.StatusNeedsRebase:
		d.RemoveAutoMerge(a.Number)
		s.StatusLine = fmt.Sprintf("auto-merge of #%d stopped: needs rebase", a.Number)
	}
	return nil
}

func autoMergeDone(s *state.AppState, a action.AutoMergeDone) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)
	// The watch may already be resolved; a straggling poll is ignored.
	if d.FindAutoMerge(a.Number) < 0 {
		return nil
	}
	d.RemoveAutoMerge(a.Number)
	s.StatusLine = fmt.Sprintf("auto-merge of #%d: %s", a.Number, a.Reason)
	if a.Reason == "merged" {
		return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
	}
	return nil
}

// mergeConfirmation routes the probe result: the merge bot first if it is
// waiting on this PR, the operation monitor bookkeeping otherwise. An
// inconclusive probe is resubmitted while anyone still cares.
func mergeConfirmation(s *state.AppState, a action.MergeConfirmationResult) []effect.Effect {
	r, ok := s.RepoByKey(a.RepoKey)
	if !ok {
		return nil
	}
	d := s.RepoData(r)

	botWaiting := s.Bot.Phase == mergebot.PhaseWaiting &&
		s.Bot.Waiting == mergebot.OpWaitConfirm &&
		a.RepoKey == s.BotRepo.Key()
	if botWaiting {
		if cur, has := s.Bot.Current(); has && cur == a.Number {
			switch {
			case a.Merged:
				return botCommand(s, s.Bot.OperationResult(a.Number, mergebot.OpWaitConfirm, true, ""))
			case a.Closed:
				return botCommand(s, s.Bot.OperationResult(a.Number, mergebot.OpWaitConfirm, false, "closed without merging"))
			default:
				return []effect.Effect{effect.PollMergeConfirmation{Repo: r, Number: a.Number}}
			}
		}
	}

	switch {
	case a.Merged:
		d.RemoveMonitor(a.Number)
		s.StatusLine = fmt.Sprintf("#%d merged", a.Number)
		return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
	case a.Closed:
		d.RemoveMonitor(a.Number)
		s.StatusLine = fmt.Sprintf("#%d closed without merging", a.Number)
		return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
	case d.FindMonitor(a.Number) >= 0:
		return []effect.Effect{effect.PollMergeConfirmation{Repo: r, Number: a.Number}}
	}
	return nil
}

func startMergeBot(s *state.AppState) []effect.Effect {
	if s.Bot.Running() {
		s.StatusLine = "merge bot already running"
		return nil
	}
	r, d, ok := s.Active()
	if !ok {
		return nil
	}
	queue := d.SelectedNumbers()
	if len(queue) == 0 {
		s.StatusLine = "no pull requests selected"
		return nil
	}
	s.Bot.Start(queue)
	s.BotRepo = r
	s.StatusLine = fmt.Sprintf("merge bot started (%d pull requests)", len(queue))
	return nil
}

func mergeBotTick(s *state.AppState) []effect.Effect {
	if s.Bot.Phase != mergebot.PhaseProcessing {
		return nil
	}
	d := s.RepoData(s.BotRepo)
	return botCommand(s, s.Bot.Step(d.PR))
}

// botCommand turns a merge bot command into effects.
func botCommand(s *state.AppState, cmd mergebot.Command) []effect.Effect {
	r := s.BotRepo
	d := s.RepoData(r)
	switch cmd.Kind {
	case mergebot.CmdMerge:
		d.SetStatus(cmd.Number, pr.StatusMerging)
		return []effect.Effect{effect.MergePR{Repo: r, Number: cmd.Number, ForBot: true}}
	case mergebot.CmdRebase:
		p, ok := d.PR(cmd.Number)
		if !ok {
			return nil
		}
		d.SetStatus(cmd.Number, pr.StatusRebasing)
		return []effect.Effect{effect.RebasePRForBot{Repo: r, PR: p}}
	case mergebot.CmdPollCI:
		return []effect.Effect{effect.PollCIStatus{Repo: r, Number: cmd.Number, ForBot: true}}
	case mergebot.CmdPollConfirm:
		return []effect.Effect{effect.PollMergeConfirmation{Repo: r, Number: cmd.Number}}
	case mergebot.CmdDone:
		s.StatusLine = "merge bot finished: " + s.Bot.Summary()
		return []effect.Effect{effect.DelayedReload{Repo: r, After: time.Second}}
	}
	return nil
}
