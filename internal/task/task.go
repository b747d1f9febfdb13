// Package task runs the engine's background work: loading PR lists,
// mutating PRs, and the long-running monitors. Tasks arrive on a single
// submission channel; each runs on its own goroutine, so jobs are
// independently scheduled and nothing here ever blocks the dispatch loop.
// Results come back as actions.
package task

import (
	"time"

	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// Task is the interface satisfied by all task types.
type Task interface {
	taskTag()
}

// LoadAllRepos fetches the PR lists of all given repos, with a small
// pacing delay between spawns.
type LoadAllRepos struct {
	Repos []state.Repo
}

// LoadRepo fetches one repo's PR list. Bypass skips the response cache.
type LoadRepo struct {
	Repo   state.Repo
	Bypass bool
}

func (LoadAllRepos) taskTag() {}
func (LoadRepo) taskTag()     {}

// CheckMergeStatus re-fetches the given PRs and reports each one's
// classified status.
type CheckMergeStatus struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// CheckCommentCounts refreshes comment counters for the given PRs.
type CheckCommentCounts struct {
	Repo    state.Repo
	Numbers []pr.Number
}

func (CheckMergeStatus) taskTag()   {}
func (CheckCommentCounts) taskTag() {}

// ApprovePRs approves the given PRs one by one, reporting item results and
// a final tally.
type ApprovePRs struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// ClosePRs closes the given PRs. Dependabot PRs get "@dependabot close".
type ClosePRs struct {
	Repo state.Repo
	PRs  []pr.PR
}

// RebasePRs rebases the given PRs: update-branch via the API, or the
// dependabot comment commands.
type RebasePRs struct {
	Repo state.Repo
	PRs  []pr.PR
}

// MergePRs squash-merges the given PRs as a batch.
type MergePRs struct {
	Repo    state.Repo
	Numbers []pr.Number
}

func (ApprovePRs) taskTag() {}
func (ClosePRs) taskTag()   {}
func (RebasePRs) taskTag()  {}
func (MergePRs) taskTag()   {}

// MergePR merges one PR on behalf of the merge bot.
type MergePR struct {
	Repo   state.Repo
	Number pr.Number
}

// RebasePR rebases one PR on behalf of the merge bot.
type RebasePR struct {
	Repo state.Repo
	PR   pr.PR
}

// PollMergeConfirmation is the single-shot probe checking whether a merged
// PR actually landed.
type PollMergeConfirmation struct {
	Repo   state.Repo
	Number pr.Number
}

func (MergePR) taskTag()               {}
func (RebasePR) taskTag()              {}
func (PollMergeConfirmation) taskTag() {}

// RerunFailedJobs re-runs the failed jobs of the PR's latest run.
type RerunFailedJobs struct {
	Repo    state.Repo
	Number  pr.Number
	HeadSHA string
}

// EnableAutoMerge enables auto-merge for the given PRs.
type EnableAutoMerge struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// FetchBuildLogs downloads and parses the logs of the PR's latest run.
type FetchBuildLogs struct {
	Repo    state.Repo
	Number  pr.Number
	HeadSHA string
}

func (RerunFailedJobs) taskTag() {}
func (EnableAutoMerge) taskTag() {}
func (FetchBuildLogs) taskTag()  {}

// MonitorOperation watches a rebase or merge until its effect lands or the
// monitor gives up.
type MonitorOperation struct {
	Repo    state.Repo
	Number  pr.Number
	Op      state.Operation
	HeadSHA string
}

// MonitorAutoMerge watches an auto-merge PR until it merges, closes, or
// the watcher gives up.
type MonitorAutoMerge struct {
	Repo   state.Repo
	Number pr.Number
}

func (MonitorOperation) taskTag() {}
func (MonitorAutoMerge) taskTag() {}

// Delayed defers another task by a fixed delay.
type Delayed struct {
	Task  Task
	After time.Duration
}

func (Delayed) taskTag() {}
