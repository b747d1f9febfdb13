// Package effect defines the side effects the reducer can request and the
// executor that carries them out. Effects are descriptions; nothing
// happens until the dispatch loop hands them to the Executor, strictly in
// emission order.
package effect

import (
	"time"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// Effect is the interface satisfied by all effect types.
type Effect interface {
	effectTag()
}

// LoadAllRepos fetches the PR lists of every tracked repo.
type LoadAllRepos struct {
	Repos []state.Repo
}

// LoadRepo fetches one repo's PR list. Bypass skips the response cache.
type LoadRepo struct {
	Repo   state.Repo
	Bypass bool
}

// DelayedReload reloads a repo after a delay, bypassing the cache. Used
// after mutations so the next list reflects them.
type DelayedReload struct {
	Repo  state.Repo
	After time.Duration
}

func (LoadAllRepos) effectTag()  {}
func (LoadRepo) effectTag()      {}
func (DelayedReload) effectTag() {}

// CheckMergeStatus re-fetches and re-classifies the given PRs.
type CheckMergeStatus struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// CheckCommentCounts refreshes comment counters for the given PRs.
type CheckCommentCounts struct {
	Repo    state.Repo
	Numbers []pr.Number
}

func (CheckMergeStatus) effectTag()   {}
func (CheckCommentCounts) effectTag() {}

// Bulk operations. Each runs per-PR sub-jobs and reports item results plus
// a final tally.

type ApprovePRs struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// ClosePRs closes the given PRs. Dependabot PRs are closed with a
// "@dependabot close" comment instead of the API.
type ClosePRs struct {
	Repo state.Repo
	PRs  []pr.PR
}

// RebasePRs rebases the given PRs: update-branch via the API, or dependabot
// comment commands ("recreate" when conflicted, "rebase" otherwise).
type RebasePRs struct {
	Repo state.Repo
	PRs  []pr.PR
}

func (ApprovePRs) effectTag() {}
func (ClosePRs) effectTag()   {}
func (RebasePRs) effectTag()  {}

// MergePRs squash-merges the given PRs as a batch.
type MergePRs struct {
	Repo    state.Repo
	Numbers []pr.Number
}

func (MergePRs) effectTag() {}

// MergePR merges one PR. ForBot routes the result to the merge bot instead
// of the batch tally.
type MergePR struct {
	Repo   state.Repo
	Number pr.Number
	ForBot bool
}

// RebasePRForBot rebases one PR on behalf of the merge bot.
type RebasePRForBot struct {
	Repo state.Repo
	PR   pr.PR
}

// PollCIStatus schedules a delayed CI status check for the merge bot's
// rebased PR.
type PollCIStatus struct {
	Repo   state.Repo
	Number pr.Number
	ForBot bool
}

// PollMergeConfirmation schedules the single-shot merge confirmation
// probe. The reducer routes the result to the merge bot or the monitors
// based on who is waiting.
type PollMergeConfirmation struct {
	Repo   state.Repo
	Number pr.Number
}

func (MergePR) effectTag()               {}
func (RebasePRForBot) effectTag()        {}
func (PollCIStatus) effectTag()          {}
func (PollMergeConfirmation) effectTag() {}

// RerunFailedJobs re-runs the failed jobs of the PR's latest workflow run.
type RerunFailedJobs struct {
	Repo    state.Repo
	Number  pr.Number
	HeadSHA string
}

// EnableAutoMerge turns on GitHub auto-merge (squash) for the given PRs.
type EnableAutoMerge struct {
	Repo    state.Repo
	Numbers []pr.Number
}

// StartOperationMonitor begins the long poll that watches a rebase or
// merge land.
type StartOperationMonitor struct {
	Repo    state.Repo
	Number  pr.Number
	Op      state.Operation
	HeadSHA string
}

// StartAutoMergeMonitor begins the slow watch over an auto-merge PR.
type StartAutoMergeMonitor struct {
	Repo   state.Repo
	Number pr.Number
}

func (RerunFailedJobs) effectTag()       {}
func (EnableAutoMerge) effectTag()       {}
func (StartOperationMonitor) effectTag() {}
func (StartAutoMergeMonitor) effectTag() {}

// FetchBuildLogs downloads and parses the log archive of the PR's latest
// failed run.
type FetchBuildLogs struct {
	Repo    state.Repo
	Number  pr.Number
	HeadSHA string
}

// OpenInBrowser opens the PR's page with the system opener.
type OpenInBrowser struct {
	URL string
}

// OpenInIDE checks out the PR's branch in the configured IDE command.
type OpenInIDE struct {
	Repo state.Repo
	PR   pr.PR
}

func (FetchBuildLogs) effectTag() {}
func (OpenInBrowser) effectTag()  {}
func (OpenInIDE) effectTag()      {}

// Persistence.

// SaveRepos persists the tracked repository list.
type SaveRepos struct {
	Repos []state.Repo
}

// SaveSession persists the active repo and selections for session restore.
type SaveSession struct {
	Snapshot state.AppState
}

func (SaveRepos) effectTag()   {}
func (SaveSession) effectTag() {}

// Dispatch feeds an action back into the loop's work list.
type Dispatch struct {
	Action action.Action
}

// Batch groups effects; they execute in order.
type Batch struct {
	Effects []Effect
}

func (Dispatch) effectTag() {}
func (Batch) effectTag()    {}
