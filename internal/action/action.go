// Package action defines the closed vocabulary of actions the reducer
// understands. Actions come from two places: the TUI translating key
// presses, and the worker reporting task results. Both flow through the
// same dispatch loop.
package action

import (
	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// Action is the interface satisfied by all action types.
type Action interface {
	actionTag()
}

// Navigation.

type NextRepo struct{}
type PrevRepo struct{}
type CursorUp struct{}
type CursorDown struct{}

func (NextRepo) actionTag()   {}
func (PrevRepo) actionTag()   {}
func (CursorUp) actionTag()   {}
func (CursorDown) actionTag() {}

// Selection.

type ToggleSelect struct{}
type SelectAll struct{}
type ClearSelection struct{}

func (ToggleSelect) actionTag()   {}
func (SelectAll) actionTag()      {}
func (ClearSelection) actionTag() {}

// Loading.

// Reload refreshes the active repo. Bypass skips the response cache.
type Reload struct {
	Bypass bool
}

// ReloadAll refreshes every tracked repo.
type ReloadAll struct{}

func (Reload) actionTag()    {}
func (ReloadAll) actionTag() {}

// Bulk operations on the current selection.

type ApproveSelected struct{}
type CloseSelected struct{}
type RebaseSelected struct{}
type MergeSelected struct{}
type EnableAutoMergeSelected struct{}

func (ApproveSelected) actionTag()         {}
func (CloseSelected) actionTag()           {}
func (RebaseSelected) actionTag()          {}
func (MergeSelected) actionTag()           {}
func (EnableAutoMergeSelected) actionTag() {}

// Cursor-PR operations.

type RerunFailedJobs struct{}
type ViewBuildLogs struct{}
type CloseLogView struct{}
type OpenInBrowser struct{}
type OpenInIDE struct{}

func (RerunFailedJobs) actionTag() {}
func (ViewBuildLogs) actionTag()   {}
func (CloseLogView) actionTag()    {}
func (OpenInBrowser) actionTag()   {}
func (OpenInIDE) actionTag()       {}

// Repository management.

// AddRepo asks for a repository to be tracked. The repo list is persisted
// before the follow-up RepositoryAdded arrives.
type AddRepo struct {
	Repo state.Repo
}

// RemoveRepo stops tracking the repo with the given key.
type RemoveRepo struct {
	Key string
}

// RepositoryAdded is dispatched by the executor once the new repo has been
// persisted; it triggers the initial load.
type RepositoryAdded struct {
	Repo state.Repo
}

func (AddRepo) actionTag()         {}
func (RemoveRepo) actionTag()      {}
func (RepositoryAdded) actionTag() {}

// Merge bot.

type StartMergeBot struct{}
type StopMergeBot struct{}

// MergeBotTick steps the bot; the dispatch loop emits one per idle tick
// while the bot is running.
type MergeBotTick struct{}

// MergeBotOperationResult reports the outcome of an operation the bot
// submitted for the PR at its cursor.
type MergeBotOperationResult struct {
	RepoKey string
	Number  pr.Number
	Op      mergebot.Op
	OK      bool
	Reason  string
}

func (StartMergeBot) actionTag()           {}
func (StopMergeBot) actionTag()            {}
func (MergeBotTick) actionTag()            {}
func (MergeBotOperationResult) actionTag() {}

// Worker results.

// PRsLoaded replaces a repo's PR list. Selection pruning and bootstrap
// bookkeeping happen in the reducer.
type PRsLoaded struct {
	RepoKey string
	PRs     []pr.PR
}

// LoadFailed marks a repo load as errored.
type LoadFailed struct {
	RepoKey string
	Err     string
}

// MergeStatusChecked carries a freshly classified status for one PR.
type MergeStatusChecked struct {
	RepoKey string
	Number  pr.Number
	Status  pr.Status
}

// CommentCountsLoaded updates a PR's comment counters.
type CommentCountsLoaded struct {
	RepoKey string
	Number  pr.Number
	Issue   int
	Review  int
}

func (PRsLoaded) actionTag()           {}
func (LoadFailed) actionTag()          {}
func (MergeStatusChecked) actionTag()  {}
func (CommentCountsLoaded) actionTag() {}

// Bulk operation names carried in BatchItemResult and BatchFinished.
const (
	BatchApprove   = "approve"
	BatchClose     = "close"
	BatchRebase    = "rebase"
	BatchMerge     = "merge"
	BatchAutoMerge = "auto-merge"
)

// BatchItemResult is the per-PR outcome within a bulk operation.
type BatchItemResult struct {
	RepoKey string
	Number  pr.Number
	Op      string
	OK      bool
	Reason  string
}

// BatchFinished tallies a bulk operation, e.g. approved 3/5.
type BatchFinished struct {
	RepoKey string
	Op      string
	OK      int
	Total   int
}

func (BatchItemResult) actionTag() {}
func (BatchFinished) actionTag()   {}

// Operation monitoring.

// OperationMonitorChecked is one heartbeat of a rebase/merge monitor. The
// reducer increments the monitor's check count and applies Status when
// reported.
type OperationMonitorChecked struct {
	RepoKey   string
	Number    pr.Number
	Op        state.Operation
	Status    pr.Status
	HasStatus bool
	Failed    bool
}

// OperationMonitorDone removes the monitor and applies the final status.
type OperationMonitorDone struct {
	RepoKey     string
	Number      pr.Number
	Op          state.Operation
	FinalStatus pr.Status
	Reason      string
}

func (OperationMonitorChecked) actionTag() {}
func (OperationMonitorDone) actionTag()    {}

// Auto-merge monitoring.

// AutoMergeChecked is one heartbeat of the auto-merge watcher.
type AutoMergeChecked struct {
	RepoKey string
	Number  pr.Number
	Merged  bool
	Closed  bool
	Status  pr.Status
}

// AutoMergeDone removes the PR from the auto-merge watch set.
type AutoMergeDone struct {
	RepoKey string
	Number  pr.Number
	Reason  string
}

func (AutoMergeChecked) actionTag() {}
func (AutoMergeDone) actionTag()    {}

// MergeConfirmationResult is the single-shot merge confirmation probe
// outcome. Merged means merged_at was set; Closed means the PR was closed
// without merging, which counts as failure.
type MergeConfirmationResult struct {
	RepoKey string
	Number  pr.Number
	Merged  bool
	Closed  bool
}

func (MergeConfirmationResult) actionTag() {}

// Build logs.

type BuildLogsLoaded struct {
	RepoKey string
	Number  pr.Number
	Jobs    []state.JobLog
}

type BuildLogsFailed struct {
	RepoKey string
	Number  pr.Number
	Err     string
}

func (BuildLogsLoaded) actionTag() {}
func (BuildLogsFailed) actionTag() {}

// Housekeeping.

type TickSpinner struct{}

type SetStatusLine struct {
	Text string
}

type Quit struct{}

func (TickSpinner) actionTag()   {}
func (SetStatusLine) actionTag() {}
func (Quit) actionTag()          {}
