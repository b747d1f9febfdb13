// Package pr holds the pull request model and the status classifier shared
// by the initial load path, the pollers, the operation monitors and the
// merge bot. All of them must agree on what a PR's status is, so the
// decision table lives here and nowhere else.
package pr

import "strings"

// Number identifies a pull request within a repository. Selections, merge
// queues and monitors are keyed by Number so they survive list reloads.
type Number int

// Status is the classified state of a pull request.
type Status string

const (
	StatusReady           Status = "ready"
	StatusNeedsRebase     Status = "needs_rebase"
	StatusConflicted      Status = "conflicted"
	StatusBuildInProgress Status = "build_in_progress"
	StatusBuildFailed     Status = "build_failed"
	StatusBlocked         Status = "blocked"
	StatusUnknown         Status = "unknown"
	StatusRebasing        Status = "rebasing"
	StatusMerging         Status = "merging"
)

// CheckRun is a single CI check attached to a PR's head commit.
type CheckRun struct {
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, cancelled, timed_out, skipped, ...
}

// PR is everything the engine tracks about a pull request.
type PR struct {
	Number         Number
	Title          string
	Author         string
	HeadRef        string
	HeadSHA        string
	Draft          bool
	Mergeable      *bool
	MergeableState string // clean, dirty, blocked, behind, unstable, unknown
	Checks         []CheckRun
	Approvals      int
	ReviewComments int
	IssueComments  int
	HTMLURL        string
	Status         Status
}

// IsDependabot reports whether the PR was opened by dependabot. Dependabot
// PRs are rebased and closed through comment commands instead of the API.
func (p PR) IsDependabot() bool {
	return strings.EqualFold(p.Author, "dependabot[bot]") ||
		strings.EqualFold(p.Author, "app/dependabot")
}

// Behind reports whether the head branch is behind the base branch.
func (p PR) Behind() bool {
	return p.MergeableState == "behind"
}

func checkFailed(c CheckRun) bool {
	switch c.Conclusion {
	case "failure", "cancelled", "timed_out":
		return true
	}
	return false
}

func checkRunning(c CheckRun) bool {
	switch c.Status {
	case "queued", "in_progress", "pending", "waiting":
		return true
	}
	return false
}

func anyFailed(checks []CheckRun) bool {
	for _, c := range checks {
		if checkFailed(c) {
			return true
		}
	}
	return false
}

func anyRunning(checks []CheckRun) bool {
	for _, c := range checks {
		if checkRunning(c) {
			return true
		}
	}
	return false
}

// Classify maps a PR's mergeability fields and check runs to a Status.
//
// Decision order, first match wins:
//  1. mergeable=false and state dirty: conflicted.
//  2. mergeable=false and state blocked: failed checks win over running
//     checks, otherwise blocked.
//  3. mergeable=false with any other state: conflicted.
//  4. mergeable=true: failed checks, then running checks, then behind,
//     then ready. A failing build outranks needing a rebase.
//  5. mergeable unreported: build in progress if checks are still running,
//     otherwise unknown.
//
// A PR with no check runs at all, mergeable and up to date, is ready.
func Classify(p PR) Status {
	if p.Mergeable != nil && !*p.Mergeable {
		switch p.MergeableState {
		case "dirty":
			return StatusConflicted
		case "blocked":
			if anyFailed(p.Checks) {
				return StatusBuildFailed
			}
			if anyRunning(p.Checks) {
				return StatusBuildInProgress
			}
			return StatusBlocked
		default:
			return StatusConflicted
		}
	}

	if p.Mergeable != nil {
		if anyFailed(p.Checks) {
			return StatusBuildFailed
		}
		if anyRunning(p.Checks) {
			return StatusBuildInProgress
		}
		if p.Behind() {
			return StatusNeedsRebase
		}
		return StatusReady
	}

	if anyRunning(p.Checks) {
		return StatusBuildInProgress
	}
	return StatusUnknown
}

// CIState is the aggregate outcome of a PR's check runs.
type CIState string

const (
	CIFailure CIState = "failure"
	CIPending CIState = "pending"
	CISuccess CIState = "success"
	CIUnknown CIState = "unknown"
)

// AggregateCI reduces a set of check runs to a single CI state. Any failure
// dominates, then any still-running check, then success. No checks at all
// is unknown; callers decide what that means for them.
func AggregateCI(checks []CheckRun) CIState {
	if len(checks) == 0 {
		return CIUnknown
	}
	if anyFailed(checks) {
		return CIFailure
	}
	if anyRunning(checks) {
		return CIPending
	}
	return CISuccess
}

// Bool returns a pointer to b, for building PR literals.
func Bool(b bool) *bool { return &b }
