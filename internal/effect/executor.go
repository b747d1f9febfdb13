package effect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
	"github.com/prdeck/prdeck/internal/task"
)

// Submitter queues background tasks; the worker implements it.
type Submitter interface {
	Submit(task.Task)
}

// Store persists repositories and sessions; the db package implements it.
type Store interface {
	SaveRepos(repos []state.Repo) error
	SaveSession(s state.AppState) error
}

// Cadences between a submission and its follow-up polls.
const (
	mergeConfirmDelay = 2 * time.Second
	ciPollDelay       = 15 * time.Second
)

// Executor carries out effects. Most translate into task submissions;
// Dispatch and Batch feed actions straight back to the loop.
type Executor struct {
	tasks   Submitter
	store   Store
	logger  *slog.Logger
	openURL func(url string) error
	openIDE func(r state.Repo, p pr.PR) error

	confirmDelay time.Duration
	ciDelay      time.Duration
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithStore installs the persistence backend.
func WithStore(s Store) ExecOption {
	return func(e *Executor) { e.store = s }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecOption {
	return func(e *Executor) { e.logger = l }
}

// WithOpeners installs the browser and IDE launchers.
func WithOpeners(url func(string) error, ide func(state.Repo, pr.PR) error) ExecOption {
	return func(e *Executor) { e.openURL, e.openIDE = url, ide }
}

// WithPollDelays overrides the confirmation and CI poll delays.
func WithPollDelays(confirm, ci time.Duration) ExecOption {
	return func(e *Executor) { e.confirmDelay, e.ciDelay = confirm, ci }
}

// NewExecutor creates an Executor submitting to the given task queue.
func NewExecutor(tasks Submitter, opts ...ExecOption) *Executor {
	e := &Executor{
		tasks:        tasks,
		logger:       slog.Default(),
		confirmDelay: mergeConfirmDelay,
		ciDelay:      ciPollDelay,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute performs one effect and returns any follow-up actions for the
// dispatch loop's work list.
func (e *Executor) Execute(ctx context.Context, eff Effect) []action.Action {
	switch eff := eff.(type) {
	case Batch:
		var out []action.Action
		for _, sub := range eff.Effects {
			out = append(out, e.Execute(ctx, sub)...)
		}
		return out
	case Dispatch:
		return []action.Action{eff.Action}

	case LoadAllRepos:
		e.tasks.Submit(task.LoadAllRepos{Repos: eff.Repos})
	case LoadRepo:
		e.tasks.Submit(task.LoadRepo{Repo: eff.Repo, Bypass: eff.Bypass})
	case DelayedReload:
		e.tasks.Submit(task.Delayed{
			After: eff.After,
			Task:  task.LoadRepo{Repo: eff.Repo, Bypass: true},
		})

	case CheckMergeStatus:
		e.tasks.Submit(task.CheckMergeStatus{Repo: eff.Repo, Numbers: eff.Numbers})
	case CheckCommentCounts:
		e.tasks.Submit(task.CheckCommentCounts{Repo: eff.Repo, Numbers: eff.Numbers})
	case PollCIStatus:
		e.tasks.Submit(task.Delayed{
			After: e.ciDelay,
			Task:  task.CheckMergeStatus{Repo: eff.Repo, Numbers: []pr.Number{eff.Number}},
		})
	case PollMergeConfirmation:
		e.tasks.Submit(task.Delayed{
			After: e.confirmDelay,
			Task:  task.PollMergeConfirmation{Repo: eff.Repo, Number: eff.Number},
		})

	case ApprovePRs:
		e.tasks.Submit(task.ApprovePRs{Repo: eff.Repo, Numbers: eff.Numbers})
	case ClosePRs:
		e.tasks.Submit(task.ClosePRs{Repo: eff.Repo, PRs: eff.PRs})
	case RebasePRs:
		e.tasks.Submit(task.RebasePRs{Repo: eff.Repo, PRs: eff.PRs})
	case MergePRs:
		e.tasks.Submit(task.MergePRs{Repo: eff.Repo, Numbers: eff.Numbers})
	case MergePR:
		e.tasks.Submit(task.MergePR{Repo: eff.Repo, Number: eff.Number})
	case RebasePRForBot:
		e.tasks.Submit(task.RebasePR{Repo: eff.Repo, PR: eff.PR})

	case RerunFailedJobs:
		e.tasks.Submit(task.RerunFailedJobs{Repo: eff.Repo, Number: eff.Number, HeadSHA: eff.HeadSHA})
	case EnableAutoMerge:
		e.tasks.Submit(task.EnableAutoMerge{Repo: eff.Repo, Numbers: eff.Numbers})
	case StartOperationMonitor:
		e.tasks.Submit(task.MonitorOperation{Repo: eff.Repo, Number: eff.Number, Op: eff.Op, HeadSHA: eff.HeadSHA})
	case StartAutoMergeMonitor:
		e.tasks.Submit(task.MonitorAutoMerge{Repo: eff.Repo, Number: eff.Number})
	case FetchBuildLogs:
		e.tasks.Submit(task.FetchBuildLogs{Repo: eff.Repo, Number: eff.Number, HeadSHA: eff.HeadSHA})

	case OpenInBrowser:
		if e.openURL == nil {
			return nil
		}
		if err := e.openURL(eff.URL); err != nil {
			return status("opening browser: " + err.Error())
		}
	case OpenInIDE:
		if e.openIDE == nil {
			return status("no IDE command configured")
		}
		if err := e.openIDE(eff.Repo, eff.PR); err != nil {
			return status("opening IDE: " + err.Error())
		}

	case SaveRepos:
		if e.store == nil {
			return nil
		}
		if err := e.store.SaveRepos(eff.Repos); err != nil {
			e.logger.Error("saving repositories", "error", err)
			return status("saving repositories: " + err.Error())
		}
	case SaveSession:
		if e.store == nil {
			return nil
		}
		if err := e.store.SaveSession(eff.Snapshot); err != nil {
			e.logger.Error("saving session", "error", err)
		}

	default:
		e.logger.Warn("unknown effect", "effect", fmt.Sprintf("%T", eff))
	}
	return nil
}

func status(text string) []action.Action {
	return []action.Action{action.SetStatusLine{Text: text}}
}
