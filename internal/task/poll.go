package task

import (
	"context"
	"log/slog"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// monitorOperation watches a rebase or merge land. It polls on a fixed
// period up to state.MonitorMaxChecks times, aborting after
// state.MonitorMaxConsecFails poll failures in a row. For rebases the
// tell is the head SHA changing; CI lookups are skipped for the first
// couple of checks unless the SHA has already moved, since GitHub needs a
// moment to attach fresh check runs.
func (w *Worker) monitorOperation(ctx context.Context, t MonitorOperation, log *slog.Logger) {
	key := t.Repo.Key()
	done := func(final pr.Status, reason string) {
		w.emit(ctx, action.OperationMonitorDone{
			RepoKey:     key,
			Number:      t.Number,
			Op:          t.Op,
			FinalStatus: final,
			Reason:      reason,
		})
	}

	consecFails := 0
	for check := 1; check <= state.MonitorMaxChecks; check++ {
		if !w.sleep(ctx, w.monitorPeriod) {
			return
		}

		detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(t.Number))
		if err != nil {
			consecFails++
			log.Warn("operation monitor poll", "repo", key, "pr", t.Number, "error", err, "consecutive", consecFails)
			w.emit(ctx, action.OperationMonitorChecked{RepoKey: key, Number: t.Number, Op: t.Op, Failed: true})
			if consecFails >= state.MonitorMaxConsecFails {
				done(pr.StatusUnknown, "repeated poll failures")
				return
			}
			continue
		}
		consecFails = 0

		if t.Op == state.OpMerge {
			if detail.Merged || detail.MergedAt != nil {
				done(pr.StatusReady, "merged")
				return
			}
			if detail.State == "closed" {
				done(pr.StatusUnknown, "closed without merging")
				return
			}
			w.emit(ctx, action.OperationMonitorChecked{RepoKey: key, Number: t.Number, Op: t.Op})
			continue
		}

		shaChanged := detail.HeadSHA != "" && detail.HeadSHA != t.HeadSHA
		if !shaChanged && check <= 2 {
			w.emit(ctx, action.OperationMonitorChecked{RepoKey: key, Number: t.Number, Op: t.Op})
			continue
		}

		p := detail.PR
		checks, err := w.gh.FetchCheckRuns(ctx, t.Repo.Org, t.Repo.Repo, detail.HeadSHA)
		if err != nil {
			consecFails++
			w.emit(ctx, action.OperationMonitorChecked{RepoKey: key, Number: t.Number, Op: t.Op, Failed: true})
			if consecFails >= state.MonitorMaxConsecFails {
				done(pr.StatusUnknown, "repeated poll failures")
				return
			}
			continue
		}
		consecFails = 0
		p.Checks = checks

		status := pr.Classify(p)
		if shaChanged && len(checks) == 0 {
			// The rebase landed and the repo runs no CI on it.
			status = pr.StatusReady
		}
		if shaChanged {
			done(status, "rebase completed")
			return
		}
		w.emit(ctx, action.OperationMonitorChecked{
			RepoKey:   key,
			Number:    t.Number,
			Op:        t.Op,
			Status:    status,
			HasStatus: true,
		})
	}
	done(pr.StatusUnknown, "timed out")
}

// monitorAutoMerge watches an auto-merge PR on a slow cadence until it
// merges, closes, or state.AutoMergeMaxChecks checks pass.
func (w *Worker) monitorAutoMerge(ctx context.Context, t MonitorAutoMerge, log *slog.Logger) {
	key := t.Repo.Key()
	done := func(reason string) {
		w.emit(ctx, action.AutoMergeDone{RepoKey: key, Number: t.Number, Reason: reason})
	}

	for check := 1; check <= state.AutoMergeMaxChecks; check++ {
		if !w.sleep(ctx, w.autoMergePeriod) {
			return
		}

		detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(t.Number))
		if err != nil {
			log.Warn("auto-merge monitor poll", "repo", key, "pr", t.Number, "error", err)
			w.emit(ctx, action.AutoMergeChecked{RepoKey: key, Number: t.Number})
			continue
		}

		if detail.Merged || detail.MergedAt != nil {
			w.emit(ctx, action.AutoMergeChecked{RepoKey: key, Number: t.Number, Merged: true})
			done("merged")
			return
		}
		if detail.State == "closed" {
			w.emit(ctx, action.AutoMergeChecked{RepoKey: key, Number: t.Number, Closed: true})
			done("closed without merging")
			return
		}

		p := detail.PR
		if p.HeadSHA != "" {
			if checks, err := w.gh.FetchCheckRuns(ctx, t.Repo.Org, t.Repo.Repo, p.HeadSHA); err == nil {
				p.Checks = checks
			}
		}
		w.emit(ctx, action.AutoMergeChecked{RepoKey: key, Number: t.Number, Status: pr.Classify(p)})
	}
	done("timed out")
}
