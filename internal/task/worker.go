package task

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/github"
	"github.com/prdeck/prdeck/internal/logs"
	"github.com/prdeck/prdeck/internal/mergebot"
	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/state"
)

// The worker depends on small per-concern interfaces so tests can fake
// exactly what a task touches.

type PRLister interface {
	ListOpenPRs(ctx context.Context, owner, repo, base string) ([]github.PullRequest, error)
}

type PRFetcher interface {
	FetchPR(ctx context.Context, owner, repo string, number int) (github.PullRequest, error)
}

type CheckRunFetcher interface {
	FetchCheckRuns(ctx context.Context, owner, repo, ref string) ([]pr.CheckRun, error)
}

type ApprovalCounter interface {
	CountApprovals(ctx context.Context, owner, repo string, number int) (int, error)
}

type Approver interface {
	ApprovePR(ctx context.Context, owner, repo string, number int) error
}

type Merger interface {
	MergePR(ctx context.Context, owner, repo string, number int) error
}

type Closer interface {
	ClosePR(ctx context.Context, owner, repo string, number int) error
}

type BranchUpdater interface {
	UpdateBranch(ctx context.Context, owner, repo string, number int) error
}

type Commenter interface {
	CommentOnPR(ctx context.Context, owner, repo string, number int, body string) error
}

type MergeChecker interface {
	IsPRMerged(ctx context.Context, owner, repo string, number int) (bool, error)
}

type RunLister interface {
	LatestRunForSHA(ctx context.Context, owner, repo, sha string) (*github.WorkflowRun, error)
}

type JobRerunner interface {
	RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error
}

type RunLogFetcher interface {
	FetchRunLogs(ctx context.Context, owner, repo string, runID int64) ([]byte, error)
}

type AutoMerger interface {
	EnableAutoMerge(ctx context.Context, nodeID string) error
}

// GitHubClient is the full client surface the worker needs.
type GitHubClient interface {
	PRLister
	PRFetcher
	CheckRunFetcher
	ApprovalCounter
	Approver
	Merger
	Closer
	BranchUpdater
	Commenter
	MergeChecker
	RunLister
	JobRerunner
	RunLogFetcher
	AutoMerger
}

// PRCache caches PR lists between loads so tab switches don't hammer the
// API. Implementations decide freshness; a miss just means a full fetch.
type PRCache interface {
	Get(repoKey string) ([]pr.PR, bool)
	Put(repoKey string, prs []pr.PR)
}

// Filter decides whether a fetched PR is shown at all.
type Filter func(pr.PR) bool

// Worker consumes tasks and emits result actions.
type Worker struct {
	gh      GitHubClient
	cache   PRCache
	filter  Filter
	logger  *slog.Logger
	tasks   chan Task
	results chan action.Action
	wg      sync.WaitGroup

	// pacing between sub-job spawns and per-PR fetches; zero in tests
	spawnPace time.Duration
	fetchPace time.Duration

	// polling cadences, overridable in tests
	monitorPeriod   time.Duration
	autoMergePeriod time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithCache installs the PR list cache.
func WithCache(c PRCache) Option {
	return func(w *Worker) { w.cache = c }
}

// WithFilter installs the PR display filter.
func WithFilter(f Filter) Option {
	return func(w *Worker) { w.filter = f }
}

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithPacing overrides the delays between sub-job spawns and per-PR
// fetches.
func WithPacing(spawn, fetch time.Duration) Option {
	return func(w *Worker) { w.spawnPace, w.fetchPace = spawn, fetch }
}

// WithMonitorPeriods overrides the operation and auto-merge poll periods.
func WithMonitorPeriods(operation, autoMerge time.Duration) Option {
	return func(w *Worker) { w.monitorPeriod, w.autoMergePeriod = operation, autoMerge }
}

// New creates a Worker around the given GitHub client.
func New(gh GitHubClient, opts ...Option) *Worker {
	w := &Worker{
		gh:              gh,
		logger:          slog.Default(),
		tasks:           make(chan Task, 64),
		results:         make(chan action.Action, 256),
		spawnPace:       30 * time.Millisecond,
		fetchPace:       50 * time.Millisecond,
		monitorPeriod:   30 * time.Second,
		autoMergePeriod: 60 * time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Submit queues a task. Safe for concurrent use.
func (w *Worker) Submit(t Task) {
	w.tasks <- t
}

// Results is the channel task results arrive on.
func (w *Worker) Results() <-chan action.Action {
	return w.results
}

// Run consumes tasks until ctx is cancelled. Each task runs on its own
// goroutine; Run returns once all in-flight tasks finish.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case t := <-w.tasks:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.process(ctx, t)
			}()
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	job := uuid.NewString()[:8]
	log := w.logger.With("job", job)
	log.Debug("task started", "task", taskName(t))

	switch t := t.(type) {
	case Delayed:
		if !w.sleep(ctx, t.After) {
			return
		}
		w.process(ctx, t.Task)
		return
	case LoadAllRepos:
		w.loadAllRepos(ctx, t)
	case LoadRepo:
		w.loadRepo(ctx, t, log)
	case CheckMergeStatus:
		w.checkMergeStatus(ctx, t)
	case CheckCommentCounts:
		w.checkCommentCounts(ctx, t)
	case ApprovePRs:
		w.approvePRs(ctx, t, log)
	case ClosePRs:
		w.closePRs(ctx, t, log)
	case RebasePRs:
		w.rebasePRs(ctx, t, log)
	case MergePRs:
		w.mergePRs(ctx, t, log)
	case MergePR:
		w.mergeForBot(ctx, t)
	case RebasePR:
		w.rebaseForBot(ctx, t)
	case PollMergeConfirmation:
		w.pollMergeConfirmation(ctx, t)
	case RerunFailedJobs:
		w.rerunFailedJobs(ctx, t)
	case EnableAutoMerge:
		w.enableAutoMerge(ctx, t, log)
	case FetchBuildLogs:
		w.fetchBuildLogs(ctx, t)
	case MonitorOperation:
		w.monitorOperation(ctx, t, log)
	case MonitorAutoMerge:
		w.monitorAutoMerge(ctx, t, log)
	default:
		log.Warn("unknown task", "task", taskName(t))
	}
}

func (w *Worker) emit(ctx context.Context, a action.Action) {
	select {
	case w.results <- a:
	case <-ctx.Done():
	}
}

// sleep waits for d, returning false if the context ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (w *Worker) keep(p pr.PR) bool {
	return w.filter == nil || w.filter(p)
}

func (w *Worker) loadAllRepos(ctx context.Context, t LoadAllRepos) {
	for i, r := range t.Repos {
		if i > 0 && !w.sleep(ctx, w.spawnPace) {
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loadRepo(ctx, LoadRepo{Repo: r}, w.logger)
		}()
	}
}

func (w *Worker) loadRepo(ctx context.Context, t LoadRepo, log *slog.Logger) {
	key := t.Repo.Key()
	if !t.Bypass && w.cache != nil {
		if cached, ok := w.cache.Get(key); ok {
			log.Debug("pr list served from cache", "repo", key, "count", len(cached))
			w.emit(ctx, action.PRsLoaded{RepoKey: key, PRs: cached})
			return
		}
	}

	listed, err := w.gh.ListOpenPRs(ctx, t.Repo.Org, t.Repo.Repo, t.Repo.Branch)
	if err != nil {
		log.Error("listing pull requests", "repo", key, "error", err)
		w.emit(ctx, action.LoadFailed{RepoKey: key, Err: err.Error()})
		return
	}

	out := make([]pr.PR, 0, len(listed))
	for i, item := range listed {
		if i > 0 && !w.sleep(ctx, w.fetchPace) {
			return
		}
		p := w.hydrate(ctx, t.Repo, item, log)
		if w.keep(p) {
			out = append(out, p)
		}
	}

	if w.cache != nil {
		w.cache.Put(key, out)
	}
	log.Info("pr list loaded", "repo", key, "count", len(out))
	w.emit(ctx, action.PRsLoaded{RepoKey: key, PRs: out})
}

// hydrate fills in the fields the list payload omits and classifies the
// PR. Detail fetch failures degrade to the listing data with an unknown
// status rather than failing the whole load.
func (w *Worker) hydrate(ctx context.Context, repo state.Repo, item github.PullRequest, log *slog.Logger) pr.PR {
	detail, err := w.gh.FetchPR(ctx, repo.Org, repo.Repo, int(item.Number))
	if err != nil {
		log.Warn("fetching pr detail", "repo", repo.Key(), "pr", item.Number, "error", err)
		p := item.PR
		p.Status = pr.StatusUnknown
		return p
	}
	p := detail.PR

	if p.HeadSHA != "" {
		checks, err := w.gh.FetchCheckRuns(ctx, repo.Org, repo.Repo, p.HeadSHA)
		if err != nil {
			log.Warn("fetching check runs", "repo", repo.Key(), "pr", p.Number, "error", err)
		} else {
			p.Checks = checks
		}
	}

	if approvals, err := w.gh.CountApprovals(ctx, repo.Org, repo.Repo, int(p.Number)); err == nil {
		p.Approvals = approvals
	}

	p.Status = pr.Classify(p)
	return p
}

func (w *Worker) checkMergeStatus(ctx context.Context, t CheckMergeStatus) {
	for i, n := range t.Numbers {
		if i > 0 && !w.sleep(ctx, w.fetchPace) {
			return
		}
		detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(n))
		if err != nil {
			w.logger.Warn("checking merge status", "repo", t.Repo.Key(), "pr", n, "error", err)
			continue
		}
		p := detail.PR
		if p.HeadSHA != "" {
			if checks, err := w.gh.FetchCheckRuns(ctx, t.Repo.Org, t.Repo.Repo, p.HeadSHA); err == nil {
				p.Checks = checks
			}
		}
		w.emit(ctx, action.MergeStatusChecked{
			RepoKey: t.Repo.Key(),
			Number:  n,
			Status:  pr.Classify(p),
		})
	}
}

func (w *Worker) checkCommentCounts(ctx context.Context, t CheckCommentCounts) {
	for i, n := range t.Numbers {
		if i > 0 && !w.sleep(ctx, w.fetchPace) {
			return
		}
		detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(n))
		if err != nil {
			continue
		}
		w.emit(ctx, action.CommentCountsLoaded{
			RepoKey: t.Repo.Key(),
			Number:  n,
			Issue:   detail.IssueComments,
			Review:  detail.ReviewComments,
		})
	}
}

// runBatch applies op to each item with pacing, emitting per-item results
// and the final tally.
func runBatch[T any](ctx context.Context, w *Worker, repoKey, opName string, items []T, num func(T) pr.Number, op func(T) error) {
	ok := 0
	for i, item := range items {
		if i > 0 && !w.sleep(ctx, w.spawnPace) {
			return
		}
		err := op(item)
		res := action.BatchItemResult{RepoKey: repoKey, Number: num(item), Op: opName, OK: err == nil}
		if err != nil {
			res.Reason = err.Error()
		} else {
			ok++
		}
		w.emit(ctx, res)
	}
	w.emit(ctx, action.BatchFinished{RepoKey: repoKey, Op: opName, OK: ok, Total: len(items)})
}

func (w *Worker) approvePRs(ctx context.Context, t ApprovePRs, log *slog.Logger) {
	log.Info("approving pull requests", "repo", t.Repo.Key(), "count", len(t.Numbers))
	runBatch(ctx, w, t.Repo.Key(), action.BatchApprove, t.Numbers,
		func(n pr.Number) pr.Number { return n },
		func(n pr.Number) error {
			return w.gh.ApprovePR(ctx, t.Repo.Org, t.Repo.Repo, int(n))
		})
}

func (w *Worker) closePRs(ctx context.Context, t ClosePRs, log *slog.Logger) {
	log.Info("closing pull requests", "repo", t.Repo.Key(), "count", len(t.PRs))
	runBatch(ctx, w, t.Repo.Key(), action.BatchClose, t.PRs,
		func(p pr.PR) pr.Number { return p.Number },
		func(p pr.PR) error {
			if p.IsDependabot() {
				return w.gh.CommentOnPR(ctx, t.Repo.Org, t.Repo.Repo, int(p.Number), "@dependabot close")
			}
			return w.gh.ClosePR(ctx, t.Repo.Org, t.Repo.Repo, int(p.Number))
		})
}

func (w *Worker) rebasePRs(ctx context.Context, t RebasePRs, log *slog.Logger) {
	log.Info("rebasing pull requests", "repo", t.Repo.Key(), "count", len(t.PRs))
	runBatch(ctx, w, t.Repo.Key(), action.BatchRebase, t.PRs,
		func(p pr.PR) pr.Number { return p.Number },
		func(p pr.PR) error {
			return w.rebaseOne(ctx, t.Repo, p)
		})
}

func (w *Worker) mergePRs(ctx context.Context, t MergePRs, log *slog.Logger) {
	log.Info("merging pull requests", "repo", t.Repo.Key(), "count", len(t.Numbers))
	runBatch(ctx, w, t.Repo.Key(), action.BatchMerge, t.Numbers,
		func(n pr.Number) pr.Number { return n },
		func(n pr.Number) error {
			return w.gh.MergePR(ctx, t.Repo.Org, t.Repo.Repo, int(n))
		})
}

// rebaseOne submits a rebase the right way for the PR: dependabot PRs get
// a comment command (recreate when conflicted, since dependabot refuses to
// rebase over conflicts), everything else goes through update-branch.
func (w *Worker) rebaseOne(ctx context.Context, repo state.Repo, p pr.PR) error {
	if p.IsDependabot() {
		cmd := "@dependabot rebase"
		if p.Status == pr.StatusConflicted {
			cmd = "@dependabot recreate"
		}
		return w.gh.CommentOnPR(ctx, repo.Org, repo.Repo, int(p.Number), cmd)
	}
	return w.gh.UpdateBranch(ctx, repo.Org, repo.Repo, int(p.Number))
}

func (w *Worker) mergeForBot(ctx context.Context, t MergePR) {
	err := w.gh.MergePR(ctx, t.Repo.Org, t.Repo.Repo, int(t.Number))
	res := action.MergeBotOperationResult{RepoKey: t.Repo.Key(), Number: t.Number, Op: mergebot.OpMerge, OK: err == nil}
	if err != nil {
		res.Reason = err.Error()
	}
	w.emit(ctx, res)
}

func (w *Worker) rebaseForBot(ctx context.Context, t RebasePR) {
	err := w.rebaseOne(ctx, t.Repo, t.PR)
	res := action.MergeBotOperationResult{RepoKey: t.Repo.Key(), Number: t.PR.Number, Op: mergebot.OpRebase, OK: err == nil}
	if err != nil {
		res.Reason = err.Error()
	}
	w.emit(ctx, res)
}

// pollMergeConfirmation is the single-shot probe: merged_at set means
// merged, closed without merging means failure, anything else means ask
// again later. The reducer decides whether to resubmit.
func (w *Worker) pollMergeConfirmation(ctx context.Context, t PollMergeConfirmation) {
	res := action.MergeConfirmationResult{RepoKey: t.Repo.Key(), Number: t.Number}

	merged, err := w.gh.IsPRMerged(ctx, t.Repo.Org, t.Repo.Repo, int(t.Number))
	if err == nil && merged {
		res.Merged = true
		w.emit(ctx, res)
		return
	}
	if err != nil {
		w.logger.Warn("merge confirmation probe", "repo", t.Repo.Key(), "pr", t.Number, "error", err)
		w.emit(ctx, res)
		return
	}

	detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(t.Number))
	if err == nil {
		res.Merged = detail.Merged || detail.MergedAt != nil
		res.Closed = !res.Merged && detail.State == "closed"
	}
	w.emit(ctx, res)
}

func (w *Worker) rerunFailedJobs(ctx context.Context, t RerunFailedJobs) {
	run, err := w.gh.LatestRunForSHA(ctx, t.Repo.Org, t.Repo.Repo, t.HeadSHA)
	if err != nil {
		w.emit(ctx, action.SetStatusLine{Text: "rerun failed: " + err.Error()})
		return
	}
	if run == nil {
		w.emit(ctx, action.SetStatusLine{Text: "no workflow runs for #" + itoa(t.Number)})
		return
	}
	if err := w.gh.RerunFailedJobs(ctx, t.Repo.Org, t.Repo.Repo, run.ID); err != nil {
		w.emit(ctx, action.SetStatusLine{Text: "rerun failed: " + err.Error()})
		return
	}
	w.emit(ctx, action.SetStatusLine{Text: "rerunning failed jobs for #" + itoa(t.Number)})
}

func (w *Worker) enableAutoMerge(ctx context.Context, t EnableAutoMerge, log *slog.Logger) {
	log.Info("enabling auto-merge", "repo", t.Repo.Key(), "count", len(t.Numbers))
	runBatch(ctx, w, t.Repo.Key(), action.BatchAutoMerge, t.Numbers,
		func(n pr.Number) pr.Number { return n },
		func(n pr.Number) error {
			detail, err := w.gh.FetchPR(ctx, t.Repo.Org, t.Repo.Repo, int(n))
			if err != nil {
				return err
			}
			return w.gh.EnableAutoMerge(ctx, detail.NodeID)
		})
}

func (w *Worker) fetchBuildLogs(ctx context.Context, t FetchBuildLogs) {
	fail := func(err error) {
		w.emit(ctx, action.BuildLogsFailed{RepoKey: t.Repo.Key(), Number: t.Number, Err: err.Error()})
	}

	run, err := w.gh.LatestRunForSHA(ctx, t.Repo.Org, t.Repo.Repo, t.HeadSHA)
	if err != nil {
		fail(err)
		return
	}
	if run == nil {
		w.emit(ctx, action.BuildLogsLoaded{RepoKey: t.Repo.Key(), Number: t.Number})
		return
	}
	archive, err := w.gh.FetchRunLogs(ctx, t.Repo.Org, t.Repo.Repo, run.ID)
	if err != nil {
		fail(err)
		return
	}
	parsed, err := logs.Parse(archive)
	if err != nil {
		fail(err)
		return
	}
	jobs := make([]state.JobLog, len(parsed))
	for i, j := range parsed {
		jobs[i] = state.JobLog{Name: j.Name, ErrorCount: j.ErrorCount, Errors: j.Errors}
	}
	w.emit(ctx, action.BuildLogsLoaded{RepoKey: t.Repo.Key(), Number: t.Number, Jobs: jobs})
}

func itoa(n pr.Number) string {
	return strconv.Itoa(int(n))
}

// taskName names a task for logging.
func taskName(t Task) string {
	return fmt.Sprintf("%T", t)
}
