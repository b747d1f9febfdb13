// Package mergebot implements the sequential merge queue. The bot walks the
// submitted PR numbers in strict submission order, merging ready PRs,
// rebasing stale or conflicted ones and waiting out in-flight builds, and
// never moves past a PR while an operation on it is still in flight.
//
// The bot is a passive state machine: the reducer steps it on ticks and
// feeds it operation results, then turns the returned commands into
// effects. It performs no I/O itself.
package mergebot

import (
	"fmt"

	"github.com/prdeck/prdeck/internal/pr"
)

// Phase is the bot's top-level state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseWaiting    Phase = "waiting"
	PhaseCompleted  Phase = "completed"
)

// Op is the operation the bot is waiting on for the current PR.
type Op string

const (
	OpMerge       Op = "merge"
	OpRebase      Op = "rebase"
	OpCheckCI     Op = "check_ci"
	OpWaitConfirm Op = "wait_merge_confirmation"
)

// Failure records why a queued PR could not be merged.
type Failure struct {
	Number pr.Number
	Reason string
}

// CommandKind tells the reducer which effect to emit after a bot step.
type CommandKind string

const (
	CmdNone        CommandKind = "none"
	CmdMerge       CommandKind = "merge"
	CmdRebase      CommandKind = "rebase"
	CmdPollCI      CommandKind = "poll_ci"
	CmdPollConfirm CommandKind = "poll_confirm"
	CmdDone        CommandKind = "done"
)

// Command is the bot's instruction to its driver.
type Command struct {
	Kind   CommandKind
	Number pr.Number
}

// Bot is the merge queue state machine.
type Bot struct {
	Phase   Phase
	Queue   []pr.Number
	Cursor  int
	Waiting Op
	Merged  []pr.Number
	Failed  []Failure
}

// New returns an idle bot.
func New() *Bot {
	return &Bot{Phase: PhaseIdle}
}

// Running reports whether the bot is actively working a queue.
func (b *Bot) Running() bool {
	return b.Phase == PhaseProcessing || b.Phase == PhaseWaiting
}

// Start begins processing the given PR numbers in order. Starting while
// already running is ignored; an empty queue completes immediately.
func (b *Bot) Start(queue []pr.Number) {
	if b.Running() {
		return
	}
	b.Queue = append([]pr.Number(nil), queue...)
	b.Cursor = 0
	b.Merged = nil
	b.Failed = nil
	if len(b.Queue) == 0 {
		b.Phase = PhaseCompleted
		return
	}
	b.Phase = PhaseProcessing
}

// Stop resets the bot to idle, abandoning any queue in progress.
func (b *Bot) Stop() {
	*b = Bot{Phase: PhaseIdle}
}

// Current returns the PR number at the cursor.
func (b *Bot) Current() (pr.Number, bool) {
	if b.Cursor < 0 || b.Cursor >= len(b.Queue) {
		return 0, false
	}
	return b.Queue[b.Cursor], true
}

// Step examines the PR at the cursor and decides what to do with it: merge
// when ready, rebase when stale or conflicted, watch CI when a build is
// still running. One PR is handled per call; PRs that cannot be acted on
// are recorded as failed and the cursor advances, to be continued on the
// next tick. lookup resolves a PR number against the current list, so the
// bot always sees fresh statuses.
func (b *Bot) Step(lookup func(pr.Number) (pr.PR, bool)) Command {
	if b.Phase != PhaseProcessing {
		return Command{Kind: CmdNone}
	}
	n, ok := b.Current()
	if !ok {
		b.Phase = PhaseCompleted
		return Command{Kind: CmdDone}
	}

	p, found := lookup(n)
	if !found {
		b.fail(n, "no longer in the pull request list")
		return b.advance()
	}

	switch p.Status {
	case pr.StatusReady:
		b.Phase = PhaseWaiting
		b.Waiting = OpMerge
		return Command{Kind: CmdMerge, Number: n}
	case pr.StatusNeedsRebase, pr.StatusConflicted:
		// Conflicted counts as rebaseable: dependabot PRs get a
		// "recreate" comment instead of update-branch downstream.
		b.Phase = PhaseWaiting
		b.Waiting = OpRebase
		return Command{Kind: CmdRebase, Number: n}
	case pr.StatusBuildInProgress:
		// Don't fail a PR for a build that may still pass; watch CI
		// and decide on Ready or BuildFailed.
		b.Phase = PhaseWaiting
		b.Waiting = OpCheckCI
		return Command{Kind: CmdPollCI, Number: n}
	default:
		b.fail(n, fmt.Sprintf("status %s is not mergeable", p.Status))
		return b.advance()
	}
}

// OperationResult feeds the outcome of a submitted merge or rebase back
// into the bot.
//
// A successful merge submission is not trusted on its own: the bot moves
// to waiting for merge confirmation and only counts the PR as merged once
// the confirmation poll reports it. A successful rebase moves to CI
// watching; HandleStatusUpdate decides from there.
func (b *Bot) OperationResult(n pr.Number, op Op, ok bool, reason string) Command {
	if b.Phase != PhaseWaiting {
		return Command{Kind: CmdNone}
	}
	cur, has := b.Current()
	if !has || cur != n || b.Waiting != op {
		return Command{Kind: CmdNone}
	}

	switch op {
	case OpMerge:
		if !ok {
			b.fail(n, reason)
			return b.advance()
		}
		b.Waiting = OpWaitConfirm
		return Command{Kind: CmdPollConfirm, Number: n}
	case OpRebase:
		if !ok {
			b.fail(n, reason)
			return b.advance()
		}
		b.Waiting = OpCheckCI
		return Command{Kind: CmdPollCI, Number: n}
	case OpWaitConfirm:
		if !ok {
			b.fail(n, reason)
			return b.advance()
		}
		b.Merged = append(b.Merged, n)
		return b.advance()
	default:
		return Command{Kind: CmdNone}
	}
}

// HandleStatusUpdate reacts to a fresh status for the PR the bot is
// watching CI on after a rebase. Ready resumes the queue at the same PR,
// a failed build fails it and advances, anything else keeps waiting.
func (b *Bot) HandleStatusUpdate(n pr.Number, s pr.Status) Command {
	if b.Phase != PhaseWaiting || b.Waiting != OpCheckCI {
		return Command{Kind: CmdNone}
	}
	cur, has := b.Current()
	if !has || cur != n {
		return Command{Kind: CmdNone}
	}

	switch s {
	case pr.StatusReady:
		b.Phase = PhaseProcessing
		return Command{Kind: CmdNone}
	case pr.StatusBuildFailed:
		b.fail(n, "build failed after rebase")
		return b.advance()
	default:
		// Still rebuilding or settling; ask for another poll.
		return Command{Kind: CmdPollCI, Number: n}
	}
}

func (b *Bot) fail(n pr.Number, reason string) {
	b.Failed = append(b.Failed, Failure{Number: n, Reason: reason})
}

func (b *Bot) advance() Command {
	b.Cursor++
	if b.Cursor >= len(b.Queue) {
		b.Phase = PhaseCompleted
		return Command{Kind: CmdDone}
	}
	b.Phase = PhaseProcessing
	return Command{Kind: CmdNone}
}

// Summary renders the completed tally, e.g. "merged 3, failed 1".
func (b *Bot) Summary() string {
	return fmt.Sprintf("merged %d, failed %d", len(b.Merged), len(b.Failed))
}
