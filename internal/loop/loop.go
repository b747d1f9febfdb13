// Package loop owns the application state and runs the dispatch loop.
// Actions come in from the terminal UI and the background worker; each
// one is reduced against the state, the resulting effects are executed
// in order, and any follow-up actions are drained before the next input
// is taken. State is only ever touched on the loop goroutine.
package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/effect"
	"github.com/prdeck/prdeck/internal/state"
)

const tickInterval = 100 * time.Millisecond

// Reducer computes the effects of applying an action to the state.
type Reducer func(s *state.AppState, a action.Action) []effect.Effect

// Executor carries out one effect and returns follow-up actions.
type Executor interface {
	Execute(ctx context.Context, eff effect.Effect) []action.Action
}

// Loop wires the reducer and executor around a single AppState.
type Loop struct {
	state   *state.AppState
	reduce  Reducer
	exec    Executor
	actions chan action.Action
	results <-chan action.Action
	logger  *slog.Logger

	onSnapshot func(s state.AppState)
	onQuit     func()
	tick       time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithSnapshot registers a callback invoked with a copy of the state
// after every drained dispatch. The TUI and the websocket hub hang off
// this.
func WithSnapshot(fn func(state.AppState)) Option {
	return func(lp *Loop) { lp.onSnapshot = fn }
}

// WithQuit registers a callback invoked after a Quit action has been
// fully processed, session save included.
func WithQuit(fn func()) Option {
	return func(lp *Loop) { lp.onQuit = fn }
}

// WithTick overrides the idle tick interval.
func WithTick(d time.Duration) Option {
	return func(lp *Loop) { lp.tick = d }
}

// New creates a Loop around the given state, reducer, executor and
// worker result channel.
func New(s *state.AppState, reduce Reducer, exec Executor, results <-chan action.Action, opts ...Option) *Loop {
	l := &Loop{
		state:   s,
		reduce:  reduce,
		exec:    exec,
		actions: make(chan action.Action, 64),
		results: results,
		logger:  slog.Default(),
		tick:    tickInterval,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Send queues an action from outside the loop goroutine.
func (l *Loop) Send(a action.Action) {
	l.actions <- a
}

// State returns the loop's state. Only safe to call from the loop
// goroutine or before Run starts.
func (l *Loop) State() *state.AppState {
	return l.state
}

// Dispatch applies one action and drains everything it triggers:
// effects run in emission order, and the actions they return are
// appended to the work list until nothing is left. A snapshot is
// published once the list is empty.
func (l *Loop) Dispatch(ctx context.Context, a action.Action) {
	work := []action.Action{a}
	for len(work) > 0 {
		next := work[0]
		work = work[1:]

		for _, eff := range l.reduce(l.state, next) {
			work = append(work, l.exec.Execute(ctx, eff)...)
		}

		if _, ok := next.(action.Quit); ok && l.onQuit != nil {
			defer l.onQuit()
		}
	}
	if l.onSnapshot != nil {
		l.onSnapshot(*l.state)
	}
}

// Run blocks processing inputs until ctx is cancelled. Every tick the
// spinner advances, and the merge bot gets a step while it is running.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("dispatch loop started", "repos", len(l.state.Repos))

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopped")
			return
		case a := <-l.actions:
			l.Dispatch(ctx, a)
		case a, ok := <-l.results:
			if !ok {
				l.results = nil
				continue
			}
			l.Dispatch(ctx, a)
		case <-ticker.C:
			l.Dispatch(ctx, action.TickSpinner{})
			if l.state.Bot.Running() {
				l.Dispatch(ctx, action.MergeBotTick{})
			}
		}
	}
}
