package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prdeck/prdeck/internal/action"
	"github.com/prdeck/prdeck/internal/effect"
	"github.com/prdeck/prdeck/internal/state"
)

// scriptedExec returns canned follow-up actions per effect and records
// the order effects were executed in.
type scriptedExec struct {
	mu       sync.Mutex
	executed []effect.Effect
	replies  map[string][]action.Action
}

func (e *scriptedExec) Execute(_ context.Context, eff effect.Effect) []action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, eff)
	if d, ok := eff.(effect.Dispatch); ok {
		return []action.Action{d.Action}
	}
	return nil
}

func (e *scriptedExec) order() []effect.Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]effect.Effect(nil), e.executed...)
}

func TestDispatch_DrainsWorkList(t *testing.T) {
	// The first action emits two effects; the Dispatch effect's
	// follow-up action emits one more. All three must run before the
	// drain finishes, preserving emission order.
	var applied []string
	reduce := func(s *state.AppState, a action.Action) []effect.Effect {
		switch a.(type) {
		case action.ReloadAll:
			applied = append(applied, "reload-all")
			return []effect.Effect{
				effect.Dispatch{Action: action.SetStatusLine{Text: "loading"}},
				effect.LoadAllRepos{},
			}
		case action.SetStatusLine:
			applied = append(applied, "status")
			return []effect.Effect{effect.SaveRepos{}}
		}
		return nil
	}

	exec := &scriptedExec{}
	l := New(state.New(nil), reduce, exec, nil)
	l.Dispatch(context.Background(), action.ReloadAll{})

	if len(applied) != 2 || applied[0] != "reload-all" || applied[1] != "status" {
		t.Fatalf("unexpected action order: %v", applied)
	}
	order := exec.order()
	if len(order) != 3 {
		t.Fatalf("expected 3 effects, got %d", len(order))
	}
	if _, ok := order[0].(effect.Dispatch); !ok {
		t.Errorf("first effect should be Dispatch, got %T", order[0])
	}
	if _, ok := order[1].(effect.LoadAllRepos); !ok {
		t.Errorf("second effect should be LoadAllRepos, got %T", order[1])
	}
	if _, ok := order[2].(effect.SaveRepos); !ok {
		t.Errorf("follow-up effect should run last, got %T", order[2])
	}
}

func TestDispatch_PublishesSnapshotOnce(t *testing.T) {
	var snapshots int
	reduce := func(s *state.AppState, a action.Action) []effect.Effect {
		if _, ok := a.(action.ReloadAll); ok {
			return []effect.Effect{effect.Dispatch{Action: action.TickSpinner{}}}
		}
		return nil
	}

	l := New(state.New(nil), reduce, &scriptedExec{}, nil,
		WithSnapshot(func(state.AppState) { snapshots++ }))
	l.Dispatch(context.Background(), action.ReloadAll{})

	if snapshots != 1 {
		t.Fatalf("expected one snapshot per drain, got %d", snapshots)
	}
}

func TestDispatch_QuitCallbackAfterDrain(t *testing.T) {
	var order []string
	reduce := func(s *state.AppState, a action.Action) []effect.Effect {
		if _, ok := a.(action.Quit); ok {
			order = append(order, "reduce")
			return []effect.Effect{effect.SaveSession{}}
		}
		return nil
	}
	exec := &scriptedExec{}

	l := New(state.New(nil), reduce, exec, nil,
		WithQuit(func() { order = append(order, "quit") }))
	l.Dispatch(context.Background(), action.Quit{})

	if len(order) != 2 || order[1] != "quit" {
		t.Fatalf("quit callback must run after the drain: %v", order)
	}
	if len(exec.order()) != 1 {
		t.Fatalf("session save should have executed, got %v", exec.order())
	}
}

func TestRun_ForwardsActionsAndResults(t *testing.T) {
	var mu sync.Mutex
	var seen []action.Action
	reduce := func(s *state.AppState, a action.Action) []effect.Effect {
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
		return nil
	}

	results := make(chan action.Action, 1)
	l := New(state.New(nil), reduce, &scriptedExec{}, results,
		WithTick(time.Hour)) // keep ticks out of the way

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	l.Send(action.ReloadAll{})
	results <- action.PRsLoaded{}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("loop did not process both inputs in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if _, ok := seen[0].(action.ReloadAll); !ok {
		t.Errorf("expected ReloadAll first, got %T", seen[0])
	}
	if _, ok := seen[1].(action.PRsLoaded); !ok {
		t.Errorf("expected PRsLoaded second, got %T", seen[1])
	}
}

func TestRun_TickDrivesSpinnerAndBot(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	botTicks := 0
	reduce := func(s *state.AppState, a action.Action) []effect.Effect {
		mu.Lock()
		defer mu.Unlock()
		switch a.(type) {
		case action.TickSpinner:
			ticks++
		case action.MergeBotTick:
			botTicks++
		}
		return nil
	}

	s := state.New(nil)

	l := New(s, reduce, &scriptedExec{}, nil, WithTick(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := ticks
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no spinner ticks observed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if botTicks != 0 {
		t.Errorf("bot ticks should not fire while the bot is idle, got %d", botTicks)
	}
}
