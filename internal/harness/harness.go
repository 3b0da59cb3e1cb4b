package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/lectern/internal/bus"
	"github.com/roach88/lectern/internal/orch"
	"github.com/roach88/lectern/internal/sandbox"
	"github.com/roach88/lectern/internal/script"
	"github.com/roach88/lectern/internal/store"
	"github.com/roach88/lectern/internal/testutil"
)

// Scenario is one scripted lesson run.
type Scenario struct {
	Name     string
	ScriptID string
	Source   string
	Steps    []Step
}

// Step is one delivery into the running session.
type Step struct {
	Gesture map[string]any
	Tick    bool
	Stop    bool
}

// Gesture builds a gesture delivery step.
func Gesture(payload map[string]any) Step {
	return Step{Gesture: payload}
}

// Tick builds a tick delivery step.
func Tick() Step {
	return Step{Tick: true}
}

// Stop builds a graceful stop step.
func Stop() Step {
	return Step{Stop: true}
}

// Result is everything one scenario run produced.
type Result struct {
	SessionID  string
	ScriptID   string
	Status     orch.Status
	Journal    []store.Event
	FinalState json.RawMessage
	Errors     []string
}

// Run executes a scenario against a fresh in-memory stack. Delivery
// errors are recorded, not fatal, so scenarios can exercise failure
// paths; only infrastructure failures return an error.
func Run(sc *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	art, verrs := sandbox.Admit(sc.ScriptID, sc.Source)
	if len(verrs) > 0 {
		return nil, fmt.Errorf("lesson %s failed admission: %s", sc.ScriptID, verrs[0].Error())
	}
	registry := script.NewRegistry()
	registry.Publish(&script.Script{ID: sc.ScriptID, Source: sc.Source, Artifact: art})

	clock := testutil.NewSteppingClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), time.Second)
	orc := orch.New(registry, st, bus.New(st, clock.Now),
		orch.WithNowFunc(clock.Now),
		orch.WithIDGenerator(testutil.NewSequentialIDGenerator("")),
		orch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer orc.Close(context.Background())

	ctx := context.Background()
	res := &Result{ScriptID: sc.ScriptID}

	sessionID, err := orc.StartSession(ctx, sc.ScriptID)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.SessionID = sessionID

	for _, step := range sc.Steps {
		var stepErr error
		switch {
		case step.Stop:
			_, stepErr = orc.StopSession(ctx, sessionID)
		case step.Tick:
			_, stepErr = orc.DeliverTick(ctx, sessionID)
		default:
			_, stepErr = orc.DeliverGesture(ctx, sessionID, step.Gesture)
		}
		if stepErr != nil {
			res.Errors = append(res.Errors, stepErr.Error())
		}
	}

	if err := settle(ctx, orc, sessionID); err != nil {
		return nil, err
	}

	snap, err := orc.GetState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}
	res.Status = snap.Status
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return nil, fmt.Errorf("encode final state: %w", err)
	}
	res.FinalState = stateJSON

	res.Journal, err = st.ListEvents(ctx, sessionID, store.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return res, nil
}

// settle drives the session to a terminal status. Completion
// finalization runs on the session loop after the triggering ack, so a
// short wait may be needed before the terminal commit is visible.
func settle(ctx context.Context, orc *orch.Orchestrator, sessionID string) error {
	snap, err := orc.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		if _, err := orc.StopSession(ctx, sessionID); err != nil && !orch.IsSessionNotRunning(err) {
			return fmt.Errorf("stop session: %w", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = orc.GetState(ctx, sessionID)
		if err != nil {
			return err
		}
		if snap.Status.Terminal() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("session %s never reached a terminal status", sessionID)
}
