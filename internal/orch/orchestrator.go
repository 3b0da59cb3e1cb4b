// Package orch owns session lifecycles: it routes gestures and ticks
// to per-session sandbox instances, commits each hook's side effects
// atomically through the bus, and applies the completion, failure, and
// idle-eviction policies.
package orch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lectern/internal/bus"
	"github.com/roach88/lectern/internal/sandbox"
	"github.com/roach88/lectern/internal/script"
	"github.com/roach88/lectern/internal/state"
	"github.com/roach88/lectern/internal/store"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// Lifecycle event types published by the orchestrator itself, alongside
// whatever the script emits.
const (
	EventSessionStarted   = "session.started"
	EventSessionStopped   = "session.stopped"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
	EventHookFailed       = "hook.failed"
)

// DefaultCompletionEvent is the script-emitted event type that marks a
// lesson as finished.
const DefaultCompletionEvent = "lesson_completed"

// DefaultRetryBudget is how many consecutive timeout/resource aborts a
// session survives before it is failed.
const DefaultRetryBudget = 3

// Ack confirms a handled delivery. Handled is false when the script
// declares no hook for the delivered kind; that is not an error.
type Ack struct {
	SessionID string
	Handled   bool
	Events    []store.Event
}

// Snapshot is a consistent read of one session, taken without entering
// the hook queue.
type Snapshot struct {
	SessionID     string
	ScriptID      string
	ScriptVersion int64
	Status        Status
	State         *state.Map
	StartedAt     time.Time
	LastEventAt   *time.Time
	StoppedAt     *time.Time
}

// Orchestrator runs concurrent lesson sessions. Each session gets its
// own goroutine and FIFO envelope queue, so a wedged script never
// blocks another session.
type Orchestrator struct {
	registry *script.Registry
	store    *store.Store
	bus      *bus.Bus
	logger   *slog.Logger

	hookTimeout     time.Duration
	retryBudget     int
	completionEvent string
	idleTimeout     time.Duration
	now             func() time.Time
	idgen           SessionIDGenerator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New creates an Orchestrator over a registry, store, and bus. The
// bus must wrap the same store.
func New(reg *script.Registry, st *store.Store, b *bus.Bus, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry:        reg,
		store:           st,
		bus:             b,
		logger:          slog.Default(),
		hookTimeout:     sandbox.DefaultHookTimeout,
		retryBudget:     DefaultRetryBudget,
		completionEvent: DefaultCompletionEvent,
		now:             time.Now,
		idgen:           UUIDv7Generator{},
		ctx:             ctx,
		cancel:          cancel,
		sessions:        make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.idleTimeout > 0 {
		o.wg.Add(1)
		go o.janitor()
	}
	return o
}

// StartSession creates a session on the current version of scriptID,
// runs on_start if declared, and publishes session.started. The
// session id is returned even on failure so the caller can correlate
// the session.failed journal entry.
func (o *Orchestrator) StartSession(ctx context.Context, scriptID string) (string, error) {
	sc, ok := o.registry.Current(scriptID)
	if !ok {
		return "", &UnknownScriptError{ScriptID: scriptID}
	}

	sid := o.idgen.NewID()
	now := o.now().UTC()
	err := o.store.CreateSession(ctx, store.SessionRecord{
		SessionID:     sid,
		ScriptID:      sc.ID,
		ScriptVersion: sc.Version,
		Status:        string(StatusCreated),
		StartedAt:     now,
	})
	if err != nil {
		return "", err
	}

	inst, err := sandbox.NewInstance(sc.Artifact,
		sandbox.WithTimeout(o.hookTimeout),
		sandbox.WithLogger(o.logger.With("session_id", sid)),
	)
	if err != nil {
		o.failNewSession(sid, nil, err)
		return sid, err
	}

	s := &session{
		id:           sid,
		script:       sc,
		inst:         inst,
		queue:        newEnvelopeQueue(),
		done:         make(chan struct{}),
		status:       StatusCreated,
		st:           state.New(),
		startedAt:    now,
		lastActivity: now,
	}

	var res *sandbox.HookResult
	if inst.Has(sandbox.HookStart) {
		res, err = inst.Invoke(ctx, sandbox.HookStart, nil, s.currentState())
		if err != nil {
			inst.Close()
			o.failNewSession(sid, hookFailureDraft(sandbox.HookStart, err), err)
			return sid, err
		}
	}

	head := []bus.Draft{{Type: EventSessionStarted, Payload: map[string]any{
		"script_id":      sc.ID,
		"script_version": sc.Version,
	}}}
	events, err := o.applyAndPublish(s, res, head, nil, StatusRunning, false)
	if err != nil {
		inst.Close()
		return sid, fmt.Errorf("start session %s: %w", sid, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		inst.Close()
		return sid, errors.New("orchestrator is closed")
	}
	o.sessions[sid] = s
	o.mu.Unlock()

	// on_start can finish the lesson outright.
	if hasEventType(events, o.completionEvent) {
		o.completeSession(s)
		o.teardown(s)
		close(s.done)
		return sid, nil
	}

	o.wg.Add(1)
	go o.runSession(s)
	return sid, nil
}

// DeliverGesture routes a gesture payload to the session's on_gesture
// hook. Payload keys pass through to the script untouched.
func (o *Orchestrator) DeliverGesture(ctx context.Context, sessionID string, payload map[string]any) (*Ack, error) {
	return o.deliver(ctx, sessionID, envGesture, payload)
}

// DeliverTick routes a timer tick to the session's on_tick hook.
func (o *Orchestrator) DeliverTick(ctx context.Context, sessionID string) (*Ack, error) {
	return o.deliver(ctx, sessionID, envTick, nil)
}

func (o *Orchestrator) deliver(ctx context.Context, sessionID string, kind envKind, payload map[string]any) (*Ack, error) {
	s, err := o.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	env := envelope{kind: kind, payload: payload, reply: make(chan deliverResult, 1)}
	if !s.queue.Enqueue(env) {
		return nil, &SessionNotRunningError{SessionID: sessionID, Status: s.Status()}
	}
	select {
	case r := <-env.reply:
		return r.ack, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StopSession gracefully ends a session: it waits for the in-flight
// hook call, runs on_complete best-effort, and publishes
// session.stopped.
func (o *Orchestrator) StopSession(ctx context.Context, sessionID string) (*Ack, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		return o.stopSession(ctx, s)
	}

	rec, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UnknownSessionError{SessionID: sessionID}
	}
	if err != nil {
		return nil, err
	}
	if Status(rec.Status) == StatusCreated {
		// A crash between row creation and start left the session
		// orphaned; finalize it directly.
		now := o.now().UTC()
		_, err := o.bus.Publish(ctx, bus.Commit{
			SessionID:   sessionID,
			Drafts:      []bus.Draft{{Type: EventSessionStopped}},
			Status:      string(StatusStopped),
			LastEventAt: &now,
			StoppedAt:   &now,
		})
		if err != nil {
			return nil, err
		}
		o.bus.Release(sessionID)
		return &Ack{SessionID: sessionID, Handled: true}, nil
	}
	return nil, &SessionNotRunningError{SessionID: sessionID, Status: Status(rec.Status)}
}

func (o *Orchestrator) stopSession(ctx context.Context, s *session) (*Ack, error) {
	env := envelope{kind: envStop, reply: make(chan deliverResult, 1)}
	if !s.queue.Enqueue(env) {
		return nil, &SessionNotRunningError{SessionID: s.id, Status: s.Status()}
	}
	select {
	case r := <-env.reply:
		return r.ack, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetState returns a consistent snapshot of a session. Live sessions
// are read under the session lock without entering the hook queue;
// finished sessions come from the store.
func (o *Orchestrator) GetState(ctx context.Context, sessionID string) (*Snapshot, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return &Snapshot{
			SessionID:     s.id,
			ScriptID:      s.script.ID,
			ScriptVersion: s.script.Version,
			Status:        s.status,
			State:         s.st.Snapshot(),
			StartedAt:     s.startedAt,
			LastEventAt:   cloneTime(s.lastEventAt),
		}, nil
	}

	rec, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UnknownSessionError{SessionID: sessionID}
	}
	if err != nil {
		return nil, err
	}
	st, err := state.FromJSON(rec.StateJSON)
	if err != nil {
		return nil, fmt.Errorf("decode state for session %s: %w", sessionID, err)
	}
	return &Snapshot{
		SessionID:     rec.SessionID,
		ScriptID:      rec.ScriptID,
		ScriptVersion: rec.ScriptVersion,
		Status:        Status(rec.Status),
		State:         st,
		StartedAt:     rec.StartedAt,
		LastEventAt:   rec.LastEventAt,
		StoppedAt:     rec.StoppedAt,
	}, nil
}

// Close stops all live sessions gracefully, then shuts the session
// loops down. Safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	live := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		if _, err := o.stopSession(ctx, s); err != nil && !IsSessionNotRunning(err) {
			o.logger.Warn("stop session during shutdown", "session_id", s.id, "error", err)
		}
	}
	o.cancel()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, sessionID string) (*session, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &UnknownSessionError{SessionID: sessionID}
	}
	if err != nil {
		return nil, err
	}
	return nil, &SessionNotRunningError{SessionID: sessionID, Status: Status(rec.Status)}
}

// janitor stops sessions idle past the configured timeout.
func (o *Orchestrator) janitor() {
	defer o.wg.Done()
	interval := o.idleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := o.now().UTC().Add(-o.idleTimeout)
		o.mu.Lock()
		var idle []*session
		for _, s := range o.sessions {
			s.mu.Lock()
			if s.status == StatusRunning && s.lastActivity.Before(cutoff) {
				idle = append(idle, s)
			}
			s.mu.Unlock()
		}
		o.mu.Unlock()

		for _, s := range idle {
			o.logger.Info("stopping idle session", "session_id", s.id, "script_id", s.script.ID)
			if _, err := o.stopSession(o.ctx, s); err != nil && !IsSessionNotRunning(err) {
				o.logger.Warn("stop idle session", "session_id", s.id, "error", err)
			}
		}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func hasEventType(events []store.Event, typ string) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}
