package orch

import (
	"context"
	"encoding/json"
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

// session is one live lesson run. The session loop goroutine is the
// only caller of inst; the mutex covers the fields read by GetState
// and the janitor.
type session struct {
	id     string
	script *script.Script
	inst   *sandbox.Instance
	queue  *envelopeQueue
	done   chan struct{}

	mu           sync.Mutex
	status       Status
	st           *state.Map
	startedAt    time.Time
	lastEventAt  *time.Time
	lastActivity time.Time

	// aborts counts consecutive timeout/resource failures; any
	// successful invocation resets it.
	aborts int
}

func (s *session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) currentState() *state.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// runSession drains one session's envelope queue until the session
// reaches a terminal status or the orchestrator shuts down.
func (o *Orchestrator) runSession(s *session) {
	defer o.wg.Done()
	defer close(s.done)

	for {
		env, ok := s.queue.TryDequeue()
		if !ok {
			if s.queue.isClosed() {
				return
			}
			select {
			case <-o.ctx.Done():
				o.teardown(s)
				return
			case <-s.queue.Wait():
			}
			continue
		}

		switch env.kind {
		case envStop:
			o.handleStop(s, env)
		default:
			o.handleDeliver(s, env)
		}

		if s.Status() != StatusRunning {
			o.teardown(s)
			return
		}
	}
}

// teardown removes the session from the routing table, fails any
// envelopes that raced in behind the terminal transition, and releases
// the per-session resources held elsewhere in the stack.
func (o *Orchestrator) teardown(s *session) {
	o.mu.Lock()
	delete(o.sessions, s.id)
	o.mu.Unlock()

	s.queue.Close()
	for {
		env, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		env.reply <- deliverResult{err: &SessionNotRunningError{SessionID: s.id, Status: s.Status()}}
	}
	s.inst.Close()
	o.bus.Release(s.id)
}

func (o *Orchestrator) handleDeliver(s *session, env envelope) {
	s.touch(o.now().UTC())

	kind := sandbox.HookGesture
	if env.kind == envTick {
		kind = sandbox.HookTick
	}

	if !s.inst.Has(kind) {
		env.reply <- deliverResult{ack: &Ack{SessionID: s.id, Handled: false}}
		return
	}

	res, err := s.inst.Invoke(o.ctx, kind, env.payload, s.currentState())
	if err != nil {
		o.handleHookError(s, kind, err, env)
		return
	}

	events, err := o.applyAndPublish(s, res, nil, nil, StatusRunning, false)
	if err != nil {
		env.reply <- deliverResult{err: fmt.Errorf("commit %s: %w", kind, err)}
		return
	}
	s.aborts = 0

	env.reply <- deliverResult{ack: &Ack{SessionID: s.id, Handled: true, Events: events}}

	if hasEventType(events, o.completionEvent) {
		o.completeSession(s)
	}
}

// handleHookError applies the failure policy: runtime errors leave the
// session running (one bad frame must not kill a lesson); timeouts and
// resource aborts burn the retry budget and fail the session once it
// is spent. The caller always gets the typed error.
func (o *Orchestrator) handleHookError(s *session, kind sandbox.HookKind, callErr error, env envelope) {
	draft := hookFailureDraft(kind, callErr)

	if sandbox.IsTimeout(callErr) || sandbox.IsResourceExceeded(callErr) {
		s.aborts++
		if s.aborts > o.retryBudget {
			o.failSession(s, []bus.Draft{*draft}, callErr)
			env.reply <- deliverResult{err: callErr}
			return
		}
	}

	if _, err := o.bus.Publish(o.ctx, bus.Commit{SessionID: s.id, Drafts: []bus.Draft{*draft}}); err != nil {
		o.logger.Error("publish hook.failed", "session_id", s.id, "error", err)
	}
	env.reply <- deliverResult{err: callErr}
}

func (o *Orchestrator) handleStop(s *session, env envelope) {
	events, err := o.finalize(s, StatusStopped, EventSessionStopped)
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.mu.Unlock()
		env.reply <- deliverResult{err: fmt.Errorf("finalize stop: %w", err)}
		return
	}
	env.reply <- deliverResult{ack: &Ack{SessionID: s.id, Handled: true, Events: events}}
}

// completeSession runs after a committed completion-event emission.
func (o *Orchestrator) completeSession(s *session) {
	if _, err := o.finalize(s, StatusCompleted, EventSessionCompleted); err != nil {
		o.logger.Error("finalize completed session", "session_id", s.id, "error", err)
		s.mu.Lock()
		s.status = StatusFailed
		s.mu.Unlock()
	}
}

// finalize runs on_complete best-effort, then publishes the terminal
// lifecycle event and session-row update in one commit.
func (o *Orchestrator) finalize(s *session, endStatus Status, endEvent string) ([]store.Event, error) {
	tail := []bus.Draft{{Type: endEvent}}
	var res *sandbox.HookResult
	if s.inst.Has(sandbox.HookComplete) {
		r, err := s.inst.Invoke(o.ctx, sandbox.HookComplete, nil, s.currentState())
		if err != nil {
			o.logger.Warn("on_complete hook failed", "session_id", s.id,
				"script_id", s.script.ID, "error", err)
			tail = append([]bus.Draft{*hookFailureDraft(sandbox.HookComplete, err)}, tail...)
		} else {
			res = r
		}
	}
	return o.applyAndPublish(s, res, nil, tail, endStatus, true)
}

// failSession moves a running session to failed with its journal
// entry. Store errors here are logged, not returned: the in-memory
// transition happens regardless so the loop tears the session down.
func (o *Orchestrator) failSession(s *session, drafts []bus.Draft, cause error) {
	now := o.now().UTC()
	drafts = append(drafts, bus.Draft{Type: EventSessionFailed, Payload: map[string]any{
		"error": cause.Error(),
	}})
	_, err := o.bus.Publish(o.ctx, bus.Commit{
		SessionID:   s.id,
		Drafts:      drafts,
		Status:      string(StatusFailed),
		LastEventAt: &now,
		StoppedAt:   &now,
	})
	if err != nil {
		o.logger.Error("publish session.failed", "session_id", s.id, "error", err)
	}
	s.mu.Lock()
	s.status = StatusFailed
	s.mu.Unlock()
}

// failNewSession journals a start that never reached running. The
// session has a store row but no loop yet.
func (o *Orchestrator) failNewSession(sid string, hookDraft *bus.Draft, cause error) {
	now := o.now().UTC()
	var drafts []bus.Draft
	if hookDraft != nil {
		drafts = append(drafts, *hookDraft)
	}
	drafts = append(drafts, bus.Draft{Type: EventSessionFailed, Payload: map[string]any{
		"error": cause.Error(),
	}})
	_, err := o.bus.Publish(o.ctx, bus.Commit{
		SessionID:   sid,
		Drafts:      drafts,
		Status:      string(StatusFailed),
		LastEventAt: &now,
		StoppedAt:   &now,
	})
	if err != nil {
		o.logger.Error("publish session.failed", "session_id", sid, "error", err)
	}
	o.bus.Release(sid)
}

// applyAndPublish turns one successful hook result into a single
// atomic commit: the new state JSON, the script's emissions (framed by
// optional lifecycle drafts), and the session-row update. The
// in-memory state is installed only after the journal commit, so a
// store failure leaves the session exactly where it was.
func (o *Orchestrator) applyAndPublish(s *session, res *sandbox.HookResult, head, tail []bus.Draft, status Status, stopped bool) ([]store.Event, error) {
	next := s.currentState()
	drafts := append([]bus.Draft{}, head...)
	if res != nil {
		if res.Delta != nil && res.Delta.Len() > 0 {
			next = next.Snapshot()
			if err := next.Apply(res.Delta); err != nil {
				return nil, fmt.Errorf("apply state delta: %w", err)
			}
		}
		for _, ev := range res.Events {
			drafts = append(drafts, bus.Draft{Type: ev.Type, Payload: ev.Payload})
		}
		o.emitLogs(s, res.Logs)
	}
	drafts = append(drafts, tail...)

	stateJSON, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	now := o.now().UTC()
	commit := bus.Commit{
		SessionID:   s.id,
		Drafts:      drafts,
		StateJSON:   stateJSON,
		Status:      string(status),
		LastEventAt: &now,
	}
	if stopped {
		commit.StoppedAt = &now
	}
	events, err := o.bus.Publish(o.ctx, commit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.st = next
	s.status = status
	s.lastEventAt = &now
	s.mu.Unlock()
	return events, nil
}

func (o *Orchestrator) emitLogs(s *session, lines []sandbox.LogLine) {
	for _, ln := range lines {
		lvl := slog.LevelInfo
		switch ln.Level {
		case "debug":
			lvl = slog.LevelDebug
		case "warning":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		}
		o.logger.Log(context.Background(), lvl, ln.Message,
			"session_id", s.id, "script_id", s.script.ID)
	}
}

// hookFailureDraft journals a failed hook call with its error taxonomy
// code.
func hookFailureDraft(kind sandbox.HookKind, err error) *bus.Draft {
	code := string(sandbox.CodeRuntimeError)
	msg := err.Error()
	var ee *sandbox.ExecError
	if errors.As(err, &ee) {
		code = string(ee.Code)
		msg = ee.Message
	}
	return &bus.Draft{Type: EventHookFailed, Payload: map[string]any{
		"hook":  kind.String(),
		"code":  code,
		"error": msg,
	}}
}
