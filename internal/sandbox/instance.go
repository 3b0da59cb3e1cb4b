package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/lectern/internal/state"
)

// DefaultHookTimeout is the wall-clock bound on a single hook call.
const DefaultHookTimeout = 3 * time.Second

// HookResult carries the buffered side effects of one successful hook
// invocation. Nothing in it has been applied or published yet.
type HookResult struct {
	Delta  *state.Delta
	Events []EventDraft
	Logs   []LogLine
}

// Instance is one session's live copy of an admitted script. It owns a
// private LState instantiated from the artifact's prototype; after the
// module scope runs once, the global scope is frozen so hook code can
// only mutate session state through the state API.
//
// Instance is not safe for concurrent use. The orchestrator's
// per-session loop is the only caller.
type Instance struct {
	scriptID string
	proto    *lua.FunctionProto
	timeout  time.Duration
	logger   *slog.Logger

	L     *lua.LState
	host  *hostEnv
	hooks map[HookKind]*lua.LFunction

	// dead is set when a post-abort rebuild fails; every later
	// Invoke returns it.
	dead *ExecError
}

// InstanceOption configures an Instance.
type InstanceOption func(*Instance)

// WithTimeout sets the per-call wall-clock deadline.
func WithTimeout(d time.Duration) InstanceOption {
	return func(in *Instance) {
		in.timeout = d
	}
}

// WithLogger sets the logger used for script print/diagnostics.
func WithLogger(logger *slog.Logger) InstanceOption {
	return func(in *Instance) {
		in.logger = logger
	}
}

// NewInstance builds a session instance from an admitted artifact and
// runs its module scope.
func NewInstance(art *Artifact, opts ...InstanceOption) (*Instance, error) {
	in := &Instance{
		scriptID: art.ScriptID,
		proto:    art.Proto,
		timeout:  DefaultHookTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if err := in.boot(); err != nil {
		return nil, err
	}
	return in, nil
}

// boot creates the LState, runs module scope, captures the registered
// hooks, and freezes the global scope.
func (in *Instance) boot() error {
	L := newLState()
	host := installHost(L, in.scriptID, in.logger)

	ctx, cancel := context.WithTimeout(context.Background(), moduleScopeTimeout)
	defer cancel()
	L.SetContext(ctx)
	L.Push(L.NewFunctionFromProto(in.proto))
	err := L.PCall(0, 0, nil)
	L.RemoveContext()

	if err != nil {
		execErr := classify(err, in.scriptID, 0, ctx, nil)
		L.Close()
		return execErr
	}

	freezeGlobals(L)
	in.L = L
	in.host = host
	in.hooks = host.hooks
	return nil
}

// Close releases the instance's LState.
func (in *Instance) Close() {
	if in.L != nil {
		in.L.Close()
		in.L = nil
	}
}

// Has reports whether the script declared a hook of the given kind.
func (in *Instance) Has(kind HookKind) bool {
	_, ok := in.hooks[kind]
	return ok
}

// Invoke runs one hook under the instance's deadline. committed is the
// session's current state; it is only read. On success the returned
// HookResult holds the call's delta, emissions, and log lines. On any
// failure the buffers are discarded and a typed *ExecError is returned;
// committed state is never touched either way.
//
// After a timeout or resource abort the LState may be torn mid-call, so
// it is rebuilt from the prototype before the next invocation.
func (in *Instance) Invoke(ctx context.Context, kind HookKind, payload map[string]any, committed *state.Map) (*HookResult, error) {
	if in.dead != nil {
		return nil, in.dead
	}
	fn, ok := in.hooks[kind]
	if !ok {
		return nil, fmt.Errorf("script %s declares no %s hook", in.scriptID, kind)
	}

	call := &callState{committed: committed, delta: &state.Delta{}}
	in.host.call = call
	in.host.inHook = true
	defer func() {
		in.host.call = nil
		in.host.inHook = false
	}()

	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	in.L.SetContext(ctx)
	in.L.Push(fn)
	nargs := 0
	if kind == HookGesture {
		in.L.Push(goMapToLuaTable(in.L, payload))
		nargs = 1
	}
	err := in.L.PCall(nargs, 0, nil)
	in.L.RemoveContext()
	in.L.SetTop(0)

	if err != nil {
		execErr := classify(err, in.scriptID, kind, ctx, call)
		if execErr.Code != CodeRuntimeError {
			in.rebuild()
		}
		return nil, execErr
	}

	return &HookResult{Delta: call.delta, Events: call.events, Logs: call.logs}, nil
}

// rebuild replaces a torn LState with a fresh one from the prototype.
func (in *Instance) rebuild() {
	in.Close()
	if err := in.boot(); err != nil {
		in.logger.Error("sandbox rebuild failed", "script_id", in.scriptID, "error", err)
		in.dead = &ExecError{
			Code:     CodeResourceExceeded,
			Message:  fmt.Sprintf("instance unusable after abort: %v", err),
			ScriptID: in.scriptID,
		}
	}
}

// classify converts a PCall error into a typed ExecError.
func classify(err error, scriptID string, kind HookKind, ctx context.Context, call *callState) *ExecError {
	if call != nil && call.abort != nil {
		call.abort.Hook = kind
		return call.abort
	}

	msg := err.Error()
	traceback := ""
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg = apiErr.Object.String()
		traceback = apiErr.StackTrace
	}

	if ctx.Err() != nil {
		return &ExecError{
			Code:     CodeTimeout,
			Message:  fmt.Sprintf("hook exceeded its deadline: %v", ctx.Err()),
			ScriptID: scriptID,
			Hook:     kind,
		}
	}
	if strings.Contains(msg, "registry overflow") || strings.Contains(msg, "stack overflow") {
		return &ExecError{
			Code:      CodeResourceExceeded,
			Message:   msg,
			ScriptID:  scriptID,
			Hook:      kind,
			Traceback: traceback,
		}
	}
	return &ExecError{
		Code:      CodeRuntimeError,
		Message:   msg,
		ScriptID:  scriptID,
		Hook:      kind,
		Traceback: traceback,
	}
}

// freezeGlobals moves every global behind a read-only shadow table.
// Reads keep working through __index; any write raises, so mutable
// script state has exactly one home: the state API. Module-scope values
// become constants fixed at load.
func freezeGlobals(L *lua.LState) {
	g := L.Get(lua.GlobalsIndex).(*lua.LTable)

	shadow := L.NewTable()
	var keys []lua.LValue
	g.ForEach(func(k, v lua.LValue) {
		shadow.RawSet(k, v)
		keys = append(keys, k)
	})
	for _, k := range keys {
		g.RawSet(k, lua.LNil)
	}

	mt := L.NewTable()
	mt.RawSetString("__index", shadow)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		L.RaiseError("module scope is read-only: cannot assign %q from a hook (use state.set)", key.String())
		return 0
	}))
	L.SetMetatable(g, mt)
}
