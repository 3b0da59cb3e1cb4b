package sandbox

import (
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/lectern/internal/state"
)

// EventDraft is a buffered script emission. Drafts carry no sequence
// number; the bus assigns one when the owning hook call commits.
type EventDraft struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// LogLine is one buffered log() call from script code.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// logLevels is the script-visible level set.
var logLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warning": true,
	"error":   true,
}

// callState buffers the side effects of a single hook invocation.
// Nothing in it touches committed session state; the orchestrator
// applies the delta and publishes the events only after the hook
// returns without error.
type callState struct {
	committed *state.Map
	delta     *state.Delta
	events    []EventDraft
	logs      []LogLine
	abort     *ExecError
}

// hostEnv is the Go side of the script-visible API for one LState.
type hostEnv struct {
	scriptID string
	logger   *slog.Logger

	// hooks are the functions captured by the registration calls at
	// module scope.
	hooks map[HookKind]*lua.LFunction

	// inHook is true while a hook call is executing; registration is
	// only legal when it is false, state/emit/log only when true.
	inHook bool

	// call is the active invocation's buffer, nil at module scope.
	call *callState

	// admitErr records the structured form of a module-scope
	// violation before the Lua error unwinds the chunk.
	admitErr *ValidationError
}

// installHost wires the host API into L and returns the environment.
func installHost(L *lua.LState, scriptID string, logger *slog.Logger) *hostEnv {
	if logger == nil {
		logger = slog.Default()
	}
	h := &hostEnv{
		scriptID: scriptID,
		logger:   logger,
		hooks:    make(map[HookKind]*lua.LFunction),
	}

	for name, kind := range registrationKinds {
		name, kind := name, kind
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			return h.register(L, name, kind)
		}))
	}

	stateTbl := L.NewTable()
	L.SetField(stateTbl, "get", L.NewFunction(h.stateGet))
	L.SetField(stateTbl, "set", L.NewFunction(h.stateSet))
	L.SetField(stateTbl, "update", L.NewFunction(h.stateUpdate))
	L.SetField(stateTbl, "snapshot", L.NewFunction(h.stateSnapshot))
	L.SetGlobal("state", stateTbl)

	L.SetGlobal("emit", L.NewFunction(h.emit))
	L.SetGlobal("log", L.NewFunction(h.log))

	// print goes to the host log, never to the process stdout.
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		h.logger.Debug("script print", "script_id", h.scriptID, "message", strings.Join(parts, "\t"))
		return 0
	}))

	return h
}

// register handles one on_* registration call.
func (h *hostEnv) register(L *lua.LState, name string, kind HookKind) int {
	if h.inHook {
		L.RaiseError("%s may only be called at module scope", name)
		return 0
	}
	fn := L.CheckFunction(1)
	if _, dup := h.hooks[kind]; dup {
		h.admitErr = &ValidationError{
			Code:     ErrDuplicateHook,
			Message:  fmt.Sprintf("hook %s registered more than once", name),
			ScriptID: h.scriptID,
			Name:     name,
		}
		L.RaiseError("hook %s registered more than once", name)
		return 0
	}
	h.hooks[kind] = fn
	return 0
}

// requireCall guards the state/emit/log surface: callable only from
// inside a hook. At module scope it records an E103 and raises.
func (h *hostEnv) requireCall(L *lua.LState, what string) *callState {
	if h.call == nil {
		h.admitErr = &ValidationError{
			Code:     ErrModuleScopeCall,
			Message:  fmt.Sprintf("%s may only be called from inside a hook (module scope must be side-effect free)", what),
			ScriptID: h.scriptID,
			Name:     what,
		}
		L.RaiseError("%s may only be called from inside a hook", what)
		return nil
	}
	return h.call
}

func (h *hostEnv) stateGet(L *lua.LState) int {
	call := h.requireCall(L, "state.get")
	key := L.CheckString(1)
	def := L.Get(2)

	if v, ok := call.delta.Get(key); ok {
		L.Push(goToLua(L, v))
		return 1
	}
	if v, ok := call.committed.Get(key); ok {
		L.Push(goToLua(L, v))
		return 1
	}
	L.Push(def)
	return 1
}

func (h *hostEnv) stateSet(L *lua.LState) int {
	call := h.requireCall(L, "state.set")
	key := L.CheckString(1)
	val := luaToGo(L.Get(2))

	if val == nil {
		L.RaiseError("state.set(%q): nil is not storable", key)
		return 0
	}
	if err := state.ValidateValue(val); err != nil {
		call.abort = &ExecError{
			Code:     CodeResourceExceeded,
			Message:  fmt.Sprintf("state.set(%q): %v", key, err),
			ScriptID: h.scriptID,
		}
		L.RaiseError("state.set(%q): %v", key, err)
		return 0
	}
	call.delta.Set(key, val)
	return 0
}

func (h *hostEnv) stateUpdate(L *lua.LState) int {
	call := h.requireCall(L, "state.update")
	tbl := L.CheckTable(1)

	// Convert and validate the whole mapping before buffering any
	// key, keeping the update atomic even against a bad value.
	type kv struct {
		key string
		val any
	}
	var pairs []kv
	var nilKey string
	var hasNil bool
	var badKey string
	var badErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if badErr != nil || hasNil {
			return
		}
		key := k.String()
		val := luaToGo(v)
		if val == nil {
			// Functions, userdata and the like convert to nil; none
			// of it is storable.
			nilKey, hasNil = key, true
			return
		}
		if err := state.ValidateValue(val); err != nil {
			badKey, badErr = key, err
			return
		}
		pairs = append(pairs, kv{key: key, val: val})
	})
	if hasNil {
		L.RaiseError("state.update key %q: nil is not storable", nilKey)
		return 0
	}
	if badErr != nil {
		call.abort = &ExecError{
			Code:     CodeResourceExceeded,
			Message:  fmt.Sprintf("state.update key %q: %v", badKey, badErr),
			ScriptID: h.scriptID,
		}
		L.RaiseError("state.update key %q: %v", badKey, badErr)
		return 0
	}
	for _, p := range pairs {
		call.delta.Set(p.key, p.val)
	}
	return 0
}

func (h *hostEnv) stateSnapshot(L *lua.LState) int {
	call := h.requireCall(L, "state.snapshot")

	tbl := L.NewTable()
	for _, key := range call.committed.Keys() {
		v, _ := call.committed.Get(key)
		L.SetField(tbl, key, goToLua(L, v))
	}
	for _, op := range call.delta.Ops() {
		L.SetField(tbl, op.Key, goToLua(L, op.Value))
	}
	L.Push(tbl)
	return 1
}

func (h *hostEnv) emit(L *lua.LState) int {
	call := h.requireCall(L, "emit")
	eventType := L.CheckString(1)

	payload := map[string]any{}
	if L.GetTop() >= 2 {
		payload = luaTableToGoMap(L.CheckTable(2))
	}
	call.events = append(call.events, EventDraft{Type: eventType, Payload: payload})
	return 0
}

func (h *hostEnv) log(L *lua.LState) int {
	call := h.requireCall(L, "log")
	level := strings.ToLower(L.CheckString(1))
	msg := L.CheckString(2)

	if !logLevels[level] {
		L.RaiseError("log: unknown level %q (want debug|info|warning|error)", level)
		return 0
	}
	call.logs = append(call.logs, LogLine{Level: level, Message: msg})
	return 0
}
