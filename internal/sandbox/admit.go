package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	luaparse "github.com/yuin/gopher-lua/parse"
)

// MaxSourceBytes bounds lesson source size at admission.
const MaxSourceBytes = 1 << 20 // 1 MiB

// moduleScopeTimeout bounds the discovery run and instance boot. Module
// scope only registers hooks and fixes constants, so this is generous.
const moduleScopeTimeout = 3 * time.Second

// Artifact is an admitted, compiled script: immutable and safe to share
// across sessions. Each session instantiates its own LState from the
// prototype, so no Lua value ever crosses a session boundary.
type Artifact struct {
	ScriptID string
	Proto    *lua.FunctionProto
	Hooks    HookSet
}

// Admit validates script source against the capability allowlist and
// compiles it. This is the compile-time gate: any disallowed reference,
// syntax error, duplicate hook, or module-scope side effect rejects the
// script here, never at event-delivery time.
//
// Capability violations are collected, not fail-fast; a rejected script
// reports every offending name in one pass.
func Admit(scriptID, source string) (*Artifact, []ValidationError) {
	if len(source) > MaxSourceBytes {
		return nil, []ValidationError{{
			Code:     ErrSourceTooLarge,
			Message:  fmt.Sprintf("source is %d bytes, limit is %d", len(source), MaxSourceBytes),
			ScriptID: scriptID,
		}}
	}

	chunk, err := luaparse.Parse(strings.NewReader(source), scriptID)
	if err != nil {
		verr := ValidationError{
			Code:     ErrSyntax,
			Message:  err.Error(),
			ScriptID: scriptID,
		}
		if pe, ok := err.(*luaparse.Error); ok {
			verr.Line = pe.Pos.Line
			verr.Message = pe.Error()
		}
		return nil, []ValidationError{verr}
	}

	if violations := checkCapabilities(scriptID, chunk); len(violations) > 0 {
		// Never execute a chunk that failed the guard, even for
		// hook discovery.
		return nil, violations
	}

	proto, err := lua.Compile(chunk, scriptID)
	if err != nil {
		return nil, []ValidationError{{
			Code:     ErrSyntax,
			Message:  err.Error(),
			ScriptID: scriptID,
		}}
	}

	hooks, verr := discoverHooks(scriptID, proto)
	if verr != nil {
		return nil, []ValidationError{*verr}
	}

	return &Artifact{ScriptID: scriptID, Proto: proto, Hooks: hooks}, nil
}

// discoverHooks runs the module scope once in a throwaway LState to
// scan the declared registrations. Duplicate registrations and
// module-scope state/emit/log calls surface here as compile-time
// errors.
func discoverHooks(scriptID string, proto *lua.FunctionProto) (HookSet, *ValidationError) {
	L := newLState()
	defer L.Close()
	host := installHost(L, scriptID, nil)

	ctx, cancel := context.WithTimeout(context.Background(), moduleScopeTimeout)
	defer cancel()
	L.SetContext(ctx)
	L.Push(L.NewFunctionFromProto(proto))
	err := L.PCall(0, 0, nil)
	L.RemoveContext()

	if err != nil {
		if host.admitErr != nil {
			return HookSet{}, host.admitErr
		}
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "module scope exceeded its deadline"
		}
		return HookSet{}, &ValidationError{
			Code:     ErrModuleScopeFailed,
			Message:  fmt.Sprintf("module scope failed: %s", msg),
			ScriptID: scriptID,
		}
	}

	var set HookSet
	for kind := range host.hooks {
		set.add(kind)
	}
	return set, nil
}
