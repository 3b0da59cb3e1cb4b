package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// VM resource bounds. The registry cap is the memory ceiling gopher-lua
// offers: a hook that allocates without bound trips it and the call is
// aborted with RESOURCE_EXCEEDED.
const (
	defaultRegistrySize    = 1024 * 20
	defaultRegistryMaxSize = 1024 * 80
	defaultCallStackSize   = 120
)

// newLState builds a restricted lua.LState: standard libraries are
// skipped and only the safe set (base, table, string, math) is opened,
// then every base function outside the allowlist is removed so the
// runtime environment matches the admission-time capability gate.
func newLState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		RegistrySize:    defaultRegistrySize,
		RegistryMaxSize: defaultRegistryMaxSize,
		CallStackSize:   defaultCallStackSize,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// OpenBase installs more than the allowlist admits. Remove the
	// escape hatches so a reference that slipped past the guard
	// (e.g. via a shadowing local) still finds nothing.
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "require",
		"rawget", "rawset", "rawequal", "rawlen",
		"getmetatable", "setmetatable", "getfenv", "setfenv",
		"collectgarbage", "newproxy", "module", "_printregs", "_G",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	return L
}
