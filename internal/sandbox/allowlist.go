package sandbox

// allowedGlobals is the fixed capability allowlist: the only global
// names a script may reference. Everything else is rejected at
// admission time (E101), and the runtime environment never defines the
// rejected names either.
//
// Deliberately absent: load/loadstring/dofile/loadfile/require (dynamic
// execution), os/io/debug/package/coroutine (host escape), rawget/
// rawset/rawequal/getmetatable/setmetatable (sandbox escape hatches),
// getfenv/setfenv, collectgarbage, _G.
var allowedGlobals = map[string]bool{
	// Safe builtins.
	"assert":   true,
	"error":    true,
	"ipairs":   true,
	"next":     true,
	"pairs":    true,
	"pcall":    true,
	"print":    true,
	"select":   true,
	"tonumber": true,
	"tostring": true,
	"type":     true,
	"unpack":   true,
	"xpcall":   true,

	// Safe library modules.
	"string": true,
	"table":  true,
	"math":   true,

	// Host API surface.
	"state": true,
	"emit":  true,
	"log":   true,

	// Hook registration functions.
	nameOnStart:    true,
	nameOnGesture:  true,
	nameOnTick:     true,
	nameOnComplete: true,
}

// registrationKinds maps registration function names to hook kinds.
var registrationKinds = map[string]HookKind{
	nameOnStart:    HookStart,
	nameOnGesture:  HookGesture,
	nameOnTick:     HookTick,
	nameOnComplete: HookComplete,
}
