// Package sandbox compiles and executes lesson scripts inside a
// restricted Lua interpreter.
//
// Admission is a compile-time gate: the source is parsed, every global
// reference is checked against a fixed capability allowlist, and the
// module scope is executed once under a deadline to discover declared
// hooks. Admitted scripts become immutable Artifacts holding the
// compiled function prototype.
//
// Execution is per session: each session owns an Instance with its own
// lua.LState, so no Lua value is ever shared between sessions. A hook
// call buffers state writes and event emissions; nothing publishes
// until the orchestrator commits the returned HookResult.
package sandbox
