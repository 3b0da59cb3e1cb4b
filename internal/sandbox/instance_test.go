package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/state"
)

func emptyState() *state.Map {
	return state.New()
}

func mustAdmit(t *testing.T, id, src string) *Artifact {
	t.Helper()
	art, errs := Admit(id, src)
	require.Empty(t, errs)
	return art
}

func mustInstance(t *testing.T, id, src string, opts ...InstanceOption) *Instance {
	t.Helper()
	in, err := NewInstance(mustAdmit(t, id, src), opts...)
	require.NoError(t, err)
	t.Cleanup(in.Close)
	return in
}

func TestInvoke_BuffersStateEventsAndLogs(t *testing.T) {
	in := mustInstance(t, "counting", `
on_gesture(function(g)
  local total = state.get("total", 0) + g.fingerCount
  state.set("total", total)
  state.set("last_gesture", g.gesture)
  emit("gesture_processed", { gesture = g.gesture, total = total })
  log("info", "saw " .. g.gesture)
end)`)

	committed := emptyState()
	payload := map[string]any{"gesture": "open_palm", "fingerCount": 5.0}
	res, err := in.Invoke(context.Background(), HookGesture, payload, committed)
	require.NoError(t, err)

	// Nothing committed yet.
	assert.Equal(t, 0, committed.Len())

	applied := committed.Snapshot()
	require.NoError(t, applied.Apply(res.Delta))
	total, _ := applied.Get("total")
	assert.Equal(t, 5.0, total)
	last, _ := applied.Get("last_gesture")
	assert.Equal(t, "open_palm", last)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "gesture_processed", res.Events[0].Type)
	assert.Equal(t, "open_palm", res.Events[0].Payload["gesture"])
	assert.Equal(t, 5.0, res.Events[0].Payload["total"])

	require.Len(t, res.Logs, 1)
	assert.Equal(t, LogLine{Level: "info", Message: "saw open_palm"}, res.Logs[0])
}

func TestInvoke_ReadYourWritesWithinCall(t *testing.T) {
	in := mustInstance(t, "ryw", `
on_tick(function()
  state.set("n", state.get("n", 0) + 1)
  state.set("n", state.get("n", 0) + 1)
  emit("count", { n = state.get("n", 0) })
end)`)

	res, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Events[0].Payload["n"])
}

func TestInvoke_RuntimeErrorDiscardsBuffers(t *testing.T) {
	in := mustInstance(t, "divzero", `
on_gesture(function(g)
  state.update({ x = 1 })
  emit("e", {})
  error("attempt to divide by zero")
end)`)

	committed := emptyState()
	_, err := in.Invoke(context.Background(), HookGesture, map[string]any{"gesture": "fist"}, committed)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))

	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, HookGesture, ee.Hook)
	assert.Equal(t, "divzero", ee.ScriptID)

	// No partial state, no events.
	assert.Equal(t, 0, committed.Len())
}

func TestInvoke_ExplicitErrorCarriesTraceback(t *testing.T) {
	in := mustInstance(t, "raiser", `
local function inner()
  error("lesson exploded")
end
on_tick(function()
  inner()
end)`)

	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeRuntimeError, ee.Code)
	assert.Contains(t, ee.Message, "lesson exploded")
	assert.NotEmpty(t, ee.Traceback)
}

func TestInvoke_TimeoutAbortsAndInstanceRecovers(t *testing.T) {
	in := mustInstance(t, "spinner", `
on_tick(function()
  while true do end
end)
on_gesture(function(g)
  state.set("ok", true)
end)`, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	// The instance is rebuilt and usable for the next event.
	res, err := in.Invoke(context.Background(), HookGesture, map[string]any{"gesture": "fist"}, emptyState())
	require.NoError(t, err)
	applied := emptyState()
	require.NoError(t, applied.Apply(res.Delta))
	ok, _ := applied.Get("ok")
	assert.Equal(t, true, ok)
}

func TestInvoke_OversizedStateValue(t *testing.T) {
	in := mustInstance(t, "hog", `
on_tick(function()
  state.set("blob", string.rep("x", 70 * 1024))
end)`)

	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	assert.True(t, IsResourceExceeded(err))
}

func TestInvoke_NilStateValueIsRuntimeError(t *testing.T) {
	in := mustInstance(t, "ghost", `
on_tick(function()
  state.set("ghost", nil)
end)`)

	committed := emptyState()
	_, err := in.Invoke(context.Background(), HookTick, nil, committed)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "not storable")
	_, present := committed.Get("ghost")
	assert.False(t, present)
}

func TestInvoke_UpdateWithNilValueIsRuntimeError(t *testing.T) {
	in := mustInstance(t, "ghostupdate", `
on_tick(function()
  state.update({ ok = 1, f = print })
end)`)

	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "not storable")
}

func TestInvoke_UpdateWithBadValueBuffersNothing(t *testing.T) {
	in := mustInstance(t, "mixed", `
on_tick(function()
  state.update({ small = 1, blob = string.rep("x", 70 * 1024) })
end)`)

	committed := emptyState()
	_, err := in.Invoke(context.Background(), HookTick, nil, committed)
	require.Error(t, err)
	assert.True(t, IsResourceExceeded(err))
	assert.Equal(t, 0, committed.Len())
}

func TestInvoke_FrozenModuleScope(t *testing.T) {
	in := mustInstance(t, "frozen", `
counter = 0
on_tick(function()
  counter = counter + 1
end)`)

	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "read-only")
}

func TestInvoke_ModuleConstantsReadable(t *testing.T) {
	in := mustInstance(t, "consts", `
local STEP = 25
NAME = "Counting Fingers"
on_tick(function()
  state.set("step", STEP)
  state.set("name", NAME)
end)`)

	res, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.NoError(t, err)
	applied := emptyState()
	require.NoError(t, applied.Apply(res.Delta))
	step, _ := applied.Get("step")
	assert.Equal(t, 25.0, step)
	name, _ := applied.Get("name")
	assert.Equal(t, "Counting Fingers", name)
}

func TestInvoke_InstancesAreIsolated(t *testing.T) {
	art := mustAdmit(t, "iso", `
on_tick(function()
  state.set("n", state.get("n", 0) + 1)
end)`)

	a, err := NewInstance(art)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewInstance(art)
	require.NoError(t, err)
	defer b.Close()

	stateA, stateB := emptyState(), emptyState()
	res, err := a.Invoke(context.Background(), HookTick, nil, stateA)
	require.NoError(t, err)
	require.NoError(t, stateA.Apply(res.Delta))

	// Session B starts from its own state, unaffected by A.
	res, err = b.Invoke(context.Background(), HookTick, nil, stateB)
	require.NoError(t, err)
	require.NoError(t, stateB.Apply(res.Delta))

	nA, _ := stateA.Get("n")
	nB, _ := stateB.Get("n")
	assert.Equal(t, 1.0, nA)
	assert.Equal(t, 1.0, nB)
}

func TestInvoke_BadLogLevelIsRuntimeError(t *testing.T) {
	in := mustInstance(t, "badlog", `
on_tick(function()
  log("shout", "HELLO")
end)`)

	_, err := in.Invoke(context.Background(), HookTick, nil, emptyState())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "unknown level")
}
