package harness

import "testing"

func TestGolden_CountingToThree(t *testing.T) {
	RunWithGolden(t, &Scenario{
		Name:     "counting_to_three",
		ScriptID: "counting",
		Source: `
on_start(function()
  state.set("count", 0)
end)

on_gesture(function(g)
  local c = state.get("count", 0) + 1
  state.set("count", c)
  emit("counted", { gesture = g.gesture, total = c })
  if c >= 3 then
    emit("lesson_completed", { total = c })
  end
end)

on_complete(function()
  emit("farewell", {})
end)
`,
		Steps: []Step{
			Gesture(map[string]any{"gesture": "open_palm"}),
			Gesture(map[string]any{"gesture": "open_palm"}),
			Gesture(map[string]any{"gesture": "open_palm"}),
		},
	})
}

func TestGolden_TickProgress(t *testing.T) {
	RunWithGolden(t, &Scenario{
		Name:     "tick_progress",
		ScriptID: "ticker",
		Source: `
on_start(function()
  state.set("ticks", 0)
end)

on_tick(function()
  local n = state.get("ticks", 0) + 1
  state.set("ticks", n)
  emit("tick", { n = n })
end)
`,
		Steps: []Step{Tick(), Tick(), Stop()},
	})
}
