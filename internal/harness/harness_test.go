package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RecordsDeliveryErrors(t *testing.T) {
	res, err := Run(&Scenario{
		Name:     "flaky",
		ScriptID: "flaky",
		Source: `
on_gesture(function(g)
  if g.gesture == "boom" then
    state.set("poison", true)
    error("deliberate failure")
  end
  state.set("ok", true)
end)
`,
		Steps: []Step{
			Gesture(map[string]any{"gesture": "boom"}),
			Gesture(map[string]any{"gesture": "fine"}),
			Stop(),
		},
	})
	require.NoError(t, err)

	// The bad frame is recorded but does not end the scenario.
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "RUNTIME_ERROR")
	assert.Equal(t, "stopped", string(res.Status))

	// The failed call left no state; the good one committed.
	assert.NotContains(t, string(res.FinalState), "poison")
	assert.Contains(t, string(res.FinalState), "ok")

	var sawFailure bool
	for _, ev := range res.Journal {
		if ev.Type == "hook.failed" {
			sawFailure = true
			assert.Equal(t, "RUNTIME_ERROR", ev.Payload["code"])
		}
	}
	assert.True(t, sawFailure)
}

func TestRun_InadmissibleLessonFails(t *testing.T) {
	_, err := Run(&Scenario{
		Name:     "escape",
		ScriptID: "escape",
		Source:   `on_start(function() os.exit(1) end)`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E101")
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	sc := &Scenario{
		Name:     "repeat",
		ScriptID: "repeat",
		Source: `
on_gesture(function(g)
  state.set("last", g.gesture)
  emit("seen", { gesture = g.gesture })
end)
`,
		Steps: []Step{
			Gesture(map[string]any{"gesture": "fist"}),
			Stop(),
		},
	}

	first, err := Run(sc)
	require.NoError(t, err)
	second, err := Run(sc)
	require.NoError(t, err)

	a, err := marshalTranscript(sc.Name, first)
	require.NoError(t, err)
	b, err := marshalTranscript(sc.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
