package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tickerLesson = `-- ---
-- title: Ticker
-- ---

on_start(function()
  state.set("ticks", 0)
end)

on_tick(function()
  state.set("ticks", state.get("ticks", 0) + 1)
  emit("tick", { n = state.get("ticks") })
end)

on_gesture(function(g)
  emit("gesture_seen", { gesture = g.gesture, fingers = g.fingerCount })
end)
`

// syncBuffer guards concurrent writes from the journal stream and the
// command itself.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_DrivesSessionAndStopsGracefully(t *testing.T) {
	dir := t.TempDir()
	writeLessonFile(t, dir, "ticker.lua", tickerLesson)
	dbPath := filepath.Join(t.TempDir(), "run.db")

	out := &syncBuffer{}
	rootOpts := &RootOptions{Format: "text", Lessons: dir}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader("open_palm 5\n"))
	cmd.SetArgs([]string{"ticker", "--db", dbPath, "--tick", "20ms"})

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	cmd.SetContext(ctx)

	err := cmd.Execute()
	require.NoError(t, err)

	output := out.String()
	assert.Contains(t, output, "started on lesson \"ticker\"")
	assert.Contains(t, output, "session.started")
	assert.Contains(t, output, "gesture_seen")
	assert.Contains(t, output, "tick")
	assert.Contains(t, output, "Final state:")
	assert.Contains(t, output, "stopped")
}

func TestRun_UnknownLessonIsCommandError(t *testing.T) {
	dir := t.TempDir()
	writeLessonFile(t, dir, "ticker.lua", tickerLesson)
	dbPath := filepath.Join(t.TempDir(), "run.db")

	out := &syncBuffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", Lessons: dir})
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"ghost", "--db", dbPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseGestureLine(t *testing.T) {
	payload, ok := parseGestureLine("open_palm 5")
	require.True(t, ok)
	assert.Equal(t, "open_palm", payload["gesture"])
	assert.Equal(t, 5, payload["fingerCount"])

	payload, ok = parseGestureLine("fist")
	require.True(t, ok)
	assert.Equal(t, "fist", payload["gesture"])
	_, hasCount := payload["fingerCount"]
	assert.False(t, hasCount)

	_, ok = parseGestureLine("   ")
	assert.False(t, ok)

	_, ok = parseGestureLine("wave abc")
	assert.False(t, ok)
}
