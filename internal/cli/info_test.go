package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execInfo(t *testing.T, rootOpts *RootOptions, arg string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{arg})
	err := cmd.Execute()
	return buf.String(), err
}

func TestInfo_Text(t *testing.T) {
	dir := t.TempDir()
	writeLessonFile(t, dir, "counting.lua", validLesson)

	out, err := execInfo(t, &RootOptions{Format: "text", Lessons: dir}, "counting")
	require.NoError(t, err)
	assert.Contains(t, out, "Lesson:  counting")
	assert.Contains(t, out, "Title:   Counting Fingers")
	assert.Contains(t, out, "Level:   beginner")
	assert.Contains(t, out, "on_start")
	assert.Contains(t, out, "on_gesture")
	assert.Contains(t, out, "Digest:")
}

func TestInfo_JSON(t *testing.T) {
	dir := t.TempDir()
	writeLessonFile(t, dir, "counting.lua", validLesson)

	out, err := execInfo(t, &RootOptions{Format: "json", Lessons: dir}, "counting")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   LessonInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "counting", resp.Data.ID)
	assert.Equal(t, []string{"on_start", "on_gesture"}, resp.Data.Hooks)
	assert.Equal(t, []string{"open_palm", "fist"}, resp.Data.TargetGestures)
	assert.Len(t, resp.Data.SHA256, 64)
}

func TestInfo_InvalidLessonFails(t *testing.T) {
	dir := t.TempDir()
	writeLessonFile(t, dir, "escape.lua", invalidLesson)

	out, err := execInfo(t, &RootOptions{Format: "text", Lessons: dir}, "escape")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E101")
}
