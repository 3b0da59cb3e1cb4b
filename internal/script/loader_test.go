package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/sandbox"
)

const validLesson = `-- ---
-- title: Counting Fingers
-- difficulty: beginner
-- ---
on_start(function()
  state.set("progress", 0)
end)

on_gesture(function(g)
  state.set("last", g.gesture)
  emit("gesture_processed", { gesture = g.gesture })
end)
`

func writeLesson(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestLoadFile_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeLesson(t, dir, "counting_fingers.lua", validLesson)

	sc, errs := LoadFile(path)
	require.Empty(t, errs)
	assert.Equal(t, "counting_fingers", sc.ID)
	assert.Equal(t, int64(0), sc.Version, "version is assigned by the registry")
	assert.Equal(t, "Counting Fingers", sc.Metadata.Title)
	assert.Len(t, sc.SHA256, 64)
	assert.Equal(t, []string{"on_start", "on_gesture"}, sc.Hooks().Names())
	assert.Equal(t, path, sc.Path)
	assert.False(t, sc.LoadedAt.IsZero())
}

func TestLoadFile_CapabilityViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeLesson(t, dir, "evil.lua", `on_start(function() os.exit(1) end)`)

	sc, errs := LoadFile(path)
	assert.Nil(t, sc)
	require.Len(t, errs, 1)
	assert.Equal(t, sandbox.ErrCapabilityViolation, errs[0].Code)
}

func TestLoadFile_BadID(t *testing.T) {
	dir := t.TempDir()
	path := writeLesson(t, dir, "Bad Name.lua", validLesson)

	sc, errs := LoadFile(path)
	assert.Nil(t, sc)
	require.Len(t, errs, 1)
	assert.Equal(t, sandbox.ErrScriptID, errs[0].Code)
}

func TestLoadFile_BadMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeLesson(t, dir, "badmeta.lua", "-- ---\n-- difficulty: brutal\n-- ---\nlocal x = 1\n")

	sc, errs := LoadFile(path)
	assert.Nil(t, sc)
	require.Len(t, errs, 1)
	assert.Equal(t, sandbox.ErrMetadata, errs[0].Code)
}

func TestLoadDir_MixedValidity(t *testing.T) {
	dir := t.TempDir()
	writeLesson(t, dir, "alpha.lua", validLesson)
	writeLesson(t, dir, "broken.lua", `on_start(function() io.open("x") end)`)
	writeLesson(t, dir, "notes.txt", "ignored")

	results, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Valid())
	assert.Equal(t, "alpha", results[0].Script.ID)
	assert.False(t, results[1].Valid())
	assert.Equal(t, sandbox.ErrCapabilityViolation, results[1].Errors[0].Code)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestNormalizeID(t *testing.T) {
	id, err := NormalizeID("counting_fingers")
	require.NoError(t, err)
	assert.Equal(t, "counting_fingers", id)

	for _, bad := range []string{"", "UPPER", "has space", "-leading", "ünicode"} {
		_, err := NormalizeID(bad)
		assert.Error(t, err, "id: %q", bad)
	}
}
