package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/script"
)

func execNew(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewNewCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNew_ScaffoldsAdmissibleLesson(t *testing.T) {
	dir := t.TempDir()

	out, err := execNew(t, &RootOptions{Format: "text", Lessons: dir}, "warmup")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	path := filepath.Join(dir, "warmup.lua")
	sc, errs := script.LoadFile(path)
	require.Empty(t, errs, "the template must pass its own validation")
	assert.Equal(t, "warmup", sc.ID)
	assert.Equal(t, "warmup", sc.Metadata.Title)
}

func TestNew_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, err := execNew(t, &RootOptions{Format: "text", Lessons: dir}, "warmup")
	require.NoError(t, err)

	_, err = execNew(t, &RootOptions{Format: "text", Lessons: dir}, "warmup")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execNew(t, &RootOptions{Format: "text", Lessons: dir}, "warmup", "--force")
	require.NoError(t, err)
}

func TestNew_RejectsBadID(t *testing.T) {
	dir := t.TempDir()
	_, err := execNew(t, &RootOptions{Format: "text", Lessons: dir}, "Bad Name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}
