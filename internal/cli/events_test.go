package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/store"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "events.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateSession(ctx, store.SessionRecord{
		SessionID:     "sess-001",
		ScriptID:      "counting",
		ScriptVersion: 1,
		Status:        "running",
		StartedAt:     now,
	}))
	require.NoError(t, st.AppendCommit(ctx, store.Commit{
		SessionID: "sess-001",
		Events: []store.Event{
			{SessionID: "sess-001", Seq: 1, Type: "session.started", Payload: map[string]any{}, Timestamp: now},
			{SessionID: "sess-001", Seq: 2, Type: "counted", Payload: map[string]any{"total": 1.0}, Timestamp: now},
			{SessionID: "sess-001", Seq: 3, Type: "counted", Payload: map[string]any{"total": 2.0}, Timestamp: now},
		},
	}))
	return dbPath
}

func execEvents(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewEventsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestEvents_ListsJournal(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := execEvents(t, "sess-001", "--db", dbPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[seq 1] session.started")
	assert.Contains(t, lines[2], "[seq 3] counted")
}

func TestEvents_Filters(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := execEvents(t, "sess-001", "--db", dbPath, "--type", "counted")
	require.NoError(t, err)
	assert.NotContains(t, out, "session.started")
	assert.Equal(t, 2, strings.Count(out, "counted"))

	out, err = execEvents(t, "sess-001", "--db", dbPath, "--after", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[seq 3]")

	out, err = execEvents(t, "sess-001", "--db", dbPath, "--limit", "1")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[seq 1]")
}

func TestEvents_UnknownSession(t *testing.T) {
	dbPath := seedJournal(t)

	_, err := execEvents(t, "ghost", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEvents_FollowStopsOnContext(t *testing.T) {
	dbPath := seedJournal(t)

	buf := &bytes.Buffer{}
	cmd := NewEventsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sess-001", "--db", dbPath, "--follow"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	cmd.SetContext(ctx)

	err := cmd.Execute()
	require.NoError(t, err, "context expiry ends a follow cleanly")
	assert.Equal(t, 3, strings.Count(buf.String(), "[seq "))
}
