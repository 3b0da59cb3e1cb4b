package bus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/store"
)

func testBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil), s
}

func createSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), store.SessionRecord{
		SessionID:     id,
		ScriptID:      "lesson",
		ScriptVersion: 1,
		Status:        "running",
		StartedAt:     time.Now().UTC(),
	}))
}

func TestPublish_AssignsContiguousSeqs(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	createSession(t, s, "sess-1")

	events, err := b.Publish(ctx, Commit{
		SessionID: "sess-1",
		Drafts:    []Draft{{Type: "a"}, {Type: "b"}},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)

	events, err = b.Publish(ctx, Commit{
		SessionID: "sess-1",
		Drafts:    []Draft{{Type: "c", Payload: map[string]any{"n": 1.0}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), events[0].Seq)
}

func TestPublish_SeedsClockFromJournal(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	createSession(t, s, "sess-1")

	_, err := b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "a"}}})
	require.NoError(t, err)

	// A fresh Bus over the same store resumes where the journal
	// left off.
	b2 := New(s, nil)
	events, err := b2.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), events[0].Seq)
}

func TestPublish_FailureLeavesNoGap(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	// No session row: the foreign key rejects the append.
	_, err := b.Publish(ctx, Commit{SessionID: "ghost", Drafts: []Draft{{Type: "a"}}})
	require.Error(t, err)

	createSession(t, s, "ghost")
	events, err := b.Publish(ctx, Commit{SessionID: "ghost", Drafts: []Draft{{Type: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), events[0].Seq, "failed publish must not burn seq numbers")
}

func TestPublish_ConcurrentSessionsStayGapless(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		createSession(t, s, id)
	}

	const perSession = 25
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				_, err := b.Publish(ctx, Commit{SessionID: id, Drafts: []Draft{{Type: "tick"}}})
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		events, err := s.ListEvents(ctx, id, store.EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, perSession)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.Seq, "session %s", id)
		}
	}
}

func TestRelease_DropsEntryAndReseedsOnReuse(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	createSession(t, s, "sess-1")

	_, err := b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "a"}, {Type: "b"}}})
	require.NoError(t, err)

	b.Release("sess-1")
	b.mu.Lock()
	_, present := b.sessions["sess-1"]
	b.mu.Unlock()
	assert.False(t, present, "released session must not accrete in the bus")

	// Releasing an unknown session is a no-op.
	b.Release("never-seen")

	// The next publish re-seeds from the journal; no gap, no restart.
	events, err := b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "c"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), events[0].Seq)
}

func TestRelease_WakesBlockedSubscriber(t *testing.T) {
	b, s := testBus(t)
	createSession(t, s, "sess-1")

	sub, err := b.Subscribe(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Release("sess-1")
	}()

	// The wake has no event behind it; the reader re-checks the store
	// and parks again until its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribe_ReplayThenLive(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	createSession(t, s, "sess-1")

	_, err := b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "a"}, {Type: "b"}}})
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "sess-1", 0)
	require.NoError(t, err)
	defer sub.Close()

	// Replay of the committed prefix.
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)
	ev, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Seq)

	// Live tail.
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "c"}}})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err = sub.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.Seq)
	assert.Equal(t, "c", ev.Type)
}

func TestSubscribe_RestartFromSeq(t *testing.T) {
	b, s := testBus(t)
	ctx := context.Background()
	createSession(t, s, "sess-1")

	_, err := b.Publish(ctx, Commit{SessionID: "sess-1", Drafts: []Draft{{Type: "a"}, {Type: "b"}, {Type: "c"}}})
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "sess-1", 2)
	require.NoError(t, err)
	defer sub.Close()

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.Seq)
}

func TestSubscribe_ContextCancel(t *testing.T) {
	b, s := testBus(t)
	createSession(t, s, "sess-1")

	sub, err := b.Subscribe(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
