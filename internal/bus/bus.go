package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/lectern/internal/store"
)

// Draft is one event awaiting publication. The bus assigns the seq.
type Draft struct {
	Type    string
	Payload map[string]any
}

// Commit is everything one hook invocation publishes atomically: the
// drafted events plus the session-row update they travel with.
type Commit struct {
	SessionID string
	Drafts    []Draft

	// StateJSON, Status, LastEventAt, StoppedAt update the session
	// row in the same transaction (zero values leave columns alone).
	StateJSON   []byte
	Status      string
	LastEventAt *time.Time
	StoppedAt   *time.Time
}

// sessionEntry holds the per-session append path: the clock plus a
// lock serializing seq reservation against commit.
type sessionEntry struct {
	mu    sync.Mutex
	clock *Clock

	signalMu sync.Mutex
	signals  []chan struct{}
}

// Bus assigns sequence numbers and durably appends events. Publication
// is all-or-nothing per hook invocation: the events and the session-row
// update commit in one store transaction, and the clock advances only
// on success.
type Bus struct {
	store *store.Store
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New creates a Bus over the given store. now stamps event timestamps;
// nil means time.Now.
func New(s *store.Store, now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{
		store:    s,
		now:      now,
		sessions: make(map[string]*sessionEntry),
	}
}

// entry returns the session's append path, seeding its clock from the
// journal on first use.
func (b *Bus) entry(ctx context.Context, sessionID string) (*sessionEntry, error) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if ok {
		return e, nil
	}

	max, err := b.store.MaxSeq(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("seed session clock: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.sessions[sessionID]; ok {
		return e, nil
	}
	e = &sessionEntry{clock: NewClockAt(max)}
	b.sessions[sessionID] = e
	return e, nil
}

// Publish stamps the commit's drafts with seqs base+1..base+n, appends
// them with the session-row update in one transaction, advances the
// clock, and wakes subscribers. Returns the published events.
//
// On error nothing is visible, the clock is unmoved, and the same seqs
// will be reused by the next successful publish (gap-free journal).
func (b *Bus) Publish(ctx context.Context, c Commit) ([]store.Event, error) {
	e, err := b.entry(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.clock.Current()
	now := b.now().UTC()
	events := make([]store.Event, len(c.Drafts))
	for i, d := range c.Drafts {
		payload := d.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		events[i] = store.Event{
			SessionID: c.SessionID,
			Seq:       base + int64(i) + 1,
			Type:      d.Type,
			Payload:   payload,
			Timestamp: now,
		}
	}

	err = b.store.AppendCommit(ctx, store.Commit{
		SessionID:   c.SessionID,
		Events:      events,
		StateJSON:   c.StateJSON,
		Status:      c.Status,
		LastEventAt: c.LastEventAt,
		StoppedAt:   c.StoppedAt,
	})
	if err != nil {
		return nil, err
	}

	e.clock.AdvanceTo(base + int64(len(events)))
	e.notify()
	return events, nil
}

// Release drops a session's append path once the session is terminal.
// A later Publish or Subscribe re-seeds the clock from the journal, so
// releasing is safe at any point after the final commit. Lingering
// subscribers keep reading from the store; they are woken once so a
// blocked reader re-checks before parking for good.
func (b *Bus) Release(sessionID string) {
	b.mu.Lock()
	e, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if ok {
		e.notify()
	}
}

// notify wakes all subscribers; buffered size-1 channels coalesce
// bursts.
func (e *sessionEntry) notify() {
	e.signalMu.Lock()
	defer e.signalMu.Unlock()
	for _, ch := range e.signals {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscription is a restartable, ordered reader of one session's
// journal. It replays committed events from its start position, then
// streams live: a slow consumer lags but never loses events, because
// the journal is the source of truth.
type Subscription struct {
	bus       *Bus
	entry     *sessionEntry
	sessionID string
	nextSeq   int64
	signal    chan struct{}
	buf       []store.Event

	closeOnce sync.Once
}

// Subscribe opens a subscription to a session's journal starting after
// fromSeq (0 replays everything).
func (b *Bus) Subscribe(ctx context.Context, sessionID string, fromSeq int64) (*Subscription, error) {
	e, err := b.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		bus:       b,
		entry:     e,
		sessionID: sessionID,
		nextSeq:   fromSeq + 1,
		signal:    make(chan struct{}, 1),
	}
	e.signalMu.Lock()
	e.signals = append(e.signals, sub.signal)
	e.signalMu.Unlock()
	return sub, nil
}

// Next returns the next event in seq order, blocking until one is
// available or ctx is done.
func (s *Subscription) Next(ctx context.Context) (*store.Event, error) {
	for {
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.nextSeq = ev.Seq + 1
			return &ev, nil
		}

		batch, err := s.bus.store.ListEvents(ctx, s.sessionID, store.EventFilter{
			AfterSeq: s.nextSeq - 1,
			Limit:    256,
		})
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			s.buf = batch
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// Close detaches the subscription from the live signal path.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.entry.signalMu.Lock()
		defer s.entry.signalMu.Unlock()
		for i, ch := range s.entry.signals {
			if ch == s.signal {
				s.entry.signals = append(s.entry.signals[:i], s.entry.signals[i+1:]...)
				break
			}
		}
	})
}
