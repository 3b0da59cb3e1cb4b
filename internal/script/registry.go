package script

import (
	"sort"
	"sync"
)

// versionKey addresses one published script version.
type versionKey struct {
	id      string
	version int64
}

// Update describes one registry change, delivered to subscribers.
type Update struct {
	ScriptID string
	// Version is the newly current version, or 0 for a retirement.
	Version int64
	Retired bool
}

// Registry is the read-mostly table of published script versions. The
// version table is append-only: publishing never mutates an entry, so a
// session holding a pinned version keeps exactly the artifact it
// started with while new starts resolve the latest.
type Registry struct {
	mu      sync.RWMutex
	current map[string]*Script
	byKey   map[versionKey]*Script
	lastVer map[string]int64

	subMu sync.Mutex
	subs  []chan Update
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		current: make(map[string]*Script),
		byKey:   make(map[versionKey]*Script),
		lastVer: make(map[string]int64),
	}
}

// Publish stores sc as the new current version of its id and returns
// the published copy with Version assigned. The version counter is
// monotonic per id and survives retirement, so a re-created script
// never reuses a version number.
func (r *Registry) Publish(sc *Script) *Script {
	r.mu.Lock()
	published := *sc
	published.Version = r.lastVer[sc.ID] + 1
	r.lastVer[sc.ID] = published.Version
	r.byKey[versionKey{id: sc.ID, version: published.Version}] = &published
	r.current[sc.ID] = &published
	r.mu.Unlock()

	r.notify(Update{ScriptID: published.ID, Version: published.Version})
	return &published
}

// Current returns the version used by new session starts.
func (r *Registry) Current(id string) (*Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.current[id]
	return sc, ok
}

// Get returns a specific published version. Retired scripts remain
// addressable here so running sessions keep their pin.
func (r *Registry) Get(id string, version int64) (*Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.byKey[versionKey{id: id, version: version}]
	return sc, ok
}

// Digest returns the current version's content digest, or "" if the id
// is unknown. Used by the reload path to skip unchanged content.
func (r *Registry) Digest(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sc, ok := r.current[id]; ok {
		return sc.SHA256
	}
	return ""
}

// Retire removes an id from the current table. Already-published
// versions stay resolvable by (id, version); only new starts fail.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	_, ok := r.current[id]
	delete(r.current, id)
	r.mu.Unlock()

	if ok {
		r.notify(Update{ScriptID: id, Retired: true})
	}
}

// List returns the current versions of all scripts, ordered by id.
func (r *Registry) List() []*Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Script, 0, len(r.current))
	for _, sc := range r.current {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe returns a channel receiving registry updates. The channel
// is buffered; a slow subscriber drops updates rather than blocking a
// reload.
func (r *Registry) Subscribe() <-chan Update {
	ch := make(chan Update, 16)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) notify(u Update) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
