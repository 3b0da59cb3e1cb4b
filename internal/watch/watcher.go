// Package watch hot-reloads lesson scripts. File changes under the
// lesson directory are debounced, re-admitted off the notification
// path, and published to the registry only when admission succeeds: a
// broken edit never replaces a serving version.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/lectern/internal/script"
)

// DefaultDebounce coalesces editor write bursts per path.
const DefaultDebounce = 500 * time.Millisecond

// Watcher republishes lesson scripts as their files change.
type Watcher struct {
	dir      string
	registry *script.Registry
	logger   *slog.Logger
	debounce time.Duration

	fs *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the per-path debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New starts watching dir for lesson changes, publishing into reg.
// Close the returned Watcher to stop.
func New(dir string, reg *script.Registry, opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		registry: reg,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		fs:       fs,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run()
	return w, nil
}

// Close stops the watcher. Debounced reloads still in flight are
// abandoned.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(ev.Name), script.SourceExt) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.schedule(ev.Name)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.retire(ev.Name)
	}
}

// schedule arms (or re-arms) the per-path debounce timer. The reload
// itself runs on the timer goroutine, off the notification path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

// reload re-admits one lesson file. Admission failure keeps the prior
// version serving; an unchanged digest skips the republish.
func (w *Watcher) reload(path string) {
	sc, errs := script.LoadFile(path)
	if len(errs) > 0 {
		for _, e := range errs {
			w.logger.Warn("lesson rejected on reload, keeping prior version",
				"path", path, "code", e.Code, "error", e.Message)
		}
		return
	}

	if w.registry.Digest(sc.ID) == sc.SHA256 {
		w.logger.Debug("lesson unchanged, skipping republish", "script_id", sc.ID)
		return
	}

	published := w.registry.Publish(sc)
	w.logger.Info("lesson reloaded",
		"script_id", published.ID, "version", published.Version, "path", path)
}

// retire drops the id from new session starts. Running sessions keep
// their pinned version.
func (w *Watcher) retire(path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, err := script.NormalizeID(base)
	if err != nil {
		return
	}
	if _, ok := w.registry.Current(id); !ok {
		return
	}
	w.registry.Retire(id)
	w.logger.Info("lesson retired", "script_id", id, "path", path)
}

// WaitSettled blocks until no reload is pending or ctx is done. Test
// and CLI helper; the watcher itself never needs it.
func (w *Watcher) WaitSettled(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		w.mu.Lock()
		n := len(w.pending)
		w.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
