// Package watch re-imports seed files when they change on disk and drops every
// cached ruleset afterwards, so admins can edit overrides without a restart.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rulelayer/internal/cache"
	"rulelayer/internal/logging"
	"rulelayer/internal/store"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes one settled seed file.
type Handler func(ctx context.Context, path string) error

// ImportHandler loads the seed at path into imp and clears c on success.
func ImportHandler(imp store.SeedImporter, c cache.Cache) Handler {
	return func(ctx context.Context, path string) error {
		seed, err := store.LoadSeedFile(path)
		if err != nil {
			return err
		}
		res, err := imp.ImportSeed(ctx, seed)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		if c != nil {
			c.Clear()
		}
		logging.Watch("imported %s: batch=%s layers=%d records=%d", filepath.Base(path), res.BatchID, res.Layers, res.Records)
		return nil
	}
}

// IsSeedFile reports whether path looks like a YAML seed file.
func IsSeedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Imports       int
	Errors        int
	LastEventPath string
	LastEventType string
	LastEventTime time.Time
}

// SeedWatcher watches a directory of seed files.
type SeedWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	handle      Handler
	pending     map[string]time.Time
	debounceDur time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// Option configures a SeedWatcher.
type Option func(*SeedWatcher)

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *SeedWatcher) {
		if d > 0 {
			w.debounceDur = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *SeedWatcher) { w.now = now }
}

// New creates a watcher for dir. Nothing is watched until Start.
func New(dir string, handle Handler, opts ...Option) (*SeedWatcher, error) {
	if handle == nil {
		return nil, fmt.Errorf("watch: handler must not be nil")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &SeedWatcher{
		watcher:     fw,
		dir:         dir,
		handle:      handle,
		pending:     make(map[string]time.Time),
		debounceDur: DefaultDebounce,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It does not block.
func (w *SeedWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create seed dir %s: %w", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	logging.Watch("watching seed directory %s (debounce %s)", w.dir, w.debounceDur)

	// Stop waits on doneCh whenever running is set.
	w.running = true
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *SeedWatcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
}

// Done is closed when the event loop exits.
func (w *SeedWatcher) Done() <-chan struct{} { return w.doneCh }

func (w *SeedWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.tickInterval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("fsnotify error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-tick.C:
			w.processSettled(ctx)
		}
	}
}

func (w *SeedWatcher) tickInterval() time.Duration {
	if d := w.debounceDur / 5; d > 0 {
		return d
	}
	return time.Millisecond
}

func (w *SeedWatcher) handleEvent(event fsnotify.Event) {
	if !IsSeedFile(event.Name) {
		return
	}

	var kind string
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = "create"
	case event.Op&fsnotify.Write != 0:
		kind = "modify"
	case event.Op&fsnotify.Rename != 0:
		kind = "rename"
	case event.Op&fsnotify.Remove != 0:
		kind = "delete"
	default:
		return
	}
	logging.WatchDebug("%s event for %s", kind, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = kind
	w.stats.LastEventTime = now
	w.pending[event.Name] = now
}

// processSettled hands every path that has been quiet for the debounce window
// to the handler, in path order.
func (w *SeedWatcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := w.now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	slices.Sort(ready)
	for _, path := range ready {
		w.process(ctx, path)
	}
}

func (w *SeedWatcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Removing a seed file does not delete its rows.
		logging.WatchDebug("skipping %s: %v", path, err)
		return
	}
	if err := w.handle(ctx, path); err != nil {
		logging.WatchError("seed %s not applied: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.stats.Imports++
	w.mu.Unlock()
}

// Sync handles every seed file currently in the directory, in name order.
func (w *SeedWatcher) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read seed dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !IsSeedFile(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		w.process(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// Stats returns a snapshot of watcher activity.
func (w *SeedWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *SeedWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
