// Package watch re-runs scripts when their files change on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runner runs one script. The watcher calls it from a single goroutine, so
// runs never overlap.
type Runner func(ctx context.Context, script string) error

// Watcher debounces filesystem events for a set of scripts and runs each
// script once its file has been quiet for the debounce window.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	run      Runner
	scripts  map[string]bool
	dirs     map[string]bool
	pending  map[string]time.Time
	debounce time.Duration
	tick     time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is re-run.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
		if d/4 < w.tick {
			w.tick = max(d/4, time.Millisecond)
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher that calls run for changed scripts.
func New(run Runner, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		run:      run,
		scripts:  make(map[string]bool),
		dirs:     make(map[string]bool),
		pending:  make(map[string]time.Time),
		debounce: 300 * time.Millisecond,
		tick:     50 * time.Millisecond,
		logger:   log.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add starts watching script. The parent directory is watched so that
// editors which replace files on save are still seen.
func (w *Watcher) Add(script string) error {
	path, err := filepath.Abs(script)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", script, err)
	}
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.scripts[path] = true
	return nil
}

// Start begins processing events in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.loop(ctx)
}

// Stop ends event processing and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error().Err(err).Msg("closing file watcher")
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
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
			w.logger.Error().Err(err).Msg("file watcher error")

		case <-ticker.C:
			w.runSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.scripts[path] {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		// Removed or renamed away; a later Create brings it back.
		return
	}
	w.logger.Debug().Str("script", path).Stringer("op", event.Op).Msg("script changed")
	w.pending[path] = time.Now()
}

func (w *Watcher) runSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if err := w.run(ctx, path); err != nil {
			w.logger.Warn().Err(err).Str("script", path).Msg("re-run failed")
		}
	}
}
