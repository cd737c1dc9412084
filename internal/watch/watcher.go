// Package watch re-runs a handler for Python scanner scripts that change
// inside a directory. Rapid saves to one file are debounced into one call.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scanforge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Handler is called once per settled change.
type Handler func(ctx context.Context, path string)

// Stats counts watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesRemoved  int
	Handled       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher watches one directory for *.py changes.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	handler     Handler
	pending     map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// New creates a watcher for dir. debounce <= 0 uses 500ms.
func New(dir string, debounce time.Duration, handler Handler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	tick := debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		dir:         dir,
		handler:     handler,
		pending:     make(map[string]time.Time),
		debounceDur: debounce,
		tick:        tick,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It returns an error if the directory cannot be added.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watch("watching %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
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
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".py") || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case event.Op&fsnotify.Create != 0:
		w.stats.FilesCreated++
	case event.Op&fsnotify.Write != 0:
		w.stats.FilesModified++
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.stats.FilesRemoved++
		delete(w.pending, event.Name)
		return
	default:
		return
	}
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			logging.Get(logging.CategoryWatch).Debug("skipping %s: %v", path, err)
			continue
		}
		logging.Watch("changed: %s", path)
		w.handler(ctx, path)
		w.mu.Lock()
		w.stats.Handled++
		w.mu.Unlock()
	}
}
