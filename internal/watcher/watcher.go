// Package watcher drives the sync engine from filesystem events.
//
// Events for the same path arriving in rapid succession are coalesced by a
// per-path debounce window, so a burst of writes triggers one resync rather
// than one per write.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Syncer is the subset of the sync engine the watcher needs.
type Syncer interface {
	AddOrUpdate(ctx context.Context, path string) (syncer.Status, error)
	Remove(ctx context.Context, path string) error
}

// Supported reports whether a path has a parser strategy.
type Supported func(path string) bool

// Config holds watcher configuration.
type Config struct {
	// Root is the directory watched recursively.
	Root string

	// Debounce is the per-path coalescing window for create/modify events.
	// Default: 500ms
	Debounce time.Duration

	// Workers bounds concurrent event processing across distinct paths.
	// Default: 4
	Workers int

	// QueueSize bounds the pending event queue. Default: 256
	QueueSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Debounce == 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
}

type eventKind int

const (
	kindUpdate eventKind = iota
	kindRemove
)

type event struct {
	path string
	kind eventKind
}

// Watcher subscribes to create/modify/delete events under a root directory
// and schedules sync operations.
type Watcher struct {
	config    Config
	engine    Syncer
	supported Supported
	logger    *zap.Logger

	fsw   *fsnotify.Watcher
	queue chan event
	stop  chan struct{}
	wg    sync.WaitGroup

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	closeOnce sync.Once
}

// New creates a watcher for the configured root.
func New(config Config, engine Syncer, supported Supported, logger *zap.Logger) (*Watcher, error) {
	config.ApplyDefaults()
	if config.Root == "" {
		return nil, fmt.Errorf("%w: root directory required", ErrWatcherFailed)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		config:    config,
		engine:    engine,
		supported: supported,
		logger:    logger,
		fsw:       fsw,
		queue:     make(chan event, config.QueueSize),
		stop:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Start registers watches on the root tree and begins processing events in
// background goroutines. It does not block; call Close to stop.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.config.Root); err != nil {
		return fmt.Errorf("watching %s: %w", w.config.Root, err)
	}

	// In-flight sync operations are allowed to finish on shutdown so no
	// path is left mid-replace with zero chunks; only intake stops.
	workCtx := context.WithoutCancel(ctx)

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.worker(workCtx)
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watcher started",
		zap.String("root", w.config.Root),
		zap.Duration("debounce", w.config.Debounce),
		zap.Int("workers", w.config.Workers),
	)
	return nil
}

// Close stops event intake, cancels pending debounce timers, and waits for
// in-flight operations to finish.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.fsw.Close()

		w.timersMu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.timersMu.Unlock()

		w.wg.Wait()
		w.logger.Info("watcher stopped", zap.String("root", w.config.Root))
	})
	return err
}

// watchTree adds the directory and all nested directories to the watch set.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// loop translates fsnotify events into debounced sync work.
func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New subtree: watch it and pick up files already inside.
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			w.enqueueExisting(ev.Name)
			return
		}
		if w.supported(ev.Name) {
			w.debounce(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		if w.supported(ev.Name) {
			w.debounce(ev.Name)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// A rename-away is a delete for this path; the create at the new
		// path arrives as its own event.
		if w.supported(ev.Name) {
			w.cancelDebounce(ev.Name)
			w.enqueue(event{path: ev.Name, kind: kindRemove})
		}
	}
}

// enqueueExisting schedules syncs for supported files already present in a
// newly created directory (e.g. one moved into the tree).
func (w *Watcher) enqueueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.supported(path) {
			w.debounce(path)
		}
		return nil
	})
}

// debounce (re)arms the path's coalescing timer.
func (w *Watcher) debounce(path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.config.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.config.Debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()
		w.enqueue(event{path: path, kind: kindUpdate})
	})
}

// cancelDebounce drops any pending update for a path that was deleted.
func (w *Watcher) cancelDebounce(path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) enqueue(ev event) {
	select {
	case <-w.stop:
	case w.queue <- ev:
	}
}

func (w *Watcher) worker(ctx context.Context) {
	defer w.wg.Done()
	for {
		var ev event
		select {
		case <-w.stop:
			// Queued-but-unstarted work is dropped; in-flight operations
			// already ran to completion before this select.
			return
		case ev = <-w.queue:
		}

		switch ev.kind {
		case kindUpdate:
			if _, err := os.Stat(ev.path); err != nil {
				// Deleted between debounce and processing.
				continue
			}
			status, err := w.engine.AddOrUpdate(ctx, ev.path)
			if err != nil {
				w.logger.Warn("sync failed", zap.String("path", ev.path), zap.Error(err))
				continue
			}
			w.logger.Debug("event processed",
				zap.String("path", ev.path),
				zap.String("status", status.String()),
			)
		case kindRemove:
			if err := w.engine.Remove(ctx, ev.path); err != nil {
				w.logger.Warn("remove failed", zap.String("path", ev.path), zap.Error(err))
			}
		}
	}
}
