// Package watcher is the filesystem-watch actor. It observes
// workspace directories through fsnotify, debounces bursts, reads the
// changed content, and applies it to the Notify access model strictly
// in the order events are observed, stamping each application with the
// actor's own logical clock.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/vfs"
)

// Common errors returned by watcher operations.
var (
	// ErrClosed indicates the watcher has been closed.
	ErrClosed = errors.New("watcher closed")

	// ErrPathNotExist indicates the watch root does not exist.
	ErrPathNotExist = errors.New("path does not exist")
)

// Config controls watcher behavior.
type Config struct {
	// Debounce coalesces rapid changes to one path into a single
	// event. Defaults to 100ms.
	Debounce time.Duration

	// IgnorePatterns are glob patterns matched against path base
	// names (and each directory component) to exclude.
	IgnorePatterns []string

	// Extensions restricts watched files by extension (with dot).
	// Empty means all files.
	Extensions []string
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:       100 * time.Millisecond,
		IgnorePatterns: []string{".git", ".DS_Store", "*.tmp", "*.swp"},
		Extensions:     []string{".typ"},
	}
}

// Watcher feeds the Notify access model from filesystem events. It
// runs one goroutine that consumes fsnotify events and applies them
// sequentially, so Notify writes for a path are totally ordered by the
// watcher's clock.
type Watcher struct {
	fsw    *fsnotify.Watcher
	notify *vfs.NotifyModel
	config Config
	clock  vfs.Clock
	log    *logging.Logger

	// Applied events are mirrored here for recording subscribers;
	// delivery is best-effort and never blocks the watch loop.
	events chan vfs.Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	roots   map[string]bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher applying events to the given notify model.
func New(notify *vfs.NotifyModel, config Config, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}

	w := &Watcher{
		fsw:     fsw,
		notify:  notify,
		config:  config,
		log:     logging.Component(log, "watcher"),
		events:  make(chan vfs.Event, 128),
		pending: make(map[string]*time.Timer),
		roots:   make(map[string]bool),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watch starts watching a directory tree.
func (w *Watcher) Watch(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if w.roots[abs] {
		return nil
	}

	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(p); addErr != nil {
			w.log.Warn("watch add failed", "path", p, "error", addErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.roots[abs] = true
	return nil
}

// Events returns the stream of applied events. Delivery is
// best-effort: slow consumers miss events but the notify model is
// always current.
func (w *Watcher) Events() <-chan vfs.Event {
	return w.events
}

// Tick returns the watcher clock's latest tick.
func (w *Watcher) Tick() vfs.Tick {
	return w.clock.Now()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

// loop consumes raw fsnotify events.
func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.raw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// raw handles one fsnotify event, debouncing per path.
func (w *Watcher) raw(ev fsnotify.Event) {
	path := ev.Name
	if w.ignored(path) || !w.wantedFile(path) {
		// New directories still need watches.
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() && !w.ignored(path) {
				_ = w.fsw.Add(path)
			}
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if t, ok := w.pending[path]; ok {
		t.Reset(w.config.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.fire(path)
	})
}

// fire applies the settled state of path to the notify model.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	ev := vfs.Event{Path: path, Tick: w.clock.Next(), Observed: time.Now()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ev.Kind = vfs.EventWrite
		ev.Text = string(data)
	case os.IsNotExist(err):
		ev.Kind = vfs.EventRemove
	default:
		w.log.Warn("read after change failed", "path", path, "error", err)
		return
	}

	w.notify.Apply(ev)
	w.log.Debug("applied", "path", path, "kind", int(ev.Kind), "tick", uint64(ev.Tick))

	select {
	case w.events <- ev:
	default:
	}
}

// ignored reports whether any component of path matches an ignore
// pattern.
func (w *Watcher) ignored(path string) bool {
	for _, pattern := range w.config.IgnorePatterns {
		for _, part := range splitPath(path) {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

// wantedFile reports whether the file extension is watched.
func (w *Watcher) wantedFile(path string) bool {
	if len(w.config.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range w.config.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// splitPath breaks a path into its components.
func splitPath(path string) []string {
	clean := filepath.ToSlash(filepath.Clean(path))

	var parts []string
	start := 0
	for i := 0; i <= len(clean); i++ {
		if i == len(clean) || clean[i] == '/' {
			if i > start {
				parts = append(parts, clean[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
