package vfs

import (
	"sync"
	"time"
)

// EventKind describes a filesystem change observed by the watcher.
type EventKind int

const (
	// EventWrite indicates the file content changed on disk.
	EventWrite EventKind = iota

	// EventRemove indicates the file was deleted on disk.
	EventRemove
)

// Event is one filesystem change, stamped with the watch actor's tick.
type Event struct {
	Path string
	Kind EventKind
	Text string
	Tick Tick

	// Observed is the wall-clock time the watcher saw the change.
	// Used only for tombstone comparison against editor closes.
	Observed time.Time
}

// NotifyModel holds content observed by the filesystem watcher. Events
// are applied strictly in receipt order by the watch actor; removals
// are stored explicitly so the overlay can distinguish "watcher saw a
// delete" from "watcher never saw this path".
//
// NotifyModel is safe for concurrent use.
type NotifyModel struct {
	mu    sync.RWMutex
	files map[string]notifyEntry
}

type notifyEntry struct {
	text     string
	tick     Tick
	observed time.Time
	removed  bool
}

// NewNotifyModel creates an empty notify access model.
func NewNotifyModel() *NotifyModel {
	return &NotifyModel{files: make(map[string]notifyEntry)}
}

var _ AccessModel = (*NotifyModel)(nil)

// Layer returns LayerNotify.
func (m *NotifyModel) Layer() Layer { return LayerNotify }

// Content returns the watcher-observed content for path.
func (m *NotifyModel) Content(path string) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.files[path]
	if !ok {
		return Source{}, ErrNotFound
	}
	if e.removed {
		return Source{}, ErrRemoved
	}
	return NewSource(path, e.text, e.tick, LayerNotify), nil
}

// Apply records one filesystem event. Events for the same path must
// arrive with strictly increasing ticks; stale ticks are ignored.
func (m *NotifyModel) Apply(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.files[ev.Path]; ok && e.tick >= ev.Tick {
		return
	}

	observed := ev.Observed
	if observed.IsZero() {
		observed = time.Now()
	}

	m.files[ev.Path] = notifyEntry{
		text:     ev.Text,
		tick:     ev.Tick,
		observed: observed,
		removed:  ev.Kind == EventRemove,
	}
}

// ObservedAt returns when the watcher last touched path.
func (m *NotifyModel) ObservedAt(path string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.files[path]
	return e.observed, ok
}

// Paths returns every path the watcher has touched, removed entries
// included.
func (m *NotifyModel) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	return paths
}

// Clear drops all observed entries.
func (m *NotifyModel) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string]notifyEntry)
}
