package vfs

import (
	"sync"
	"time"
)

// MemoryModel is the editor overlay access model. It holds content for
// documents the editor has opened, applied strictly in receipt order
// by the router. Closing a document removes its entry but leaves a
// tombstone recording when the editor last owned the path; the overlay
// uses tombstones to distrust older watcher content.
//
// MemoryModel is safe for concurrent use, though in practice it has a
// single writer (the router).
type MemoryModel struct {
	mu         sync.RWMutex
	files      map[string]memoryEntry
	tombstones map[string]time.Time
}

type memoryEntry struct {
	text string
	tick Tick
}

// NewMemoryModel creates an empty editor overlay.
func NewMemoryModel() *MemoryModel {
	return &MemoryModel{
		files:      make(map[string]memoryEntry),
		tombstones: make(map[string]time.Time),
	}
}

var _ AccessModel = (*MemoryModel)(nil)

// Layer returns LayerMemory.
func (m *MemoryModel) Layer() Layer { return LayerMemory }

// Content returns the overlaid content for path.
func (m *MemoryModel) Content(path string) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.files[path]
	if !ok {
		return Source{}, ErrNotFound
	}
	return NewSource(path, e.text, e.tick, LayerMemory), nil
}

// Write sets the full content for path at the given tick. Writes for
// the same path must arrive with strictly increasing ticks; a stale
// tick is ignored so that out-of-order application cannot regress
// content.
func (m *MemoryModel) Write(path, text string, tick Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.files[path]; ok && e.tick >= tick {
		return
	}
	m.files[path] = memoryEntry{text: text, tick: tick}
	delete(m.tombstones, path)
}

// Remove drops the overlay entry for path, leaving a tombstone. Like
// Write, a remove staler than the current entry is ignored so a
// replayed or reordered removal cannot drop newer content.
func (m *MemoryModel) Remove(path string, tick Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.files[path]; ok && e.tick >= tick {
		return
	}
	delete(m.files, path)
	m.tombstones[path] = time.Now()
}

// Holds reports whether the overlay currently shadows path.
func (m *MemoryModel) Holds(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

// TombstoneAt returns the time the editor released path, if it did.
func (m *MemoryModel) TombstoneAt(path string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tombstones[path]
	return t, ok
}

// Paths returns the currently shadowed paths.
func (m *MemoryModel) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	return paths
}

// Clear drops all entries and tombstones.
func (m *MemoryModel) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string]memoryEntry)
	m.tombstones = make(map[string]time.Time)
}
