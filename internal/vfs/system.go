package vfs

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

// SystemModel reads the disk directly. It performs a synchronous read
// on every lookup and stamps the result with its own clock, so System
// reads for one path are ordered relative to each other.
//
// SystemModel is safe for concurrent use.
type SystemModel struct {
	clock Clock

	mu    sync.Mutex
	reads int64
}

// NewSystemModel creates a system access model.
func NewSystemModel() *SystemModel {
	return &SystemModel{}
}

var _ AccessModel = (*SystemModel)(nil)

// Layer returns LayerSystem.
func (m *SystemModel) Layer() Layer { return LayerSystem }

// Content performs a live read of path.
func (m *SystemModel) Content(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Source{}, ErrNotFound
		}
		return Source{}, err
	}

	m.mu.Lock()
	m.reads++
	m.mu.Unlock()

	return NewSource(path, string(data), m.clock.Next(), LayerSystem), nil
}

// Reads returns the number of successful disk reads performed.
func (m *SystemModel) Reads() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
