package vfs

import "errors"

// Standard errors returned by the VFS.
var (
	// ErrNotFound indicates no access model holds content for the path.
	ErrNotFound = errors.New("file not found in any access model")

	// ErrRemoved indicates the path was explicitly removed from the
	// consulted access model.
	ErrRemoved = errors.New("file removed")
)

// Layer identifies which access model produced a piece of content.
// Lower values take precedence.
type Layer int

const (
	// LayerMemory is the editor overlay (didOpen/didChange).
	LayerMemory Layer = iota

	// LayerNotify holds content observed by the filesystem watcher.
	LayerNotify

	// LayerSystem reads the disk directly on demand.
	LayerSystem
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerMemory:
		return "memory"
	case LayerNotify:
		return "notify"
	case LayerSystem:
		return "system"
	default:
		return "unknown"
	}
}

// AccessModel is a layered provider of file content. Implementations
// record the logical tick of the last write per path.
type AccessModel interface {
	// Content returns the content for path if this model holds it.
	// The returned error is ErrNotFound when the model has no entry,
	// or ErrRemoved when the model holds an explicit removal.
	Content(path string) (Source, error)

	// Layer identifies the model's precedence position.
	Layer() Layer
}
