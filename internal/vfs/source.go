package vfs

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Source is an immutable, versioned text buffer for one file. It is
// produced by cloning content out of an access model at a given tick.
// Multiple clones of the same underlying content may coexist; a Source
// is owned by whichever request cloned it.
type Source struct {
	path  string
	text  string
	tick  Tick
	layer Layer
	hash  uint64
}

// NewSource creates a source for path with the given content.
func NewSource(path, text string, tick Tick, layer Layer) Source {
	h := fnv.New64a()
	h.Write([]byte(text))
	return Source{
		path:  path,
		text:  text,
		tick:  tick,
		layer: layer,
		hash:  h.Sum64(),
	}
}

// Path returns the file path.
func (s Source) Path() string { return s.path }

// Text returns the full content.
func (s Source) Text() string { return s.text }

// Tick returns the logical tick at which the content was written to
// its access model.
func (s Source) Tick() Tick { return s.tick }

// Layer returns the access model the content was cloned from.
func (s Source) Layer() Layer { return s.layer }

// Hash returns a content hash, used for World versioning.
func (s Source) Hash() uint64 { return s.hash }

// Len returns the content length in bytes.
func (s Source) Len() int { return len(s.text) }

// Lines splits the content into lines without trailing newlines.
func (s Source) Lines() []string {
	return strings.Split(strings.TrimSuffix(s.text, "\n"), "\n")
}

// Line returns the zero-based line, or "" if out of range.
func (s Source) Line(n int) string {
	lines := s.Lines()
	if n < 0 || n >= len(lines) {
		return ""
	}
	return lines[n]
}

// Version returns a printable version string combining layer, tick
// and content hash.
func (s Source) Version() string {
	return fmt.Sprintf("%s@%d:%016x", s.layer, s.tick, s.hash)
}
