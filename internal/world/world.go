// Package world provides the immutable compiler-input snapshot and
// the compiled document model.
//
// A World aggregates every Source a compilation needs plus the
// compiler configuration. It is immutable once built; analysis at the
// semantic tier and above always runs against a World, never against
// live VFS state, so concurrent edits cannot race a running query.
package world

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"

	"github.com/dshills/typserve/internal/markup"
	"github.com/dshills/typserve/internal/vfs"
)

// Standard errors returned when building or compiling worlds.
var (
	// ErrNoEntry indicates the main entry source could not be resolved.
	ErrNoEntry = errors.New("main entry not resolvable")

	// ErrImportCycle indicates the import graph contains a cycle.
	ErrImportCycle = errors.New("import cycle detected")
)

// Config is the compiler configuration carried by a World.
type Config struct {
	// Root is the workspace root directory.
	Root string

	// Fonts lists font search paths handed to the compiler.
	Fonts []string

	// Features toggles optional compiler behavior by name.
	Features map[string]bool

	// Generation increases every time configuration changes, so a
	// config change invalidates World versions even when sources are
	// unchanged.
	Generation uint64
}

// Feature reports whether a named feature is enabled.
func (c Config) Feature(name string) bool { return c.Features[name] }

// SourceResolver resolves a path to a Source. *vfs.Overlay satisfies
// this.
type SourceResolver interface {
	SourceOf(path string) (vfs.Source, error)
}

// World is an immutable snapshot of everything one compilation needs.
type World struct {
	entry   string
	sources map[string]vfs.Source
	config  Config
	version uint64
}

// Build snapshots a World rooted at the entry path, following imports
// transitively through the resolver. Import paths are resolved
// relative to the importing file. A missing import is tolerated (the
// compiler reports it as a diagnostic); a missing entry is not.
func Build(entry string, resolver SourceResolver, config Config) (*World, error) {
	src, err := resolver.SourceOf(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoEntry, entry, err)
	}

	sources := map[string]vfs.Source{entry: src}
	visiting := map[string]bool{entry: true}

	var follow func(path string, src vfs.Source) error
	follow = func(path string, src vfs.Source) error {
		for _, imp := range markup.Scan(src.Text()).Imports {
			target := imp.Path
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			if _, ok := sources[target]; ok {
				continue
			}
			if visiting[target] {
				return fmt.Errorf("%w: %s", ErrImportCycle, target)
			}

			dep, err := resolver.SourceOf(target)
			if err != nil {
				continue // missing import, compiler diagnoses it
			}

			sources[target] = dep
			visiting[target] = true
			if err := follow(target, dep); err != nil {
				return err
			}
			delete(visiting, target)
		}
		return nil
	}

	if err := follow(entry, src); err != nil {
		return nil, err
	}

	return &World{
		entry:   entry,
		sources: sources,
		config:  config,
		version: computeVersion(entry, sources, config),
	}, nil
}

// Entry returns the main entry path.
func (w *World) Entry() string { return w.entry }

// Config returns the compiler configuration.
func (w *World) Config() Config { return w.config }

// Version identifies this snapshot. Two Worlds with identical sources
// and configuration share a version.
func (w *World) Version() uint64 { return w.version }

// Source returns the snapshot source for path.
func (w *World) Source(path string) (vfs.Source, bool) {
	s, ok := w.sources[path]
	return s, ok
}

// Paths returns all snapshot paths in sorted order.
func (w *World) Paths() []string {
	paths := make([]string, 0, len(w.sources))
	for p := range w.sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// computeVersion hashes the sorted (path, content hash) pairs plus
// entry and config generation.
func computeVersion(entry string, sources map[string]vfs.Source, config Config) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|", entry, config.Generation)

	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(h, "%s:%016x|", p, sources[p].Hash())
	}
	return h.Sum64()
}

// Compiler turns a World into a Document. Implementations must treat
// the World as read-only and honor context cancellation.
type Compiler interface {
	Compile(ctx context.Context, w *World) (*Document, error)
}
