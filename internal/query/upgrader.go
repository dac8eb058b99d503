package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/world"
)

// Standard errors returned during tier acquisition.
var (
	// ErrStaleInput indicates the acquired resource no longer matches
	// the current World version. The caller re-issues against current
	// state; the upgrader never retries on its own.
	ErrStaleInput = errors.New("stale input: world version changed")

	// ErrLevelUnavailable indicates a tier's resource could not be
	// acquired.
	ErrLevelUnavailable = errors.New("analysis level unavailable")
)

// WorldProvider snapshots a World on demand. The compile actor
// implements this, reusing its previous snapshot when the version is
// unchanged.
type WorldProvider interface {
	SnapshotWorld(ctx context.Context) (*world.World, error)
}

// DocumentProvider acquires a compiled Document for a specific World.
type DocumentProvider interface {
	AcquireDocument(ctx context.Context, w *world.World) (*world.Document, error)
}

// Resources holds whatever tiers have been acquired so far. Fields
// above the acquired level are nil/zero.
type Resources struct {
	Level    Level
	Source   vfs.Source
	World    *world.World
	Document *world.Document
}

// Upgrader acquires tier resources one discrete step at a time:
// clone Source, then snapshot World, then acquire Document. Context
// cancellation is honored between steps; a dropped escalation leaves
// no shared state behind.
type Upgrader struct {
	resolver world.SourceResolver
	worlds   WorldProvider
	docs     DocumentProvider
}

// NewUpgrader creates an upgrader over the given providers.
func NewUpgrader(resolver world.SourceResolver, worlds WorldProvider, docs DocumentProvider) *Upgrader {
	return &Upgrader{resolver: resolver, worlds: worlds, docs: docs}
}

// Acquire obtains resources up to the requested level for req.Path.
// It never acquires more than asked: a Syntax-level acquisition
// touches no World machinery at all.
func (u *Upgrader) Acquire(ctx context.Context, req Request, level Level) (Resources, error) {
	res := Resources{Level: LevelSyntax}

	src, err := u.resolver.SourceOf(req.Path)
	if err != nil {
		return res, fmt.Errorf("%w: clone source %s: %v", ErrLevelUnavailable, req.Path, err)
	}
	res.Source = src
	if level == LevelSyntax {
		return res, nil
	}

	return u.Upgrade(ctx, res, level)
}

// Upgrade escalates already-acquired resources to the target level.
// Used when executing a query discovers mid-flight that it needs a
// higher tier.
func (u *Upgrader) Upgrade(ctx context.Context, res Resources, target Level) (Resources, error) {
	for res.Level < target {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		next, ok := Escalate(res.Level)
		if !ok {
			return res, fmt.Errorf("%w: cannot escalate past %s", ErrLevelUnavailable, res.Level)
		}

		switch next {
		case LevelSemantic:
			w, err := u.worlds.SnapshotWorld(ctx)
			if err != nil {
				return res, fmt.Errorf("%w: snapshot world: %v", ErrLevelUnavailable, err)
			}
			res.World = w

		case LevelStateful:
			if res.World == nil {
				return res, fmt.Errorf("%w: stateful tier without world", ErrLevelUnavailable)
			}
			doc, err := u.docs.AcquireDocument(ctx, res.World)
			if err != nil {
				return res, err
			}
			if doc.WorldVersion != res.World.Version() {
				return res, ErrStaleInput
			}
			res.Document = doc
		}
		res.Level = next
	}
	return res, nil
}
