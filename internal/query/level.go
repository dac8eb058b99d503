// Package query defines analysis requests and the tiered resource
// acquisition that serves them.
//
// Every request is classified into one of three escalating levels:
//
//   - Syntax: answerable from a single cloned Source
//   - Semantic: needs a World snapshot (cross-file resolution)
//   - Stateful: needs a compiled Document for a specific World
//
// The Upgrader executes at the minimum sufficient level and escalates
// one discrete, cancellable step at a time. Each tier's resource is an
// immutable snapshot, so abandoning an in-flight escalation has no
// side effects.
package query

// Level is an analysis resource tier.
type Level int

const (
	// LevelSyntax operates on one cloned Source.
	LevelSyntax Level = iota

	// LevelSemantic requires a World snapshot.
	LevelSemantic

	// LevelStateful requires a compiled Document.
	LevelStateful
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelSyntax:
		return "syntax"
	case LevelSemantic:
		return "semantic"
	case LevelStateful:
		return "stateful"
	default:
		return "unknown"
	}
}

// Escalate returns the next tier above current, and false when
// current is already the top tier. It is pure: the decision depends
// only on the current tier.
func Escalate(current Level) (Level, bool) {
	switch current {
	case LevelSyntax:
		return LevelSemantic, true
	case LevelSemantic:
		return LevelStateful, true
	default:
		return current, false
	}
}
