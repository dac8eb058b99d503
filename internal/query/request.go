package query

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Kind tags the closed set of analysis request variants. Dispatch on
// Kind is exhaustive; adding a variant means extending every switch.
type Kind int

const (
	// KindFoldingRange computes foldable regions.
	KindFoldingRange Kind = iota

	// KindOnEnter computes indentation for a newline.
	KindOnEnter

	// KindHover computes hover content at a position.
	KindHover

	// KindDefinition resolves a reference to its definition.
	KindDefinition

	// KindDocumentSymbol lists the document outline.
	KindDocumentSymbol

	// KindCompletion proposes label completions.
	KindCompletion

	// KindCodeContext answers batched code-context probes.
	KindCodeContext

	// KindExport exports the compiled entry document.
	KindExport
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFoldingRange:
		return "foldingRange"
	case KindOnEnter:
		return "onEnter"
	case KindHover:
		return "hover"
	case KindDefinition:
		return "definition"
	case KindDocumentSymbol:
		return "documentSymbol"
	case KindCompletion:
		return "completion"
	case KindCodeContext:
		return "codeContext"
	case KindExport:
		return "export"
	default:
		return "unknown"
	}
}

// Request is one analysis request routed to a compile actor. It is
// created by the router, consumed by exactly one actor, and dropped
// after the response is emitted.
type Request struct {
	// Envelope uniquely identifies the request across actors.
	Envelope string

	// LSPID is the originating JSON-RPC request ID, nil for
	// internally generated work.
	LSPID json.RawMessage

	Kind Kind
	Path string
	Line int
	Col  int

	// Periscope requests rendered hover previews, forcing Stateful
	// escalation plus a render round-trip.
	Periscope bool

	// ContextKinds selects the probes of a codeContext batch.
	ContextKinds []string

	// Format selects the export format ("pdf", "svg").
	Format string
}

// NewRequest creates a request with a fresh envelope ID.
func NewRequest(kind Kind, path string) Request {
	return Request{Envelope: uuid.NewString(), Kind: kind, Path: path}
}

// BaseLevel returns the minimum tier the request nominally targets.
// Execution may still escalate when the query discovers it needs a
// higher tier's data.
func (r Request) BaseLevel() Level {
	switch r.Kind {
	case KindFoldingRange, KindOnEnter:
		return LevelSyntax
	case KindHover:
		// Hover starts at syntax (comments, plain text) and escalates
		// when the position names a cross-file reference.
		return LevelSyntax
	case KindDefinition, KindDocumentSymbol, KindCompletion, KindCodeContext:
		return LevelSemantic
	case KindExport:
		return LevelStateful
	default:
		return LevelSemantic
	}
}
