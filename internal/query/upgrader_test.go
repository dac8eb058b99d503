package query

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/world"
)

// fakeProviders counts tier acquisitions so tests can assert
// minimality.
type fakeProviders struct {
	files map[string]string

	worldCalls int
	docCalls   int

	staleDoc bool
	clock    vfs.Clock
}

func (f *fakeProviders) SourceOf(path string) (vfs.Source, error) {
	text, ok := f.files[path]
	if !ok {
		return vfs.Source{}, vfs.ErrNotFound
	}
	return vfs.NewSource(path, text, f.clock.Next(), vfs.LayerMemory), nil
}

func (f *fakeProviders) SnapshotWorld(ctx context.Context) (*world.World, error) {
	f.worldCalls++
	return world.Build("/ws/main.typ", f, world.Config{})
}

func (f *fakeProviders) AcquireDocument(ctx context.Context, w *world.World) (*world.Document, error) {
	f.docCalls++
	doc, err := world.NewMarkupCompiler().Compile(ctx, w)
	if err != nil {
		return nil, err
	}
	if f.staleDoc {
		doc.WorldVersion = w.Version() + 1
	}
	return doc, nil
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{files: map[string]string{
		"/ws/main.typ": "= Main <main>\n",
	}}
}

func TestAcquireSyntaxOnly(t *testing.T) {
	// Tier minimality: a syntax-level acquisition must not build a
	// World or touch the compiler.
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindFoldingRange, "/ws/main.typ")
	res, err := u.Acquire(context.Background(), req, LevelSyntax)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if res.Level != LevelSyntax {
		t.Errorf("level: got %v, want syntax", res.Level)
	}
	if res.Source.Text() == "" {
		t.Error("expected cloned source")
	}
	if res.World != nil || res.Document != nil {
		t.Error("syntax acquisition must not carry higher-tier resources")
	}
	if f.worldCalls != 0 {
		t.Errorf("world snapshots: got %d, want 0", f.worldCalls)
	}
	if f.docCalls != 0 {
		t.Errorf("document acquisitions: got %d, want 0", f.docCalls)
	}
}

func TestAcquireSemantic(t *testing.T) {
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindDefinition, "/ws/main.typ")
	res, err := u.Acquire(context.Background(), req, LevelSemantic)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if res.World == nil {
		t.Fatal("expected world snapshot")
	}
	if res.Document != nil {
		t.Error("semantic acquisition must not compile")
	}
	if f.worldCalls != 1 {
		t.Errorf("world snapshots: got %d, want 1", f.worldCalls)
	}
	if f.docCalls != 0 {
		t.Errorf("document acquisitions: got %d, want 0", f.docCalls)
	}
}

func TestAcquireStateful(t *testing.T) {
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindExport, "/ws/main.typ")
	res, err := u.Acquire(context.Background(), req, LevelStateful)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if res.Document == nil {
		t.Fatal("expected compiled document")
	}
	if res.Document.WorldVersion != res.World.Version() {
		t.Error("document should match world version")
	}
}

func TestUpgradeMidFlight(t *testing.T) {
	// A query executing at semantic level discovers it needs a
	// document and escalates one step.
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindHover, "/ws/main.typ")
	res, err := u.Acquire(context.Background(), req, LevelSemantic)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	res, err = u.Upgrade(context.Background(), res, LevelStateful)
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if res.Level != LevelStateful || res.Document == nil {
		t.Errorf("escalation incomplete: level %v, doc %v", res.Level, res.Document)
	}
}

func TestAcquireStale(t *testing.T) {
	f := newFakeProviders()
	f.staleDoc = true
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindExport, "/ws/main.typ")
	_, err := u.Acquire(context.Background(), req, LevelStateful)
	if !errors.Is(err, ErrStaleInput) {
		t.Errorf("error: got %v, want ErrStaleInput", err)
	}
}

func TestAcquireCancelledBetweenTiers(t *testing.T) {
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := NewRequest(KindDefinition, "/ws/main.typ")
	_, err := u.Acquire(ctx, req, LevelSemantic)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", err)
	}
	if f.worldCalls != 0 {
		t.Errorf("world snapshots after cancel: got %d, want 0", f.worldCalls)
	}
}

func TestAcquireMissingSource(t *testing.T) {
	f := newFakeProviders()
	u := NewUpgrader(f, f, f)

	req := NewRequest(KindHover, "/ws/other.typ")
	_, err := u.Acquire(context.Background(), req, LevelSyntax)
	if !errors.Is(err, ErrLevelUnavailable) {
		t.Errorf("error: got %v, want ErrLevelUnavailable", err)
	}
}

func TestBaseLevels(t *testing.T) {
	tests := []struct {
		kind Kind
		want Level
	}{
		{KindFoldingRange, LevelSyntax},
		{KindOnEnter, LevelSyntax},
		{KindHover, LevelSyntax},
		{KindDefinition, LevelSemantic},
		{KindDocumentSymbol, LevelSemantic},
		{KindCompletion, LevelSemantic},
		{KindCodeContext, LevelSemantic},
		{KindExport, LevelStateful},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			req := NewRequest(tt.kind, "/ws/main.typ")
			if got := req.BaseLevel(); got != tt.want {
				t.Errorf("base level: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEscalate(t *testing.T) {
	if next, ok := Escalate(LevelSyntax); !ok || next != LevelSemantic {
		t.Errorf("syntax: got %v, %v", next, ok)
	}
	if next, ok := Escalate(LevelSemantic); !ok || next != LevelStateful {
		t.Errorf("semantic: got %v, %v", next, ok)
	}
	if _, ok := Escalate(LevelStateful); ok {
		t.Error("stateful should not escalate")
	}
}
