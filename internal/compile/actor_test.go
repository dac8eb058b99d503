package compile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/render"
	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/world"
)

// countingResolver serves sources from a map and counts lookups.
type countingResolver struct {
	mu    sync.Mutex
	files map[string]string
	calls int
}

func (r *countingResolver) SourceOf(path string) (vfs.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	text, ok := r.files[path]
	if !ok {
		return vfs.Source{}, vfs.ErrNotFound
	}
	return vfs.NewSource(path, text, 1, vfs.LayerMemory), nil
}

func (r *countingResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestActor(t *testing.T, entry string, resolver *countingResolver, opts Options) (*Actor, chan Response) {
	t.Helper()

	out := make(chan Response, 16)
	opts.Workspace = "/ws"
	opts.Entry = entry
	opts.Resolver = resolver
	opts.Out = out
	opts.Log = logging.Discard()

	a := NewActor(opts)
	t.Cleanup(a.Stop)
	return a, out
}

func awaitCompileResponse(t *testing.T, out <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-out:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for compile response")
		return Response{}
	}
}

func TestActorFoldingRange(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\nbody\n/* note\nstill note */\n= Two\nmore\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	req := query.NewRequest(query.KindFoldingRange, "/ws/main.typ")
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("response error: %v", resp.Err)
	}
	if resp.Envelope != req.Envelope {
		t.Errorf("envelope: got %q, want %q", resp.Envelope, req.Envelope)
	}

	ranges, ok := resp.Result.([]protocol.FoldingRange)
	if !ok {
		t.Fatalf("result type: got %T", resp.Result)
	}
	var comments int
	for _, r := range ranges {
		if r.Kind == protocol.FoldingRangeComment {
			comments++
		}
	}
	if comments != 1 {
		t.Errorf("comment regions: got %d, want 1", comments)
	}
}

func TestActorOnEnter(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\n  indented body\n- item\n  + nested\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	tests := []struct {
		name string
		line int
		want string
	}{
		{"plain line", 0, ""},
		{"indented line continues", 1, "  "},
		{"list marker indents one step", 2, "  "},
		{"nested list continues deeper", 3, "    "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := query.NewRequest(query.KindOnEnter, "/ws/main.typ")
			req.Line = tt.line
			if err := a.Submit(req); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}

			resp := awaitCompileResponse(t, out)
			if resp.Err != nil {
				t.Fatalf("response error: %v", resp.Err)
			}
			result, ok := resp.Result.(OnEnterResult)
			if !ok {
				t.Fatalf("result type: got %T", resp.Result)
			}
			if result.Indent != tt.want {
				t.Errorf("indent: got %q, want %q", result.Indent, tt.want)
			}
		})
	}
}

func TestActorHoverCommentSkipsWorld(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= Title\n// just a note\nbody\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	req := query.NewRequest(query.KindHover, "/ws/main.typ")
	req.Line, req.Col = 1, 5
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("response error: %v", resp.Err)
	}
	hov, ok := resp.Result.(*protocol.Hover)
	if !ok || hov == nil {
		t.Fatalf("result: got %T %v", resp.Result, resp.Result)
	}
	if hov.Contents.Value != "comment" {
		t.Errorf("hover value: got %q", hov.Contents.Value)
	}

	// Only the request path was resolved: no world was built.
	if calls := resolver.callCount(); calls != 1 {
		t.Errorf("source lookups: got %d, want 1", calls)
	}
	if resp.WorldVersion != 0 {
		t.Errorf("world version: got %d, want 0", resp.WorldVersion)
	}
}

func TestActorHoverCrossFileReference(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "#import \"ch1.typ\"\nSee @intro for details.\n",
		"/ws/ch1.typ":  "= Chapter <intro>\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	req := query.NewRequest(query.KindHover, "/ws/main.typ")
	req.Line, req.Col = 1, 5
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("response error: %v", resp.Err)
	}
	hov := resp.Result.(*protocol.Hover)
	if !strings.Contains(hov.Contents.Value, "/ws/ch1.typ:1") {
		t.Errorf("hover should name the defining file, got %q", hov.Contents.Value)
	}
	if resp.WorldVersion == 0 {
		t.Error("cross-file hover should carry a world version")
	}
}

func TestActorHoverPeriscope(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= Intro <intro>\nSome text @intro here.\n",
	}}

	renderActor, err := render.NewActor("ws", render.NewSVGRenderer(), 8, logging.Discard())
	if err != nil {
		t.Fatalf("render.NewActor failed: %v", err)
	}
	defer renderActor.Stop()

	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{
		Renderer: renderActor,
		Config:   world.Config{Features: map[string]bool{"periscope": true}},
	})

	req := query.NewRequest(query.KindHover, "/ws/main.typ")
	req.Line, req.Col = 1, 11
	req.Periscope = true
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("response error: %v", resp.Err)
	}
	if len(resp.Rendered) == 0 {
		t.Fatal("periscope hover should carry rendered preview")
	}
	if !strings.HasPrefix(string(resp.Rendered), "<svg") {
		t.Errorf("rendered preview should be SVG, got %q", string(resp.Rendered[:min(len(resp.Rendered), 20)]))
	}
}

func TestActorSequentialOrder(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\n- item\n= Two\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	var envelopes []string
	for i := 0; i < 5; i++ {
		req := query.NewRequest(query.KindFoldingRange, "/ws/main.typ")
		envelopes = append(envelopes, req.Envelope)
		if err := a.Submit(req); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	for i, want := range envelopes {
		resp := awaitCompileResponse(t, out)
		if resp.Envelope != want {
			t.Fatalf("response %d: got envelope %q, want %q", i, resp.Envelope, want)
		}
	}
}

type panickyCompiler struct{}

func (panickyCompiler) Compile(context.Context, *world.World) (*world.Document, error) {
	panic("compiler bug")
}

func TestActorPanicIsolation(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{Compiler: panickyCompiler{}})

	req := query.NewRequest(query.KindExport, "/ws/main.typ")
	req.Format = "pdf"
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err == nil || !strings.Contains(resp.Err.Error(), "panic") {
		t.Fatalf("error: got %v, want panic error", resp.Err)
	}

	// The actor survives: syntax queries bypass the broken compiler.
	fold := query.NewRequest(query.KindFoldingRange, "/ws/main.typ")
	if err := a.Submit(fold); err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	if resp := awaitCompileResponse(t, out); resp.Err != nil {
		t.Errorf("query after panic failed: %v", resp.Err)
	}
}

func TestActorConfigInvalidation(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	req := query.NewRequest(query.KindDocumentSymbol, "/ws/main.typ")
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	before := awaitCompileResponse(t, out)
	if before.Err != nil {
		t.Fatalf("response error: %v", before.Err)
	}

	if err := a.SetConfig(world.Config{}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	req = query.NewRequest(query.KindDocumentSymbol, "/ws/main.typ")
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	after := awaitCompileResponse(t, out)
	if after.Err != nil {
		t.Fatalf("response error: %v", after.Err)
	}

	if before.WorldVersion == after.WorldVersion {
		t.Error("config change should produce a new world version")
	}
}

func TestActorWorkspaceIsolation(t *testing.T) {
	resolverA := &countingResolver{files: map[string]string{
		"/a/main.typ": "= Alpha\n",
	}}
	resolverB := &countingResolver{files: map[string]string{
		"/b/main.typ": "= Beta\n= Gamma\n",
	}}

	outA := make(chan Response, 4)
	outB := make(chan Response, 4)
	a := NewActor(Options{
		Workspace: "/a", Entry: "/a/main.typ", Resolver: resolverA,
		Out: outA, Log: logging.Discard(),
	})
	defer a.Stop()
	b := NewActor(Options{
		Workspace: "/b", Entry: "/b/main.typ", Resolver: resolverB,
		Out: outB, Log: logging.Discard(),
	})
	defer b.Stop()

	if err := a.Submit(query.NewRequest(query.KindDocumentSymbol, "/a/main.typ")); err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	if err := b.Submit(query.NewRequest(query.KindDocumentSymbol, "/b/main.typ")); err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}

	respA := awaitCompileResponse(t, outA)
	respB := awaitCompileResponse(t, outB)
	if respA.Err != nil || respB.Err != nil {
		t.Fatalf("errors: %v / %v", respA.Err, respB.Err)
	}

	if respA.Workspace != "/a" || respB.Workspace != "/b" {
		t.Errorf("workspaces: got %q and %q", respA.Workspace, respB.Workspace)
	}
	if respA.WorldVersion == respB.WorldVersion {
		t.Error("distinct workspaces should build distinct worlds")
	}
	if len(respA.Result.([]protocol.SymbolInformation)) != 1 {
		t.Error("workspace A symbol count leaked")
	}
	if len(respB.Result.([]protocol.SymbolInformation)) != 2 {
		t.Error("workspace B symbol count leaked")
	}

	// Source clone plus world build against the own resolver only.
	if resolverA.callCount() != 2 || resolverB.callCount() != 2 {
		t.Errorf("lookups: got %d and %d, want 2 and 2",
			resolverA.callCount(), resolverB.callCount())
	}
}

func TestActorStop(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{"/ws/main.typ": "= One\n"}}
	a, _ := newTestActor(t, "/ws/main.typ", resolver, Options{})

	a.Stop()
	a.Stop() // idempotent

	err := a.Submit(query.NewRequest(query.KindFoldingRange, "/ws/main.typ"))
	if err != ErrStopped {
		t.Errorf("Submit after stop: got %v, want ErrStopped", err)
	}
}

func TestActorSubmitQueueFull(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{"/ws/main.typ": "= One\n"}}

	// Nothing drains the output, so the actor wedges on its first
	// response and the queue behind it fills up.
	out := make(chan Response)
	a := NewActor(Options{
		Workspace: "/ws", Entry: "/ws/main.typ", Resolver: resolver,
		Out: out, Log: logging.Discard(),
	})

	accepted := 0
	var err error
	for i := 0; i < 2*cap(a.requests); i++ {
		if err = a.Submit(query.NewRequest(query.KindFoldingRange, "/ws/main.typ")); err != nil {
			break
		}
		accepted++
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("error: got %v, want ErrBusy", err)
	}

	// Every accepted request still yields exactly one response once
	// the output drains.
	drained := make(chan struct{})
	go func() {
		for i := 0; i < accepted; i++ {
			<-out
		}
		close(drained)
	}()
	a.Stop()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out draining responses")
	}
}

func TestActorExportSVG(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "main.typ")
	resolver := &countingResolver{files: map[string]string{
		entry: "= Report\nfindings\n",
	}}

	renderActor, err := render.NewActor("ws", render.NewSVGRenderer(), 8, logging.Discard())
	if err != nil {
		t.Fatalf("render.NewActor failed: %v", err)
	}
	defer renderActor.Stop()

	a, out := newTestActor(t, entry, resolver, Options{Renderer: renderActor})

	req := query.NewRequest(query.KindExport, entry)
	req.Format = "svg"
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("export failed: %v", resp.Err)
	}
	result, ok := resp.Result.(ExportResult)
	if !ok {
		t.Fatalf("result type: got %T", resp.Result)
	}
	if result.Path != filepath.Join(dir, "main.svg") {
		t.Errorf("export path: got %q", result.Path)
	}

	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "<svg") {
		t.Error("exported file should be SVG")
	}
	if len(data) != result.Bytes {
		t.Errorf("byte count: got %d, want %d", result.Bytes, len(data))
	}
}

func TestActorExportPDF(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "main.typ")
	resolver := &countingResolver{files: map[string]string{
		entry: "= Report\nfindings (draft)\n",
	}}
	a, out := newTestActor(t, entry, resolver, Options{})

	req := query.NewRequest(query.KindExport, entry)
	req.Format = "pdf"
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("export failed: %v", resp.Err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "main.pdf"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF-1.4") {
		t.Error("exported file should start with PDF header")
	}
	if !strings.Contains(string(data), `findings \(draft\)`) {
		t.Error("page content should carry escaped document text")
	}
}

func TestActorDiagnose(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{
		"/ws/main.typ": "= One\nsee @missing\n",
	}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	if err := a.Diagnose(); err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err != nil {
		t.Fatalf("diagnostics pass failed: %v", resp.Err)
	}
	if !resp.Internal {
		t.Error("diagnostics response should be internal")
	}
	if resp.LSPID != nil {
		t.Error("diagnostics response should carry no request id")
	}

	var found bool
	for _, d := range resp.Diagnostics {
		if strings.Contains(d.Message, "missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unresolved reference diagnostic, got %v", resp.Diagnostics)
	}
}

func TestActorUnsupportedExportFormat(t *testing.T) {
	resolver := &countingResolver{files: map[string]string{"/ws/main.typ": "= One\n"}}
	a, out := newTestActor(t, "/ws/main.typ", resolver, Options{})

	req := query.NewRequest(query.KindExport, "/ws/main.typ")
	req.Format = "docx"
	if err := a.Submit(req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp := awaitCompileResponse(t, out)
	if resp.Err == nil || !strings.Contains(resp.Err.Error(), "docx") {
		t.Errorf("error: got %v, want unsupported format", resp.Err)
	}
}
