package compile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dshills/typserve/internal/markup"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/render"
	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/world"
)

// OnEnterResult is the indentation answer for a newline at a
// position.
type OnEnterResult struct {
	Indent string `json:"indent"`
}

// CodeContextItem is one answer of a batched code-context query.
type CodeContextItem struct {
	Kind    string `json:"kind"`
	Mode    string `json:"mode,omitempty"`
	Heading string `json:"heading,omitempty"`
	Level   int    `json:"level,omitempty"`
	Label   string `json:"label,omitempty"`
}

// ExportResult reports a completed export.
type ExportResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// execute runs one query at the minimum sufficient level, escalating
// only when the query's data demands it.
func (a *Actor) execute(ctx context.Context, req query.Request) (result any, rendered []byte, diags []world.Diagnostic, version uint64, err error) {
	level := req.BaseLevel()

	res, err := a.upgrader.Acquire(ctx, req, level)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	if res.World != nil {
		version = res.World.Version()
	}

	switch req.Kind {
	case query.KindFoldingRange:
		return foldingRanges(res.Source), nil, nil, version, nil

	case query.KindOnEnter:
		return onEnter(res.Source, req.Line), nil, nil, version, nil

	case query.KindHover:
		return a.hover(ctx, req, res)

	case query.KindDefinition:
		return definition(res.World, req), nil, nil, version, nil

	case query.KindDocumentSymbol:
		return documentSymbols(res.World, req.Path), nil, nil, version, nil

	case query.KindCompletion:
		return completions(res.World, res.Source, req), nil, nil, version, nil

	case query.KindCodeContext:
		return codeContext(res.World, req), nil, nil, version, nil

	case query.KindExport:
		return a.export(ctx, req, res)

	default:
		return nil, nil, nil, version, fmt.Errorf("unhandled query kind %s", req.Kind)
	}
}

// foldingRanges answers at syntax level from one cloned source.
func foldingRanges(src vfs.Source) []protocol.FoldingRange {
	ix := markup.Scan(src.Text())

	ranges := make([]protocol.FoldingRange, 0, len(ix.Regions))
	for _, r := range ix.Regions {
		fr := protocol.FoldingRange{StartLine: r.StartLine, EndLine: r.EndLine}
		if r.Kind == markup.RegionComment {
			fr.Kind = protocol.FoldingRangeComment
		} else {
			fr.Kind = protocol.FoldingRangeRegion
		}
		ranges = append(ranges, fr)
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].StartLine != ranges[j].StartLine {
			return ranges[i].StartLine < ranges[j].StartLine
		}
		return ranges[i].EndLine < ranges[j].EndLine
	})
	return ranges
}

// onEnter answers at syntax level: continue the current line's
// indentation, indenting one step further after a list marker.
func onEnter(src vfs.Source, line int) OnEnterResult {
	text := src.Line(line)
	indent := text[:len(text)-len(strings.TrimLeft(text, " \t"))]

	trimmed := strings.TrimLeft(text, " \t")
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "+ ") {
		indent += "  "
	}
	return OnEnterResult{Indent: indent}
}

// hover starts at syntax level and escalates only when the position
// names a cross-file reference. Periscope hovers additionally acquire
// a compiled document and a render round-trip.
func (a *Actor) hover(ctx context.Context, req query.Request, res query.Resources) (any, []byte, []world.Diagnostic, uint64, error) {
	ix := markup.Scan(res.Source.Text())

	// Comments answer at syntax level with no world construction.
	if ix.InComment(req.Line, req.Col) {
		return &protocol.Hover{
			Contents: protocol.MarkupContent{Kind: protocol.MarkupKindPlainText, Value: "comment"},
		}, nil, nil, 0, nil
	}

	ref, onRef := ix.RefAt(req.Line, req.Col)
	if !onRef {
		// Headings hover from syntax alone.
		for _, h := range ix.Headings {
			if h.Line == req.Line {
				return &protocol.Hover{
					Contents: protocol.MarkupContent{
						Kind:  protocol.MarkupKindMarkdown,
						Value: fmt.Sprintf("section level %d: **%s**", h.Level, h.Title),
					},
				}, nil, nil, 0, nil
			}
		}
		return nil, nil, nil, 0, nil
	}

	// The reference may resolve in another file: semantic tier.
	res, err := a.upgrader.Upgrade(ctx, res, query.LevelSemantic)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	version := res.World.Version()

	def, ok := findLabel(res.World, ref.Name)
	if !ok {
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindPlainText,
				Value: fmt.Sprintf("unresolved reference @%s", ref.Name),
			},
		}, nil, nil, version, nil
	}

	value := fmt.Sprintf("**@%s** defined in %s:%d", ref.Name, def.Path, def.Line+1)
	if src, ok := res.World.Source(def.Path); ok {
		value += "\n\n```\n" + src.Line(def.Line) + "\n```"
	}
	hov := &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: value},
	}

	if !req.Periscope || !res.World.Config().Feature("periscope") {
		return hov, nil, nil, version, nil
	}

	// Periscope preview: stateful tier plus a render round-trip.
	res, err = a.upgrader.Upgrade(ctx, res, query.LevelStateful)
	if err != nil {
		return nil, nil, nil, version, err
	}

	var data []byte
	if frame, ok := res.Document.FrameAt(def.Line); ok && def.Path == res.World.Entry() {
		data, err = a.awaitRender(res.Document, render.Region{
			StartLine: frame.StartLine,
			EndLine:   frame.EndLine,
		}, req)
		if err != nil {
			return nil, nil, nil, version, err
		}
	}
	return hov, data, res.Document.Diagnostics, version, nil
}

// definition resolves a reference at the request position to its
// label definition anywhere in the world.
func definition(w *world.World, req query.Request) []protocol.Location {
	src, ok := w.Source(req.Path)
	if !ok {
		return nil
	}

	ref, onRef := markup.Scan(src.Text()).RefAt(req.Line, req.Col)
	if !onRef {
		return nil
	}
	def, ok := findLabel(w, ref.Name)
	if !ok {
		return nil
	}

	return []protocol.Location{{
		URI: protocol.FilePathToURI(def.Path),
		Range: protocol.Range{
			Start: protocol.Position{Line: def.Line, Character: def.Col},
			End:   protocol.Position{Line: def.Line, Character: def.Col + len(def.Name) + 2},
		},
	}}
}

// documentSymbols lists the outline of one file in the world.
func documentSymbols(w *world.World, path string) []protocol.SymbolInformation {
	src, ok := w.Source(path)
	if !ok {
		return nil
	}

	var symbols []protocol.SymbolInformation
	for _, h := range markup.Scan(src.Text()).Headings {
		symbols = append(symbols, protocol.SymbolInformation{
			Name: h.Title,
			Kind: protocol.SymbolKindNamespace,
			Location: protocol.Location{
				URI: protocol.FilePathToURI(path),
				Range: protocol.Range{
					Start: protocol.Position{Line: h.Line},
					End:   protocol.Position{Line: h.Line, Character: len(src.Line(h.Line))},
				},
			},
		})
	}
	return symbols
}

// completions proposes every label in the world as a reference
// completion.
func completions(w *world.World, src vfs.Source, req query.Request) *protocol.CompletionList {
	line := src.Line(req.Line)
	col := min(req.Col, len(line))

	// Only complete after an @ trigger.
	at := strings.LastIndexByte(line[:col], '@')
	if at < 0 {
		return &protocol.CompletionList{Items: []protocol.CompletionItem{}}
	}
	prefix := line[at+1 : col]

	var items []protocol.CompletionItem
	for _, path := range w.Paths() {
		s, _ := w.Source(path)
		for _, l := range markup.Scan(s.Text()).Labels {
			if strings.HasPrefix(l.Name, prefix) {
				items = append(items, protocol.CompletionItem{
					Label:  l.Name,
					Kind:   protocol.CompletionItemKindReference,
					Detail: fmt.Sprintf("%s:%d", path, l.Line+1),
				})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return &protocol.CompletionList{Items: items}
}

// codeContext answers the batch atomically against one snapshot.
func codeContext(w *world.World, req query.Request) []CodeContextItem {
	src, ok := w.Source(req.Path)
	if !ok {
		return nil
	}
	ix := markup.Scan(src.Text())

	items := make([]CodeContextItem, 0, len(req.ContextKinds))
	for _, kind := range req.ContextKinds {
		item := CodeContextItem{Kind: kind}
		switch kind {
		case "mode":
			if ix.InComment(req.Line, req.Col) {
				item.Mode = "comment"
			} else {
				item.Mode = "markup"
			}
		case "heading":
			for _, h := range ix.Headings {
				if h.Line <= req.Line {
					item.Heading = h.Title
					item.Level = h.Level
				}
			}
		case "label":
			if ref, ok := ix.RefAt(req.Line, req.Col); ok {
				item.Label = ref.Name
			}
		}
		items = append(items, item)
	}
	return items
}

// export renders the compiled entry document to a file next to it.
func (a *Actor) export(ctx context.Context, req query.Request, res query.Resources) (any, []byte, []world.Diagnostic, uint64, error) {
	version := res.World.Version()
	doc := res.Document

	var data []byte
	var err error
	switch req.Format {
	case "svg":
		last := 0
		if n := len(doc.Frames); n > 0 {
			last = doc.Frames[n-1].EndLine
		}
		data, err = a.awaitRender(doc, render.Region{StartLine: 0, EndLine: last}, req)
	case "pdf":
		data, err = writePDF(doc)
	default:
		err = fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return nil, nil, nil, version, err
	}

	out := strings.TrimSuffix(a.entry, ".typ") + "." + req.Format
	if err := os.WriteFile(out, data, 0644); err != nil {
		return nil, nil, nil, version, fmt.Errorf("write export: %w", err)
	}

	return ExportResult{Path: out, Bytes: len(data)}, nil, doc.Diagnostics, version, nil
}

// findLabel scans world sources for a label definition.
func findLabel(w *world.World, name string) (world.LabelDef, bool) {
	for _, path := range w.Paths() {
		src, _ := w.Source(path)
		if l, ok := markup.Scan(src.Text()).LabelNamed(name); ok {
			return world.LabelDef{Name: l.Name, Path: path, Line: l.Line, Col: l.Col}, true
		}
	}
	return world.LabelDef{}, false
}
