package world

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/typserve/internal/markup"
)

// MarkupCompiler is the built-in compiler. It indexes every source in
// the World, builds the outline and label table, lays the entry
// source out into frames split at top-level headings, and diagnoses
// unresolved references and missing imports.
//
// It implements enough of the compilation contract to exercise every
// query path; a full typesetting engine can replace it behind the
// Compiler interface.
type MarkupCompiler struct{}

// NewMarkupCompiler creates the built-in compiler.
func NewMarkupCompiler() *MarkupCompiler { return &MarkupCompiler{} }

var _ Compiler = (*MarkupCompiler)(nil)

// Compile builds a Document from the World snapshot.
func (c *MarkupCompiler) Compile(ctx context.Context, w *World) (*Document, error) {
	doc := &Document{
		WorldVersion: w.Version(),
		Entry:        w.Entry(),
		Labels:       make(map[string]LabelDef),
	}

	indexes := make(map[string]*markup.Index, len(w.Paths()))
	for _, path := range w.Paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, _ := w.Source(path)
		ix := markup.Scan(src.Text())
		indexes[path] = ix

		for _, h := range ix.Headings {
			doc.Outline = append(doc.Outline, OutlineItem{
				Title: h.Title,
				Level: h.Level,
				Path:  path,
				Line:  h.Line,
			})
		}
		for _, l := range ix.Labels {
			if _, dup := doc.Labels[l.Name]; dup {
				doc.Diagnostics = append(doc.Diagnostics, Diagnostic{
					Path:     path,
					Line:     l.Line,
					Col:      l.Col,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("duplicate label <%s>", l.Name),
				})
				continue
			}
			doc.Labels[l.Name] = LabelDef{Name: l.Name, Path: path, Line: l.Line, Col: l.Col}
		}
		for _, imp := range ix.Imports {
			target := imp.Path
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			if _, ok := w.Source(target); !ok {
				doc.Diagnostics = append(doc.Diagnostics, Diagnostic{
					Path:     path,
					Line:     imp.Line,
					Severity: SeverityError,
					Message:  fmt.Sprintf("cannot resolve import %q", imp.Path),
				})
			}
		}
	}

	// Unresolved references across the whole snapshot.
	for _, path := range w.Paths() {
		for _, r := range indexes[path].Refs {
			if _, ok := doc.Labels[r.Name]; !ok {
				doc.Diagnostics = append(doc.Diagnostics, Diagnostic{
					Path:     path,
					Line:     r.Line,
					Col:      r.Col,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("unresolved reference @%s", r.Name),
				})
			}
		}
	}

	doc.Frames = layout(w)
	return doc, nil
}

// layout splits the entry source into frames at top-level headings.
func layout(w *World) []Frame {
	src, ok := w.Source(w.Entry())
	if !ok {
		return nil
	}
	lines := src.Lines()
	ix := markup.Scan(src.Text())

	var breaks []int
	for _, h := range ix.Headings {
		if h.Level == 1 {
			breaks = append(breaks, h.Line)
		}
	}
	if len(breaks) == 0 || breaks[0] != 0 {
		breaks = append([]int{0}, breaks...)
	}

	frames := make([]Frame, 0, len(breaks))
	for i, start := range breaks {
		end := len(lines) - 1
		if i+1 < len(breaks) {
			end = breaks[i+1] - 1
		}
		frames = append(frames, Frame{
			Index:     i,
			StartLine: start,
			EndLine:   end,
			Text:      strings.Join(lines[start:end+1], "\n"),
		})
	}
	return frames
}
