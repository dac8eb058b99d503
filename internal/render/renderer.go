// Package render provides the render actor: one per project, owning a
// rendering cache and producing low-latency rendered output such as
// periscope hover previews.
//
// The actor performs no compilation. It consumes Document objects
// handed to it by compile actors and answers on the response channel
// supplied with each request, so hot-path results never take an extra
// hop back through the compile actor.
package render

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/dshills/typserve/internal/world"
)

// Region selects an inclusive line range of the entry source to
// render.
type Region struct {
	StartLine int
	EndLine   int
}

// String returns a printable region.
func (r Region) String() string {
	return fmt.Sprintf("%d-%d", r.StartLine, r.EndLine)
}

// Renderer turns a document region into image bytes. Implementations
// must treat the Document as read-only.
type Renderer interface {
	Render(ctx context.Context, doc *world.Document, region Region) ([]byte, error)
}

// SVGRenderer is the built-in renderer. It lays the region's frames
// out as escaped text lines in a minimal SVG, enough for periscope
// previews and for exercising the render path end to end. A real
// typesetting renderer can replace it behind the Renderer interface.
type SVGRenderer struct{}

// NewSVGRenderer creates the built-in renderer.
func NewSVGRenderer() *SVGRenderer { return &SVGRenderer{} }

var _ Renderer = (*SVGRenderer)(nil)

const lineHeight = 16

// Render produces an SVG snippet for the region.
func (r *SVGRenderer) Render(ctx context.Context, doc *world.Document, region Region) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lines []string
	for _, f := range doc.Frames {
		if f.EndLine < region.StartLine || f.StartLine > region.EndLine {
			continue
		}
		for i, line := range strings.Split(f.Text, "\n") {
			n := f.StartLine + i
			if n >= region.StartLine && n <= region.EndLine {
				lines = append(lines, line)
			}
		}
	}

	var b strings.Builder
	height := lineHeight * (len(lines) + 1)
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="480" height="%d">`, height)
	for i, line := range lines {
		fmt.Fprintf(&b, `<text x="4" y="%d" font-family="monospace" font-size="12">%s</text>`,
			lineHeight*(i+1), html.EscapeString(line))
	}
	b.WriteString("</svg>")
	return []byte(b.String()), nil
}
