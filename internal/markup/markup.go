// Package markup provides a line-based scanner for Typst-style markup
// documents. It extracts the structure needed by syntax-level queries
// (comments, folding regions) and by the built-in compiler (headings,
// labels, references, imports) without a full parse.
package markup

import (
	"regexp"
	"strings"
)

// RegionKind classifies a foldable region.
type RegionKind int

const (
	// RegionComment is a block comment.
	RegionComment RegionKind = iota

	// RegionCode is a fenced code block.
	RegionCode

	// RegionSection spans a heading and its content.
	RegionSection
)

// String returns the region kind name.
func (k RegionKind) String() string {
	switch k {
	case RegionComment:
		return "comment"
	case RegionCode:
		return "code"
	case RegionSection:
		return "section"
	default:
		return "unknown"
	}
}

// Heading is a section heading ("= Title", "== Subtitle", ...).
type Heading struct {
	Level int
	Title string
	Line  int
}

// Label is a label definition ("<intro>").
type Label struct {
	Name string
	Line int
	Col  int
}

// Ref is a label reference ("@intro").
type Ref struct {
	Name string
	Line int
	Col  int
}

// Import is a file import (`#import "other.typ"`).
type Import struct {
	Path string
	Line int
}

// Region is a foldable line range, inclusive on both ends.
type Region struct {
	Kind      RegionKind
	StartLine int
	EndLine   int
}

// Index is the scanned structure of one document.
type Index struct {
	Headings []Heading
	Labels   []Label
	Refs     []Ref
	Imports  []Import
	Regions  []Region

	// comment[i] marks byte columns of line i that sit inside a
	// comment (line or block).
	comment []commentSpans
	lines   int
}

type commentSpans struct {
	spans [][2]int // [start, end) byte columns
	whole bool
}

var (
	headingRe = regexp.MustCompile(`^(=+)\s+(.*)$`)
	labelRe   = regexp.MustCompile(`<([a-zA-Z][\w-]*)>`)
	refRe     = regexp.MustCompile(`@([a-zA-Z][\w-]*)`)
	importRe  = regexp.MustCompile(`^\s*#import\s+"([^"]+)"`)
)

// Scan builds an index for the given document text.
func Scan(text string) *Index {
	lines := strings.Split(text, "\n")
	ix := &Index{
		comment: make([]commentSpans, len(lines)),
		lines:   len(lines),
	}

	inBlock := false
	blockStart := 0
	inFence := false
	fenceStart := 0

	// Heading stack for section regions: one open section per level.
	type openSection struct {
		level int
		start int
	}
	var sections []openSection

	closeSections := func(level, endLine int) {
		for len(sections) > 0 && sections[len(sections)-1].level >= level {
			s := sections[len(sections)-1]
			sections = sections[:len(sections)-1]
			if endLine > s.start {
				ix.Regions = append(ix.Regions, Region{
					Kind:      RegionSection,
					StartLine: s.start,
					EndLine:   endLine,
				})
			}
		}
	}

	for n, line := range lines {
		if inBlock {
			if end := strings.Index(line, "*/"); end >= 0 {
				ix.comment[n].spans = append(ix.comment[n].spans, [2]int{0, end + 2})
				ix.Regions = append(ix.Regions, Region{Kind: RegionComment, StartLine: blockStart, EndLine: n})
				inBlock = false
				line = strings.Repeat(" ", end+2) + line[end+2:]
			} else {
				ix.comment[n].whole = true
				continue
			}
		}

		if inFence {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				ix.Regions = append(ix.Regions, Region{Kind: RegionCode, StartLine: fenceStart, EndLine: n})
				inFence = false
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = true
			fenceStart = n
			continue
		}

		// Strip comments from the effective line before structural
		// matching, recording their spans.
		effective := ix.scanComments(n, line, &inBlock, &blockStart)

		if m := headingRe.FindStringSubmatch(effective); m != nil {
			level := len(m[1])
			closeSections(level, n-1)
			sections = append(sections, openSection{level: level, start: n})
			ix.Headings = append(ix.Headings, Heading{
				Level: level,
				Title: strings.TrimSpace(m[2]),
				Line:  n,
			})
		}

		if m := importRe.FindStringSubmatch(effective); m != nil {
			ix.Imports = append(ix.Imports, Import{Path: m[1], Line: n})
		}

		for _, loc := range labelRe.FindAllStringSubmatchIndex(effective, -1) {
			ix.Labels = append(ix.Labels, Label{
				Name: effective[loc[2]:loc[3]],
				Line: n,
				Col:  loc[0],
			})
		}

		for _, loc := range refRe.FindAllStringSubmatchIndex(effective, -1) {
			ix.Refs = append(ix.Refs, Ref{
				Name: effective[loc[2]:loc[3]],
				Line: n,
				Col:  loc[0],
			})
		}
	}

	if inFence {
		ix.Regions = append(ix.Regions, Region{Kind: RegionCode, StartLine: fenceStart, EndLine: len(lines) - 1})
	}
	if inBlock {
		ix.Regions = append(ix.Regions, Region{Kind: RegionComment, StartLine: blockStart, EndLine: len(lines) - 1})
	}
	closeSections(1, len(lines)-1)

	return ix
}

// scanComments records comment spans on line n and returns the line
// with comment text blanked out so structural regexes skip it.
func (ix *Index) scanComments(n int, line string, inBlock *bool, blockStart *int) string {
	out := []byte(line)

	for i := 0; i < len(out)-1; i++ {
		switch {
		case out[i] == '/' && out[i+1] == '/':
			ix.comment[n].spans = append(ix.comment[n].spans, [2]int{i, len(out)})
			for j := i; j < len(out); j++ {
				out[j] = ' '
			}
			return string(out)
		case out[i] == '/' && out[i+1] == '*':
			end := strings.Index(string(out[i+2:]), "*/")
			if end < 0 {
				*inBlock = true
				*blockStart = n
				ix.comment[n].spans = append(ix.comment[n].spans, [2]int{i, len(out)})
				for j := i; j < len(out); j++ {
					out[j] = ' '
				}
				return string(out)
			}
			stop := i + 2 + end + 2
			ix.comment[n].spans = append(ix.comment[n].spans, [2]int{i, stop})
			for j := i; j < stop; j++ {
				out[j] = ' '
			}
			i = stop - 1
		}
	}
	return string(out)
}

// InComment reports whether the position (zero-based line, byte
// column) lies inside a comment.
func (ix *Index) InComment(line, col int) bool {
	if line < 0 || line >= len(ix.comment) {
		return false
	}
	c := ix.comment[line]
	if c.whole {
		return true
	}
	for _, span := range c.spans {
		if col >= span[0] && col < span[1] {
			return true
		}
	}
	return false
}

// RefAt returns the reference covering the position, if any.
func (ix *Index) RefAt(line, col int) (Ref, bool) {
	for _, r := range ix.Refs {
		if r.Line == line && col >= r.Col && col <= r.Col+len(r.Name) {
			return r, true
		}
	}
	return Ref{}, false
}

// LabelNamed returns the first label with the given name.
func (ix *Index) LabelNamed(name string) (Label, bool) {
	for _, l := range ix.Labels {
		if l.Name == name {
			return l, true
		}
	}
	return Label{}, false
}

// LineCount returns the number of scanned lines.
func (ix *Index) LineCount() int { return ix.lines }
