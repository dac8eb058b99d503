package world

// Severity grades a diagnostic.
type Severity int

const (
	// SeverityError blocks a usable document.
	SeverityError Severity = 1

	// SeverityWarning flags suspect content.
	SeverityWarning Severity = 2
)

// Diagnostic is one compiler finding, attached to a source position.
type Diagnostic struct {
	Path     string
	Line     int
	Col      int
	Severity Severity
	Message  string
}

// LabelDef is a label definition located in a specific file.
type LabelDef struct {
	Name string
	Path string
	Line int
	Col  int
}

// OutlineItem is one entry of the document outline.
type OutlineItem struct {
	Title string
	Level int
	Path  string
	Line  int
}

// Frame is one laid-out portion of the compiled document: a line
// range of the entry source that renders as a unit.
type Frame struct {
	Index     int
	StartLine int
	EndLine   int
	Text      string
}

// Document is the compiled output produced from one World. It is
// owned by the compile actor that produced it and handed by reference
// to render actors; all fields are read-only after compilation.
type Document struct {
	// WorldVersion ties the document to the snapshot it was compiled
	// from. Stateful queries fail when this no longer matches current
	// sources.
	WorldVersion uint64

	Entry       string
	Outline     []OutlineItem
	Labels      map[string]LabelDef
	Frames      []Frame
	Diagnostics []Diagnostic
}

// FrameAt returns the frame containing the entry-source line, if any.
func (d *Document) FrameAt(line int) (Frame, bool) {
	for _, f := range d.Frames {
		if line >= f.StartLine && line <= f.EndLine {
			return f, true
		}
	}
	return Frame{}, false
}

// Label returns the definition of a named label, if the document has
// one.
func (d *Document) Label(name string) (LabelDef, bool) {
	def, ok := d.Labels[name]
	return def, ok
}
