package server

import (
	"encoding/base64"
	"fmt"

	"github.com/dshills/typserve/internal/compile"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/world"
)

// publishDiagnostics pushes a response's diagnostics to the client,
// clearing paths this entry previously reported on but no longer
// does. Responses without a stateful tier carry no diagnostics and
// change nothing.
func (s *Server) publishDiagnostics(resp compile.Response) {
	if resp.Diagnostics == nil && !resp.Internal {
		return
	}
	if resp.Internal && resp.Err != nil {
		return
	}

	byPath := make(map[string][]protocol.Diagnostic)
	byPath[resp.Entry] = []protocol.Diagnostic{} // entry always publishes, even when clean
	for _, d := range resp.Diagnostics {
		byPath[d.Path] = append(byPath[d.Path], toProtocolDiagnostic(d))
	}

	prev := s.published[resp.Entry]
	current := make(map[string]bool, len(byPath))
	for path, diags := range byPath {
		current[path] = true
		s.notifyDiagnostics(path, diags)
	}
	for path := range prev {
		if !current[path] {
			s.notifyDiagnostics(path, []protocol.Diagnostic{})
		}
	}
	s.published[resp.Entry] = current
}

// clearDiagnostics blanks everything an entry had published.
func (s *Server) clearDiagnostics(entry string) {
	for path := range s.published[entry] {
		s.notifyDiagnostics(path, []protocol.Diagnostic{})
	}
	delete(s.published, entry)
}

func (s *Server) notifyDiagnostics(path string, diags []protocol.Diagnostic) {
	err := s.transport.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         protocol.FilePathToURI(path),
		Diagnostics: diags,
	})
	if err != nil {
		s.log.Warn("publish diagnostics failed", "path", path, "error", err)
	}
}

func toProtocolDiagnostic(d world.Diagnostic) protocol.Diagnostic {
	severity := protocol.DiagnosticWarning
	if d.Severity == world.SeverityError {
		severity = protocol.DiagnosticError
	}
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: d.Line, Character: d.Col},
			End:   protocol.Position{Line: d.Line, Character: d.Col + 1},
		},
		Severity: severity,
		Source:   serverName,
		Message:  d.Message,
	}
}

// attachRendered folds a periscope preview into the hover payload as
// an inline image.
func (s *Server) attachRendered(resp *compile.Response) {
	if resp.Kind != query.KindHover || len(resp.Rendered) == 0 {
		return
	}
	hov, ok := resp.Result.(*protocol.Hover)
	if !ok || hov == nil {
		return
	}

	hov.Contents.Kind = protocol.MarkupKindMarkdown
	hov.Contents.Value += fmt.Sprintf("\n\n![preview](data:image/svg+xml;base64,%s)",
		base64.StdEncoding.EncodeToString(resp.Rendered))
}
