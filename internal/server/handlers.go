package server

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/dshills/typserve/internal/compile"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/world"
)

// handle dispatches one inbound message. It returns true when the
// client asked the server to exit.
func (s *Server) handle(req protocol.Request) bool {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized":
		// No-op acknowledgment.
	case "shutdown":
		s.shutdown = true
		s.reply(req.ID, nil)
	case "exit":
		return true

	case "textDocument/didOpen":
		s.handleDidOpen(req)
	case "textDocument/didChange":
		s.handleDidChange(req)
	case "textDocument/didClose":
		s.handleDidClose(req)
	case "textDocument/didSave":
		s.handleDidSave(req)
	case "workspace/didChangeWatchedFiles":
		s.handleWatchedFiles(req)

	case "textDocument/hover":
		s.handleHover(req)
	case "textDocument/definition":
		s.handlePosition(req, query.KindDefinition)
	case "textDocument/completion":
		s.handlePosition(req, query.KindCompletion)
	case "textDocument/documentSymbol":
		s.handleDocumentQuery(req, query.KindDocumentSymbol)
	case "textDocument/foldingRange":
		s.handleDocumentQuery(req, query.KindFoldingRange)
	case "experimental/onEnter":
		s.handlePosition(req, query.KindOnEnter)

	case "workspace/executeCommand":
		s.handleExecuteCommand(req)

	default:
		if !req.IsNotification() {
			s.replyError(req.ID, protocol.CodeMethodNotFound, "unknown method "+req.Method)
		}
	}
	return false
}

func (s *Server) handleInitialize(req protocol.Request) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.replyError(req.ID, protocol.CodeInvalidParams, err.Error())
		return
	}

	switch {
	case p.RootURI != "":
		s.root = protocol.URIToFilePath(p.RootURI)
	case p.RootPath != "":
		s.root = p.RootPath
	case s.cfg.World.Root != "":
		s.root = s.cfg.World.Root
	default:
		s.root, _ = os.Getwd()
	}

	s.cfg.ApplyOptions(p.InitializationOptions)
	s.worldConfig = world.Config{
		Root:     s.root,
		Fonts:    s.cfg.World.Fonts,
		Features: s.cfg.World.Features,
	}
	s.startWatcher()
	s.initialized = true
	s.log.Info("initialized", "root", s.root)

	s.reply(req.ID, protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync:       protocol.SyncFull,
			HoverProvider:          true,
			DefinitionProvider:     true,
			DocumentSymbolProvider: true,
			FoldingRangeProvider:   true,
			CompletionProvider:     &protocol.CompletionOptions{TriggerCharacters: []string{"@"}},
			ExecuteCommandProvider: &protocol.ExecuteCommandOptions{Commands: s.commandList()},
			Experimental:           map[string]bool{"onEnter": true},
		},
		ServerInfo: &protocol.ServerInfo{Name: serverName, Version: serverVersion},
	})
}

func (s *Server) handleDidOpen(req protocol.Request) {
	var p protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Warn("bad didOpen params", "error", err)
		return
	}

	path := protocol.URIToFilePath(p.TextDocument.URI)
	tick := s.editorClock.Next()
	s.overlay.Memory().Write(path, p.TextDocument.Text, tick)
	if s.recorder.Active() {
		s.recorder.RecordWrite(path, p.TextDocument.Text, tick)
	}
	s.docVersions[path] = p.TextDocument.Version

	_ = s.actorFor(path).Diagnose()
}

func (s *Server) handleDidChange(req protocol.Request) {
	var p protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Warn("bad didChange params", "error", err)
		return
	}

	path := protocol.URIToFilePath(p.TextDocument.URI)

	// Out-of-order change notifications are dropped; full-sync content
	// is not composable after the fact.
	if v, ok := s.docVersions[path]; ok && p.TextDocument.Version <= v {
		s.log.Warn("stale didChange ignored",
			"path", path, "version", p.TextDocument.Version, "have", v)
		return
	}

	// Full document sync: the last full-text change wins.
	var text string
	var found bool
	for _, change := range p.ContentChanges {
		if change.Range == nil {
			text = change.Text
			found = true
		}
	}
	if !found {
		s.log.Warn("didChange without full content", "path", path)
		return
	}

	tick := s.editorClock.Next()
	s.overlay.Memory().Write(path, text, tick)
	if s.recorder.Active() {
		s.recorder.RecordWrite(path, text, tick)
	}
	s.docVersions[path] = p.TextDocument.Version

	if a, ok := s.actors[path]; ok {
		_ = a.Diagnose()
	}
}

func (s *Server) handleDidClose(req protocol.Request) {
	var p protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Warn("bad didClose params", "error", err)
		return
	}

	path := protocol.URIToFilePath(p.TextDocument.URI)
	tick := s.editorClock.Next()
	s.overlay.Memory().Remove(path, tick)
	if s.recorder.Active() {
		s.recorder.RecordRemove(path, tick)
	}
	delete(s.docVersions, path)

	// The entry's project ends with its document.
	if a, ok := s.actors[path]; ok {
		a.Stop()
		delete(s.actors, path)
	}
	s.clearDiagnostics(path)
}

func (s *Server) handleDidSave(req protocol.Request) {
	var p protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Warn("bad didSave params", "error", err)
		return
	}

	path := protocol.URIToFilePath(p.TextDocument.URI)
	if a, ok := s.actors[path]; ok {
		_ = a.Diagnose()
	}
	if s.cfg.Export.OnSave {
		s.submit(nil, query.KindExport, path, func(q *query.Request) {
			q.Format = s.cfg.Export.DefaultFormat
		})
	}
}

// handleWatchedFiles applies client-reported filesystem changes to the
// Notify model, mirroring what the server's own watcher does.
func (s *Server) handleWatchedFiles(req protocol.Request) {
	var p protocol.DidChangeWatchedFilesParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.Warn("bad didChangeWatchedFiles params", "error", err)
		return
	}

	for _, change := range p.Changes {
		path := protocol.URIToFilePath(change.URI)
		ev := vfs.Event{Path: path, Tick: s.notifyClock.Next()}

		if change.Type == protocol.FileDeleted {
			ev.Kind = vfs.EventRemove
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				s.log.Warn("read reported change failed", "path", path, "error", err)
				continue
			}
			ev.Kind = vfs.EventWrite
			ev.Text = string(data)
		}

		s.overlay.Notify().Apply(ev)
		if s.recorder.Active() {
			s.recorder.RecordNotifyEvent(ev)
		}
	}
}

func (s *Server) handleHover(req protocol.Request) {
	var p protocol.HoverParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.replyError(req.ID, protocol.CodeInvalidParams, err.Error())
		return
	}

	s.submit(req.ID, query.KindHover, protocol.URIToFilePath(p.TextDocument.URI), func(q *query.Request) {
		q.Line = p.Position.Line
		q.Col = p.Position.Character
		q.Periscope = s.worldConfig.Feature("periscope")
	})
}

func (s *Server) handlePosition(req protocol.Request, kind query.Kind) {
	var p protocol.TextDocumentPositionParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.replyError(req.ID, protocol.CodeInvalidParams, err.Error())
		return
	}

	s.submit(req.ID, kind, protocol.URIToFilePath(p.TextDocument.URI), func(q *query.Request) {
		q.Line = p.Position.Line
		q.Col = p.Position.Character
	})
}

func (s *Server) handleDocumentQuery(req protocol.Request, kind query.Kind) {
	var p protocol.DocumentSymbolParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.replyError(req.ID, protocol.CodeInvalidParams, err.Error())
		return
	}

	s.submit(req.ID, kind, protocol.URIToFilePath(p.TextDocument.URI), nil)
}

// submit routes a query to the entry's compile actor.
func (s *Server) submit(id json.RawMessage, kind query.Kind, path string, mut func(*query.Request)) {
	q := query.NewRequest(kind, path)
	q.LSPID = id
	if mut != nil {
		mut(&q)
	}

	if err := s.actorFor(path).Submit(q); err != nil {
		if len(id) == 0 {
			s.log.Warn("internal submit failed", "path", path, "error", err)
			return
		}
		s.replyError(id, protocol.CodeRequestFailed, err.Error())
	}
}

// deliver routes one compile actor response back to the client.
func (s *Server) deliver(resp compile.Response) {
	s.publishDiagnostics(resp)

	if resp.Internal || len(resp.LSPID) == 0 {
		if resp.Err != nil && resp.Internal {
			s.log.Debug("diagnostics pass failed", "entry", resp.Entry, "error", resp.Err)
		}
		return
	}

	if resp.Err != nil {
		code := protocol.CodeRequestFailed
		if errors.Is(resp.Err, query.ErrStaleInput) {
			code = protocol.CodeContentModified
		}
		s.replyError(resp.LSPID, code, resp.Err.Error())
		return
	}

	s.attachRendered(&resp)
	s.reply(resp.LSPID, resp.Result)
}

func (s *Server) reply(id json.RawMessage, result any) {
	if err := s.transport.Reply(id, result); err != nil {
		s.log.Warn("reply failed", "error", err)
	}
}

func (s *Server) replyError(id json.RawMessage, code int, msg string) {
	if err := s.transport.ReplyError(id, code, msg); err != nil {
		s.log.Warn("reply failed", "error", err)
	}
}

// resolvePath turns a command URI argument into a file path relative
// to the workspace root.
func (s *Server) resolvePath(uri string) string {
	path := protocol.URIToFilePath(protocol.DocumentURI(uri))
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	return path
}
