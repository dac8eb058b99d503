package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/vfs"
)

// Built-in workspace commands.
const (
	cmdExportPDF      = "typserve.exportPdf"
	cmdExportSVG      = "typserve.exportSvg"
	cmdCodeContext    = "typserve.interactCodeContext"
	cmdGetResources   = "typserve.getResources"
	cmdClearCache     = "typserve.doClearCache"
	cmdStartRecord    = "typserve.doStartRecord"
	cmdStopRecord     = "typserve.doStopRecord"
	userCommandPrefix = "user."
	statsResourcePath = "/stats"
)

// commandList enumerates every command for the initialize response.
func (s *Server) commandList() []string {
	commands := []string{
		cmdExportPDF, cmdExportSVG, cmdCodeContext, cmdGetResources,
		cmdClearCache, cmdStartRecord, cmdStopRecord,
	}
	for _, name := range s.scripts.Commands() {
		commands = append(commands, userCommandPrefix+name)
	}
	return commands
}

func (s *Server) handleExecuteCommand(req protocol.Request) {
	var p protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.replyError(req.ID, protocol.CodeInvalidParams, err.Error())
		return
	}

	switch p.Command {
	case cmdExportPDF:
		s.commandExport(req.ID, p.Arguments, "pdf")
	case cmdExportSVG:
		s.commandExport(req.ID, p.Arguments, "svg")
	case cmdCodeContext:
		s.commandCodeContext(req.ID, p.Arguments)
	case cmdGetResources:
		s.commandGetResources(req.ID, p.Arguments)
	case cmdClearCache:
		s.commandClearCache(req.ID)
	case cmdStartRecord:
		s.reply(req.ID, map[string]any{"id": s.recorder.Start()})
	case cmdStopRecord:
		s.commandStopRecord(req.ID)

	default:
		if name, ok := strings.CutPrefix(p.Command, userCommandPrefix); ok && s.scripts.Has(name) {
			s.commandUserScript(req.ID, name, p.Arguments)
			return
		}
		s.replyError(req.ID, protocol.CodeInvalidParams, "unknown command "+p.Command)
	}
}

func (s *Server) commandExport(id json.RawMessage, args []any, format string) {
	uri, ok := firstString(args)
	if !ok {
		s.replyError(id, protocol.CodeInvalidParams, "export needs a document uri argument")
		return
	}

	s.submit(id, query.KindExport, s.resolvePath(uri), func(q *query.Request) {
		q.Format = format
	})
}

// codeContextArgs mirrors the argument object of interactCodeContext.
type codeContextArgs struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position               `json:"position"`
	Kinds        []string                        `json:"kinds"`
}

func (s *Server) commandCodeContext(id json.RawMessage, args []any) {
	if len(args) == 0 {
		s.replyError(id, protocol.CodeInvalidParams, "interactCodeContext needs an argument object")
		return
	}

	raw, err := json.Marshal(args[0])
	if err != nil {
		s.replyError(id, protocol.CodeInvalidParams, err.Error())
		return
	}
	var p codeContextArgs
	if err := json.Unmarshal(raw, &p); err != nil {
		s.replyError(id, protocol.CodeInvalidParams, err.Error())
		return
	}
	if len(p.Kinds) == 0 {
		s.replyError(id, protocol.CodeInvalidParams, "interactCodeContext needs at least one kind")
		return
	}

	s.submit(id, query.KindCodeContext, protocol.URIToFilePath(p.TextDocument.URI), func(q *query.Request) {
		q.Line = p.Position.Line
		q.Col = p.Position.Character
		q.ContextKinds = p.Kinds
	})
}

func (s *Server) commandGetResources(id json.RawMessage, args []any) {
	path, ok := firstString(args)
	if !ok {
		s.replyError(id, protocol.CodeInvalidParams, "getResources needs a resource path")
		return
	}

	switch path {
	case statsResourcePath:
		s.reply(id, s.stats())
	default:
		s.replyError(id, protocol.CodeInvalidParams, "unknown resource "+path)
	}
}

// stats summarizes router-owned state for the /stats resource.
func (s *Server) stats() map[string]any {
	hits, misses := s.renderer.CacheStats()

	entries := make([]string, 0, len(s.actors))
	for entry := range s.actors {
		entries = append(entries, entry)
	}

	return map[string]any{
		"openDocuments":      len(s.docVersions),
		"compileActors":      entries,
		"renderCacheHits":    hits,
		"renderCacheMisses":  misses,
		"watcherTick":        s.watcherTick(),
		"recording":          s.recorder.Active(),
		"overlayFingerprint": fmt.Sprintf("%016x", vfs.Fingerprint(s.overlay.Memory(), s.overlay.Notify())),
	}
}

func (s *Server) watcherTick() uint64 {
	if s.watcher == nil {
		return 0
	}
	return uint64(s.watcher.Tick())
}

// commandClearCache invalidates every actor's world and document
// caches by reissuing the current configuration.
func (s *Server) commandClearCache(id json.RawMessage) {
	for _, a := range s.actors {
		if err := a.SetConfig(s.worldConfig); err != nil {
			s.replyError(id, protocol.CodeRequestFailed, err.Error())
			return
		}
	}
	s.reply(id, true)
}

func (s *Server) commandStopRecord(id json.RawMessage) {
	session, err := s.recorder.Stop()
	if err != nil {
		s.replyError(id, protocol.CodeRequestFailed, err.Error())
		return
	}

	data, err := session.Marshal()
	if err != nil {
		s.replyError(id, protocol.CodeRequestFailed, err.Error())
		return
	}

	dir := s.root
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, ".typserve-session-"+session.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.replyError(id, protocol.CodeRequestFailed, err.Error())
		return
	}

	s.log.Info("recording stopped", "id", session.ID, "entries", len(session.Entries), "path", path)
	s.reply(id, map[string]any{
		"id":      session.ID,
		"entries": len(session.Entries),
		"path":    path,
	})
}

// commandUserScript runs a Lua command off the router goroutine; the
// transport serializes concurrent replies.
func (s *Server) commandUserScript(id json.RawMessage, name string, args []any) {
	go func() {
		result, err := s.scripts.Run(context.Background(), name, args)
		if err != nil {
			s.replyError(id, protocol.CodeRequestFailed, err.Error())
			return
		}
		s.reply(id, result)
	}()
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	v, ok := args[0].(string)
	return v, ok
}
