// Package server implements the router actor: the single event loop
// that owns all LSP traffic. It reads requests off the transport,
// applies document state changes to the overlay VFS strictly in
// receipt order, dispatches analysis queries to per-entry compile
// actors, and writes every response back to the client.
//
// The router is the only writer of the Memory access model and the
// only goroutine that touches the actor table, so no locks guard
// either. Compile actors answer on a shared response channel the
// router drains in its own loop.
package server

import (
	"context"
	"errors"
	"io"

	"github.com/dshills/typserve/internal/compile"
	"github.com/dshills/typserve/internal/config"
	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/protocol"
	"github.com/dshills/typserve/internal/render"
	"github.com/dshills/typserve/internal/script"
	"github.com/dshills/typserve/internal/vfs"
	"github.com/dshills/typserve/internal/watcher"
	"github.com/dshills/typserve/internal/world"
)

const (
	serverName    = "typserve"
	serverVersion = "0.4.0"
)

// Server is the router actor and its owned state.
type Server struct {
	transport *protocol.Transport
	cfg       config.Config
	log       *logging.Logger

	overlay *vfs.Overlay

	// editorClock stamps Memory mutations; notifyClock stamps
	// client-reported watched-file events. The filesystem watcher
	// carries its own clock.
	editorClock vfs.Clock
	notifyClock vfs.Clock

	watcher  *watcher.Watcher
	recorder *vfs.Recorder
	scripts  *script.Engine
	renderer *render.Actor

	actors    map[string]*compile.Actor
	responses chan compile.Response

	// docVersions tracks the client's version per open document.
	docVersions map[string]int

	// published remembers which paths each entry last produced
	// diagnostics for, so stale ones can be cleared.
	published map[string]map[string]bool

	worldConfig world.Config
	root        string
	initialized bool
	shutdown    bool
}

// New creates a server over the given transport.
func New(transport *protocol.Transport, cfg config.Config, log *logging.Logger) (*Server, error) {
	renderer, err := render.NewActor(serverName, render.NewSVGRenderer(), cfg.Render.CacheSize, log)
	if err != nil {
		return nil, err
	}

	return &Server{
		transport:   transport,
		cfg:         cfg,
		log:         logging.Component(log, "router"),
		overlay:     vfs.NewOverlay(),
		recorder:    vfs.NewRecorder(),
		scripts:     script.NewEngine(cfg.Commands.Scripts, log),
		renderer:    renderer,
		actors:      make(map[string]*compile.Actor),
		responses:   make(chan compile.Response, 64),
		docVersions: make(map[string]int),
		published:   make(map[string]map[string]bool),
	}, nil
}

// Run is the router loop. It returns after the client disconnects or
// sends exit, or when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	inbound := make(chan protocol.Request, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			req, err := s.transport.Read()
			if err != nil {
				readErr <- err
				return
			}
			inbound <- *req
		}
	}()

	defer s.stopAll()

	for {
		// Watcher events only matter while recording; the channel is
		// rebound each turn since the watcher starts at initialize.
		var wevents <-chan vfs.Event
		if s.watcher != nil {
			wevents = s.watcher.Events()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrClosed) || s.shutdown {
				return nil
			}
			return err

		case req := <-inbound:
			if exit := s.handle(req); exit {
				return nil
			}

		case resp := <-s.responses:
			s.deliver(resp)

		case ev, ok := <-wevents:
			if ok && s.recorder.Active() {
				s.recorder.RecordNotifyEvent(ev)
			}
		}
	}
}

// actorFor returns the compile actor owning path as its entry,
// spawning it on first use.
func (s *Server) actorFor(path string) *compile.Actor {
	if a, ok := s.actors[path]; ok {
		return a
	}

	a := compile.NewActor(compile.Options{
		Workspace: s.root,
		Entry:     path,
		Resolver:  s.overlay,
		Renderer:  s.renderer,
		Config:    s.worldConfig,
		Out:       s.responses,
		Log:       s.log,
	})
	s.actors[path] = a
	s.log.Debug("spawned compile actor", "entry", path)
	return a
}

// stopAll shuts down every actor and the watcher.
func (s *Server) stopAll() {
	for _, a := range s.actors {
		a.Stop()
	}
	s.renderer.Stop()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// startWatcher begins filesystem watching once the root is known.
func (s *Server) startWatcher() {
	w, err := watcher.New(s.overlay.Notify(), watcher.Config{
		Debounce:       s.cfg.Watcher.Debounce(),
		IgnorePatterns: s.cfg.Watcher.Ignore,
		Extensions:     s.cfg.Watcher.Extensions,
	}, s.log)
	if err != nil {
		s.log.Warn("watcher unavailable", "error", err)
		return
	}
	if err := w.Watch(s.root); err != nil {
		s.log.Warn("watch root failed", "root", s.root, "error", err)
		_ = w.Close()
		return
	}
	s.watcher = w
}
