// Package compile provides the compile-server actor: one per
// (workspace, main entry) pair, exclusively owning the World pipeline
// for that entry.
//
// The actor processes its request channel strictly sequentially. For
// each query it resolves sources through the overlay VFS, builds or
// reuses a World snapshot, runs the query at the minimum sufficient
// analysis level, and emits exactly one response. Queries that need
// rendering forward a sub-request to the project's render actor and
// await its reply before composing the final response.
package compile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/query"
	"github.com/dshills/typserve/internal/render"
	"github.com/dshills/typserve/internal/world"
)

// Standard errors returned by the compile actor.
var (
	// ErrStopped indicates the actor no longer accepts requests.
	ErrStopped = errors.New("compile actor stopped")

	// ErrRenderUnavailable indicates the query needed rendering but
	// no render actor is attached.
	ErrRenderUnavailable = errors.New("no render actor attached")

	// ErrBusy indicates the actor's request queue is full. The router
	// must never block on an actor: the actor may itself be blocked
	// emitting a response the router has yet to drain.
	ErrBusy = errors.New("compile actor queue full")
)

// Response is the actor's answer to one query request. Result holds
// the protocol-level payload; Diagnostics piggyback for publishing.
type Response struct {
	Envelope     string
	LSPID        json.RawMessage
	Kind         query.Kind
	Workspace    string
	Entry        string
	WorldVersion uint64
	Result       any
	Rendered     []byte
	Diagnostics  []world.Diagnostic
	Err          error

	// Internal marks responses that answer no client request, such as
	// diagnostics passes. The router publishes their diagnostics and
	// sends nothing back over the wire.
	Internal bool
}

// Actor is one compile-server actor.
type Actor struct {
	workspace string
	entry     string

	resolver world.SourceResolver
	compiler world.Compiler
	renderer *render.Actor
	upgrader *query.Upgrader
	log      *logging.Logger

	// Actor-local caches, owned exclusively by the loop goroutine.
	config    world.Config
	lastWorld *world.World
	lastDoc   *world.Document

	requests chan message
	out      chan<- Response
	done     chan struct{}
	stopped  atomic.Bool

	renderTimeout time.Duration
}

// Options configures a compile actor.
type Options struct {
	Workspace string
	Entry     string
	Resolver  world.SourceResolver
	Compiler  world.Compiler
	Config    world.Config

	// Renderer is optional; queries needing rendering fail without
	// one.
	Renderer *render.Actor

	// Out receives every response the actor emits.
	Out chan<- Response

	Log *logging.Logger

	// RenderTimeout bounds the render round-trip. Defaults to 5s.
	RenderTimeout time.Duration
}

// NewActor creates a compile actor and starts its loop.
func NewActor(opts Options) *Actor {
	if opts.Compiler == nil {
		opts.Compiler = world.NewMarkupCompiler()
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 5 * time.Second
	}

	a := &Actor{
		workspace:     opts.Workspace,
		entry:         opts.Entry,
		resolver:      opts.Resolver,
		compiler:      opts.Compiler,
		renderer:      opts.Renderer,
		config:        opts.Config,
		log:           logging.Component(opts.Log, "compile."+opts.Entry),
		requests:      make(chan message, 32),
		out:           opts.Out,
		done:          make(chan struct{}),
		renderTimeout: opts.RenderTimeout,
	}
	a.upgrader = query.NewUpgrader(a.resolver, a, a)

	go a.loop()
	return a
}

// Workspace returns the workspace root the actor serves.
func (a *Actor) Workspace() string { return a.workspace }

// Entry returns the main entry path the actor serves.
func (a *Actor) Entry() string { return a.entry }

// message is one unit of actor input: a query, a config update, or a
// diagnostics pass.
type message struct {
	req      query.Request
	config   *world.Config
	diagnose bool
}

// Submit enqueues a query request for sequential processing. It never
// blocks: a full queue returns ErrBusy.
func (a *Actor) Submit(req query.Request) error {
	return a.send(message{req: req})
}

// SetConfig swaps the compiler configuration. Delivered as a message
// so it applies between queries, never during one.
func (a *Actor) SetConfig(config world.Config) error {
	return a.send(message{config: &config})
}

// Diagnose schedules a compile pass whose only output is diagnostics,
// emitted as an internal response.
func (a *Actor) Diagnose() error {
	return a.send(message{diagnose: true})
}

func (a *Actor) send(msg message) error {
	if a.stopped.Load() {
		return ErrStopped
	}
	select {
	case a.requests <- msg:
		return nil
	case <-a.done:
		return ErrStopped
	default:
		return ErrBusy
	}
}

// Stop shuts the actor down. Queued requests are answered with
// ErrStopped.
func (a *Actor) Stop() {
	if a.stopped.Swap(true) {
		return
	}
	close(a.done)
}

// SnapshotWorld implements query.WorldProvider. The previous snapshot
// is reused when no source or config changed.
func (a *Actor) SnapshotWorld(ctx context.Context) (*world.World, error) {
	w, err := world.Build(a.entry, a.resolver, a.config)
	if err != nil {
		return nil, err
	}
	if a.lastWorld != nil && a.lastWorld.Version() == w.Version() {
		return a.lastWorld, nil
	}
	a.lastWorld = w
	return w, nil
}

// AcquireDocument implements query.DocumentProvider, reusing the last
// compiled document when the world version is unchanged.
func (a *Actor) AcquireDocument(ctx context.Context, w *world.World) (*world.Document, error) {
	if a.lastDoc != nil && a.lastDoc.WorldVersion == w.Version() {
		return a.lastDoc, nil
	}
	doc, err := a.compiler.Compile(ctx, w)
	if err != nil {
		return nil, err
	}
	a.lastDoc = doc
	return doc, nil
}

// loop is the actor body.
func (a *Actor) loop() {
	for {
		select {
		case <-a.done:
			a.drain()
			return
		case msg := <-a.requests:
			switch {
			case msg.config != nil:
				a.config = *msg.config
				a.config.Generation++
				a.lastWorld = nil
				a.lastDoc = nil
			case msg.diagnose:
				a.out <- a.diagnosePass()
			default:
				a.out <- a.process(msg.req)
			}
		}
	}
}

func (a *Actor) drain() {
	for {
		select {
		case msg := <-a.requests:
			if msg.config != nil || msg.diagnose {
				continue
			}
			a.out <- Response{
				Envelope: msg.req.Envelope, LSPID: msg.req.LSPID, Kind: msg.req.Kind,
				Workspace: a.workspace, Entry: a.entry, Err: ErrStopped,
			}
		default:
			return
		}
	}
}

// process runs one query with panic isolation.
func (a *Actor) process(req query.Request) (resp Response) {
	resp = Response{
		Envelope:  req.Envelope,
		LSPID:     req.LSPID,
		Kind:      req.Kind,
		Workspace: a.workspace,
		Entry:     a.entry,
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("query panic", "kind", req.Kind.String(), "panic", r)
			resp.Err = fmt.Errorf("query panic: %v", r)
		}
	}()

	result, rendered, diags, version, err := a.execute(context.Background(), req)
	resp.Result = result
	resp.Rendered = rendered
	resp.Diagnostics = diags
	resp.WorldVersion = version
	resp.Err = err
	return resp
}

// diagnosePass compiles the entry and reports its diagnostics.
func (a *Actor) diagnosePass() (resp Response) {
	req := query.NewRequest(query.KindExport, a.entry)
	resp = Response{
		Envelope:  req.Envelope,
		Kind:      req.Kind,
		Workspace: a.workspace,
		Entry:     a.entry,
		Internal:  true,
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("diagnostics panic", "panic", r)
			resp.Err = fmt.Errorf("diagnostics panic: %v", r)
		}
	}()

	res, err := a.upgrader.Acquire(context.Background(), req, query.LevelStateful)
	if err != nil {
		resp.Err = err
		return resp
	}
	resp.WorldVersion = res.World.Version()
	resp.Diagnostics = res.Document.Diagnostics
	return resp
}

// awaitRender forwards a render sub-request and waits for the reply.
func (a *Actor) awaitRender(doc *world.Document, region render.Region, req query.Request) ([]byte, error) {
	if a.renderer == nil {
		return nil, ErrRenderUnavailable
	}

	replies := make(chan render.Response, 1)
	err := a.renderer.Submit(render.Request{
		Envelope: req.Envelope,
		LSPID:    req.LSPID,
		Doc:      doc,
		Region:   region,
		ReplyTo:  replies,
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-replies:
		return r.Data, r.Err
	case <-time.After(a.renderTimeout):
		return nil, fmt.Errorf("render timed out after %s", a.renderTimeout)
	}
}
