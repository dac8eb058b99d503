package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/typserve/internal/logging"
	"github.com/dshills/typserve/internal/world"
)

// Standard errors returned by the render actor.
var (
	// ErrStopped indicates the actor no longer accepts requests.
	ErrStopped = errors.New("render actor stopped")
)

// Request is one rendering sub-request. ReplyTo receives exactly one
// Response; for periscope hovers the compile actor awaits it, for
// direct requests it is the router's outbound channel.
type Request struct {
	Envelope string
	LSPID    json.RawMessage
	Doc      *world.Document
	Region   Region
	ReplyTo  chan<- Response
}

// Response carries rendered bytes or the rendering error.
type Response struct {
	Envelope string
	LSPID    json.RawMessage
	Data     []byte
	Cached   bool
	Err      error
}

// cacheKey identifies rendered output by document version and region.
type cacheKey struct {
	version   uint64
	startLine int
	endLine   int
}

// Actor is the per-project render actor. It owns its cache
// exclusively and processes requests strictly sequentially.
type Actor struct {
	project  string
	renderer Renderer
	cache    *lru.Cache[cacheKey, []byte]
	log      *logging.Logger

	requests chan Request
	done     chan struct{}
	stopped  atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64
}

// DefaultCacheSize bounds the per-project render cache.
const DefaultCacheSize = 128

// NewActor creates a render actor for the named project and starts
// its loop.
func NewActor(project string, renderer Renderer, cacheSize int, log *logging.Logger) (*Actor, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create render cache: %w", err)
	}

	a := &Actor{
		project:  project,
		renderer: renderer,
		cache:    cache,
		log:      logging.Component(log, "render."+project),
		requests: make(chan Request, 32),
		done:     make(chan struct{}),
	}
	go a.loop()
	return a, nil
}

// Project returns the project name the actor serves.
func (a *Actor) Project() string { return a.project }

// Submit enqueues a rendering request.
func (a *Actor) Submit(req Request) error {
	if a.stopped.Load() {
		return ErrStopped
	}
	select {
	case a.requests <- req:
		return nil
	case <-a.done:
		return ErrStopped
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

// CacheStats returns cache hit and miss counts.
func (a *Actor) CacheStats() (hits, misses int64) {
	return a.hits.Load(), a.misses.Load()
}

// loop is the actor body: strictly sequential, isolated from
// siblings, recovers its own panics.
func (a *Actor) loop() {
	for {
		select {
		case <-a.done:
			a.drain()
			return
		case req := <-a.requests:
			a.handle(req)
		}
	}
}

func (a *Actor) drain() {
	for {
		select {
		case req := <-a.requests:
			req.ReplyTo <- Response{Envelope: req.Envelope, LSPID: req.LSPID, Err: ErrStopped}
		default:
			return
		}
	}
}

func (a *Actor) handle(req Request) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("render panic", "envelope", req.Envelope, "panic", r)
			req.ReplyTo <- Response{
				Envelope: req.Envelope,
				LSPID:    req.LSPID,
				Err:      fmt.Errorf("render panic: %v", r),
			}
		}
	}()

	key := cacheKey{
		version:   req.Doc.WorldVersion,
		startLine: req.Region.StartLine,
		endLine:   req.Region.EndLine,
	}

	if data, ok := a.cache.Get(key); ok {
		a.hits.Add(1)
		req.ReplyTo <- Response{Envelope: req.Envelope, LSPID: req.LSPID, Data: data, Cached: true}
		return
	}
	a.misses.Add(1)

	data, err := a.renderer.Render(context.Background(), req.Doc, req.Region)
	if err != nil {
		req.ReplyTo <- Response{Envelope: req.Envelope, LSPID: req.LSPID, Err: err}
		return
	}

	a.cache.Add(key, data)
	req.ReplyTo <- Response{Envelope: req.Envelope, LSPID: req.LSPID, Data: data}
}
