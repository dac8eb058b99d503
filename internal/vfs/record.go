package vfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotRecording indicates Stop was called without a matching Start.
var ErrNotRecording = errors.New("no recording in progress")

// RecordKind identifies a recorded overlay mutation.
type RecordKind int

const (
	// RecordMemoryWrite is an editor write to the Memory model.
	RecordMemoryWrite RecordKind = iota

	// RecordMemoryRemove is an editor close removing a Memory entry.
	RecordMemoryRemove

	// RecordNotify is a watcher event applied to the Notify model.
	RecordNotify
)

// RecordEntry is one overlay mutation in receipt order.
type RecordEntry struct {
	Seq     int        `json:"seq"`
	Kind    RecordKind `json:"kind"`
	Path    string     `json:"path"`
	Text    string     `json:"text,omitempty"`
	Tick    Tick       `json:"tick"`
	Removed bool       `json:"removed,omitempty"`
}

// Session is a finished recording.
type Session struct {
	ID      string        `json:"id"`
	Started time.Time     `json:"started"`
	Stopped time.Time     `json:"stopped"`
	Entries []RecordEntry `json:"entries"`
}

// Recorder captures overlay mutations so a session can be replayed
// onto fresh access models, reproducing the exact overlay state. The
// router calls the Record methods alongside each model mutation while
// a session is active.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	id      string
	started time.Time
	entries []RecordEntry
	active  bool
}

// NewRecorder creates an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a session and returns its id. Starting while active
// discards the accumulated entries and begins anew.
func (r *Recorder) Start() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.id = uuid.NewString()
	r.started = time.Now()
	r.entries = nil
	r.active = true
	return r.id
}

// Stop ends the session and returns it.
func (r *Recorder) Stop() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return Session{}, ErrNotRecording
	}
	r.active = false
	return Session{
		ID:      r.id,
		Started: r.started,
		Stopped: time.Now(),
		Entries: r.entries,
	}, nil
}

// Active reports whether a session is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// RecordWrite captures a Memory write.
func (r *Recorder) RecordWrite(path, text string, tick Tick) {
	r.append(RecordEntry{Kind: RecordMemoryWrite, Path: path, Text: text, Tick: tick})
}

// RecordRemove captures a Memory removal.
func (r *Recorder) RecordRemove(path string, tick Tick) {
	r.append(RecordEntry{Kind: RecordMemoryRemove, Path: path, Tick: tick})
}

// RecordNotifyEvent captures a watcher event.
func (r *Recorder) RecordNotifyEvent(ev Event) {
	r.append(RecordEntry{
		Kind:    RecordNotify,
		Path:    ev.Path,
		Text:    ev.Text,
		Tick:    ev.Tick,
		Removed: ev.Kind == EventRemove,
	})
}

func (r *Recorder) append(e RecordEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	e.Seq = len(r.entries)
	r.entries = append(r.entries, e)
}

// Replay applies a session's entries, in order, to fresh access
// models. After Replay the models hold the same content at the same
// ticks as when the session was recorded.
func Replay(s Session, memory *MemoryModel, notify *NotifyModel) error {
	for _, e := range s.Entries {
		switch e.Kind {
		case RecordMemoryWrite:
			memory.Write(e.Path, e.Text, e.Tick)
		case RecordMemoryRemove:
			memory.Remove(e.Path, e.Tick)
		case RecordNotify:
			kind := EventWrite
			if e.Removed {
				kind = EventRemove
			}
			notify.Apply(Event{Path: e.Path, Kind: kind, Text: e.Text, Tick: e.Tick})
		default:
			return fmt.Errorf("unknown record kind %d at seq %d", e.Kind, e.Seq)
		}
	}
	return nil
}

// Fingerprint hashes the overlay-visible state of both models: every
// path, its tick, and its content (or removal marker), in sorted path
// order. Two overlays with equal fingerprints serve identical content.
func Fingerprint(memory *MemoryModel, notify *NotifyModel) uint64 {
	h := fnv.New64a()

	write := func(layer, path, text string, tick Tick, removed bool) {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%t\x00%s\x00", layer, path, tick, removed, text)
	}

	paths := memory.Paths()
	sort.Strings(paths)
	for _, p := range paths {
		src, err := memory.Content(p)
		if err != nil {
			continue
		}
		write("memory", p, src.Text(), src.Tick(), false)
	}

	paths = notify.Paths()
	sort.Strings(paths)
	for _, p := range paths {
		src, err := notify.Content(p)
		if errors.Is(err, ErrRemoved) {
			write("notify", p, "", 0, true)
			continue
		}
		if err != nil {
			continue
		}
		write("notify", p, src.Text(), src.Tick(), false)
	}

	return h.Sum64()
}

// Marshal serializes a session for storage.
func (s Session) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSession parses a stored session.
func UnmarshalSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}
