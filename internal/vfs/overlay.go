package vfs

import "errors"

// Overlay composes the three access models into a single lookup with
// Memory > Notify > System precedence.
//
// Overlay is safe for concurrent use; each underlying model has a
// single writer (router for Memory, watch actor for Notify).
type Overlay struct {
	memory *MemoryModel
	notify *NotifyModel
	system *SystemModel
}

// NewOverlay creates an overlay over fresh access models.
func NewOverlay() *Overlay {
	return &Overlay{
		memory: NewMemoryModel(),
		notify: NewNotifyModel(),
		system: NewSystemModel(),
	}
}

// Memory returns the editor overlay model.
func (o *Overlay) Memory() *MemoryModel { return o.memory }

// Notify returns the watcher model.
func (o *Overlay) Notify() *NotifyModel { return o.notify }

// System returns the disk model.
func (o *Overlay) System() *SystemModel { return o.system }

// SourceOf resolves path through the access models in precedence
// order. A hit in Memory or Notify never triggers a disk read; only a
// miss in both falls through to a live System read.
//
// A Notify entry observed before the editor closed the same path is
// not trusted: the final editor save may postdate what the watcher
// captured, so the lookup falls through to a fresh disk read. This is
// the tombstone mitigation for the overlay race.
func (o *Overlay) SourceOf(path string) (Source, error) {
	if src, err := o.memory.Content(path); err == nil {
		return src, nil
	}

	src, err := o.notify.Content(path)
	switch {
	case err == nil:
		if closed, ok := o.memory.TombstoneAt(path); ok {
			if observed, ok := o.notify.ObservedAt(path); ok && observed.Before(closed) {
				break // stale relative to editor close, re-read disk
			}
		}
		return src, nil
	case errors.Is(err, ErrRemoved):
		// Watcher saw a delete; let the disk have the final word.
	}

	return o.system.Content(path)
}

// Reset clears the Memory and Notify models. Disk state is untouched.
func (o *Overlay) Reset() {
	o.memory.Clear()
	o.notify.Clear()
}
