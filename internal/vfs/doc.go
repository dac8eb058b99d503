// Package vfs provides the overlay virtual file system for typserve.
//
// File content can arrive from three places: the editor (didOpen and
// didChange notifications), the filesystem watcher (external change
// events), and the disk itself (on-demand reads). Each input feeds its
// own access model:
//
//   - MemoryModel: editor overlay, highest precedence
//   - NotifyModel: watcher-observed content
//   - SystemModel: direct synchronous disk reads, lowest precedence
//
// The Overlay composes the three. A lookup consults Memory first,
// falls back to Notify, and finally performs a live System read. Each
// model records the logical tick of its last write per path, so reads
// from a single input stream are totally ordered.
//
// # Ordering
//
// Ticks are scoped to the clock of the actor that owns the input
// stream: the router stamps Memory writes, the watch actor stamps
// Notify writes. Ticks strictly increase per clock; comparing ticks
// across clocks is meaningless, and cross-model conflicts are resolved
// by layer precedence alone.
//
// # Known race
//
// When editor edits and watcher events land on the same path within a
// small window, precedence resolves the winner deterministically with
// one exception: a Notify insert can surface content the editor is
// about to shadow, and a Memory removal can expose a stale disk read.
// The overlay mitigates the first case with close tombstones (a Notify
// entry observed before the document was closed is not trusted) and
// leaves the second to record-and-replay diagnosis.
package vfs
