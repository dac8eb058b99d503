// Package protocol implements the server side of the Language Server
// Protocol wire format for typserve.
//
// It provides the JSON-RPC 2.0 base protocol with Content-Length
// framing over any stream (stdio or a socket), the subset of LSP
// message types the server handles, and file URI conversion helpers.
//
// The transport is deliberately thin: it reads one inbound message at
// a time and never dispatches concurrently, because the router owns
// ordering. Writes are serialized internally so any actor may emit a
// response without coordinating with the router.
package protocol
