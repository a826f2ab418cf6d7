// Package ipc exposes daemon control over a Unix domain socket using
// JSON-RPC. The CLI is the only intended client; request and response types
// are plain DTOs so the wire format stays stable as internals evolve.
package ipc
