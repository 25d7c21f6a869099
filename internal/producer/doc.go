// Package producer adapts the opaque agent query engine into the relay's
// envelope stream.
//
// # Model
//
// The producer side is deliberately pull-based: a Query is a lazy, finite,
// cancellable sequence of items, not an event emitter. The session pulls one
// item at a time through the Adapter, which keeps the session's single-writer
// discipline trivial; between pulls the process is free to serve other
// sessions.
//
// # Pieces
//
//   - Runner: starts a Query for a Request against an already-provisioned
//     execution environment.
//   - Query: Next/Cancel handle over one live execution. Next returns io.EOF
//     at the end marker, context.Canceled after interruption, or the
//     producer's fault.
//   - Adapter: pumps a Query into the session's Sink, mapping raw item types
//     to envelope kinds, and reports an Outcome the session turns into
//     exactly one terminal envelope.
//
// # Runners
//
// CommandRunner is the production runner: one child process per query,
// request on stdin, newline-delimited JSON items on stdout, kill on cancel.
// ScriptedRunner plays back a fixed script and exists for tests and local
// development.
package producer
