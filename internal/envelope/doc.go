// Package envelope defines the unit of streamed data flowing through the
// relay.
//
// Every item a producer emits is wrapped in an Envelope carrying a
// session-scoped sequence number, a kind, an opaque payload, and a
// diagnostics timestamp. Sequence order is the sole ordering authority;
// ProducedAt is never consulted for ordering.
//
// Kinds mirror the shape of an agent conversation (system, user, assistant,
// tool_call, tool_result, result) plus the two terminal kinds (done, error)
// that end a prompt's stream. Clients rely on exactly one terminal envelope
// per prompt as the end-of-stream signal.
package envelope
