// ABOUTME: Package documentation for the gateway package.
// ABOUTME: Describes the HTTP surface and its mapping onto sessions.

// Package gateway exposes sessions over HTTP.
//
// The surface is deliberately small: POST a prompt to a session, stream the
// session's envelopes back as Server-Sent Events, and manage the session
// lifecycle. Prompts are accepted with 202 and produce no body of their
// own; all output, including the terminal done or error envelope, arrives
// on the events stream.
//
// The events stream resumes from a client-supplied sequence number, either
// the after query param or the standard Last-Event-ID header. Each SSE
// event carries the envelope sequence in its id field, so off-the-shelf
// EventSource clients resume correctly after a dropped connection.
//
// Bearer tokens guard the /api routes when a JWT secret is configured.
// Health endpoints are always open.
package gateway
