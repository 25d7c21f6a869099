// ABOUTME: Package documentation for the session package.
// ABOUTME: Describes the session state machine, replay log, and registry.

// Package session implements the conversation sessions at the heart of the
// relay.
//
// A Session owns a monotonically growing log of envelopes produced during
// its prompts. The log lives in a bounded ring: the newest envelopes are
// always retained for replay, the oldest are evicted first. At most one
// producer streams into a session at a time; concurrent prompt submissions
// fail fast with ErrSessionBusy.
//
// Listeners attach to a session to receive envelopes. Attachment hands the
// buffered history from the caller's resume point back as a slice and
// switches to live delivery with no gap or duplicate at the boundary. A
// listener that cannot keep up with live delivery is detached; the data
// stays in the log for a later resume.
//
// The Registry maps client-chosen IDs to sessions and sweeps them in the
// background: idle sessions with no listeners are closed after a timeout,
// and closed sessions are deleted once their replay grace period elapses.
package session
