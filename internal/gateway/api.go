// ABOUTME: HTTP API handlers for submitting prompts and streaming envelopes via SSE.
// ABOUTME: Maps session errors to status codes: 409 busy, 410 closed, 416 replay gap.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/strand-relay/internal/auth"
	"github.com/2389/strand-relay/internal/envelope"
	"github.com/2389/strand-relay/internal/session"
)

// SubmitPromptRequest is the JSON request body for POST /api/sessions/{id}/prompts.
type SubmitPromptRequest struct {
	Prompt         string          `json:"prompt"`
	WorkingContext json.RawMessage `json:"working_context,omitempty"`
}

// SubmitPromptResponse is the JSON response for an accepted prompt.
type SubmitPromptResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Created   bool   `json:"created"`
}

// SessionResponse is the JSON representation of a session for list and get.
type SessionResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	LastSequence uint64 `json:"last_sequence"`
	Listeners    int    `json:"listeners"`
}

func snapshotResponse(snap session.Snapshot) SessionResponse {
	return SessionResponse{
		ID:           snap.ID,
		Status:       string(snap.Status),
		LastSequence: snap.LastSequence,
		Listeners:    snap.Listeners,
	}
}

// parseSubmitRequest parses and validates a SubmitPromptRequest from the
// given reader. Returns an error if the JSON is invalid or the prompt is
// missing.
func parseSubmitRequest(r io.Reader) (*SubmitPromptRequest, error) {
	var req SubmitPromptRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	return &req, nil
}

// handleSubmitPrompt accepts a prompt for a session, creating the session on
// first reference. The response is 202: envelopes arrive on the events
// stream, not in the submit response.
func (g *Gateway) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}

	req, err := parseSubmitRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, created := g.registry.GetOrCreate(sessionID)
	if err := sess.SubmitPrompt(r.Context(), req.Prompt, req.WorkingContext); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionBusy):
			g.sendJSONError(w, http.StatusConflict, "session is busy streaming")
		case errors.Is(err, session.ErrSessionClosed):
			g.sendJSONError(w, http.StatusGone, "session is closed")
		default:
			g.logger.Error("failed to submit prompt", "session_id", sessionID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	principalID := "anonymous"
	if ac := auth.FromContext(r.Context()); ac != nil {
		principalID = ac.PrincipalID
	}
	g.logger.Info("prompt accepted",
		"session_id", sessionID,
		"principal_id", principalID,
		"created", created,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitPromptResponse{
		SessionID: sessionID,
		Status:    string(session.StatusStreaming),
		Created:   created,
	})
}

// resumePoint extracts the caller's last acknowledged sequence from the
// after query param, falling back to the Last-Event-ID header set by SSE
// clients on automatic reconnect.
func resumePoint(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume point %q", raw)
	}
	return after, nil
}

// handleStreamEvents streams a session's envelopes as SSE. The connection
// first replays buffered envelopes past the resume point, then carries live
// output until the client disconnects or the session closes.
func (g *Gateway) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	sess := g.registry.Get(sessionID)
	if sess == nil {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	after, err := resumePoint(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before attaching (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	conn := newSSEConn(g.config.Sessions.OutboundQueue)
	replay, err := sess.Attach(conn, after)
	if err != nil {
		if errors.Is(err, session.ErrReplayGap) {
			g.sendJSONError(w, http.StatusRequestedRangeNotSatisfiable, "resume point outside replay buffer")
			return
		}
		g.logger.Error("failed to attach listener", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer sess.Detach(conn.ID())

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The backlog goes straight to the wire; the bounded queue only carries
	// envelopes appended after the attach snapshot.
	for _, env := range replay {
		g.writeEnvelopeEvent(w, env)
	}
	flusher.Flush()

	g.streamEnvelopes(r, w, flusher, conn)
}

// streamEnvelopes writes queued envelopes to the wire until the client or
// the session lets go. A detached connection drains whatever was queued
// before the close so the terminal envelope is never cut off.
func (g *Gateway) streamEnvelopes(r *http.Request, w http.ResponseWriter, flusher http.Flusher, conn *sseConn) {
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case env := <-conn.queue:
			g.writeEnvelopeEvent(w, env)
			flusher.Flush()

		case <-conn.done:
			for {
				select {
				case env := <-conn.queue:
					g.writeEnvelopeEvent(w, env)
					flusher.Flush()
				default:
					return
				}
			}
		}
	}
}

// writeEnvelopeEvent writes a single envelope as an SSE event. The SSE id
// field carries the sequence number so reconnecting clients resume via
// Last-Event-ID without any custom bookkeeping.
func (g *Gateway) writeEnvelopeEvent(w http.ResponseWriter, env *envelope.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "id: %d\n", env.Sequence)
	fmt.Fprintf(w, "event: %s\n", env.Kind)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// handleGetSession returns a single session snapshot.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := g.registry.Get(r.PathValue("id"))
	if sess == nil {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshotResponse(sess.Snapshot()))
}

// handleListSessions returns snapshots of every live session.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := g.registry.List()
	sessions := make([]SessionResponse, 0, len(snaps))
	for _, snap := range snaps {
		sessions = append(sessions, snapshotResponse(snap))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sessions": sessions})
}

// handleDeleteSession closes a session and removes it immediately, without
// the replay grace period.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !g.registry.Delete(sessionID) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	g.logger.Info("session deleted", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
