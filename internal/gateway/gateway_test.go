// ABOUTME: End-to-end tests for the HTTP gateway.
// ABOUTME: Exercise submit, SSE streaming, resume, lifecycle, and auth over httptest.

package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/strand-relay/internal/auth"
	"github.com/2389/strand-relay/internal/config"
	"github.com/2389/strand-relay/internal/envelope"
	"github.com/2389/strand-relay/internal/producer"
	"github.com/2389/strand-relay/internal/session"
	"github.com/2389/strand-relay/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(jwtSecret string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: jwtSecret},
		Sessions: config.SessionsConfig{
			ReplayBuffer:  64,
			OutboundQueue: 64,
			IdleTimeout:   time.Minute,
			GracePeriod:   time.Minute,
			SweepInterval: time.Minute,
		},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func scriptedRunner(types ...string) *producer.ScriptedRunner {
	items := make([]producer.Item, 0, len(types))
	for _, typ := range types {
		items = append(items, producer.Item{
			Type: typ,
			Data: json.RawMessage(`{"text":"x"}`),
		})
	}
	return &producer.ScriptedRunner{Script: items}
}

func newTestGateway(t *testing.T, cfg *config.Config, runner producer.Runner) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := New(cfg, runner, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		gw.registry.Close()
		_ = gw.store.Close()
	})
	return gw, srv
}

func submitPrompt(t *testing.T, srv *httptest.Server, sessionID, prompt string) *http.Response {
	t.Helper()
	body, err := json.Marshal(SubmitPromptRequest{Prompt: prompt})
	require.NoError(t, err)

	resp, err := http.Post(
		srv.URL+"/api/sessions/"+sessionID+"/prompts",
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func waitIdle(t *testing.T, gw *Gateway, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess := gw.registry.Get(sessionID)
		return sess != nil && sess.Status() == session.StatusIdle
	}, 2*time.Second, 10*time.Millisecond)
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readSSEEvents reads events from an SSE body until a terminal envelope
// arrives, then stops without waiting for the stream to end.
func readSSEEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			events = append(events, cur)
			if cur.event == string(envelope.KindDone) || cur.event == string(envelope.KindError) {
				return events
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatal("SSE stream ended without a terminal envelope")
	return nil
}

func TestSubmitAndStream(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("system", "assistant", "result"))

	resp := submitPrompt(t, srv, "s1", "hello")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitResp SubmitPromptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitResp))
	assert.Equal(t, "s1", submitResp.SessionID)
	assert.True(t, submitResp.Created)

	stream, err := http.Get(srv.URL + "/api/sessions/s1/events?after=0")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	events := readSSEEvents(t, stream.Body)
	require.Len(t, events, 4)
	assert.Equal(t, "system", events[0].event)
	assert.Equal(t, "assistant", events[1].event)
	assert.Equal(t, "result", events[2].event)
	assert.Equal(t, "done", events[3].event)

	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("%d", i+1), ev.id)

		var env envelope.Envelope
		require.NoError(t, json.Unmarshal([]byte(ev.data), &env))
		assert.Equal(t, uint64(i+1), env.Sequence)
	}

	waitIdle(t, gw, "s1")
}

func TestSubmitBusy(t *testing.T) {
	runner := scriptedRunner("assistant", "assistant")
	runner.Delay = 100 * time.Millisecond
	_, srv := newTestGateway(t, testConfig(""), runner)

	resp := submitPrompt(t, srv, "s1", "first")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	busy := submitPrompt(t, srv, "s1", "second")
	assert.Equal(t, http.StatusConflict, busy.StatusCode)
}

func TestSubmitClosedSession(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))

	sess, _ := gw.registry.GetOrCreate("s1")
	sess.Close()

	resp := submitPrompt(t, srv, "s1", "hello")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestSubmitValidation(t *testing.T) {
	_, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))

	resp, err := http.Post(srv.URL+"/api/sessions/s1/prompts", "application/json",
		strings.NewReader(`{"prompt":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/sessions/s1/prompts", "application/json",
		strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamResume(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("system", "assistant", "assistant", "result"))

	resp := submitPrompt(t, srv, "s1", "hello")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitIdle(t, gw, "s1")

	stream, err := http.Get(srv.URL + "/api/sessions/s1/events?after=3")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	events := readSSEEvents(t, stream.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "4", events[0].id)
	assert.Equal(t, "5", events[1].id)
	assert.Equal(t, "done", events[1].event)
}

func TestStreamResumeLargeBacklog(t *testing.T) {
	cfg := testConfig("")
	cfg.Sessions.ReplayBuffer = 128
	cfg.Sessions.OutboundQueue = 8

	types := make([]string, 20)
	for i := range types {
		types[i] = "assistant"
	}
	gw, srv := newTestGateway(t, cfg, scriptedRunner(types...))

	submitPrompt(t, srv, "s1", "hello")
	waitIdle(t, gw, "s1")

	// The 21-envelope backlog dwarfs the per-connection queue; replay must
	// still arrive in full.
	stream, err := http.Get(srv.URL + "/api/sessions/s1/events?after=0")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	events := readSSEEvents(t, stream.Body)
	require.Len(t, events, 21)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("%d", i+1), ev.id)
	}
	assert.Equal(t, "done", events[20].event)
}

func TestStreamResumeLastEventID(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("system", "assistant", "result"))

	submitPrompt(t, srv, "s1", "hello")
	waitIdle(t, gw, "s1")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sessions/s1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")

	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	events := readSSEEvents(t, stream.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "3", events[0].id)
}

func TestStreamReplayGap(t *testing.T) {
	cfg := testConfig("")
	cfg.Sessions.ReplayBuffer = 2
	gw, srv := newTestGateway(t, cfg, scriptedRunner("system", "assistant", "assistant", "result"))

	submitPrompt(t, srv, "s1", "hello")
	waitIdle(t, gw, "s1")

	stream, err := http.Get(srv.URL + "/api/sessions/s1/events?after=0")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, stream.StatusCode)
}

func TestStreamUnknownSession(t *testing.T) {
	_, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))

	resp, err := http.Get(srv.URL + "/api/sessions/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamInvalidResumePoint(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))
	gw.registry.GetOrCreate("s1")

	resp, err := http.Get(srv.URL + "/api/sessions/s1/events?after=banana")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))
	gw.registry.GetOrCreate("s1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestListSessions(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))
	gw.registry.GetOrCreate("alpha")
	gw.registry.GetOrCreate("beta")

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Sessions []SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	assert.Len(t, listResp.Sessions, 2)
}

func TestGetSession(t *testing.T) {
	gw, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))
	gw.registry.GetOrCreate("alpha")

	resp, err := http.Get(srv.URL + "/api/sessions/alpha")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessResp SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessResp))
	assert.Equal(t, "alpha", sessResp.ID)
	assert.Equal(t, "idle", sessResp.Status)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestGateway(t, testConfig(""), scriptedRunner("assistant"))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "strand-relay-")

	ready, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	const secret = "test-secret-for-auth"
	gw, srv := newTestGateway(t, testConfig(secret), scriptedRunner("assistant"))

	require.NoError(t, gw.store.CreatePrincipal(t.Context(), &store.Principal{
		ID:          "client-1",
		Type:        store.PrincipalTypeClient,
		DisplayName: "test client",
		Status:      store.PrincipalStatusApproved,
	}))
	require.NoError(t, gw.store.CreatePrincipal(t.Context(), &store.Principal{
		ID:          "client-pending",
		Type:        store.PrincipalTypeClient,
		DisplayName: "pending client",
		Status:      store.PrincipalStatusPending,
	}))

	verifier := auth.NewJWTVerifier([]byte(secret))
	validToken, err := verifier.Generate("client-1", time.Hour)
	require.NoError(t, err)
	pendingToken, err := verifier.Generate("client-pending", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"pending principal", pendingToken, http.StatusForbidden},
		{"approved principal", validToken, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sessions", nil)
			require.NoError(t, err)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	// Health stays open without a token.
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
