// ABOUTME: Session state machine owning one conversation's envelope log and producer.
// ABOUTME: Serializes all mutations; fans appended envelopes out to listeners.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/strand-relay/internal/envelope"
	"github.com/2389/strand-relay/internal/producer"
)

// Session errors
var (
	// ErrSessionBusy means a prompt was submitted while a producer is
	// still streaming. The client may retry after the current stream ends.
	ErrSessionBusy = errors.New("session is busy streaming")

	// ErrSessionClosed means the session is past termination. The client
	// must start a new session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrReplayGap means the requested resume point predates the replay
	// buffer. The client must reload full state out of band.
	ErrReplayGap = errors.New("resume point outside replay buffer")
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusClosed    Status = "closed"
)

// Listener is a revocable attachment to a session's envelope stream. The
// session holds listeners by ID and never reaches into transport internals:
// Deliver must not block (it returns an error when the listener cannot keep
// up) and Close signals that no further envelopes will arrive.
type Listener interface {
	ID() string
	Deliver(env *envelope.Envelope) error
	Close()
}

// Snapshot is a point-in-time view of a session for list APIs.
type Snapshot struct {
	ID           string
	Status       Status
	LastSequence uint64
	Listeners    int
}

// Session owns one conversation: a monotonically growing envelope log, at
// most one live producer, and the set of attached listeners. All mutations
// are serialized on the session mutex; only the active producer goroutine
// and the session's own control operations touch status or the log.
type Session struct {
	id     string
	runner producer.Runner
	logger *slog.Logger

	mu          sync.Mutex
	status      Status
	log         *ring
	nextSeq     uint64
	listeners   map[string]Listener
	queryCancel context.CancelFunc
	activeQuery producer.Query
	closing     bool
	lastActive  time.Time
	closedAt    time.Time
}

// New creates an idle session. bufferSize bounds the replay log.
func New(id string, runner producer.Runner, bufferSize int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:         id,
		runner:     runner,
		logger:     logger.With("component", "session", "session_id", id),
		status:     StatusIdle,
		log:        newRing(bufferSize),
		nextSeq:    1,
		listeners:  make(map[string]Listener),
		lastActive: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		Status:       s.status,
		LastSequence: s.nextSeq - 1,
		Listeners:    len(s.listeners),
	}
}

// SubmitPrompt starts a producer for the prompt. It returns immediately once
// the query is started; envelopes stream to listeners as the producer emits
// them. Exactly one producer may run at a time: ErrSessionBusy is returned
// while streaming, ErrSessionClosed after termination.
func (s *Session) SubmitPrompt(ctx context.Context, prompt string, workingContext json.RawMessage) error {
	s.mu.Lock()
	switch s.status {
	case StatusClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StatusStreaming:
		s.mu.Unlock()
		return ErrSessionBusy
	}
	// Reserve the exclusive producer claim before starting the query so a
	// concurrent submit observes streaming, not a second producer.
	s.status = StatusStreaming
	s.lastActive = time.Now()
	s.mu.Unlock()

	query, err := s.runner.Start(ctx, &producer.Request{
		SessionID:      s.id,
		Prompt:         prompt,
		WorkingContext: workingContext,
	})
	if err != nil {
		// Close may have landed while the query was starting. Honor it
		// here: the caller was told the session is closed, so it must
		// not quietly return to idle.
		s.mu.Lock()
		if s.closing {
			s.closing = false
			s.closeLocked()
		} else {
			s.status = StatusIdle
		}
		s.mu.Unlock()
		return fmt.Errorf("starting producer: %w", err)
	}

	// The producer outlives the submitting request: its lifetime is bound
	// to the session, not the HTTP call.
	qctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.queryCancel = cancel
	s.activeQuery = query
	closePending := s.closing
	s.mu.Unlock()

	adapter := producer.NewAdapter(query, s.logger)
	go func() {
		outcome := adapter.Run(qctx, s)
		cancel()
		s.finish(outcome)
	}()

	// A Close that raced the start saw no cancel handle to call, so the
	// interruption happens here instead. finish still completes the
	// transition to closed.
	if closePending {
		cancel()
		query.Cancel()
	}

	s.logger.Debug("prompt submitted", "prompt_len", len(prompt))
	return nil
}

// Emit implements producer.Sink. It assigns the next sequence number,
// appends to the log, and fans the envelope out to all listeners. A
// listener that cannot accept the envelope is detached and closed; the
// envelope itself stays in the replay buffer.
func (s *Session) Emit(kind envelope.Kind, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(kind, payload)
}

// appendLocked appends one envelope and delivers it. Caller holds s.mu.
func (s *Session) appendLocked(kind envelope.Kind, payload []byte) *envelope.Envelope {
	env := &envelope.Envelope{
		Sequence:   s.nextSeq,
		Kind:       kind,
		Payload:    payload,
		ProducedAt: time.Now(),
	}
	s.nextSeq++
	s.log.append(env)
	s.lastActive = time.Now()

	for id, l := range s.listeners {
		if err := l.Deliver(env); err != nil {
			// Slow consumer: drop the connection, keep the data.
			s.logger.Warn("detaching slow listener", "listener_id", id, "sequence", env.Sequence)
			delete(s.listeners, id)
			l.Close()
		}
	}
	return env
}

// finish runs after the producer terminates. The terminal envelope is
// appended and delivered in the same critical section as the status
// transition, so no listener can observe idle (or closed) before seeing the
// done or error envelope.
func (s *Session) finish(outcome producer.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case outcome.Err != nil:
		s.appendLocked(envelope.KindError, envelope.Error(outcome.Err.Error()))
	default:
		s.appendLocked(envelope.KindDone, envelope.Done(outcome.Cancelled))
	}

	s.queryCancel = nil
	s.activeQuery = nil

	if s.closing {
		s.closing = false
		s.closeLocked()
		return
	}

	// A producer fault returns the session to idle, not closed: the
	// session survives and a new prompt may be submitted.
	s.status = StatusIdle
	s.lastActive = time.Now()
	s.logger.Debug("producer finished",
		"cancelled", outcome.Cancelled,
		"faulted", outcome.Err != nil,
		"last_sequence", s.nextSeq-1,
	)
}

// Attach registers a listener and returns the buffered envelopes with
// sequence > resumeFrom. Snapshot and registration happen atomically with
// respect to appends: the returned slice ends exactly where Deliver calls
// begin, so the caller sees a contiguous stream with no gap or duplicate at
// the switchover. The replay backlog never passes through Deliver, so a
// bounded listener queue cannot overflow on a fresh attach no matter how
// far behind the resume point is.
//
// A closed session still serves replay during its grace period: the
// buffered envelopes are returned and the listener is closed rather than
// retained.
func (s *Session) Attach(l Listener, resumeFrom uint64) ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffered, err := s.log.after(resumeFrom)
	if err != nil {
		return nil, err
	}

	if s.status == StatusClosed {
		l.Close()
		return buffered, nil
	}

	s.listeners[l.ID()] = l
	s.lastActive = time.Now()
	s.logger.Debug("listener attached", "listener_id", l.ID(), "resume_from", resumeFrom, "replayed", len(buffered))
	return buffered, nil
}

// Detach removes a listener. It is idempotent and never affects the session
// status or the active producer.
func (s *Session) Detach(listenerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[listenerID]; ok {
		delete(s.listeners, listenerID)
		s.lastActive = time.Now()
		s.logger.Debug("listener detached", "listener_id", listenerID)
	}
}

// Close terminates the session. A streaming producer is interrupted rather
// than awaited; its terminal envelope (done with cancelled=true) is
// delivered before the closed state becomes observable.
func (s *Session) Close() {
	s.mu.Lock()
	switch s.status {
	case StatusClosed:
		s.mu.Unlock()
		return

	case StatusStreaming:
		s.closing = true
		cancel := s.queryCancel
		query := s.activeQuery
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if query != nil {
			query.Cancel()
		}
		// finish() completes the transition to closed.
		return

	default:
		s.closeLocked()
		s.mu.Unlock()
	}
}

// closeLocked moves the session to closed and releases listeners.
// Caller holds s.mu.
func (s *Session) closeLocked() {
	s.status = StatusClosed
	s.closedAt = time.Now()
	for id, l := range s.listeners {
		delete(s.listeners, id)
		l.Close()
	}
	s.logger.Info("session closed", "last_sequence", s.nextSeq-1)
}

// idleExpired reports whether the session has sat idle with no listeners
// beyond the timeout.
func (s *Session) idleExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusIdle &&
		len(s.listeners) == 0 &&
		time.Since(s.lastActive) > timeout
}

// graceExpired reports whether a closed session's replay grace period has
// elapsed.
func (s *Session) graceExpired(grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusClosed && time.Since(s.closedAt) > grace
}
