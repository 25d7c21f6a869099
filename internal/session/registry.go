// ABOUTME: Thread-safe registry mapping session IDs to live sessions.
// ABOUTME: A background sweeper evicts idle sessions and expired closed sessions.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/strand-relay/internal/producer"
)

// RegistryConfig controls session construction and eviction timing.
type RegistryConfig struct {
	// BufferSize bounds each session's replay log.
	BufferSize int
	// IdleTimeout evicts idle sessions with no listeners.
	IdleTimeout time.Duration
	// GracePeriod keeps closed sessions available for replay.
	GracePeriod time.Duration
	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

// Registry owns the set of live sessions. Session IDs are client-chosen:
// GetOrCreate is the only constructor, and concurrent calls for the same ID
// observe a single winner. A background sweeper closes sessions idle past
// IdleTimeout and deletes closed sessions past GracePeriod; once deleted, an
// ID behaves as brand new.
type Registry struct {
	runner producer.Runner
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	done     chan struct{}
	closed   bool
}

// NewRegistry creates a registry and starts its sweeper goroutine.
func NewRegistry(runner producer.Runner, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		runner:   runner,
		cfg:      cfg,
		logger:   logger.With("component", "session-registry"),
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go r.sweep()
	return r
}

// GetOrCreate returns the session for id, creating it if absent. The second
// return value reports whether the session was created by this call.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; a concurrent caller may have won.
	if s, ok := r.sessions[id]; ok {
		return s, false
	}

	s = New(id, r.runner, r.cfg.BufferSize, r.logger)
	r.sessions[id] = s
	r.logger.Info("session created", "session_id", id)
	return s, true
}

// Get returns the session for id, or nil if none exists.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Delete closes the session for id and removes it immediately, skipping the
// replay grace period.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	return true
}

// List returns a snapshot of every registered session.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// sweep runs in a background goroutine, periodically evicting sessions.
func (r *Registry) sweep() {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runSweep()
		case <-r.done:
			return
		}
	}
}

// runSweep closes expired idle sessions and deletes closed sessions whose
// grace period has elapsed. Streaming sessions are never touched.
func (r *Registry) runSweep() {
	r.mu.RLock()
	candidates := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		candidates[id] = s
	}
	r.mu.RUnlock()

	for id, s := range candidates {
		if s.idleExpired(r.cfg.IdleTimeout) {
			r.logger.Info("evicting idle session", "session_id", id)
			s.Close()
		}
		if s.graceExpired(r.cfg.GracePeriod) {
			r.mu.Lock()
			// Only delete if the map still holds this exact session.
			if cur, ok := r.sessions[id]; ok && cur == s {
				delete(r.sessions, id)
				r.logger.Info("session expired", "session_id", id)
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the sweeper and closes every session. Safe to call multiple
// times.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
