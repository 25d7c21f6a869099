// ABOUTME: Fixed-capacity replay ring retaining the newest envelopes of a session.
// ABOUTME: Old entries are evicted in order, never reordered or mutated.

package session

import (
	"github.com/2389/strand-relay/internal/envelope"
)

// ring is the bounded replay buffer backing a session log. Appends evict the
// oldest retained entry once capacity is reached. The ring never reorders:
// retained entries always form a contiguous suffix of the full log.
type ring struct {
	entries []*envelope.Envelope
	start   int // index of the oldest retained entry
	count   int

	// lastSeq is the highest sequence ever appended, retained or not.
	lastSeq uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ring{entries: make([]*envelope.Envelope, capacity)}
}

// append stores an envelope, evicting the oldest retained entry when full.
func (r *ring) append(env *envelope.Envelope) {
	idx := (r.start + r.count) % len(r.entries)
	if r.count == len(r.entries) {
		// Full: overwrite the oldest and advance.
		r.entries[r.start] = env
		r.start = (r.start + 1) % len(r.entries)
	} else {
		r.entries[idx] = env
		r.count++
	}
	r.lastSeq = env.Sequence
}

// oldestSeq returns the sequence of the oldest retained entry, or 0 when the
// ring is empty.
func (r *ring) oldestSeq() uint64 {
	if r.count == 0 {
		return 0
	}
	return r.entries[r.start].Sequence
}

// after returns the retained envelopes with sequence > n, in order.
// It returns ErrReplayGap when n predates the oldest retained entry (the
// caller missed evicted data) or exceeds the highest sequence ever assigned
// (the caller acknowledges data this session never produced).
func (r *ring) after(n uint64) ([]*envelope.Envelope, error) {
	if n > r.lastSeq {
		return nil, ErrReplayGap
	}
	if n == r.lastSeq {
		return nil, nil
	}
	if oldest := r.oldestSeq(); n+1 < oldest {
		return nil, ErrReplayGap
	}

	out := make([]*envelope.Envelope, 0, r.count)
	for i := 0; i < r.count; i++ {
		env := r.entries[(r.start+i)%len(r.entries)]
		if env.Sequence > n {
			out = append(out, env)
		}
	}
	return out, nil
}
