// ABOUTME: SSE connection adapter implementing the session listener contract.
// ABOUTME: Bounded queue between session fanout and the HTTP writer goroutine.

package gateway

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/strand-relay/internal/envelope"
)

var errQueueFull = errors.New("outbound queue full")

// sseConn queues envelopes between a session and one SSE response writer.
// Deliver is called from the session's fanout under its lock, so it never
// blocks: a full queue fails the delivery and the session detaches the
// connection. The client reconnects with its last acknowledged sequence and
// replays what it missed.
type sseConn struct {
	id    string
	queue chan *envelope.Envelope
	done  chan struct{}
	once  sync.Once
}

func newSSEConn(queueSize int) *sseConn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &sseConn{
		id:    uuid.NewString(),
		queue: make(chan *envelope.Envelope, queueSize),
		done:  make(chan struct{}),
	}
}

func (c *sseConn) ID() string {
	return c.id
}

func (c *sseConn) Deliver(env *envelope.Envelope) error {
	select {
	case c.queue <- env:
		return nil
	default:
		return errQueueFull
	}
}

func (c *sseConn) Close() {
	c.once.Do(func() { close(c.done) })
}
