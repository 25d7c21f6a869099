// ABOUTME: Core producer interfaces: the query handle and the runner that starts one.
// ABOUTME: A query is a pull-based, cancellable sequence of raw agent items.

package producer

import (
	"context"
	"encoding/json"
)

// Item is one raw message emitted by a producer. The relay forwards Data
// opaquely as the envelope payload; only Type is interpreted, to pick the
// envelope kind.
type Item struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Request carries a prompt to the execution environment.
type Request struct {
	SessionID      string          `json:"session_id"`
	Prompt         string          `json:"prompt"`
	WorkingContext json.RawMessage `json:"working_context,omitempty"`
}

// Query is a live producer execution. Next blocks until the next item is
// available and returns io.EOF when the producer reaches its end marker.
// Cancel interrupts the execution; a cancelled query surfaces
// context.Canceled from Next. Cancel is safe to call more than once and
// concurrently with Next.
type Query interface {
	Next(ctx context.Context) (*Item, error)
	Cancel()
}

// Runner starts queries against an already-provisioned execution
// environment. The relay is not responsible for provisioning,
// health-checking, or destroying that environment.
type Runner interface {
	Start(ctx context.Context, req *Request) (Query, error)
}
