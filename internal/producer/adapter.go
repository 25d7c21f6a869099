// ABOUTME: Adapter that pumps a query's items into a session sink as envelopes.
// ABOUTME: Each pulled item is a suspension point; sessions interleave freely.

package producer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/2389/strand-relay/internal/envelope"
)

// Sink receives normalized producer output. The owning session implements
// this; Emit assigns the next sequence number, appends to the log, and
// notifies listeners.
type Sink interface {
	Emit(kind envelope.Kind, payload []byte)
}

// Outcome describes how a query ended. The zero value is clean completion.
type Outcome struct {
	// Err is set when the producer faulted before its end marker.
	Err error

	// Cancelled is set when the query was interrupted rather than run to
	// completion.
	Cancelled bool
}

// Adapter consumes a Query and forwards each item to a Sink. It owns the
// query for its lifetime: after Run returns, the query is finished and the
// session may release its exclusive producer claim.
type Adapter struct {
	query  Query
	logger *slog.Logger
}

// NewAdapter wraps a started query. Pass nil logger for the default.
func NewAdapter(query Query, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		query:  query,
		logger: logger.With("component", "producer-adapter"),
	}
}

// Run pulls items until the query terminates and emits each one to the sink.
// It never emits a terminal envelope itself; the session appends exactly one
// done or error envelope based on the returned Outcome, so clients always
// get a single reliable end-of-stream signal.
func (a *Adapter) Run(ctx context.Context, sink Sink) Outcome {
	for {
		item, err := a.query.Next(ctx)
		switch {
		case err == nil:
			sink.Emit(envelope.KindFromItemType(item.Type), item.Data)

		case errors.Is(err, io.EOF):
			return Outcome{}

		case errors.Is(err, context.Canceled):
			a.query.Cancel()
			return Outcome{Cancelled: true}

		default:
			a.logger.Warn("producer faulted", "error", err)
			return Outcome{Err: err}
		}
	}
}
