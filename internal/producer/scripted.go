// ABOUTME: In-memory runner that plays back a fixed item script.
// ABOUTME: Used by tests and the serve --scripted development mode.

package producer

import (
	"context"
	"io"
	"sync"
	"time"
)

// ScriptedRunner produces the same item sequence for every query. FailAfter
// injects a producer fault: when > 0, the query errors with FailErr after
// emitting that many items instead of reaching its end marker.
type ScriptedRunner struct {
	Script    []Item
	Delay     time.Duration
	FailAfter int
	FailErr   error
}

// Start returns a query over a copy of the script.
func (r *ScriptedRunner) Start(ctx context.Context, req *Request) (Query, error) {
	items := make([]Item, len(r.Script))
	copy(items, r.Script)

	return &scriptedQuery{
		items:     items,
		delay:     r.Delay,
		failAfter: r.FailAfter,
		failErr:   r.FailErr,
		cancel:    make(chan struct{}),
	}, nil
}

// scriptedQuery walks the scripted items one Next call at a time.
type scriptedQuery struct {
	items     []Item
	delay     time.Duration
	failAfter int
	failErr   error

	pos        int
	cancelOnce sync.Once
	cancel     chan struct{}
}

func (q *scriptedQuery) Next(ctx context.Context) (*Item, error) {
	select {
	case <-ctx.Done():
		return nil, context.Canceled
	case <-q.cancel:
		return nil, context.Canceled
	default:
	}

	if q.delay > 0 {
		timer := time.NewTimer(q.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, context.Canceled
		case <-q.cancel:
			return nil, context.Canceled
		case <-timer.C:
		}
	}

	if q.failAfter > 0 && q.pos >= q.failAfter {
		return nil, q.failErr
	}
	if q.pos >= len(q.items) {
		return nil, io.EOF
	}

	item := q.items[q.pos]
	q.pos++
	return &item, nil
}

func (q *scriptedQuery) Cancel() {
	q.cancelOnce.Do(func() { close(q.cancel) })
}
