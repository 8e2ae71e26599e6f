package audit

import (
	"context"
	"fmt"

	"formgate/pkg/platform/sentinel"
)

// Queue is a channel-backed sink. Append never blocks the emitting request:
// when the buffer is full the event is rejected and the caller decides
// whether to log or fail.
type Queue struct {
	ch chan Event
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size)}
}

// Append enqueues the event for the worker.
func (q *Queue) Append(ctx context.Context, event Event) error {
	select {
	case q.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("audit queue full: %w", sentinel.ErrUnavailable)
	}
}

// Inbox exposes the receive side for a Worker.
func (q *Queue) Inbox() <-chan Event {
	return q.ch
}
