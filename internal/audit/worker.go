package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a queue and delivers them to the sink.
// It decouples domain emit paths from delivery I/O such as broker round
// trips.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

// WorkerOption configures optional worker dependencies.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger used to report delivery failures.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(sink Sink, inbox <-chan Event, opts ...WorkerOption) *Worker {
	w := &Worker{sink: sink, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run delivers queued events until ctx is cancelled. A failed append is
// logged and the event dropped rather than retried: the trail is advisory
// and a broken sink must not wedge the inbox.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit delivery failed",
					"action", event.Action,
					"session_id", event.SessionID.String(),
					"error", err)
			}
		}
	}
}
