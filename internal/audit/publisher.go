package audit

import (
	"context"
	"log/slog"
	"time"

	domain "formgate/pkg/domain"
)

// Publisher captures structured audit events. It is append-only and uses a
// pluggable sink so tests can swap delivery easily.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

// PublisherOption configures optional publisher collaborators.
type PublisherOption func(*Publisher)

// WithPublisherLogger mirrors every emitted event into the application log.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.ID.IsNil() {
		base.ID = domain.NewEventID()
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	p.log(ctx, base)
	return p.sink.Append(ctx, base)
}

// log writes the trail entry into the application log under
// "log_type","audit", so events stay greppable even when the sink is down.
func (p *Publisher) log(ctx context.Context, event Event) {
	if p.logger == nil {
		return
	}
	args := []any{
		"log_type", "audit",
		"session_id", event.SessionID.String(),
		"form_variant", event.FormVariant.String(),
	}
	if event.Outcome != "" {
		args = append(args, "outcome", event.Outcome)
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	p.logger.InfoContext(ctx, event.Action, args...)
}
