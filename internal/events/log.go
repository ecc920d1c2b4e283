package events

import (
	"context"
	"log/slog"
)

// LogPublisher records each event at Debug level instead of sending it
// anywhere. It stands in for NATS when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, event any) error {
	attrs := []any{"topic", topic}
	if ref, ok := RefOf(event); ok {
		attrs = append(attrs, "event_id", ref.EventID, "kind", ref.Kind, "code", ref.Code)
	}
	p.logger.DebugContext(ctx, "record event", attrs...)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
