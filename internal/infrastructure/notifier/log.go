package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

// LogNotifier writes events to the log. It is used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(ctx context.Context, evt *event.Event) error {
	n.logger.Info("Event",
		zap.String("subject", evt.Subject()),
		zap.String("event_id", evt.ID),
		zap.String("entity_type", evt.EntityType.String()),
		zap.Int64("entity_id", evt.EntityID),
		zap.String("from", string(evt.From)),
		zap.String("to", string(evt.To)),
		zap.String("actor", evt.Actor),
		zap.Int64("revision", evt.Revision))
	return nil
}

func (n *LogNotifier) Close() error { return nil }
