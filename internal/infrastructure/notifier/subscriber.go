package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

// HandlerName is the dispatcher registration name of the forwarding handler
const HandlerName = "external-notifier"

// Forward subscribes n to every dispatched event. Publish failures are logged and swallowed
// so a broker outage never fails the dispatch.
func Forward(d dispatcher.Dispatcher, n port.Notifier, logger *zap.Logger) {
	d.SubscribeNamed(dispatcher.AllEvents, HandlerName, func(ctx context.Context, evt *event.Event) error {
		if err := n.Publish(ctx, evt); err != nil {
			logger.Warn("Failed to publish event (non-fatal)",
				zap.String("event_id", evt.ID),
				zap.String("subject", evt.Subject()),
				zap.Error(err))
		}
		return nil
	})
}
