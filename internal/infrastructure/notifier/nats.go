// Package notifier forwards committed domain events to systems outside the process.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

// DefaultSubjectPrefix is prepended to every event subject
const DefaultSubjectPrefix = "aerotrace"

// Conn is the part of *nats.Conn the publisher uses
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Connect dials the NATS server with unlimited reconnects
func Connect(url, clientName string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// NATSPublisher publishes events as JSON on <prefix>.<entity_type>.<event_type>.
// Delivery is fire-and-forget; there is no JetStream acknowledgement.
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher over an established connection
func NewNATSPublisher(conn Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// SubjectFor returns the full subject an event is published on
func (p *NATSPublisher) SubjectFor(evt *event.Event) string {
	return p.prefix + "." + evt.Subject()
}

// Publish marshals and sends the event
func (p *NATSPublisher) Publish(ctx context.Context, evt *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	subject := p.SubjectFor(evt)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug("Event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.ID),
		zap.Int64("entity_id", evt.EntityID))
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
