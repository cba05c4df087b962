package port

import (
	"context"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

// Authorizer resolves roles and capabilities from the external identity directory
type Authorizer interface {
	RoleOf(ctx context.Context, userID string) (entity.Role, error)

	// Authorize returns an error wrapping ErrForbidden when the user lacks the capability
	Authorize(ctx context.Context, userID string, capability entity.Capability) error
}

// Notifier delivers committed events to systems outside the process
type Notifier interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}
