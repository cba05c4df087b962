// Package authz resolves actor roles from a static user directory loaded from configuration.
package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

// StaticDirectory maps user ids to roles. Unknown users are rejected.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string]entity.Role
}

// NewStaticDirectory validates every role in the map
func NewStaticDirectory(users map[string]string) (*StaticDirectory, error) {
	d := &StaticDirectory{roles: make(map[string]entity.Role, len(users))}
	for user, role := range users {
		if err := d.Assign(user, entity.Role(strings.ToLower(role))); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Assign sets or replaces the role of a user
func (d *StaticDirectory) Assign(userID string, role entity.Role) error {
	if userID == "" {
		return fmt.Errorf("directory: empty user id")
	}
	if !role.IsValid() {
		return fmt.Errorf("directory: user %s has unknown role %q", userID, role)
	}
	d.mu.Lock()
	d.roles[userID] = role
	d.mu.Unlock()
	return nil
}

func (d *StaticDirectory) RoleOf(ctx context.Context, userID string) (entity.Role, error) {
	d.mu.RLock()
	role, ok := d.roles[userID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("user %q is not in the directory: %w", userID, entity.ErrForbidden)
	}
	return role, nil
}

func (d *StaticDirectory) Authorize(ctx context.Context, userID string, capability entity.Capability) error {
	role, err := d.RoleOf(ctx, userID)
	if err != nil {
		return err
	}
	if !role.Can(capability) {
		return fmt.Errorf("role %s lacks %s: %w", role, capability, entity.ErrForbidden)
	}
	return nil
}
