package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
)

// AllocationRepository implements port.AllocationRepository
type AllocationRepository struct {
	base
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *sqlite.DB, logger *zap.Logger) port.AllocationRepository {
	return &AllocationRepository{base: newBase(db, logger)}
}

const allocationColumns = `id, allocation_number, instance_id, project_ref, quantity_allocated, quantity_issued,
	quantity_returned, status, allocated_by, revision, created_at, updated_at`

// Create inserts an allocation
func (r *AllocationRepository) Create(ctx context.Context, a *entity.MaterialAllocation) error {
	now := r.now()
	if a.Revision == 0 {
		a.Revision = 1
	}
	a.CreatedAt, a.UpdatedAt = now, now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO material_allocations (
			allocation_number, instance_id, project_ref, quantity_allocated, quantity_issued,
			quantity_returned, status, allocated_by, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AllocationNumber, a.InstanceID, a.ProjectRef, a.QuantityAllocated, a.QuantityIssued,
		a.QuantityReturned, a.Status, a.AllocatedBy, a.Revision, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create allocation", zap.Int64("instance_id", a.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create allocation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID returns one allocation
func (r *AllocationRepository) GetByID(ctx context.Context, id int64) (*entity.MaterialAllocation, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM material_allocations WHERE id = ?`, id)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("allocation", id)
	}
	if err != nil {
		r.logger.Error("Failed to get allocation", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return a, nil
}

// ListByInstance returns the allocations drawn from an instance
func (r *AllocationRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.MaterialAllocation, error) {
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM material_allocations WHERE instance_id = ? ORDER BY id`, instanceID)
	if err != nil {
		r.logger.Error("Failed to list allocations", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var out []*entity.MaterialAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Load implements port.StateStore
func (r *AllocationRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateState implements port.StateStore
func (r *AllocationRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "material_allocations", entity.EntityMaterialAllocation, id, to, expectedRevision)
}

// UpdateQuantities stores the issue and return counters
func (r *AllocationRepository) UpdateQuantities(ctx context.Context, a *entity.MaterialAllocation) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE material_allocations
		SET quantity_allocated = ?, quantity_issued = ?, quantity_returned = ?, updated_at = ?
		WHERE id = ?`,
		a.QuantityAllocated, a.QuantityIssued, a.QuantityReturned, r.now(), a.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update allocation quantities", zap.Int64("id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to update allocation quantities: %w", err)
	}
	return nil
}

func scanAllocation(s rowScanner) (*entity.MaterialAllocation, error) {
	var a entity.MaterialAllocation
	err := s.Scan(
		&a.ID, &a.AllocationNumber, &a.InstanceID, &a.ProjectRef, &a.QuantityAllocated, &a.QuantityIssued,
		&a.QuantityReturned, &a.Status, &a.AllocatedBy, &a.Revision, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
