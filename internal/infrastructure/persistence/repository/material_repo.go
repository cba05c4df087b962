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

// MaterialInstanceRepository implements port.MaterialInstanceRepository
type MaterialInstanceRepository struct {
	base
}

// NewMaterialInstanceRepository creates a new material instance repository
func NewMaterialInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.MaterialInstanceRepository {
	return &MaterialInstanceRepository{base: newBase(db, logger)}
}

const instanceColumns = `id, item_number, material_id, stage, quantity, reserved_quantity, issued_quantity, status,
	purchase_order_id, po_line_item_id, grn_id, grn_line_item_id, lot_number, batch_number, heat_number,
	serial_number, inspection_passed, inspection_notes, revision, created_at, updated_at`

// Create inserts a material instance in its initial status
func (r *MaterialInstanceRepository) Create(ctx context.Context, m *entity.MaterialInstance) error {
	now := r.now()
	if m.Revision == 0 {
		m.Revision = 1
	}
	m.CreatedAt, m.UpdatedAt = now, now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO material_instances (
			item_number, material_id, stage, quantity, reserved_quantity, issued_quantity, status,
			purchase_order_id, po_line_item_id, grn_id, grn_line_item_id, lot_number, batch_number,
			heat_number, serial_number, inspection_passed, inspection_notes, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ItemNumber, m.MaterialID, m.Stage, m.Quantity, m.ReservedQuantity, m.IssuedQuantity, m.Status,
		nullInt64(m.PurchaseOrderID), nullInt64(m.POLineItemID), nullInt64(m.GRNID), nullInt64(m.GRNLineItemID),
		m.LotNumber, m.BatchNumber, m.HeatNumber, m.SerialNumber, nullBool(m.InspectionPassed),
		m.InspectionNotes, m.Revision, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create material instance", zap.String("item_number", m.ItemNumber), zap.Error(err))
		return fmt.Errorf("failed to create material instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id
	return nil
}

// GetByID returns one material instance
func (r *MaterialInstanceRepository) GetByID(ctx context.Context, id int64) (*entity.MaterialInstance, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM material_instances WHERE id = ?`, id)
	m, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("material instance", id)
	}
	if err != nil {
		r.logger.Error("Failed to get material instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get material instance: %w", err)
	}
	return m, nil
}

// GetByIDs returns the instances found, keyed by id
func (r *MaterialInstanceRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.MaterialInstance, error) {
	out := make(map[int64]*entity.MaterialInstance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM material_instances WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...)
	if err != nil {
		r.logger.Error("Failed to get material instances", zap.Int("count", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("failed to get material instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material instance: %w", err)
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// Load implements port.StateStore
func (r *MaterialInstanceRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements port.StateStore
func (r *MaterialInstanceRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "material_instances", entity.EntityMaterialInstance, id, to, expectedRevision)
}

// UpdateQuantities stores quantity, reservation and issue counters and the stage
func (r *MaterialInstanceRepository) UpdateQuantities(ctx context.Context, m *entity.MaterialInstance) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE material_instances
		SET quantity = ?, reserved_quantity = ?, issued_quantity = ?, stage = ?, updated_at = ?
		WHERE id = ?`,
		m.Quantity, m.ReservedQuantity, m.IssuedQuantity, m.Stage, r.now(), m.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update material quantities", zap.Int64("id", m.ID), zap.Error(err))
		return fmt.Errorf("failed to update material quantities: %w", err)
	}
	return nil
}

// UpdateInspection stores the inspection verdict
func (r *MaterialInstanceRepository) UpdateInspection(ctx context.Context, m *entity.MaterialInstance) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE material_instances SET inspection_passed = ?, inspection_notes = ?, updated_at = ? WHERE id = ?`,
		nullBool(m.InspectionPassed), m.InspectionNotes, r.now(), m.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update material inspection", zap.Int64("id", m.ID), zap.Error(err))
		return fmt.Errorf("failed to update material inspection: %w", err)
	}
	return nil
}

func scanInstance(s rowScanner) (*entity.MaterialInstance, error) {
	var m entity.MaterialInstance
	var poID, poLineID, grnID, grnLineID sql.NullInt64
	var passed sql.NullBool
	err := s.Scan(
		&m.ID, &m.ItemNumber, &m.MaterialID, &m.Stage, &m.Quantity, &m.ReservedQuantity, &m.IssuedQuantity,
		&m.Status, &poID, &poLineID, &grnID, &grnLineID, &m.LotNumber, &m.BatchNumber, &m.HeatNumber,
		&m.SerialNumber, &passed, &m.InspectionNotes, &m.Revision, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.PurchaseOrderID = int64Ptr(poID)
	m.POLineItemID = int64Ptr(poLineID)
	m.GRNID = int64Ptr(grnID)
	m.GRNLineItemID = int64Ptr(grnLineID)
	m.InspectionPassed = boolPtr(passed)
	return &m, nil
}
