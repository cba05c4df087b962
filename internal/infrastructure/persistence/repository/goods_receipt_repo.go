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

// GoodsReceiptRepository implements port.GoodsReceiptRepository
type GoodsReceiptRepository struct {
	base
}

// NewGoodsReceiptRepository creates a new goods receipt repository
func NewGoodsReceiptRepository(db *sqlite.DB, logger *zap.Logger) port.GoodsReceiptRepository {
	return &GoodsReceiptRepository{base: newBase(db, logger)}
}

const grnColumns = `id, grn_number, purchase_order_id, status, received_by, delivery_note, carrier_name,
	inspection_passed, inspection_notes, inspected_by, inspected_at, revision, created_at, updated_at`

const grnLineColumns = `id, grn_id, po_line_item_id, quantity_received, quantity_accepted, quantity_rejected,
	lot_number, batch_number, heat_number, serial_number, rejection_reason, material_instance_id`

// Create inserts the note and its lines
func (r *GoodsReceiptRepository) Create(ctx context.Context, grn *entity.GoodsReceiptNote) error {
	now := r.now()
	if grn.Revision == 0 {
		grn.Revision = 1
	}
	grn.CreatedAt, grn.UpdatedAt = now, now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO goods_receipt_notes (
			grn_number, purchase_order_id, status, received_by, delivery_note, carrier_name,
			inspection_passed, inspection_notes, inspected_by, inspected_at, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grn.GRNNumber, grn.PurchaseOrderID, grn.Status, grn.ReceivedBy, grn.DeliveryNote, grn.CarrierName,
		grn.InspectionPassed, grn.InspectionNotes, grn.InspectedBy, nullTime(grn.InspectedAt),
		grn.Revision, grn.CreatedAt, grn.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create goods receipt", zap.String("grn_number", grn.GRNNumber), zap.Error(err))
		return fmt.Errorf("failed to create goods receipt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	grn.ID = id

	for _, line := range grn.Lines {
		line.GRNID = id
		if err := r.insertLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *GoodsReceiptRepository) insertLine(ctx context.Context, line *entity.GRNLineItem) error {
	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO grn_line_items (
			grn_id, po_line_item_id, quantity_received, quantity_accepted, quantity_rejected,
			lot_number, batch_number, heat_number, serial_number, rejection_reason, material_instance_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.GRNID, line.POLineItemID, line.QuantityReceived, line.QuantityAccepted, line.QuantityRejected,
		line.LotNumber, line.BatchNumber, line.HeatNumber, line.SerialNumber, line.RejectionReason,
		nullInt64(line.MaterialInstanceID),
	)
	if err != nil {
		r.logger.Error("Failed to create goods receipt line", zap.Int64("grn_id", line.GRNID), zap.Error(err))
		return fmt.Errorf("failed to create goods receipt line: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	line.ID = id
	return nil
}

// GetByID returns the note with its lines
func (r *GoodsReceiptRepository) GetByID(ctx context.Context, id int64) (*entity.GoodsReceiptNote, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+grnColumns+` FROM goods_receipt_notes WHERE id = ?`, id)

	grn, err := scanGRN(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("goods receipt", id)
	}
	if err != nil {
		r.logger.Error("Failed to get goods receipt", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get goods receipt: %w", err)
	}

	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+grnLineColumns+` FROM grn_line_items WHERE grn_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list goods receipt lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line, err := scanGRNLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goods receipt line: %w", err)
		}
		grn.Lines = append(grn.Lines, line)
	}
	return grn, rows.Err()
}

// Load implements port.StateStore
func (r *GoodsReceiptRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	grn, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return grn, nil
}

// UpdateState implements port.StateStore
func (r *GoodsReceiptRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "goods_receipt_notes", entity.EntityGoodsReceipt, id, to, expectedRevision)
}

// ListByPurchaseOrder returns the notes raised against an order
func (r *GoodsReceiptRepository) ListByPurchaseOrder(ctx context.Context, poID int64) ([]*entity.GoodsReceiptNote, error) {
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+grnColumns+` FROM goods_receipt_notes WHERE purchase_order_id = ? ORDER BY id`, poID)
	if err != nil {
		r.logger.Error("Failed to list goods receipts", zap.Int64("purchase_order_id", poID), zap.Error(err))
		return nil, fmt.Errorf("failed to list goods receipts: %w", err)
	}
	defer rows.Close()

	var notes []*entity.GoodsReceiptNote
	for rows.Next() {
		grn, err := scanGRN(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goods receipt: %w", err)
		}
		notes = append(notes, grn)
	}
	return notes, rows.Err()
}

// GetLine returns one receipt line
func (r *GoodsReceiptRepository) GetLine(ctx context.Context, lineID int64) (*entity.GRNLineItem, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+grnLineColumns+` FROM grn_line_items WHERE id = ?`, lineID)
	line, err := scanGRNLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("goods receipt line", lineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goods receipt line: %w", err)
	}
	return line, nil
}

// UpdateLine stores inspection quantities and the resulting material instance
func (r *GoodsReceiptRepository) UpdateLine(ctx context.Context, line *entity.GRNLineItem) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE grn_line_items
		SET quantity_accepted = ?, quantity_rejected = ?, rejection_reason = ?, material_instance_id = ?
		WHERE id = ?`,
		line.QuantityAccepted, line.QuantityRejected, line.RejectionReason, nullInt64(line.MaterialInstanceID), line.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update goods receipt line", zap.Int64("line_id", line.ID), zap.Error(err))
		return fmt.Errorf("failed to update goods receipt line: %w", err)
	}
	return nil
}

// UpdateInspection stores the inspection verdict of the note
func (r *GoodsReceiptRepository) UpdateInspection(ctx context.Context, grn *entity.GoodsReceiptNote) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE goods_receipt_notes
		SET inspection_passed = ?, inspection_notes = ?, inspected_by = ?, inspected_at = ?, updated_at = ?
		WHERE id = ?`,
		grn.InspectionPassed, grn.InspectionNotes, grn.InspectedBy, nullTime(grn.InspectedAt), r.now(), grn.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update goods receipt inspection", zap.Int64("id", grn.ID), zap.Error(err))
		return fmt.Errorf("failed to update goods receipt inspection: %w", err)
	}
	return nil
}

func scanGRN(s rowScanner) (*entity.GoodsReceiptNote, error) {
	var g entity.GoodsReceiptNote
	var inspectedAt sql.NullTime
	err := s.Scan(
		&g.ID, &g.GRNNumber, &g.PurchaseOrderID, &g.Status, &g.ReceivedBy, &g.DeliveryNote, &g.CarrierName,
		&g.InspectionPassed, &g.InspectionNotes, &g.InspectedBy, &inspectedAt, &g.Revision,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.InspectedAt = timePtr(inspectedAt)
	return &g, nil
}

func scanGRNLine(s rowScanner) (*entity.GRNLineItem, error) {
	var l entity.GRNLineItem
	var instanceID sql.NullInt64
	err := s.Scan(
		&l.ID, &l.GRNID, &l.POLineItemID, &l.QuantityReceived, &l.QuantityAccepted, &l.QuantityRejected,
		&l.LotNumber, &l.BatchNumber, &l.HeatNumber, &l.SerialNumber, &l.RejectionReason, &instanceID,
	)
	if err != nil {
		return nil, err
	}
	l.MaterialInstanceID = int64Ptr(instanceID)
	return &l, nil
}
