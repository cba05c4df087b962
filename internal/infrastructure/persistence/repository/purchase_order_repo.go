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

// PurchaseOrderRepository implements port.PurchaseOrderRepository
type PurchaseOrderRepository struct {
	base
}

// NewPurchaseOrderRepository creates a new purchase order repository
func NewPurchaseOrderRepository(db *sqlite.DB, logger *zap.Logger) port.PurchaseOrderRepository {
	return &PurchaseOrderRepository{base: newBase(db, logger)}
}

const poColumns = `id, po_number, supplier_id, priority, status, subtotal, discount_amount, tax_amount,
	shipping_amount, total_amount, currency, requires_inspection, created_by, notes, revision, created_at, updated_at`

const poLineColumns = `id, purchase_order_id, line_number, material_id, description, quantity_ordered,
	quantity_received, quantity_accepted, unit_price, discount_percent, line_total, material_stage`

// Create inserts the order and its lines
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	now := r.now()
	if po.Revision == 0 {
		po.Revision = 1
	}
	po.CreatedAt, po.UpdatedAt = now, now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO purchase_orders (
			po_number, supplier_id, priority, status, subtotal, discount_amount, tax_amount,
			shipping_amount, total_amount, currency, requires_inspection, created_by, notes,
			revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		po.PONumber, po.SupplierID, po.Priority, po.Status, po.Subtotal, po.DiscountAmount,
		po.TaxAmount, po.ShippingAmount, po.TotalAmount, po.Currency, po.RequiresInspection,
		po.CreatedBy, po.Notes, po.Revision, po.CreatedAt, po.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create purchase order", zap.String("po_number", po.PONumber), zap.Error(err))
		return fmt.Errorf("failed to create purchase order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	po.ID = id

	for _, line := range po.LineItems {
		line.PurchaseOrderID = id
		if err := r.AddLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns the order with its lines
func (r *PurchaseOrderRepository) GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = ?`, id)

	po, err := scanPurchaseOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("purchase order", id)
	}
	if err != nil {
		r.logger.Error("Failed to get purchase order", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}

	lines, err := r.linesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	po.LineItems = lines
	return po, nil
}

// Load implements port.StateStore
func (r *PurchaseOrderRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	po, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return po, nil
}

// UpdateState implements port.StateStore
func (r *PurchaseOrderRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "purchase_orders", entity.EntityPurchaseOrder, id, to, expectedRevision)
}

// Touch increments the revision of a draft edit
func (r *PurchaseOrderRepository) Touch(ctx context.Context, id int64, expectedRevision int64) error {
	return r.touch(ctx, "purchase_orders", entity.EntityPurchaseOrder, id, expectedRevision)
}

// List returns orders newest first, optionally filtered by status
func (r *PurchaseOrderRepository) List(ctx context.Context, status entity.POStatus, limit, offset int) ([]*entity.PurchaseOrder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + poColumns + ` FROM purchase_orders`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list purchase orders", zap.Error(err))
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.PurchaseOrder
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// UpdateTotals stores the recomputed money columns
func (r *PurchaseOrderRepository) UpdateTotals(ctx context.Context, po *entity.PurchaseOrder) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE purchase_orders
		SET subtotal = ?, discount_amount = ?, tax_amount = ?, shipping_amount = ?, total_amount = ?, updated_at = ?
		WHERE id = ?`,
		po.Subtotal, po.DiscountAmount, po.TaxAmount, po.ShippingAmount, po.TotalAmount, r.now(), po.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update purchase order totals", zap.Int64("id", po.ID), zap.Error(err))
		return fmt.Errorf("failed to update purchase order totals: %w", err)
	}
	return nil
}

// AddLine inserts a line item
func (r *PurchaseOrderRepository) AddLine(ctx context.Context, line *entity.POLineItem) error {
	if line.MaterialStage == "" {
		line.MaterialStage = entity.StageOnOrder
	}

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO po_line_items (
			purchase_order_id, line_number, material_id, description, quantity_ordered,
			quantity_received, quantity_accepted, unit_price, discount_percent, line_total, material_stage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.PurchaseOrderID, line.LineNumber, line.MaterialID, line.Description, line.QuantityOrdered,
		line.QuantityReceived, line.QuantityAccepted, line.UnitPrice, line.DiscountPercent,
		line.LineTotal, line.MaterialStage,
	)
	if err != nil {
		r.logger.Error("Failed to add purchase order line",
			zap.Int64("purchase_order_id", line.PurchaseOrderID), zap.Error(err))
		return fmt.Errorf("failed to add purchase order line: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	line.ID = id
	return nil
}

// RemoveLine deletes a line item of the given order
func (r *PurchaseOrderRepository) RemoveLine(ctx context.Context, poID, lineID int64) error {
	result, err := r.exec(ctx).ExecContext(ctx,
		`DELETE FROM po_line_items WHERE id = ? AND purchase_order_id = ?`, lineID, poID)
	if err != nil {
		r.logger.Error("Failed to remove purchase order line", zap.Int64("line_id", lineID), zap.Error(err))
		return fmt.Errorf("failed to remove purchase order line: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return entity.NotFoundError("purchase order line", lineID)
	}
	return nil
}

// UpdateLine stores the receiving progress of a line
func (r *PurchaseOrderRepository) UpdateLine(ctx context.Context, line *entity.POLineItem) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE po_line_items
		SET quantity_received = ?, quantity_accepted = ?, material_stage = ?
		WHERE id = ?`,
		line.QuantityReceived, line.QuantityAccepted, line.MaterialStage, line.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update purchase order line", zap.Int64("line_id", line.ID), zap.Error(err))
		return fmt.Errorf("failed to update purchase order line: %w", err)
	}
	return nil
}

// GetLine returns one line item
func (r *PurchaseOrderRepository) GetLine(ctx context.Context, lineID int64) (*entity.POLineItem, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+poLineColumns+` FROM po_line_items WHERE id = ?`, lineID)
	line, err := scanPOLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("purchase order line", lineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order line: %w", err)
	}
	return line, nil
}

func (r *PurchaseOrderRepository) linesFor(ctx context.Context, poID int64) ([]*entity.POLineItem, error) {
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+poLineColumns+` FROM po_line_items WHERE purchase_order_id = ? ORDER BY line_number`, poID)
	if err != nil {
		r.logger.Error("Failed to list purchase order lines", zap.Int64("purchase_order_id", poID), zap.Error(err))
		return nil, fmt.Errorf("failed to list purchase order lines: %w", err)
	}
	defer rows.Close()

	var lines []*entity.POLineItem
	for rows.Next() {
		line, err := scanPOLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanPurchaseOrder(s rowScanner) (*entity.PurchaseOrder, error) {
	var po entity.PurchaseOrder
	err := s.Scan(
		&po.ID, &po.PONumber, &po.SupplierID, &po.Priority, &po.Status, &po.Subtotal,
		&po.DiscountAmount, &po.TaxAmount, &po.ShippingAmount, &po.TotalAmount, &po.Currency,
		&po.RequiresInspection, &po.CreatedBy, &po.Notes, &po.Revision, &po.CreatedAt, &po.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func scanPOLine(s rowScanner) (*entity.POLineItem, error) {
	var l entity.POLineItem
	err := s.Scan(
		&l.ID, &l.PurchaseOrderID, &l.LineNumber, &l.MaterialID, &l.Description, &l.QuantityOrdered,
		&l.QuantityReceived, &l.QuantityAccepted, &l.UnitPrice, &l.DiscountPercent, &l.LineTotal,
		&l.MaterialStage,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
