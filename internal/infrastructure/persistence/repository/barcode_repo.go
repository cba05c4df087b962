package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
)

// BarcodeRepository implements port.BarcodeRepository
type BarcodeRepository struct {
	base
}

// NewBarcodeRepository creates a new barcode repository
func NewBarcodeRepository(db *sqlite.DB, logger *zap.Logger) port.BarcodeRepository {
	return &BarcodeRepository{base: newBase(db, logger)}
}

const barcodeColumns = `id, barcode_value, entity_type, instance_id, quantity, remaining_quantity, status,
	created_by, revision, created_at`

// Create inserts a node. Edges are added separately with AddEdge.
func (r *BarcodeRepository) Create(ctx context.Context, b *entity.BarcodeLabel) error {
	now := r.now()
	if b.Revision == 0 {
		b.Revision = 1
	}
	b.CreatedAt = now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO barcode_labels (
			barcode_value, entity_type, instance_id, quantity, remaining_quantity, status,
			created_by, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BarcodeValue, b.EntityType, b.InstanceID, b.Quantity, b.RemainingQuantity, b.Status,
		b.CreatedBy, b.Revision, now, now,
	)
	if err != nil {
		r.logger.Error("Failed to create barcode", zap.String("barcode", b.BarcodeValue), zap.Error(err))
		return fmt.Errorf("failed to create barcode: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

// GetByID returns one node with its edges
func (r *BarcodeRepository) GetByID(ctx context.Context, id int64) (*entity.BarcodeLabel, error) {
	nodes, err := r.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	b, ok := nodes[id]
	if !ok {
		return nil, entity.NotFoundError("barcode", id)
	}
	return b, nil
}

// GetByIDs returns the nodes found with their edges, keyed by id
func (r *BarcodeRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.BarcodeLabel, error) {
	out := make(map[int64]*entity.BarcodeLabel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	in := placeholders(len(ids))
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+barcodeColumns+` FROM barcode_labels WHERE id IN (`+in+`)`, int64Args(ids)...)
	if err != nil {
		r.logger.Error("Failed to get barcodes", zap.Int("count", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("failed to get barcodes: %w", err)
	}
	for rows.Next() {
		b, err := scanBarcode(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan barcode: %w", err)
		}
		out[b.ID] = b
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	args := append(int64Args(ids), int64Args(ids)...)
	edges, err := r.exec(ctx).QueryContext(ctx, `
		SELECT parent_id, child_id FROM barcode_edges
		WHERE child_id IN (`+in+`) OR parent_id IN (`+in+`)
		ORDER BY parent_id, child_id`, args...)
	if err != nil {
		r.logger.Error("Failed to get barcode edges", zap.Error(err))
		return nil, fmt.Errorf("failed to get barcode edges: %w", err)
	}
	defer edges.Close()

	for edges.Next() {
		var parentID, childID int64
		if err := edges.Scan(&parentID, &childID); err != nil {
			return nil, fmt.Errorf("failed to scan barcode edge: %w", err)
		}
		if child, ok := out[childID]; ok {
			child.ParentIDs = append(child.ParentIDs, parentID)
		}
		if parent, ok := out[parentID]; ok {
			parent.ChildIDs = append(parent.ChildIDs, childID)
		}
	}
	return out, edges.Err()
}

// GetByInstanceID returns the node labelling an instance
func (r *BarcodeRepository) GetByInstanceID(ctx context.Context, instanceID int64) (*entity.BarcodeLabel, error) {
	var id int64
	err := r.exec(ctx).QueryRowContext(ctx,
		`SELECT id FROM barcode_labels WHERE instance_id = ? ORDER BY id LIMIT 1`, instanceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("barcode for material instance", instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get barcode by instance: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Load implements port.StateStore
func (r *BarcodeRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateState implements port.StateStore
func (r *BarcodeRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "barcode_labels", entity.EntityBarcodeLabel, id, to, expectedRevision)
}

// UpdateRemaining stores the unconsumed quantity of a node
func (r *BarcodeRepository) UpdateRemaining(ctx context.Context, id int64, remaining decimal.Decimal) error {
	_, err := r.exec(ctx).ExecContext(ctx,
		`UPDATE barcode_labels SET remaining_quantity = ?, updated_at = ? WHERE id = ?`, remaining, r.now(), id)
	if err != nil {
		r.logger.Error("Failed to update barcode remaining quantity", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update barcode remaining quantity: %w", err)
	}
	return nil
}

// AddEdge records that a child node consumed quantity from a parent node
func (r *BarcodeRepository) AddEdge(ctx context.Context, e *entity.ConsumptionEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	_, err := r.exec(ctx).ExecContext(ctx,
		`INSERT INTO barcode_edges (parent_id, child_id, quantity, created_at) VALUES (?, ?, ?, ?)`,
		e.ParentID, e.ChildID, e.Quantity, e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to add barcode edge",
			zap.Int64("parent_id", e.ParentID), zap.Int64("child_id", e.ChildID), zap.Error(err))
		return fmt.Errorf("failed to add barcode edge: %w", err)
	}
	return nil
}

// ListEdges returns the consumption edges feeding a child node
func (r *BarcodeRepository) ListEdges(ctx context.Context, childID int64) ([]*entity.ConsumptionEdge, error) {
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT parent_id, child_id, quantity, created_at FROM barcode_edges WHERE child_id = ? ORDER BY parent_id`,
		childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list barcode edges: %w", err)
	}
	defer rows.Close()

	var out []*entity.ConsumptionEdge
	for rows.Next() {
		var e entity.ConsumptionEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.Quantity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan barcode edge: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanBarcode(s rowScanner) (*entity.BarcodeLabel, error) {
	var b entity.BarcodeLabel
	err := s.Scan(
		&b.ID, &b.BarcodeValue, &b.EntityType, &b.InstanceID, &b.Quantity, &b.RemainingQuantity,
		&b.Status, &b.CreatedBy, &b.Revision, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ParentIDs = []int64{}
	b.ChildIDs = []int64{}
	return &b, nil
}
