package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
)

// LedgerRepository implements port.LedgerRepository. It has no update or delete path.
type LedgerRepository struct {
	base
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlite.DB, logger *zap.Logger) port.LedgerRepository {
	return &LedgerRepository{base: newBase(db, logger)}
}

const ledgerColumns = `id, entity_type, entity_id, actor, from_state, to_state, action, comment, revision, metadata, created_at`

// Append inserts one ledger entry
func (r *LedgerRepository) Append(ctx context.Context, e *entity.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO transition_ledger (
			entity_type, entity_id, actor, from_state, to_state, action, comment, revision, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID, e.Actor, e.FromState, e.ToState, e.Action,
		e.Comment, e.Revision, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append ledger entry",
			zap.String("entity_type", e.EntityType.String()),
			zap.Int64("entity_id", e.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// Latest returns the most recent entry of an entity, or nil when it has none
func (r *LedgerRepository) Latest(ctx context.Context, ref entity.Ref) (*entity.LedgerEntry, error) {
	row := r.exec(ctx).QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM transition_ledger
		 WHERE entity_type = ? AND entity_id = ? ORDER BY revision DESC, id DESC LIMIT 1`,
		ref.Type, ref.ID)

	e, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest ledger entry", zap.String("ref", ref.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get latest ledger entry: %w", err)
	}
	return e, nil
}

// ListByEntity returns the full history of an entity, oldest first
func (r *LedgerRepository) ListByEntity(ctx context.Context, ref entity.Ref) ([]*entity.LedgerEntry, error) {
	return r.Query(ctx, entity.LedgerFilter{EntityType: ref.Type, EntityID: ref.ID})
}

// Query returns entries matching the filter, oldest first
func (r *LedgerRepository) Query(ctx context.Context, f entity.LedgerFilter) ([]*entity.LedgerEntry, error) {
	var where []string
	var args []interface{}

	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != 0 {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, *f.Until)
	}

	query := `SELECT ` + ledgerColumns + ` FROM transition_ledger`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query ledger", zap.Error(err))
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*entity.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedger(s rowScanner) (*entity.LedgerEntry, error) {
	var e entity.LedgerEntry
	err := s.Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.Actor, &e.FromState, &e.ToState, &e.Action,
		&e.Comment, &e.Revision, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
