package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
)

// base holds what every repository needs
type base struct {
	db     *sqlite.DB
	logger *zap.Logger
	now    func() time.Time
}

func newBase(db *sqlite.DB, logger *zap.Logger) base {
	return base{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (b base) exec(ctx context.Context) sqlite.Executor {
	return b.db.Executor(ctx)
}

// updateState moves the status column with a compare-and-swap on revision
func (b base) updateState(ctx context.Context, table string, entityType statemachine.EntityType, id int64, to statemachine.State, expectedRevision int64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = ?, revision = revision + 1, updated_at = ? WHERE id = ? AND revision = ?`, table)

	result, err := b.exec(ctx).ExecContext(ctx, query, to.String(), b.now(), id, expectedRevision)
	if err != nil {
		b.logger.Error("Failed to update state", zap.String("table", table), zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update %s state: %w", table, err)
	}
	return b.checkSwapped(ctx, result, table, entityType, id, expectedRevision)
}

// touch increments the revision without a status change
func (b base) touch(ctx context.Context, table string, entityType statemachine.EntityType, id int64, expectedRevision int64) error {
	query := fmt.Sprintf(`UPDATE %s SET revision = revision + 1, updated_at = ? WHERE id = ? AND revision = ?`, table)

	result, err := b.exec(ctx).ExecContext(ctx, query, b.now(), id, expectedRevision)
	if err != nil {
		b.logger.Error("Failed to touch revision", zap.String("table", table), zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to touch %s: %w", table, err)
	}
	return b.checkSwapped(ctx, result, table, entityType, id, expectedRevision)
}

func (b base) checkSwapped(ctx context.Context, result sql.Result, table string, entityType statemachine.EntityType, id int64, expectedRevision int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var actual int64
	err = b.exec(ctx).QueryRowContext(ctx, fmt.Sprintf(`SELECT revision FROM %s WHERE id = ?`, table), id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.NotFoundError(entityType.String(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s revision: %w", table, err)
	}
	return statemachine.NewConcurrentModificationError(entityType, id, expectedRevision, actual)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time
	return &out
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	out := v.Bool
	return &out
}
