package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
)

type contextKey string

const txKey contextKey = "tx"

// txScope is carried in the context of a running transaction
type txScope struct {
	tx    *sql.Tx
	hooks []func(ctx context.Context)
}

// DB wraps sql.DB and implements port.TransactionManager
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		logger: logger,
	}
}

// WithTransaction runs fn in a transaction. A nested call joins the outer transaction.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	scope := &txScope{tx: tx}
	txCtx := context.WithValue(ctx, txKey, scope)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, hook := range scope.hooks {
		hook(ctx)
	}
	return nil
}

// AfterCommit queues fn on the transaction in ctx, or runs it now when there is none
func (db *DB) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if scope := scopeFrom(ctx); scope != nil {
		scope.hooks = append(scope.hooks, fn)
		return
	}
	fn(ctx)
}

// Executor returns the transaction carried by ctx, or the pool
func (db *DB) Executor(ctx context.Context) Executor {
	if scope := scopeFrom(ctx); scope != nil {
		return scope.tx
	}
	return db.DB
}

func scopeFrom(ctx context.Context) *txScope {
	if scope, ok := ctx.Value(txKey).(*txScope); ok {
		return scope
	}
	return nil
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ port.TransactionManager = (*DB)(nil)
