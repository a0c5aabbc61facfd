package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/randalmurphal/taskara/internal/db/driver"
)

// TxRunner provides a transactional execution interface.
// This allows operations to run within a transaction context,
// ensuring atomicity of multi-table operations.
type TxRunner interface {
	// RunInTx executes the given function within a transaction.
	// If fn returns an error or panics, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	RunInTx(ctx context.Context, fn func(tx *TxOps) error) error
}

// TxOps provides database operations within a transaction.
// Queries are rebound for the active dialect. The context is stored and
// used for all operations, so cancellation reaches every statement.
type TxOps struct {
	tx  driver.Tx
	drv driver.Driver
	ctx context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, t.drv.Rebind(query), args...)
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, t.drv.Rebind(query), args...)
}

// QueryRow executes a query that returns at most one row within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, t.drv.Rebind(query), args...)
}

// Context returns the context associated with this transaction.
func (t *TxOps) Context() context.Context {
	return t.ctx
}

// Dialect returns the database dialect.
func (t *TxOps) Dialect() driver.Dialect {
	return t.drv.Dialect()
}

func (t *TxOps) classify(op string, err error) error {
	return t.drv.Classify(op, err)
}

// RunInTx executes fn within a database transaction.
//
// The transaction is rolled back when fn returns an error and when fn
// panics; the panic is re-raised after the rollback. A failed commit is
// classified and returned. Nothing is retried.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *TxOps) error) (err error) {
	tx, err := d.driver.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	txOps := &TxOps{tx: tx, drv: d.driver, ctx: ctx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txOps); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return d.driver.Classify("commit transaction", err)
	}

	return nil
}

// Ensure DB implements TxRunner
var _ TxRunner = (*DB)(nil)
