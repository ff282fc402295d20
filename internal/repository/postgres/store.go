// Package postgres implements the repository contracts against PostgreSQL
// using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository"
)

// Store is the Postgres-backed repository for every messaging entity.
type Store struct{ db *sql.DB }

// New creates a Postgres-backed store.
func New(db *sql.DB) *Store { return &Store{db: db} }

var _ repository.Transactor = (*Store)(nil)

type txKey struct{}

// dbtx is the subset of *sql.DB and *sql.Tx the queries use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTransaction runs fn in a transaction. Nested calls join the outer one.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Transactional() bool { return true }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const uniqueViolation = "23505"

// classify maps driver errors onto apperr kinds. Anything unrecognized is
// wrapped with op and left for the service to report as a persistence
// failure.
func classify(op string, err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s", notFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.Conflict("%s: duplicate %s", op, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireRow turns a zero-row update into NotFound.
func requireRow(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("%s", notFound)
	}
	return nil
}
