// Package store implements the relational persistence layer on PostgreSQL via
// pgx. Repositories are grouped by aggregate root (users, knowledge,
// conversations, points) and operate on a Querier so the same code runs
// against the pool or inside an explicit transaction. Cascade deletes are
// expressed as explicit batch statements inside a transaction, never as ORM
// magic; foreign keys and uniqueness stay at the database level.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB owns the connection pool and hands out repositories.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db := &DB{Pool: pool}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. Unique violations are classified as Conflict so handlers
// can retry or report 409 without inspecting driver codes.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		// Rollback after commit is a no-op; this covers panics and early returns.
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("store: commit: %w", err))
	}
	return nil
}

// classify maps driver errors to the shared error kinds.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errs.Wrap(err, errs.KindConflict, "resource already exists")
		case "23503": // foreign_key_violation
			return errs.Wrap(err, errs.KindBadRequest, "referenced resource does not exist")
		case "53300": // too_many_connections
			return errs.Wrap(err, errs.KindResourceExhausted, "database connections exhausted")
		}
	}
	return err
}

// IsNoRows reports whether err is the pgx no-rows sentinel.
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
