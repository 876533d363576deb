// Package db is the hand-written, sqlc-shaped query layer for the control
// plane's Postgres schema: a DBTX interface usable with either *pgxpool.Pool
// or a pgx.Tx, a Queries type with one method per query, and row models
// matching the migrated schema.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting callers run
// queries either directly against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with one method per query used by the orchestrator,
// event log, and revision store.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given DBTX.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a new Queries bound to tx, for use inside a transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
