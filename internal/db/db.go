// Package db is a hand-maintained sqlc-style data access layer. It
// mirrors the shape sqlc generates: a DBTX interface satisfied by both
// *sql.DB and *sql.Tx, a Queries struct wrapping a DBTX, and one method
// per query with typed Params/row structs.
package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Tx, and *sql.Conn so Queries can
// run inside or outside a transaction interchangeably.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries is the generated-style query object. All SQL in this package
// goes through it.
type Queries struct {
	db DBTX
}

// New constructs a Queries bound to the given executor.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx, for queries that must run as
// part of a caller-managed transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
