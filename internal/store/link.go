// Package store provides a resilient database client over an ordered list of
// transports (remote Postgres, embedded SQLite replica, local SQLite).
//
// SQL passed through this package must use $1..$n placeholders numbered in
// order of first appearance so that it runs unchanged on both dialects.
package store

import (
	"context"
	"database/sql"
	"errors"
)

// Dialects understood by the migration runner.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

var (
	// ErrNoRows is returned by Row.Scan when the query produced no rows.
	ErrNoRows = errors.New("store: no rows in result set")
	// ErrClosed is returned after Close until the next explicit Connect.
	ErrClosed = errors.New("store: connection shut down")
	// ErrTransportSkipped is returned by a transport that is not configured.
	ErrTransportSkipped = errors.New("store: transport not configured")
	// ErrNoTransport is returned when every transport failed or was skipped.
	ErrNoTransport = errors.New("store: no transport available")
)

// Rows iterates a result set. Close must be called when done.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a lazily evaluated single-row result.
type Row interface {
	Scan(dest ...any) error
}

// Querier executes statements. Links, link transactions and *Tx implement it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// LinkTx is a transaction on a physical link.
type LinkTx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Database is a database/sql handle owned by a link, exposed for migrations.
type Database struct {
	Dialect string
	DB      *sql.DB
}

// Link is one physical connection strategy.
type Link interface {
	Querier
	Name() string
	Begin(ctx context.Context) (LinkTx, error)
	Ping(ctx context.Context) error
	// Sync reconciles a local replica with its primary; a no-op for other links.
	Sync(ctx context.Context) error
	Databases(ctx context.Context) ([]Database, error)
	Close() error
}

// Transport is a named link factory tried in order at connect time.
type Transport struct {
	Name string
	Open func(ctx context.Context) (Link, error)
}

type row struct {
	scan func(dest ...any) error
}

func (r row) Scan(dest ...any) error { return r.scan(dest...) }

// QueryRow runs sql on q when Scan is called and scans the first row.
func QueryRow(ctx context.Context, q Querier, sql string, args ...any) Row {
	return row{scan: func(dest ...any) error { return scanOne(ctx, q, sql, args, dest) }}
}

func scanOne(ctx context.Context, q Querier, sql string, args, dest []any) error {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrNoRows
	}
	return rows.Scan(dest...)
}
