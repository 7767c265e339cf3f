package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	sqliteBusyTimeout = 5 * time.Second
	sqliteDirPerm     = 0o750
)

// Local opens a plain SQLite database at path.
func Local(path string) Transport {
	return Transport{Name: "local", Open: func(ctx context.Context) (Link, error) {
		if path == "" {
			return nil, ErrTransportSkipped
		}
		db, err := OpenSQLite(ctx, path, true)
		if err != nil {
			return nil, err
		}
		return NewSQLLink("local", db), nil
	}}
}

// OpenSQLite opens path in WAL mode with a busy timeout and verifies it with a ping.
func OpenSQLite(ctx context.Context, path string, foreignKeys bool) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), sqliteDirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	fk := "off"
	if foreignKeys {
		fk = "on"
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=%s&_journal_mode=WAL&_synchronous=NORMAL",
		path, sqliteBusyTimeout.Milliseconds(), fk)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// SQLLink is a Link over a database/sql SQLite handle.
type SQLLink struct {
	name string
	db   *sql.DB
}

// NewSQLLink wraps db.
func NewSQLLink(name string, db *sql.DB) *SQLLink { return &SQLLink{name: name, db: db} }

func (l *SQLLink) Name() string { return l.name }

func (l *SQLLink) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, l.db, query, args)
}

func (l *SQLLink) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, l.db, query, args)
}

func (l *SQLLink) Begin(ctx context.Context) (LinkTx, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

func (l *SQLLink) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *SQLLink) Sync(context.Context) error { return nil }

func (l *SQLLink) Databases(context.Context) ([]Database, error) {
	return []Database{{Dialect: DialectSQLite, DB: l.db}}, nil
}

func (l *SQLLink) Close() error { return l.db.Close() }

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlExec(ctx context.Context, q execQuerier, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqlQuery(ctx context.Context, q execQuerier, query string, args []any) (Rows, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, t.tx, query, args)
}

func (t sqlTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqlQuery(ctx, t.tx, query, args)
}

func (t sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }
