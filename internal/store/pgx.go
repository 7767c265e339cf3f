package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Remote dials STORE_URL with pgxpool. A non-empty authToken replaces the
// password from the URL.
func Remote(url, authToken string) Transport {
	return Transport{Name: "remote", Open: func(ctx context.Context) (Link, error) {
		if url == "" {
			return nil, ErrTransportSkipped
		}
		pool, err := dialPool(ctx, url, authToken)
		if err != nil {
			return nil, err
		}
		return NewPgxLink("remote", pool, pool), nil
	}}
}

func dialPool(ctx context.Context, url, authToken string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		cfg.ConnConfig.Password = authToken
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PgxLink is a Link over a Postgres pool.
type PgxLink struct {
	name string
	pool PgxPool
	raw  *pgxpool.Pool // nil when pool is a mock

	once  sync.Once
	sqlDB *sql.DB
}

// NewPgxLink wraps pool. raw, when non-nil, backs Databases.
func NewPgxLink(name string, pool PgxPool, raw *pgxpool.Pool) *PgxLink {
	return &PgxLink{name: name, pool: pool, raw: raw}
}

func (l *PgxLink) Name() string { return l.name }

func (l *PgxLink) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := l.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (l *PgxLink) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return l.pool.Query(ctx, sql, args...)
}

func (l *PgxLink) Begin(ctx context.Context) (LinkTx, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTx{tx: tx}, nil
}

func (l *PgxLink) Ping(ctx context.Context) error { return l.pool.Ping(ctx) }

func (l *PgxLink) Sync(context.Context) error { return nil }

func (l *PgxLink) Databases(context.Context) ([]Database, error) {
	if l.raw == nil {
		return nil, nil
	}
	l.once.Do(func() { l.sqlDB = stdlib.OpenDBFromPool(l.raw) })
	return []Database{{Dialect: DialectPostgres, DB: l.sqlDB}}, nil
}

func (l *PgxLink) Close() error {
	var err error
	if l.sqlDB != nil {
		err = l.sqlDB.Close()
	}
	l.pool.Close()
	return err
}

type pgxTx struct{ tx pgx.Tx }

func (t pgxTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgxTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
