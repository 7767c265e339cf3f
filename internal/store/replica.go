package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ReplicatedTables are copied from the primary on Sync, parents first.
var ReplicatedTables = []string{
	"organizations",
	"users",
	"sessions",
	"password_reset_tokens",
	"auth_limiter",
}

// Replica serves reads from a local SQLite file at path and sends writes to
// the Postgres primary at url. Writes are mirrored locally after they succeed
// on the primary so reads observe them before the next Sync.
func Replica(path, url, authToken string, log *zap.Logger) Transport {
	return Transport{Name: "replica", Open: func(ctx context.Context) (Link, error) {
		if path == "" || url == "" {
			return nil, ErrTransportSkipped
		}
		pool, err := dialPool(ctx, url, authToken)
		if err != nil {
			return nil, err
		}
		db, err := OpenSQLite(ctx, path, false)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return NewReplicaLink(NewPgxLink("primary", pool, pool), NewSQLLink("replica-local", db), log), nil
	}}
}

// ReplicaLink pairs a primary link with a local SQL link.
type ReplicaLink struct {
	primary *PgxLink
	local   *SQLLink
	log     *zap.Logger
}

// NewReplicaLink builds a replica link; log may be nil.
func NewReplicaLink(primary *PgxLink, local *SQLLink, log *zap.Logger) *ReplicaLink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReplicaLink{primary: primary, local: local, log: log}
}

func (l *ReplicaLink) Name() string { return "replica" }

func (l *ReplicaLink) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	n, err := l.primary.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	l.mirror(ctx, []statement{{sql: sql, args: args}})
	return n, nil
}

func (l *ReplicaLink) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return l.local.Query(ctx, sql, args...)
}

func (l *ReplicaLink) Begin(ctx context.Context) (LinkTx, error) {
	tx, err := l.primary.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &replicaTx{link: l, tx: tx}, nil
}

// Ping checks the primary; a replica that cannot reach it cannot take writes.
func (l *ReplicaLink) Ping(ctx context.Context) error { return l.primary.Ping(ctx) }

// Sync replaces local rows of every replicated table with the primary's. Each
// table is swapped in one local transaction, so rows gone from the primary
// disappear locally too.
func (l *ReplicaLink) Sync(ctx context.Context) error {
	for _, table := range ReplicatedTables {
		n, err := l.syncTable(ctx, table)
		if err != nil {
			return fmt.Errorf("sync table %q: %w", table, err)
		}
		l.log.Debug("replica table synced", zap.String("table", table), zap.Int("rows", n))
	}
	return nil
}

func (l *ReplicaLink) syncTable(ctx context.Context, table string) (int, error) {
	rows, err := l.primary.pool.Query(ctx, "SELECT * FROM "+table)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	upsert := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))

	var batch [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return 0, err
		}
		batch = append(batch, vals)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := l.local.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	for _, vals := range batch {
		if _, err := tx.ExecContext(ctx, upsert, vals...); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	return len(batch), tx.Commit()
}

func (l *ReplicaLink) Databases(ctx context.Context) ([]Database, error) {
	primary, err := l.primary.Databases(ctx)
	if err != nil {
		return nil, err
	}
	local, err := l.local.Databases(ctx)
	if err != nil {
		return nil, err
	}
	return append(primary, local...), nil
}

func (l *ReplicaLink) Close() error {
	lerr := l.local.Close()
	if err := l.primary.Close(); err != nil {
		return err
	}
	return lerr
}

type statement struct {
	sql  string
	args []any
}

// mirror applies committed writes to the local file. Failures only delay
// visibility until the next Sync.
func (l *ReplicaLink) mirror(ctx context.Context, stmts []statement) {
	if len(stmts) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	tx, err := l.local.db.BeginTx(ctx, nil)
	if err != nil {
		l.log.Debug("replica mirror begin", zap.Error(err))
		return
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.sql, s.args...); err != nil {
			_ = tx.Rollback()
			l.log.Debug("replica mirror exec", zap.Error(err))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		l.log.Debug("replica mirror commit", zap.Error(err))
	}
}

// replicaTx runs on the primary and replays its writes locally after commit.
type replicaTx struct {
	link    *ReplicaLink
	tx      LinkTx
	pending []statement
}

func (t *replicaTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	n, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	t.pending = append(t.pending, statement{sql: sql, args: args})
	return n, nil
}

// Query reads from the primary so the transaction sees its own writes.
func (t *replicaTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *replicaTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return err
	}
	t.link.mirror(ctx, t.pending)
	t.pending = nil
	return nil
}

func (t *replicaTx) Rollback(ctx context.Context) error {
	t.pending = nil
	return t.tx.Rollback(ctx)
}
