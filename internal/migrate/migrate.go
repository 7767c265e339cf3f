// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/gearguard/internal/store"
	"github.com/and161185/gearguard/migrations"
)

// Source lists the database handles owned by the active store link.
type Source interface {
	Databases(ctx context.Context) ([]store.Database, error)
}

// Up runs all pending migrations on every database exposed by src. A replica
// link exposes both the primary and its local file.
func Up(ctx context.Context, src Source, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	dbs, err := src.Databases(ctx)
	if err != nil {
		return fmt.Errorf("listing databases: %w", err)
	}
	for _, db := range dbs {
		if err := upOne(ctx, db, log); err != nil {
			return fmt.Errorf("migrate %s: %w", db.Dialect, err)
		}
	}
	return nil
}

func upOne(ctx context.Context, db store.Database, log *zap.Logger) error {
	var dialect goose.Dialect
	switch db.Dialect {
	case store.DialectPostgres:
		dialect = goose.DialectPostgres
	case store.DialectSQLite:
		dialect = goose.DialectSQLite3
	default:
		return fmt.Errorf("unsupported dialect %q", db.Dialect)
	}

	// The provider is not closed: db belongs to the store link.
	p, err := goose.NewProvider(dialect, db.DB, migrations.FS)
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		log.Info("migration applied",
			zap.String("dialect", db.Dialect),
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}
