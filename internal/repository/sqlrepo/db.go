// Package sqlrepo implements repository interfaces over the resilient store
// connection. Queries use the SQL subset shared by Postgres and SQLite.
package sqlrepo

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/repository"
	"github.com/and161185/gearguard/internal/store"
)

// DB is the part of *store.Connection the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) store.Row
	InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error
}

var (
	_ DB = (*store.Connection)(nil)

	_ repository.UserRepository         = (*UserRepo)(nil)
	_ repository.OrganizationRepository = (*OrganizationRepo)(nil)
	_ repository.SessionRepository      = (*SessionRepo)(nil)
	_ repository.ResetTokenRepository   = (*ResetTokenRepo)(nil)
)

// mapErr translates store failures into repository sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNoRows):
		return errs.ErrNotFound
	case store.IsUniqueViolation(err):
		return errs.ErrAlreadyExists
	}
	return err
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, errors.New("sqlrepo: malformed id in store: " + s)
	}
	return id, nil
}

// utcNow truncates to microseconds, the precision both dialects keep.
func utcNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
