package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/and161185/gearguard/internal/store"
)

// epoch marks "not blocked".
var epoch = time.Unix(0, 0).UTC()

// DB is the part of *store.Connection the limiter uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) store.Row
	InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error
}

// Store is a limiter persisted in the auth_limiter table with a fixed window and lockout.
type Store struct {
	db       DB
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// New constructs a store-backed limiter.
func New(db DB, window time.Duration, maxFails int, blockFor time.Duration) *Store {
	return &Store{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(h[:])
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Store) Allow(ctx context.Context, email, ipHash string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE email = $1 AND ip_hash = $2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, email, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		now := l.now()
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, store.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

const upsert = `
INSERT INTO auth_limiter (email, ip_hash, fail_count, window_start, blocked_until, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (email, ip_hash) DO UPDATE SET
  fail_count = excluded.fail_count,
  window_start = excluded.window_start,
  blocked_until = excluded.blocked_until,
  updated_at = excluded.updated_at`

// Success resets counters for (email, ip).
func (l *Store) Success(ctx context.Context, email, ipHash string) error {
	now := l.now().UTC()
	_, err := l.db.Exec(ctx, upsert, email, ipHash, 0, now, epoch, now)
	return err
}

// Failure records a failed attempt; reaching the threshold inside the window
// blocks the pair for blockFor.
func (l *Store) Failure(ctx context.Context, email, ipHash string) (bool, time.Duration, error) {
	now := l.now().UTC()
	var blocked bool
	err := l.db.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		const sel = `SELECT fail_count, window_start FROM auth_limiter WHERE email = $1 AND ip_hash = $2`
		var (
			fails int
			start time.Time
		)
		err := store.QueryRow(ctx, q, sel, email, ipHash).Scan(&fails, &start)
		switch {
		case errors.Is(err, store.ErrNoRows):
			fails, start = 0, now
		case err != nil:
			return err
		}
		if now.Sub(start) > l.window {
			fails, start = 0, now
		}
		fails++

		blockedUntil := epoch
		if fails >= l.maxFails {
			blocked = true
			blockedUntil = now.Add(l.blockFor)
		}
		_, err = q.Exec(ctx, upsert, email, ipHash, fails, start, blockedUntil, now)
		return err
	})
	if err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
