package sqlrepo

import (
	"context"
	"time"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/store"
)

// ResetTokenRepo implements repository.ResetTokenRepository.
type ResetTokenRepo struct {
	db  DB
	now func() time.Time
}

// NewResetTokenRepo constructs a reset token repository.
func NewResetTokenRepo(db DB) *ResetTokenRepo { return &ResetTokenRepo{db: db, now: utcNow} }

// Create stores a reset grant. Only the token fingerprint is persisted.
func (r *ResetTokenRepo) Create(ctx context.Context, t *model.ResetToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	const stmt = `
INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, stmt, t.ID.String(), t.UserID.String(), t.TokenHash, t.ExpiresAt.UTC(), t.CreatedAt)
	return mapErr(err)
}

// Consume marks the grant used. Expired, used and unknown grants are indistinguishable.
func (r *ResetTokenRepo) Consume(ctx context.Context, hash string) (*model.ResetToken, error) {
	var tok *model.ResetToken
	err := r.db.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		var (
			t          model.ResetToken
			id, userID string
		)
		const sel = `
SELECT id, user_id, token_hash, expires_at, used_at, created_at
FROM password_reset_tokens WHERE token_hash = $1`
		err := store.QueryRow(ctx, q, sel, hash).
			Scan(&id, &userID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
		if err != nil {
			return mapErr(err)
		}
		now := r.now()
		if t.UsedAt != nil || !now.Before(t.ExpiresAt) {
			return errs.ErrNotFound
		}
		if t.ID, err = parseID(id); err != nil {
			return err
		}
		if t.UserID, err = parseID(userID); err != nil {
			return err
		}
		n, err := q.Exec(ctx, `UPDATE password_reset_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, now, id)
		if err != nil {
			return mapErr(err)
		}
		if n == 0 {
			return errs.ErrNotFound
		}
		t.UsedAt = &now
		tok = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}
