package sqlrepo

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/store"
)

const sessionColumns = `id, user_id, refresh_fingerprint, device_metadata, is_active, expires_at, created_at`

// SessionRepo implements repository.SessionRepository.
type SessionRepo struct {
	db  DB
	now func() time.Time
}

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db DB) *SessionRepo { return &SessionRepo{db: db, now: utcNow} }

// Create inserts an active session.
func (r *SessionRepo) Create(ctx context.Context, s model.NewSession) (*model.Session, error) {
	return r.insert(ctx, r.db, s)
}

// Lookup loads a session by ID.
func (r *SessionRepo) Lookup(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id.String()))
}

// Deactivate marks a session inactive; already inactive sessions are left as they are.
func (r *SessionRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = $1 WHERE id = $2`, false, id.String())
	return mapErr(err)
}

// DeactivateAll marks all sessions of userID inactive.
func (r *SessionRepo) DeactivateAll(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = $1 WHERE user_id = $2 AND is_active = $3`,
		false, userID.String(), true)
	return mapErr(err)
}

// Rotate swaps oldID for a new session atomically. The conditional update
// makes concurrent rotations of the same session race to a single winner.
func (r *SessionRepo) Rotate(ctx context.Context, oldID uuid.UUID, next model.NewSession) (*model.Session, error) {
	var created *model.Session
	err := r.db.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		n, err := q.Exec(ctx, `UPDATE sessions SET is_active = $1 WHERE id = $2 AND is_active = $3`,
			false, oldID.String(), true)
		if err != nil {
			return mapErr(err)
		}
		if n == 0 {
			var active bool
			err := store.QueryRow(ctx, q, `SELECT is_active FROM sessions WHERE id = $1`, oldID.String()).Scan(&active)
			if errors.Is(err, store.ErrNoRows) {
				return errs.ErrSessionNotFound
			}
			if err != nil {
				return mapErr(err)
			}
			return errs.ErrSessionRevoked
		}
		created, err = r.insert(ctx, q, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SessionRepo) insert(ctx context.Context, q store.Querier, s model.NewSession) (*model.Session, error) {
	now := r.now()
	sess := &model.Session{
		ID:                 s.ID,
		UserID:             s.UserID,
		RefreshFingerprint: s.RefreshFingerprint,
		DeviceMetadata:     s.DeviceMetadata,
		IsActive:           true,
		ExpiresAt:          now.Add(s.TTL),
		CreatedAt:          now,
	}
	const stmt = `
INSERT INTO sessions (id, user_id, refresh_fingerprint, device_metadata, is_active, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.Exec(ctx, stmt, sess.ID.String(), sess.UserID.String(), sess.RefreshFingerprint,
		sess.DeviceMetadata, sess.IsActive, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

func scanSession(row store.Row) (*model.Session, error) {
	var (
		s          model.Session
		id, userID string
	)
	err := row.Scan(&id, &userID, &s.RefreshFingerprint, &s.DeviceMetadata, &s.IsActive, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if s.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if s.UserID, err = parseID(userID); err != nil {
		return nil, err
	}
	return &s, nil
}
