package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/model"
)

// SessionRepository persists refresh-token sessions. Sessions are deactivated, never deleted.
type SessionRepository interface {
	// Create inserts an active session expiring after s.TTL.
	Create(ctx context.Context, s model.NewSession) (*model.Session, error)
	// Lookup loads a session by ID; a missing row yields errs.ErrNotFound.
	Lookup(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// Deactivate marks one session inactive. Repeated calls succeed.
	Deactivate(ctx context.Context, id uuid.UUID) error
	// DeactivateAll marks every session of a user inactive.
	DeactivateAll(ctx context.Context, userID uuid.UUID) error
	// Rotate deactivates the active session oldID and creates next in one
	// transaction. An inactive oldID yields errs.ErrSessionRevoked and a
	// missing one errs.ErrSessionNotFound.
	Rotate(ctx context.Context, oldID uuid.UUID, next model.NewSession) (*model.Session, error)
}

// ResetTokenRepository stores single-use password reset grants by fingerprint.
type ResetTokenRepository interface {
	Create(ctx context.Context, t *model.ResetToken) error
	// Consume marks the unexpired, unused token with hash as used and returns
	// it. Anything else yields errs.ErrNotFound.
	Consume(ctx context.Context, hash string) (*model.ResetToken, error)
}
