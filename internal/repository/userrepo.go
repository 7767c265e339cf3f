// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/model"
)

// UserRepository provides access to user accounts.
type UserRepository interface {
	// Create inserts a new user; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// CreateAccount inserts org, when non-nil, and u in one transaction.
	CreateAccount(ctx context.Context, org *model.Organization, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	// UpdateProfile sets the non-nil name fields.
	UpdateProfile(ctx context.Context, id uuid.UUID, p model.ProfileUpdate) error
	// UpdateRole changes the role of a user.
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	// TouchLastLogin records a successful login.
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
	// IsActive reports the account active flag.
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// OrganizationRepository provides access to tenants.
type OrganizationRepository interface {
	Create(ctx context.Context, o *model.Organization) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
