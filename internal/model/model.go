// Package model defines domain entities used by services and repositories.
package model

import (
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
)

// TokenKind distinguishes access and refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string    // always "bearer"
	ExpiresAt    time.Time // access token expiry
}

// Identity is the verified caller derived from an access token. It is built once per
// request and never persisted.
type Identity struct {
	SubjectID   uuid.UUID
	Email       string
	TenantID    uuid.UUID
	Role        string
	permissions []string
	Kind        TokenKind
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// NewIdentity copies perms so later mutation by the caller cannot leak into the identity.
func NewIdentity(sub uuid.UUID, email string, tenant uuid.UUID, role string, perms []string, kind TokenKind, iat, exp time.Time) Identity {
	return Identity{
		SubjectID:   sub,
		Email:       email,
		TenantID:    tenant,
		Role:        role,
		permissions: slices.Clone(perms),
		Kind:        kind,
		IssuedAt:    iat,
		ExpiresAt:   exp,
	}
}

// Permissions returns a copy of the granted permission set.
func (i Identity) Permissions() []string { return slices.Clone(i.permissions) }

// Session is a persisted refresh-token session. Rows are deactivated, never deleted.
type Session struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	RefreshFingerprint string // sha256 hex of the refresh token
	DeviceMetadata     string
	IsActive           bool
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

// NewSession is a creation intent for a session row.
type NewSession struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	RefreshFingerprint string
	DeviceMetadata     string
	TTL                time.Duration
}

// User represents an account. Passwords are stored only as bcrypt hashes.
type User struct {
	ID             uuid.UUID
	Email          string // unique
	PasswordHash   string
	FirstName      string
	LastName       string
	OrganizationID uuid.UUID
	Role           string
	IsActive       bool
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfileUpdate lists the account fields a user may change on their own.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool { return p.FirstName == nil && p.LastName == nil }

// Organization is a tenant.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// ResetToken is a single-use password reset grant stored by fingerprint.
type ResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
