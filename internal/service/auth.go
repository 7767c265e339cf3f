// Package service contains the authentication and authorization core: turning
// bearer tokens into identities, checking permissions and managing sessions.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gearguard/internal/crypto"
	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/limiter"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/rbac"
	"github.com/and161185/gearguard/internal/repository"
	"github.com/and161185/gearguard/internal/token"
)

// DefaultResetTTL is the lifetime of a password reset grant.
const DefaultResetTTL = time.Hour

// TokenCodec issues and decodes signed tokens. It is implemented by *token.Codec.
type TokenCodec interface {
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
	IssueAccess(sub uuid.UUID, email string, tenant uuid.UUID, role string, perms []string, ttl time.Duration) (string, time.Time, error)
	IssueRefresh(sub, sessionID uuid.UUID, ttl time.Duration) (string, time.Time, error)
	DecodeAccess(tok string) (*token.AccessClaims, error)
	DecodeRefresh(tok string) (*token.RefreshClaims, error)
}

// ResetNotifier delivers password reset tokens to account owners.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, resetToken string) error
}

// Deps are the collaborators of an Authenticator.
type Deps struct {
	Codec    TokenCodec
	Policy   *crypto.PasswordPolicy
	Users    repository.UserRepository
	Orgs     repository.OrganizationRepository
	Sessions repository.SessionRepository
	Resets   repository.ResetTokenRepository
	Limiter  limiter.Limiter
	Notifier ResetNotifier
	Logger   *zap.Logger
}

// Options tune Authenticator behavior.
type Options struct {
	// CheckAccountActive makes Authenticate consult the account active flag.
	CheckAccountActive bool
	// ResetTokenTTL defaults to DefaultResetTTL.
	ResetTokenTTL time.Duration
}

// Authenticator verifies bearer tokens, evaluates permissions and owns the
// session lifecycle. It holds no per-request state.
type Authenticator struct {
	codec    TokenCodec
	policy   *crypto.PasswordPolicy
	users    repository.UserRepository
	orgs     repository.OrganizationRepository
	sessions repository.SessionRepository
	resets   repository.ResetTokenRepository
	lim      limiter.Limiter
	notifier ResetNotifier
	log      *zap.Logger

	checkActive bool
	resetTTL    time.Duration
	now         func() time.Time

	// dummyHash is compared against on unknown emails so that login latency
	// does not reveal whether an account exists.
	dummyHash string
}

// NewAuthenticator constructs an Authenticator with required dependencies.
func NewAuthenticator(d Deps, o Options) (*Authenticator, error) {
	if d.Codec == nil || d.Policy == nil || d.Users == nil || d.Orgs == nil ||
		d.Sessions == nil || d.Resets == nil || d.Limiter == nil {
		return nil, errors.New("service: missing dependency")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = DiscardNotifier{}
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = DefaultResetTTL
	}
	filler, err := crypto.RandomToken(24)
	if err != nil {
		return nil, err
	}
	dummy, err := d.Policy.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("service: dummy hash: %w", err)
	}
	return &Authenticator{
		codec:       d.Codec,
		policy:      d.Policy,
		users:       d.Users,
		orgs:        d.Orgs,
		sessions:    d.Sessions,
		resets:      d.Resets,
		lim:         d.Limiter,
		notifier:    d.Notifier,
		log:         d.Logger,
		checkActive: o.CheckAccountActive,
		resetTTL:    o.ResetTokenTTL,
		now:         time.Now,
		dummyHash:   dummy,
	}, nil
}

// Authenticate turns an access token into an Identity.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (model.Identity, error) {
	if bearer == "" {
		return model.Identity{}, errs.ErrMissingCredential
	}
	claims, err := a.codec.DecodeAccess(bearer)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return model.Identity{}, errs.ErrTokenExpired
		}
		return model.Identity{}, errs.ErrInvalidToken
	}
	sub, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Identity{}, errs.ErrInvalidToken
	}
	tenant, err := uuid.FromString(claims.TenantID)
	if err != nil {
		return model.Identity{}, errs.ErrInvalidToken
	}
	if a.checkActive {
		active, err := a.users.IsActive(ctx, sub)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			return model.Identity{}, errs.ErrAccountDisabled
		case err != nil:
			return model.Identity{}, err
		case !active:
			return model.Identity{}, errs.ErrAccountDisabled
		}
	}
	return model.NewIdentity(sub, claims.Email, tenant, claims.Role, claims.Permissions,
		model.TokenAccess, claims.IssuedAt.Time, claims.ExpiresAt.Time), nil
}

// Authorize succeeds iff the identity holds required.
func (a *Authenticator) Authorize(id model.Identity, required string) error {
	if rbac.Has(id.Permissions(), required) {
		return nil
	}
	return errs.Denied(required)
}

// AuthorizeAny succeeds if the identity holds at least one of required.
func (a *Authenticator) AuthorizeAny(id model.Identity, required ...string) error {
	if rbac.HasAny(id.Permissions(), required...) {
		return nil
	}
	return errs.Denied(strings.Join(required, "|"))
}

// AuthorizeAll succeeds if the identity holds every permission in required.
// The error names the first missing one.
func (a *Authenticator) AuthorizeAll(id model.Identity, required ...string) error {
	perms := id.Permissions()
	for _, p := range required {
		if !rbac.Has(perms, p) {
			return errs.Denied(p)
		}
	}
	return nil
}

// Grant is the result of a successful login, registration or refresh.
type Grant struct {
	Tokens    model.Tokens
	SessionID uuid.UUID
	User      model.User
}

// Refresh rotates the session bound to refreshToken and mints a new pair
// carrying the account's current role and permissions.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken, device string) (*Grant, error) {
	if refreshToken == "" {
		return nil, errs.ErrMissingCredential
	}
	claims, err := a.codec.DecodeRefresh(refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, errs.ErrTokenExpired
		case errors.Is(err, token.ErrWrongType):
			return nil, errs.ErrWrongTokenType
		default:
			return nil, errs.ErrInvalidToken
		}
	}
	sub, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	sid, err := uuid.FromString(claims.SessionID)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}

	sess, err := a.sessions.Lookup(ctx, sid)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil, errs.ErrSessionNotFound
	case err != nil:
		return nil, err
	}
	if !sess.IsActive {
		a.log.Warn("refresh with revoked session",
			zap.String("session_id", sid.String()), zap.String("user_id", sub.String()))
		return nil, errs.ErrSessionRevoked
	}
	if sess.UserID != sub || !sameFingerprint(sess.RefreshFingerprint, crypto.Fingerprint(refreshToken)) {
		return nil, errs.ErrInvalidToken
	}
	if !a.now().Before(sess.ExpiresAt) {
		return nil, errs.ErrTokenExpired
	}

	u, err := a.activeUser(ctx, sub)
	if err != nil {
		return nil, err
	}
	g, err := a.openSession(ctx, u, device, &sid)
	if err != nil {
		return nil, err
	}
	a.log.Info("session rotated",
		zap.String("user_id", u.ID.String()),
		zap.String("old_session_id", sid.String()),
		zap.String("session_id", g.SessionID.String()),
	)
	return g, nil
}

func (a *Authenticator) activeUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := a.users.GetByID(ctx, id)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil, errs.ErrAccountDisabled
	case err != nil:
		return nil, err
	case !u.IsActive:
		return nil, errs.ErrAccountDisabled
	}
	return u, nil
}

// openSession issues a token pair for u and persists its session. When
// rotateFrom is set the old session is swapped out atomically.
func (a *Authenticator) openSession(ctx context.Context, u *model.User, device string, rotateFrom *uuid.UUID) (*Grant, error) {
	sid, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	refresh, _, err := a.codec.IssueRefresh(u.ID, sid, a.codec.RefreshTTL())
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	access, exp, err := a.codec.IssueAccess(u.ID, u.Email, u.OrganizationID, u.Role,
		rbac.PermissionsFor(u.Role), a.codec.AccessTTL())
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	next := model.NewSession{
		ID:                 sid,
		UserID:             u.ID,
		RefreshFingerprint: crypto.Fingerprint(refresh),
		DeviceMetadata:     device,
		TTL:                a.codec.RefreshTTL(),
	}
	if rotateFrom != nil {
		_, err = a.sessions.Rotate(ctx, *rotateFrom, next)
	} else {
		_, err = a.sessions.Create(ctx, next)
	}
	if err != nil {
		return nil, err
	}
	return &Grant{
		Tokens: model.Tokens{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "bearer",
			ExpiresAt:    exp,
		},
		SessionID: sid,
		User:      *u,
	}, nil
}

func sameFingerprint(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
