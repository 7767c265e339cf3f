package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gearguard/internal/crypto"
	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/limiter"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/rbac"
)

// RegisterInput describes a new account. A nil OrganizationID creates a new
// organization with the user as its admin; otherwise the user joins it as a
// technician.
type RegisterInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	OrganizationID   uuid.UUID
	OrganizationName string
	Device           string
}

// Register creates an account and opens its first session.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (*Grant, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("email: %w", errs.ErrInvalidArgument)
	}
	if err := a.policy.ValidateStrength(in.Password); err != nil {
		return nil, err
	}
	if _, err := a.users.GetByEmail(ctx, email); err == nil {
		return nil, errs.ErrAlreadyExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	var (
		org  *model.Organization
		role = rbac.RoleTechnician
	)
	orgID := in.OrganizationID
	if orgID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(in.OrganizationName)
		if name == "" {
			name = in.FirstName + "'s Organization"
		}
		org = &model.Organization{ID: id, Name: name}
		orgID = id
		role = rbac.RoleAdmin
	} else {
		ok, err := a.orgs.Exists(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("organization: %w", errs.ErrNotFound)
		}
	}

	hash, err := a.policy.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	uid, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:             uid,
		Email:          email,
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		OrganizationID: orgID,
		Role:           role,
		IsActive:       true,
	}
	if err := a.users.CreateAccount(ctx, org, u); err != nil {
		return nil, err
	}
	a.log.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("organization_id", orgID.String()),
		zap.String("role", role),
	)
	return a.openSession(ctx, u, in.Device, nil)
}

// Login authenticates with rate limiting by (email, ip). Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (a *Authenticator) Login(ctx context.Context, email, password, ip, device string) (*Grant, error) {
	email = normalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := a.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	u, err := a.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if u == nil {
		a.policy.Verify(password, a.dummyHash)
		return nil, a.loginFailed(ctx, email, ipHash)
	}
	if !a.policy.Verify(password, u.PasswordHash) {
		return nil, a.loginFailed(ctx, email, ipHash)
	}
	if !u.IsActive {
		return nil, errs.ErrAccountDisabled
	}

	// Success: reset counters (best-effort).
	if err := a.lim.Success(ctx, email, ipHash); err != nil {
		a.log.Warn("limiter reset failed", zap.Error(err))
	}
	if err := a.users.TouchLastLogin(ctx, u.ID); err != nil {
		a.log.Warn("last login update failed", zap.String("user_id", u.ID.String()), zap.Error(err))
	}
	g, err := a.openSession(ctx, u, device, nil)
	if err != nil {
		return nil, err
	}
	a.log.Info("user logged in", zap.String("user_id", u.ID.String()), zap.String("session_id", g.SessionID.String()))
	return g, nil
}

func (a *Authenticator) loginFailed(ctx context.Context, email, ipHash string) error {
	blocked, _, err := a.lim.Failure(ctx, email, ipHash)
	if err != nil {
		a.log.Warn("limiter failure record failed", zap.Error(err))
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrUnauthorized
}

// Logout deactivates every session of the caller.
func (a *Authenticator) Logout(ctx context.Context, id model.Identity) error {
	if err := a.sessions.DeactivateAll(ctx, id.SubjectID); err != nil {
		return err
	}
	a.log.Info("user logged out", zap.String("user_id", id.SubjectID.String()))
	return nil
}

// LogoutSession deactivates one session owned by the caller.
func (a *Authenticator) LogoutSession(ctx context.Context, id model.Identity, sessionID uuid.UUID) error {
	sess, err := a.sessions.Lookup(ctx, sessionID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return errs.ErrSessionNotFound
	case err != nil:
		return err
	case sess.UserID != id.SubjectID:
		return errs.ErrSessionNotFound
	}
	return a.sessions.Deactivate(ctx, sessionID)
}

// SessionFromRefresh returns the session id bound to a refresh token without
// checking its state.
func (a *Authenticator) SessionFromRefresh(refreshToken string) (uuid.UUID, error) {
	claims, err := a.codec.DecodeRefresh(refreshToken)
	if err != nil {
		return uuid.Nil, errs.ErrInvalidToken
	}
	sid, err := uuid.FromString(claims.SessionID)
	if err != nil {
		return uuid.Nil, errs.ErrInvalidToken
	}
	return sid, nil
}

// Me loads the caller's account.
func (a *Authenticator) Me(ctx context.Context, id model.Identity) (*model.User, error) {
	return a.users.GetByID(ctx, id.SubjectID)
}

// MaxNameLen bounds first and last names, in characters.
const MaxNameLen = 100

// UpdateProfile changes the caller's name fields and returns the stored account.
// Names are trimmed and must be 1..MaxNameLen characters.
func (a *Authenticator) UpdateProfile(ctx context.Context, id model.Identity, p model.ProfileUpdate) (*model.User, error) {
	first, err := cleanName("first_name", p.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := cleanName("last_name", p.LastName)
	if err != nil {
		return nil, err
	}
	upd := model.ProfileUpdate{FirstName: first, LastName: last}
	if err := a.users.UpdateProfile(ctx, id.SubjectID, upd); err != nil {
		return nil, err
	}
	if !upd.Empty() {
		a.log.Info("profile updated", zap.String("user_id", id.SubjectID.String()))
	}
	return a.users.GetByID(ctx, id.SubjectID)
}

func cleanName(field string, s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if n := utf8.RuneCountInString(v); n == 0 || n > MaxNameLen {
		return nil, fmt.Errorf("%s must be 1..%d characters: %w", field, MaxNameLen, errs.ErrInvalidArgument)
	}
	return &v, nil
}

// ChangePassword replaces the caller's password and ends all of their sessions.
func (a *Authenticator) ChangePassword(ctx context.Context, id model.Identity, current, next string) error {
	u, err := a.users.GetByID(ctx, id.SubjectID)
	if err != nil {
		return err
	}
	if !a.policy.Verify(current, u.PasswordHash) {
		return errs.ErrUnauthorized
	}
	if err := a.setPassword(ctx, u.ID, next); err != nil {
		return err
	}
	a.log.Info("password changed", zap.String("user_id", u.ID.String()))
	return nil
}

// RequestPasswordReset issues a reset grant when email belongs to an active
// account. It answers the same way whether or not the account exists.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := a.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			a.log.Error("password reset lookup failed", zap.Error(err))
		}
		return nil
	}
	if !u.IsActive {
		return nil
	}
	plain, err := crypto.RandomToken(32)
	if err != nil {
		a.log.Error("password reset token generation failed", zap.Error(err))
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		a.log.Error("password reset id generation failed", zap.Error(err))
		return nil
	}
	t := &model.ResetToken{
		ID:        id,
		UserID:    u.ID,
		TokenHash: crypto.Fingerprint(plain),
		ExpiresAt: a.now().Add(a.resetTTL).UTC(),
	}
	if err := a.resets.Create(ctx, t); err != nil {
		a.log.Error("password reset store failed", zap.String("user_id", u.ID.String()), zap.Error(err))
		return nil
	}
	if err := a.notifier.SendPasswordReset(ctx, u.Email, plain); err != nil {
		a.log.Error("password reset delivery failed", zap.String("user_id", u.ID.String()), zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset grant and sets a new password.
func (a *Authenticator) ResetPassword(ctx context.Context, resetToken, next string) error {
	if err := a.policy.ValidateStrength(next); err != nil {
		return err
	}
	t, err := a.resets.Consume(ctx, crypto.Fingerprint(resetToken))
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if err := a.setPassword(ctx, t.UserID, next); err != nil {
		return err
	}
	a.log.Info("password reset", zap.String("user_id", t.UserID.String()))
	return nil
}

func (a *Authenticator) setPassword(ctx context.Context, userID uuid.UUID, next string) error {
	if err := a.policy.ValidateStrength(next); err != nil {
		return err
	}
	hash, err := a.policy.Hash(next)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return a.sessions.DeactivateAll(ctx, userID)
}

// AssignRole changes the role of another user in the caller's organization.
// The caller must outrank both the target's current role and the new one.
func (a *Authenticator) AssignRole(ctx context.Context, actor model.Identity, target uuid.UUID, role string) error {
	if err := a.Authorize(actor, rbac.UserManageRoles); err != nil {
		return err
	}
	if !rbac.IsRole(role) {
		return fmt.Errorf("role %q: %w", role, errs.ErrInvalidArgument)
	}
	if target == actor.SubjectID || !rbac.CanManageRole(actor.Role, role) {
		return errs.Denied(rbac.UserManageRoles)
	}
	u, err := a.users.GetByID(ctx, target)
	if err != nil {
		return err
	}
	if u.OrganizationID != actor.TenantID {
		return errs.ErrNotFound
	}
	if !rbac.CanManageRole(actor.Role, u.Role) {
		return errs.Denied(rbac.UserManageRoles)
	}
	if err := a.users.UpdateRole(ctx, target, role); err != nil {
		return err
	}
	a.log.Info("role assigned",
		zap.String("actor_id", actor.SubjectID.String()),
		zap.String("user_id", target.String()),
		zap.String("from", u.Role),
		zap.String("to", role),
	)
	return nil
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
