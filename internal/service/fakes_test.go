package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/limiter"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/repository"
)

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*model.User
	orgs    *fakeOrgs

	getErr     error
	touchCalls int
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byEmail[u.Email] = &cpy
	return nil
}

func (f *fakeUsers) CreateAccount(ctx context.Context, org *model.Organization, u *model.User) error {
	if err := f.Create(ctx, u); err != nil {
		return err
	}
	if org != nil && f.orgs != nil {
		return f.orgs.Create(ctx, org)
	}
	return nil
}

func (f *fakeUsers) find(id uuid.UUID) *model.User {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if u := f.find(id); u != nil {
		c := *u
		return &c, nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) update(id uuid.UUID, fn func(u *model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.find(id)
	if u == nil {
		return errs.ErrNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return f.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id uuid.UUID, p model.ProfileUpdate) error {
	return f.update(id, func(u *model.User) {
		if p.FirstName != nil {
			u.FirstName = *p.FirstName
		}
		if p.LastName != nil {
			u.LastName = *p.LastName
		}
	})
}

func (f *fakeUsers) UpdateRole(_ context.Context, id uuid.UUID, role string) error {
	return f.update(id, func(u *model.User) { u.Role = role })
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	return f.update(id, func(u *model.User) {
		now := time.Now()
		u.LastLoginAt = &now
		f.touchCalls++
	})
}

func (f *fakeUsers) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u.IsActive, nil
}

type fakeOrgs struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Organization
}

var _ repository.OrganizationRepository = (*fakeOrgs)(nil)

func (f *fakeOrgs) Create(_ context.Context, o *model.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = map[uuid.UUID]model.Organization{}
	}
	f.byID[o.ID] = *o
	return nil
}

func (f *fakeOrgs) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byID[id]
	return ok, nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Session
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func (f *fakeSessions) insertLocked(s model.NewSession) *model.Session {
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.Session{}
	}
	now := time.Now()
	sess := &model.Session{
		ID:                 s.ID,
		UserID:             s.UserID,
		RefreshFingerprint: s.RefreshFingerprint,
		DeviceMetadata:     s.DeviceMetadata,
		IsActive:           true,
		ExpiresAt:          now.Add(s.TTL),
		CreatedAt:          now,
	}
	f.byID[s.ID] = sess
	c := *sess
	return &c
}

func (f *fakeSessions) Create(_ context.Context, s model.NewSession) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(s), nil
}

func (f *fakeSessions) Lookup(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) Deactivate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (f *fakeSessions) DeactivateAll(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeSessions) Rotate(_ context.Context, oldID uuid.UUID, next model.NewSession) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.byID[oldID]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	if !old.IsActive {
		return nil, errs.ErrSessionRevoked
	}
	old.IsActive = false
	return f.insertLocked(next), nil
}

func (f *fakeSessions) active(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.byID {
		if s.UserID == userID && s.IsActive {
			n++
		}
	}
	return n
}

type fakeResets struct {
	mu     sync.Mutex
	byHash map[string]*model.ResetToken
}

var _ repository.ResetTokenRepository = (*fakeResets)(nil)

func (f *fakeResets) Create(_ context.Context, t *model.ResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byHash == nil {
		f.byHash = map[string]*model.ResetToken{}
	}
	c := *t
	f.byHash[t.TokenHash] = &c
	return nil
}

func (f *fakeResets) Consume(_ context.Context, hash string) (*model.ResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[hash]
	if !ok || t.UsedAt != nil || !time.Now().Before(t.ExpiresAt) {
		return nil, errs.ErrNotFound
	}
	now := time.Now()
	t.UsedAt = &now
	c := *t
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, string) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, string) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, string) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[string]string
	calls int
}

var _ ResetNotifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) SendPasswordReset(_ context.Context, email, resetToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string]string{}
	}
	n.sent[email] = resetToken
	n.calls++
	return nil
}
