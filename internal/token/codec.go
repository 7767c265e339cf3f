// Package token issues and verifies signed access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/gearguard/internal/model"
)

// MinSecretLen is the shortest accepted signing secret (256 bits).
const MinSecretLen = 32

// Default lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Decode failures.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongType        = errors.New("wrong token type")

	ErrWeakSecret     = fmt.Errorf("signing secret must be at least %d characters", MinSecretLen)
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")
)

// AccessClaims is the access token payload.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Type        string   `json:"type"`
}

// RefreshClaims is the refresh token payload.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

// Codec signs tokens with a shared HMAC secret. The algorithm is fixed at
// construction and is the only one accepted on decode.
type Codec struct {
	key        []byte
	method     *jwt.SigningMethodHMAC
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

// NewCodec validates the secret and algorithm and returns a codec. Zero TTLs take the defaults.
func NewCodec(secret, alg string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	c := &Codec{key: []byte(secret), method: m, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AccessTTL reports the default access lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the default refresh lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token. ttl<=0 uses the configured default.
func (c *Codec) IssueAccess(sub uuid.UUID, email string, tenant uuid.UUID, role string, perms []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	if perms == nil {
		perms = []string{}
	}
	iat := c.now()
	exp := iat.Add(ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:       email,
		TenantID:    tenant.String(),
		Role:        role,
		Permissions: perms,
		Type:        string(model.TokenAccess),
	}
	s, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	return s, exp, err
}

// IssueRefresh signs a refresh token bound to a session. ttl<=0 uses the configured default.
func (c *Codec) IssueRefresh(sub, sessionID uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = c.refreshTTL
	}
	iat := c.now()
	exp := iat.Add(ttl)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID.String(),
		Type:      string(model.TokenRefresh),
	}
	s, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	return s, exp, err
}

// DecodeAccess verifies signature, algorithm and expiry and requires type "access".
func (c *Codec) DecodeAccess(tok string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(tok, &claims); err != nil {
		return nil, err
	}
	if claims.Type != string(model.TokenAccess) {
		return nil, ErrWrongType
	}
	return &claims, nil
}

// DecodeRefresh verifies signature, algorithm and expiry and requires type "refresh".
func (c *Codec) DecodeRefresh(tok string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(tok, &claims); err != nil {
		return nil, err
	}
	if claims.Type != string(model.TokenRefresh) {
		return nil, ErrWrongType
	}
	return &claims, nil
}

func (c *Codec) parse(tok string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if t.Method != c.method {
			return nil, ErrSignatureInvalid
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
