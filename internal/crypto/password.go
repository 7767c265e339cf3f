// Package crypto implements server-side password policy, hashing and token fingerprints.
package crypto

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/and161185/gearguard/internal/errs"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = 12

// MinLength is the shortest accepted password.
const MinLength = 8

// Symbols is the punctuation set a strong password must draw from.
const Symbols = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// PasswordPolicy validates password strength and hashes/verifies passwords with bcrypt.
type PasswordPolicy struct {
	cost int
}

// NewPasswordPolicy returns a policy hashing at the given bcrypt cost (DefaultCost if 0).
func NewPasswordPolicy(cost int) *PasswordPolicy {
	if cost == 0 {
		cost = DefaultCost
	}
	return &PasswordPolicy{cost: cost}
}

// Cost reports the configured bcrypt cost.
func (p *PasswordPolicy) Cost() int { return p.cost }

// ValidateStrength returns the first violated rule as *errs.PolicyViolation.
func (p *PasswordPolicy) ValidateStrength(password string) error {
	return ValidateStrength(password)
}

// ValidateStrength checks length, then uppercase, lowercase, digit and symbol presence, in that order.
func ValidateStrength(password string) error {
	if len([]rune(password)) < MinLength {
		return errs.ErrTooShort
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return errs.ErrMissingUppercase
	case !lower:
		return errs.ErrMissingLowercase
	case !digit:
		return errs.ErrMissingDigit
	case !symbol:
		return errs.ErrMissingSymbol
	}
	return nil
}

// Hash returns a salted bcrypt digest of password.
func (p *PasswordPolicy) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash. Malformed hashes and any
// comparison error count as a mismatch.
func (p *PasswordPolicy) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
