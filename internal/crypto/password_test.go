package crypto

import (
	"errors"
	"testing"

	"github.com/and161185/gearguard/internal/errs"
)

func TestValidateStrength(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pw   string
		want error
	}{
		{"abc", errs.ErrTooShort},
		{"abcdefgh", errs.ErrMissingUppercase},
		{"ABCDEFGH", errs.ErrMissingLowercase},
		{"Abcdefgh", errs.ErrMissingDigit},
		{"Abc12345", errs.ErrMissingSymbol},
		{"Abc1234!", nil},
		{"Zz9[long enough]", nil},
	}
	for _, tc := range cases {
		err := ValidateStrength(tc.pw)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%q: unexpected violation %v", tc.pw, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.pw, err, tc.want)
		}
		var pv *errs.PolicyViolation
		if !errors.As(err, &pv) || pv.Reason == "" {
			t.Fatalf("%q: want PolicyViolation with reason, got %T", tc.pw, err)
		}
	}
}

func TestValidateStrength_ShortReportedBeforeOtherRules(t *testing.T) {
	t.Parallel()

	if err := ValidateStrength("A1!"); !errors.Is(err, errs.ErrTooShort) {
		t.Fatalf("want TooShort first, got %v", err)
	}
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	p := NewPasswordPolicy(4) // bcrypt.MinCost keeps the test fast
	h1, err := p.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := p.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash(2): %v", err)
	}
	if h1 == h2 {
		t.Fatalf("hashes must be salted")
	}
	if h1 == "Correct#Horse9" {
		t.Fatalf("hash equals plaintext")
	}
	if !p.Verify("Correct#Horse9", h1) || !p.Verify("Correct#Horse9", h2) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if p.Verify("correct#horse9", h1) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if p.Verify("", h1) {
		t.Fatalf("Verify: expected false for empty password")
	}
}

func TestVerify_MalformedHashIsMismatch(t *testing.T) {
	t.Parallel()

	p := NewPasswordPolicy(4)
	if p.Verify("Correct#Horse9", "not-a-bcrypt-hash") {
		t.Fatalf("malformed hash must not verify")
	}
	if p.Verify("Correct#Horse9", "Correct#Horse9") {
		t.Fatalf("plaintext stored as hash must not verify")
	}
}

func TestNewPasswordPolicy_DefaultCost(t *testing.T) {
	t.Parallel()

	if c := NewPasswordPolicy(0).Cost(); c != DefaultCost {
		t.Fatalf("cost=%d, want %d", c, DefaultCost)
	}
}
