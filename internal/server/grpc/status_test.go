package grpcserver

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/rbac"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"denied", errs.Denied(rbac.OrgDelete), codes.PermissionDenied},
		{"revoked", errs.ErrSessionRevoked, codes.Unauthenticated},
		{"expired", errs.ErrTokenExpired, codes.Unauthenticated},
		{"bad credentials", errs.ErrUnauthorized, codes.Unauthenticated},
		{"rate limited", errs.ErrRateLimited, codes.ResourceExhausted},
		{"weak password", errs.ErrMissingDigit, codes.InvalidArgument},
		{"bad argument", fmt.Errorf("email: %w", errs.ErrInvalidArgument), codes.InvalidArgument},
		{"duplicate", errs.ErrAlreadyExists, codes.AlreadyExists},
		{"missing", fmt.Errorf("organization: %w", errs.ErrNotFound), codes.NotFound},
		{"store down", &errs.DBError{Kind: errs.ConnectionLost, Op: "exec", Err: errors.New("eof")}, codes.Unavailable},
		{"store timeout", &errs.DBError{Kind: errs.Timeout, Op: "exec"}, codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
		{"already status", status.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tc := range cases {
		if got := status.Code(toStatus(tc.err)); got != tc.want {
			t.Fatalf("%s: want %s, got %s", tc.name, tc.want, got)
		}
	}
	if toStatus(nil) != nil {
		t.Fatalf("nil must stay nil")
	}

	// auth failures must not reveal which check failed
	a := status.Convert(toStatus(errs.ErrSessionNotFound)).Message()
	b := status.Convert(toStatus(errs.ErrInvalidToken)).Message()
	if a != b {
		t.Fatalf("auth messages differ: %q vs %q", a, b)
	}
	if msg := status.Convert(toStatus(errors.New("pq: secret detail"))).Message(); msg != "internal" {
		t.Fatalf("internal detail leaked: %q", msg)
	}
}
