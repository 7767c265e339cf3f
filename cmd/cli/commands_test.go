package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	grpcserver "github.com/and161185/gearguard/internal/server/grpc"
)

type rpcCall struct {
	bearer string
	method string
	in     map[string]any
}

// fakeCaller records every call and answers from a per-method table.
type fakeCaller struct {
	bearer string
	rec    *[]rpcCall
	resp   map[string]map[string]any
	errs   map[string]error
}

var _ caller = (*fakeCaller)(nil)

func (f *fakeCaller) Call(_ context.Context, method string, in map[string]any, _ ...grpc.CallOption) (map[string]any, error) {
	*f.rec = append(*f.rec, rpcCall{bearer: f.bearer, method: method, in: in})
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	return f.resp[method], nil
}

type fakeServer struct {
	calls []rpcCall
	resp  map[string]map[string]any
	errs  map[string]error
}

func newTestEnv(t *testing.T) (*env, *fakeServer, *bytes.Buffer) {
	t.Helper()
	_ = withTmpConfig(t)
	fs := &fakeServer{resp: map[string]map[string]any{}, errs: map[string]error{}}
	out := &bytes.Buffer{}
	e := &env{out: out}
	e.dial = func(bearer string) (caller, func(), error) {
		return &fakeCaller{bearer: bearer, rec: &fs.calls, resp: fs.resp, errs: fs.errs}, func() {}, nil
	}
	return e, fs, out
}

func grant(access, refresh string, exp time.Time) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_at":    exp.UTC().Format(time.RFC3339),
		"session_id":    "sess-1",
		"user":          map[string]any{"id": "user-1", "email": "a@b.c"},
	}
}

func Test_cmdLogin_SavesTokens(t *testing.T) {
	e, fs, out := newTestEnv(t)
	exp := time.Now().Add(15 * time.Minute)
	fs.resp[grpcserver.MethodLogin] = grant("acc", "ref", exp)

	if err := cmdLogin(context.Background(), e, []string{"-email", "a@b.c", "-p", "Secret123!"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(fs.calls) != 1 || fs.calls[0].method != grpcserver.MethodLogin || fs.calls[0].bearer != "" {
		t.Fatalf("unexpected calls: %+v", fs.calls)
	}
	if fs.calls[0].in["email"] != "a@b.c" || fs.calls[0].in["password"] != "Secret123!" {
		t.Fatalf("login payload: %v", fs.calls[0].in)
	}
	tf, err := loadTokens()
	if err != nil {
		t.Fatalf("loadTokens: %v", err)
	}
	if tf.AccessToken != "acc" || tf.RefreshToken != "ref" || tf.SessionID != "sess-1" || tf.UserID != "user-1" {
		t.Fatalf("stored tokens: %+v", tf)
	}
	if strings.TrimSpace(out.String()) != "ok" {
		t.Fatalf("output %q", out.String())
	}
}

func Test_cmdLogin_Errors(t *testing.T) {
	e, fs, _ := newTestEnv(t)

	if err := cmdLogin(context.Background(), e, []string{"-email", "a@b.c"}); err == nil {
		t.Fatalf("missing password must fail")
	}
	if len(fs.calls) != 0 {
		t.Fatalf("no rpc expected on bad flags")
	}

	rpcErr := errors.New("unauthorized")
	fs.errs[grpcserver.MethodLogin] = rpcErr
	if err := cmdLogin(context.Background(), e, []string{"-email", "a@b.c", "-p", "x"}); !errors.Is(err, rpcErr) {
		t.Fatalf("want rpc error, got %v", err)
	}
	if _, err := loadTokens(); !errors.Is(err, errLoginRequired) {
		t.Fatalf("failed login must not store tokens: %v", err)
	}

	delete(fs.errs, grpcserver.MethodLogin)
	fs.resp[grpcserver.MethodLogin] = map[string]any{}
	if err := cmdLogin(context.Background(), e, []string{"-email", "a@b.c", "-p", "x"}); err == nil {
		t.Fatalf("empty grant must fail")
	}
}

func Test_cmdRegister(t *testing.T) {
	e, fs, out := newTestEnv(t)
	fs.resp[grpcserver.MethodRegister] = grant("acc", "ref", time.Now().Add(time.Hour))

	if err := cmdRegister(context.Background(), e, []string{"-email", "a@b.c", "-p", "weak"}); err == nil {
		t.Fatalf("weak password must be rejected locally")
	}
	if len(fs.calls) != 0 {
		t.Fatalf("weak password must not reach the server")
	}

	args := []string{"-email", "a@b.c", "-p", "Secret123!", "-first", "Ann", "-last", "Lee", "-org-name", "Acme"}
	if err := cmdRegister(context.Background(), e, args); err != nil {
		t.Fatalf("register: %v", err)
	}
	in := fs.calls[0].in
	if in["organization_name"] != "Acme" || in["first_name"] != "Ann" || in["last_name"] != "Lee" {
		t.Fatalf("register payload: %v", in)
	}
	if _, ok := in["organization_id"]; ok {
		t.Fatalf("organization_id must be omitted when unset")
	}
	if strings.TrimSpace(out.String()) != "user-1" {
		t.Fatalf("output %q", out.String())
	}
}

func Test_cmdWhoami_UsesStoredToken(t *testing.T) {
	e, fs, out := newTestEnv(t)
	if err := saveTokens(tokenFile{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	fs.resp[grpcserver.MethodMe] = map[string]any{"email": "a@b.c"}

	if err := cmdWhoami(context.Background(), e, nil); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if len(fs.calls) != 1 || fs.calls[0].bearer != "acc" {
		t.Fatalf("unexpected calls: %+v", fs.calls)
	}
	if !strings.Contains(out.String(), `"email": "a@b.c"`) {
		t.Fatalf("output %q", out.String())
	}
}

func Test_cmdWhoami_RefreshesExpiredAccess(t *testing.T) {
	e, fs, _ := newTestEnv(t)
	if err := saveTokens(tokenFile{AccessToken: "old", RefreshToken: "ref", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	fs.resp[grpcserver.MethodRefresh] = grant("new", "ref2", time.Now().Add(time.Hour))
	fs.resp[grpcserver.MethodMe] = map[string]any{}

	if err := cmdWhoami(context.Background(), e, nil); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if len(fs.calls) != 2 {
		t.Fatalf("want refresh then me, got %+v", fs.calls)
	}
	if fs.calls[0].method != grpcserver.MethodRefresh || fs.calls[0].in["refresh_token"] != "ref" {
		t.Fatalf("first call: %+v", fs.calls[0])
	}
	if fs.calls[1].bearer != "new" {
		t.Fatalf("me must use the rotated token, got %q", fs.calls[1].bearer)
	}
	tf, _ := loadTokens()
	if tf.RefreshToken != "ref2" {
		t.Fatalf("rotated refresh token not stored: %+v", tf)
	}
}

func Test_cmdWhoami_NotLoggedIn(t *testing.T) {
	e, fs, _ := newTestEnv(t)
	if err := cmdWhoami(context.Background(), e, nil); !errors.Is(err, errLoginRequired) {
		t.Fatalf("want errLoginRequired, got %v", err)
	}
	if len(fs.calls) != 0 {
		t.Fatalf("no rpc expected")
	}
}

func Test_cmdLogout(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantToken bool
	}{
		{name: "current session", args: nil, wantToken: true},
		{name: "all sessions", args: []string{"-all"}, wantToken: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, fs, _ := newTestEnv(t)
			if err := saveTokens(tokenFile{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
				t.Fatalf("saveTokens: %v", err)
			}
			if err := cmdLogout(context.Background(), e, tc.args); err != nil {
				t.Fatalf("logout: %v", err)
			}
			c := fs.calls[len(fs.calls)-1]
			if c.method != grpcserver.MethodLogout || c.bearer != "acc" {
				t.Fatalf("unexpected call: %+v", c)
			}
			_, has := c.in["refresh_token"]
			if has != tc.wantToken {
				t.Fatalf("refresh_token present=%v, want %v", has, tc.wantToken)
			}
			if _, err := loadTokens(); !errors.Is(err, errLoginRequired) {
				t.Fatalf("tokens must be cleared: %v", err)
			}
		})
	}
}

func Test_cmdPasswd_ClearsTokens(t *testing.T) {
	e, fs, _ := newTestEnv(t)
	if err := saveTokens(tokenFile{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	if err := cmdPasswd(context.Background(), e, []string{"-old", "Secret123!", "-new", "short"}); err == nil {
		t.Fatalf("weak new password must fail locally")
	}
	if err := cmdPasswd(context.Background(), e, []string{"-old", "Secret123!", "-new", "Better456?"}); err != nil {
		t.Fatalf("passwd: %v", err)
	}
	c := fs.calls[0]
	if c.method != grpcserver.MethodChangePassword || c.in["current_password"] != "Secret123!" || c.in["new_password"] != "Better456?" {
		t.Fatalf("unexpected call: %+v", c)
	}
	if _, err := loadTokens(); !errors.Is(err, errLoginRequired) {
		t.Fatalf("tokens must be cleared: %v", err)
	}
}

func Test_cmdReset_Flow(t *testing.T) {
	e, fs, out := newTestEnv(t)
	fs.resp[grpcserver.MethodRequestPasswordReset] = map[string]any{"message": "if the account exists, a reset link was sent"}

	if err := cmdResetRequest(context.Background(), e, []string{"-email", "a@b.c"}); err != nil {
		t.Fatalf("reset-request: %v", err)
	}
	if !strings.Contains(out.String(), "reset link") {
		t.Fatalf("output %q", out.String())
	}
	if err := cmdReset(context.Background(), e, []string{"-token", "tok", "-new", "Better456?"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	c := fs.calls[1]
	if c.method != grpcserver.MethodResetPassword || c.in["token"] != "tok" || c.bearer != "" {
		t.Fatalf("unexpected call: %+v", c)
	}
	if err := cmdReset(context.Background(), e, []string{"-token", "tok"}); err == nil {
		t.Fatalf("missing -new must fail")
	}
}

func Test_cmdAssignRole(t *testing.T) {
	e, fs, _ := newTestEnv(t)
	if err := saveTokens(tokenFile{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	if err := cmdAssignRole(context.Background(), e, []string{"-user", "u2"}); err == nil {
		t.Fatalf("missing -role must fail")
	}
	if err := cmdAssignRole(context.Background(), e, []string{"-user", "u2", "-role", "manager"}); err != nil {
		t.Fatalf("assign-role: %v", err)
	}
	c := fs.calls[0]
	if c.method != grpcserver.MethodAssignRole || c.bearer != "acc" || c.in["user_id"] != "u2" || c.in["role"] != "manager" {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func Test_cmdProfile_SendsOnlyGivenFields(t *testing.T) {
	e, fs, out := newTestEnv(t)
	if err := saveTokens(tokenFile{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveTokens: %v", err)
	}
	fs.resp[grpcserver.MethodUpdateProfile] = map[string]any{"first_name": "Grace"}

	if err := cmdProfile(context.Background(), e, nil); err == nil {
		t.Fatalf("no flags must fail")
	}
	if len(fs.calls) != 0 {
		t.Fatalf("no rpc expected without flags")
	}

	if err := cmdProfile(context.Background(), e, []string{"-first", "Grace"}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	c := fs.calls[0]
	if c.method != grpcserver.MethodUpdateProfile || c.bearer != "acc" || c.in["first_name"] != "Grace" {
		t.Fatalf("unexpected call: %+v", c)
	}
	if _, ok := c.in["last_name"]; ok {
		t.Fatalf("last_name must be omitted when not given")
	}
	if !strings.Contains(out.String(), `"first_name": "Grace"`) {
		t.Fatalf("output %q", out.String())
	}
}

func Test_commands_Registered(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"version", "register", "login", "refresh", "whoami", "profile", "logout", "passwd", "reset-request", "reset", "assign-role"} {
		if commands[name] == nil {
			t.Fatalf("command %q not registered", name)
		}
	}
}
