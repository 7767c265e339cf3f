package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/and161185/gearguard/internal/crypto"
	grpcserver "github.com/and161185/gearguard/internal/server/grpc"
)

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"version":       cmdVersion,
	"register":      cmdRegister,
	"login":         cmdLogin,
	"refresh":       cmdRefresh,
	"whoami":        cmdWhoami,
	"profile":       cmdProfile,
	"logout":        cmdLogout,
	"passwd":        cmdPasswd,
	"reset-request": cmdResetRequest,
	"reset":         cmdReset,
	"assign-role":   cmdAssignRole,
}

func newFlagSet(name string, w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	return fs
}

// call dials with an optional bearer token and performs one RPC.
func call(ctx context.Context, e *env, bearer, method string, in map[string]any) (map[string]any, error) {
	cl, closeFn, err := e.dial(bearer)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return cl.Call(ctx, method, in)
}

// grantTokens converts a token grant response into the stored form.
func grantTokens(resp map[string]any) (tokenFile, error) {
	tf := tokenFile{
		AccessToken:  asString(resp["access_token"]),
		RefreshToken: asString(resp["refresh_token"]),
		SessionID:    asString(resp["session_id"]),
	}
	if u, ok := resp["user"].(map[string]any); ok {
		tf.UserID = asString(u["id"])
	}
	if tf.AccessToken == "" || tf.RefreshToken == "" {
		return tf, errors.New("server returned no tokens")
	}
	exp, err := time.Parse(time.RFC3339, asString(resp["expires_at"]))
	if err != nil {
		exp = time.Now().Add(15 * time.Minute)
	}
	tf.ExpiresAt = exp
	return tf, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// accessToken returns a usable access token, refreshing the session when the
// stored one has expired.
func accessToken(ctx context.Context, e *env) (string, error) {
	tf, err := loadTokens()
	if err != nil {
		return "", err
	}
	if tf.AccessToken != "" && time.Now().Add(5*time.Second).Before(tf.ExpiresAt) {
		return tf.AccessToken, nil
	}
	tf, err = refresh(ctx, e, tf.RefreshToken)
	if err != nil {
		return "", err
	}
	return tf.AccessToken, nil
}

func refresh(ctx context.Context, e *env, refreshToken string) (tokenFile, error) {
	if refreshToken == "" {
		return tokenFile{}, errLoginRequired
	}
	resp, err := call(ctx, e, "", grpcserver.MethodRefresh, map[string]any{"refresh_token": refreshToken})
	if err != nil {
		return tokenFile{}, err
	}
	tf, err := grantTokens(resp)
	if err != nil {
		return tokenFile{}, err
	}
	return tf, saveTokens(tf)
}

func cmdVersion(_ context.Context, e *env, _ []string) error {
	fmt.Fprintf(e.out, "gg %s (%s)\n", version, buildDate)
	return nil
}

// cmdRegister creates an account after a local strength check and stores its tokens.
func cmdRegister(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("register", e.out)
	email := fs.String("email", "", "email")
	pass := fs.String("p", "", "password")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	org := fs.String("org", "", "existing organization id (join as technician)")
	orgName := fs.String("org-name", "", "name of the new organization")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *pass == "" {
		return errors.New("need -email and -p")
	}
	if err := crypto.ValidateStrength(*pass); err != nil {
		return err
	}
	in := map[string]any{
		"email":      *email,
		"password":   *pass,
		"first_name": *first,
		"last_name":  *last,
	}
	if *org != "" {
		in["organization_id"] = *org
	}
	if *orgName != "" {
		in["organization_name"] = *orgName
	}
	resp, err := call(ctx, e, "", grpcserver.MethodRegister, in)
	if err != nil {
		return err
	}
	tf, err := grantTokens(resp)
	if err != nil {
		return err
	}
	if err := saveTokens(tf); err != nil {
		return err
	}
	fmt.Fprintln(e.out, tf.UserID)
	return nil
}

// cmdLogin authenticates and stores the token pair.
func cmdLogin(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("login", e.out)
	email := fs.String("email", "", "email")
	pass := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *pass == "" {
		return errors.New("need -email and -p")
	}
	resp, err := call(ctx, e, "", grpcserver.MethodLogin, map[string]any{"email": *email, "password": *pass})
	if err != nil {
		return err
	}
	tf, err := grantTokens(resp)
	if err != nil {
		return err
	}
	if err := saveTokens(tf); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}

func cmdRefresh(ctx context.Context, e *env, _ []string) error {
	tf, err := loadTokens()
	if err != nil {
		return err
	}
	next, err := refresh(ctx, e, tf.RefreshToken)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "session %s, access token valid until %s\n", next.SessionID, next.ExpiresAt.Format(time.RFC3339))
	return nil
}

func cmdWhoami(ctx context.Context, e *env, _ []string) error {
	tok, err := accessToken(ctx, e)
	if err != nil {
		return err
	}
	resp, err := call(ctx, e, tok, grpcserver.MethodMe, nil)
	if err != nil {
		return err
	}
	printJSON(e.out, resp)
	return nil
}

// cmdProfile updates the caller's names; only flags given on the command line are sent.
func cmdProfile(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("profile", e.out)
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first":
			in["first_name"] = *first
		case "last":
			in["last_name"] = *last
		}
	})
	if len(in) == 0 {
		return errors.New("need -first and/or -last")
	}
	tok, err := accessToken(ctx, e)
	if err != nil {
		return err
	}
	resp, err := call(ctx, e, tok, grpcserver.MethodUpdateProfile, in)
	if err != nil {
		return err
	}
	printJSON(e.out, resp)
	return nil
}

// cmdLogout ends the stored session, or all sessions with -all, and forgets the tokens.
func cmdLogout(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("logout", e.out)
	all := fs.Bool("all", false, "end every session of the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tok, err := accessToken(ctx, e)
	if err != nil {
		return err
	}
	in := map[string]any{}
	if !*all {
		tf, err := loadTokens()
		if err != nil {
			return err
		}
		in["refresh_token"] = tf.RefreshToken
	}
	if _, err := call(ctx, e, tok, grpcserver.MethodLogout, in); err != nil {
		return err
	}
	if err := clearTokens(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}

// cmdPasswd changes the password; the server ends all sessions, so tokens are forgotten.
func cmdPasswd(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("passwd", e.out)
	oldPass := fs.String("old", "", "current password")
	newPass := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *oldPass == "" || *newPass == "" {
		return errors.New("need -old and -new")
	}
	if err := crypto.ValidateStrength(*newPass); err != nil {
		return err
	}
	tok, err := accessToken(ctx, e)
	if err != nil {
		return err
	}
	in := map[string]any{"current_password": *oldPass, "new_password": *newPass}
	if _, err := call(ctx, e, tok, grpcserver.MethodChangePassword, in); err != nil {
		return err
	}
	if err := clearTokens(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "password changed; login again")
	return nil
}

func cmdResetRequest(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reset-request", e.out)
	email := fs.String("email", "", "email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("need -email")
	}
	resp, err := call(ctx, e, "", grpcserver.MethodRequestPasswordReset, map[string]any{"email": *email})
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, asString(resp["message"]))
	return nil
}

func cmdReset(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reset", e.out)
	token := fs.String("token", "", "reset token")
	newPass := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" || *newPass == "" {
		return errors.New("need -token and -new")
	}
	if err := crypto.ValidateStrength(*newPass); err != nil {
		return err
	}
	if _, err := call(ctx, e, "", grpcserver.MethodResetPassword, map[string]any{"token": *token, "new_password": *newPass}); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}

func cmdAssignRole(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("assign-role", e.out)
	user := fs.String("user", "", "target user id")
	role := fs.String("role", "", "new role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *role == "" {
		return errors.New("need -user and -role")
	}
	tok, err := accessToken(ctx, e)
	if err != nil {
		return err
	}
	if _, err := call(ctx, e, tok, grpcserver.MethodAssignRole, map[string]any{"user_id": *user, "role": *role}); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}
