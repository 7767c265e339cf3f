// Package grpcserver exposes the GearGuard auth API over gRPC.
package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/rbac"
	"github.com/and161185/gearguard/internal/service"
)

// AuthService is the account and session API served by Server.
// It is implemented by *service.Authenticator.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.Grant, error)
	Login(ctx context.Context, email, password, ip, device string) (*service.Grant, error)
	Refresh(ctx context.Context, refreshToken, device string) (*service.Grant, error)
	Logout(ctx context.Context, id model.Identity) error
	LogoutSession(ctx context.Context, id model.Identity, sessionID uuid.UUID) error
	SessionFromRefresh(refreshToken string) (uuid.UUID, error)
	Me(ctx context.Context, id model.Identity) (*model.User, error)
	UpdateProfile(ctx context.Context, id model.Identity, p model.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, id model.Identity, current, next string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, next string) error
	AssignRole(ctx context.Context, actor model.Identity, target uuid.UUID, role string) error
}

// PublicMethods are served without a bearer token.
var PublicMethods = map[string]bool{
	MethodRegister:             true,
	MethodLogin:                true,
	MethodRefresh:              true,
	MethodRequestPasswordReset: true,
	MethodResetPassword:        true,
}

// MethodPermissions lists the permissions each protected method requires.
var MethodPermissions = map[string][]string{
	MethodAssignRole: {rbac.UserManageRoles},
}

// Server wires the auth service into gRPC handlers.
type Server struct {
	auth AuthService
	log  *zap.Logger
}

var _ AuthServiceServer = (*Server)(nil)

// New constructs a gRPC server with the injected service.
func New(auth AuthService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, log: log}
}

// Interceptors returns the unary chain: recover, logging, authentication, permissions.
func Interceptors(v Verifier, log *zap.Logger) grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(v, PublicMethods),
		PermissionUnary(v, MethodPermissions),
	)
}

// Register creates an account and returns its first token pair.
func (s *Server) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	email, password := str(in, "email"), str(in, "password")
	if email == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty email/password")
	}
	var orgID uuid.UUID
	if v := str(in, "organization_id"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "bad organization_id")
		}
		orgID = id
	}
	g, err := s.auth.Register(ctx, service.RegisterInput{
		Email:            email,
		Password:         password,
		FirstName:        str(in, "first_name"),
		LastName:         str(in, "last_name"),
		OrganizationID:   orgID,
		OrganizationName: str(in, "organization_name"),
		Device:           deviceFromMD(ctx),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return grantStruct(g)
}

// Login authenticates by email and password.
func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	g, err := s.auth.Login(ctx, str(in, "email"), str(in, "password"), remoteIP(ctx), deviceFromMD(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return grantStruct(g)
}

// Refresh rotates the session behind a refresh token.
func (s *Server) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	g, err := s.auth.Refresh(ctx, str(in, "refresh_token"), deviceFromMD(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return grantStruct(g)
}

// Logout ends the session of the given refresh token, or every session of the
// caller when none is given.
func (s *Server) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if rt := str(in, "refresh_token"); rt != "" {
		sid, err := s.auth.SessionFromRefresh(rt)
		if err != nil {
			return nil, toStatus(err)
		}
		if err := s.auth.LogoutSession(ctx, id, sid); err != nil {
			return nil, toStatus(err)
		}
		return empty(), nil
	}
	if err := s.auth.Logout(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// Me returns the caller's account and effective permissions.
func (s *Server) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.auth.Me(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return profileStruct(u, id)
}

// UpdateProfile changes the caller's first and/or last name. Absent fields
// are left as they are.
func (s *Server) UpdateProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.auth.UpdateProfile(ctx, id, model.ProfileUpdate{
		FirstName: optStr(in, "first_name"),
		LastName:  optStr(in, "last_name"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return profileStruct(u, id)
}

func profileStruct(u *model.User, id model.Identity) (*structpb.Struct, error) {
	m := userMap(u)
	perms := id.Permissions()
	list := make([]any, len(perms))
	for i, p := range perms {
		list[i] = p
	}
	m["permissions"] = list
	return newStruct(m)
}

// ChangePassword replaces the caller's password.
func (s *Server) ChangePassword(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.ChangePassword(ctx, id, str(in, "current_password"), str(in, "new_password")); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// RequestPasswordReset always answers the same way.
func (s *Server) RequestPasswordReset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.RequestPasswordReset(ctx, str(in, "email")); err != nil {
		s.log.Error("password reset request", zap.Error(err))
	}
	return newStruct(map[string]any{"message": "if the account exists, a reset link has been sent"})
}

// ResetPassword consumes a reset token.
func (s *Server) ResetPassword(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.ResetPassword(ctx, str(in, "token"), str(in, "new_password")); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// AssignRole changes another user's role.
func (s *Server) AssignRole(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	target, err := uuid.FromString(str(in, "user_id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad user_id")
	}
	if err := s.auth.AssignRole(ctx, id, target, str(in, "role")); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

func identity(ctx context.Context) (model.Identity, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return model.Identity{}, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return id, nil
}

// remoteIP returns the peer host without port so that reconnects share a
// limiter bucket.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

// optStr returns nil when key is absent or not a string.
func optStr(in *structpb.Struct, key string) *string {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil
	}
	return &sv.StringValue
}

func empty() *structpb.Struct { return &structpb.Struct{Fields: map[string]*structpb.Value{}} }

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func grantStruct(g *service.Grant) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"access_token":  g.Tokens.AccessToken,
		"refresh_token": g.Tokens.RefreshToken,
		"token_type":    g.Tokens.TokenType,
		"expires_at":    g.Tokens.ExpiresAt.UTC().Format(time.RFC3339),
		"session_id":    g.SessionID.String(),
		"user":          userMap(&g.User),
	})
}

func userMap(u *model.User) map[string]any {
	m := map[string]any{
		"id":              u.ID.String(),
		"email":           u.Email,
		"first_name":      u.FirstName,
		"last_name":       u.LastName,
		"organization_id": u.OrganizationID.String(),
		"role":            u.Role,
		"is_active":       u.IsActive,
	}
	if u.LastLoginAt != nil {
		m["last_login_at"] = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return m
}
