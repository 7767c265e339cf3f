package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/gearguard/internal/model"
)

// Verifier turns bearer tokens into identities and checks permissions.
// It is implemented by *service.Authenticator.
type Verifier interface {
	Authenticate(ctx context.Context, bearer string) (model.Identity, error)
	AuthorizeAll(id model.Identity, required ...string) error
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx, slot := withIdentitySlot(ctx)
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if slot.ok {
			fields = append(fields, zap.String("user_id", slot.id.SubjectID.String()))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary resolves the bearer token into an Identity and stores it in the
// request context. Methods listed in public skip authentication.
func AuthUnary(v Verifier, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return next(ctx, req)
		}
		tok, _ := bearerTokenFromMD(ctx)
		id, err := v.Authenticate(ctx, tok)
		if err != nil {
			return nil, toStatus(err)
		}
		return next(WithIdentity(ctx, id), req)
	}
}

// PermissionUnary enforces the permissions table keyed by full method name.
// Methods missing from the table only need an authenticated caller.
func PermissionUnary(v Verifier, table map[string][]string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		required := table[info.FullMethod]
		if len(required) == 0 {
			return next(ctx, req)
		}
		id, ok := IdentityFromCtx(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		if err := v.AuthorizeAll(id, required...); err != nil {
			return nil, toStatus(err)
		}
		return next(ctx, req)
	}
}
