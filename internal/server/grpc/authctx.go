package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/gearguard/internal/model"
)

type ctxKey string

const (
	identityKey ctxKey = "gg.identity"
	slotKey     ctxKey = "gg.identity.slot"
)

// identitySlot lets an outer interceptor see the identity resolved further
// down the chain once the handler returns.
type identitySlot struct {
	id model.Identity
	ok bool
}

func withIdentitySlot(ctx context.Context) (context.Context, *identitySlot) {
	slot := &identitySlot{}
	return context.WithValue(ctx, slotKey, slot), slot
}

// WithIdentity stores the authenticated caller in context and fills the
// request's identity slot when one is present.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	if slot, ok := ctx.Value(slotKey).(*identitySlot); ok {
		slot.id, slot.ok = id, true
	}
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the authenticated caller from context.
func IdentityFromCtx(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

var errNoBearer = errors.New("no bearer token")

// bearerTokenFromMD extracts "authorization: Bearer <JWT>" from incoming metadata.
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoBearer
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", errNoBearer
}

// deviceFromMD returns the client user agent, used as session device metadata.
func deviceFromMD(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("user-agent"); len(v) > 0 {
		return v[0]
	}
	return ""
}
