package service

import (
	"context"

	"go.uber.org/zap"
)

// DiscardNotifier drops reset tokens. Used when no delivery channel is configured.
type DiscardNotifier struct{}

func (DiscardNotifier) SendPasswordReset(context.Context, string, string) error { return nil }

// LogNotifier writes reset tokens to the log. Development only.
type LogNotifier struct{ Log *zap.Logger }

func (n LogNotifier) SendPasswordReset(_ context.Context, email, resetToken string) error {
	n.Log.Debug("password reset token issued", zap.String("email", email), zap.String("token", resetToken))
	return nil
}
