package users

import (
	"context"

	"github.com/example/nileusers/internal/auth"
	"go.uber.org/zap"
)

// CodeSender delivers a verification code to the account holder out of band.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, user *auth.User, code string) error
}

// LogCodeSender writes codes to the log instead of mailing them. It is meant
// for local runs; wire a real sender before exposing registration.
type LogCodeSender struct {
	log *zap.Logger
}

func NewLogCodeSender(log *zap.Logger) *LogCodeSender {
	return &LogCodeSender{log: log.Named("codes")}
}

func (s *LogCodeSender) SendVerificationCode(_ context.Context, user *auth.User, code string) error {
	s.log.Info("verification code issued",
		zap.Int64("user_id", user.ID),
		zap.String("identifier", user.Identifier),
		zap.String("code", code),
	)
	return nil
}
