package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Call is what the Guard needs from an incoming protected call.
type Call struct {
	// Credential is the raw Authorization field value.
	Credential string

	// Operation identifies the invoked operation for declaration lookup.
	Operation string
}

// Guard decides, per call, whether the caller's current role may invoke the
// operation. It owns no data.
type Guard struct {
	resolver     *RoleResolver
	declarations *Declarations
	timeout      time.Duration
	log          *zap.Logger
}

// NewGuard creates a Guard. A positive timeout bounds each store lookup.
func NewGuard(resolver *RoleResolver, declarations *Declarations, timeout time.Duration, log *zap.Logger) *Guard {
	return &Guard{
		resolver:     resolver,
		declarations: declarations,
		timeout:      timeout,
		log:          log.Named("guard"),
	}
}

// Authorize returns the resolved principal when the call is allowed.
// Denials are ErrMissingToken, ErrInvalidOrExpiredToken (wrapping
// ErrNoOpenSession), ErrInsufficientRole or ErrAuthorityUnavailable.
// The operation must not run unless err is nil.
func (g *Guard) Authorize(ctx context.Context, call Call) (*Principal, error) {
	token, ok := ParseBearer(call.Credential)
	if !ok {
		g.deny(call.Operation, ErrMissingToken)
		return nil, ErrMissingToken
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	p, err := g.resolver.Resolve(ctx, token)
	switch {
	case errors.Is(err, ErrNoOpenSession):
		g.deny(call.Operation, ErrInvalidOrExpiredToken)
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	case err != nil:
		g.log.Error("session lookup failed", zap.String("operation", call.Operation), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAuthorityUnavailable, err)
	}

	if !g.declarations.Permits(call.Operation, p.Role) {
		g.log.Info("call denied",
			zap.String("operation", call.Operation),
			zap.Int64("user_id", p.UserID),
			zap.String("role", string(p.Role)),
			zap.Error(ErrInsufficientRole),
		)
		return nil, ErrInsufficientRole
	}

	return p, nil
}

func (g *Guard) deny(op string, reason error) {
	g.log.Debug("call denied", zap.String("operation", op), zap.Error(reason))
}
