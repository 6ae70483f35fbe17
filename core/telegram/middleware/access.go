package middleware

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/internal/access"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware ensures that only the admin user can invoke
// downstream handlers. Other users are ignored unless OnReject is set.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.AdminID == 0 || tghelpers.SenderID(c) != opts.AdminID {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}

// Checker reports the access verdict of a user.
type Checker interface {
	Check(ctx context.Context, userID int64) (access.Verdict, error)
}

// GateOptions configures AccessMiddleware.
type GateOptions struct {
	Checker Checker
	// Exempt users skip the check.
	Exempt int64
	// OnUnverified runs instead of the handler for users without a verdict.
	OnUnverified tele.HandlerFunc
	// OnDenied runs instead of the handler for banned users.
	OnDenied tele.HandlerFunc
}

// AccessMiddleware lets only allowed users through to the handler.
func AccessMiddleware(opts GateOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			userID := tghelpers.SenderID(c)
			if opts.Checker == nil || (opts.Exempt != 0 && userID == opts.Exempt) {
				return next(c)
			}
			ctx := tghelpers.BuildContext(c)
			verdict, err := opts.Checker.Check(ctx, userID)
			if err != nil {
				return err
			}
			switch verdict {
			case access.Allowed:
				return next(c)
			case access.Denied:
				logger.Info(ctx, logger.CompAccess, "gate.denied",
					slog.String("status", "denied"),
					slog.String("verdict", verdict.String()),
				)
				if opts.OnDenied != nil {
					return opts.OnDenied(c)
				}
			default:
				logger.Debug(ctx, logger.CompAccess, "gate.unverified", slog.String("verdict", verdict.String()))
				if opts.OnUnverified != nil {
					return opts.OnUnverified(c)
				}
			}
			return nil
		}
	}
}
