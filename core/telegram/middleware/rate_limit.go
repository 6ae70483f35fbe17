package middleware

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/core/ratelimit"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	Burst    int
	Exclude  map[string]struct{}
	// Limiter overrides the buckets built from Interval and Burst.
	Limiter   *ratelimit.Keyed[int64]
	OnLimited tele.HandlerFunc
}

// UpdateKind names the update for rate limit exclusions.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware gives every user a token bucket refilled once per
// Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	limiter := opts.Limiter
	if limiter == nil && opts.Interval > 0 {
		limiter = ratelimit.NewKeyed[int64](rate.Every(opts.Interval), opts.Burst)
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			userID := tghelpers.SenderID(c)
			if limiter == nil || userID == 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}
			if limiter.Allow(userID) {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), logger.CompTG, "rate_limit",
				slog.String("status", "rate_limited"),
			)
			if opts.OnLimited != nil {
				return opts.OnLimited(c)
			}
			return nil
		}
	}
}
