package telegram

import (
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/core/telegram/middleware"
)

// DefaultMiddlewares builds the shared middleware chain: panic recovery,
// update context and receipt logging, then per-user rate limiting. Extra
// middlewares run last.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc, extra ...Middleware) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}

	if cfg != nil && cfg.RateLimit.IntervalMS > 0 {
		ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, t := range cfg.RateLimit.ExcludeUpdates {
			ex[t] = struct{}{}
		}
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
				Burst:     cfg.RateLimit.Burst,
				Exclude:   ex,
				OnLimited: onLimited,
			}),
		})
	}

	return append(mws, extra...)
}
