package router

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	tg "github.com/m3rciful/linkguard/core/telegram"
	"github.com/m3rciful/linkguard/core/telegram/commands"
	"github.com/m3rciful/linkguard/core/telegram/middleware"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
	// Gate guards commands marked Gated.
	Gate middleware.GateOptions
}

// WrapCommand applies the admin and access checks a command asks for.
func WrapCommand(key string, def commands.Command, opts CommandRouteOptions) tele.HandlerFunc {
	name := normalizeHandlerName(key)
	h := def.Handler
	if def.Gated {
		h = middleware.AccessMiddleware(opts.Gate)(h)
	}
	if def.AdminOnly {
		h = middleware.AdminOnlyMiddleware(middleware.AdminOptions{
			AdminID:  opts.AdminID,
			OnReject: opts.OnAdminReject,
		})(h)
	}
	inner := h
	return func(c tele.Context) error {
		return handleWithSummary(c, name, time.Now(), func() error { return inner(c) })
	}
}

// CommandRoutes prepares one route per command name and alias.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	var routes []tg.Route
	for key, def := range reg.Commands() {
		h := WrapCommand(key, def, opts)
		for _, name := range def.Names(key) {
			routes = append(routes, tg.Route{Endpoint: name, Handler: h})
		}
	}

	logger.Info(context.Background(), logger.CompTGWire, "wire.complete",
		slog.Int("commands", len(reg.Commands())),
		slog.Int("routes", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}
