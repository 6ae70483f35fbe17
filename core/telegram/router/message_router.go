package router

import (
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/linkguard/core/telegram"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
)

// FSM defines the minimal interface for a conversation manager.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text and photo updates.
type TextOptions struct {
	Commands     CommandRouteOptions
	UnknownText  tele.HandlerFunc
	UnknownPhoto tele.HandlerFunc
}

// TextRoutes builds handlers for text and photo routing. Conversations take
// priority, then commands, then the registry fallback.
func TextRoutes(fsmMgr FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()

		if fsmMgr != nil && fsmMgr.InProgress(tghelpers.SenderID(c)) {
			return handleWithSummary(c, "fsm", start, func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return WrapCommand(key, cmd, opts.Commands)(c)
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	photoHandler := func(c tele.Context) error {
		start := time.Now()
		if fsmMgr != nil && fsmMgr.InProgress(tghelpers.SenderID(c)) {
			return handleWithSummary(c, "fsm_photo", start, func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}
		if opts.UnknownPhoto != nil {
			return handleWithSummary(c, "unexpected_photo", start, func() error {
				return opts.UnknownPhoto(c)
			})
		}
		logHandlerSummary(c, "unexpected_photo", start, "skip", nil)
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: handler},
		{Endpoint: tele.OnPhoto, Handler: photoHandler},
	}
}
