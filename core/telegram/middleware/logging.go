package middleware

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
)

// LoggerMiddleware builds the update context (rid plus update, user and
// chat ids) for downstream handlers and logs one receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var chatID, userID int64
		chat := c.Chat()
		if chat != nil {
			chatID = chat.ID
		}
		user := c.Sender()
		if user != nil {
			userID = user.ID
		}

		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithRID(context.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		tghelpers.StoreContext(c, ctx)

		attrs := []slog.Attr{slog.String("status", "ok")}
		if chat != nil {
			attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
		}
		if user != nil {
			if user.Username != "" {
				attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
			}
			if user.LanguageCode != "" {
				attrs = append(attrs, slog.String("lang", user.LanguageCode))
			}
		}
		switch {
		case upd.Callback != nil:
			key, payload := callbacks.ParseCallbackData(upd.Callback)
			if key != "" {
				attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
			}
			if payload != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
			}
		case upd.Message != nil:
			if t := c.Text(); t != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
			}
			if upd.Message.Photo != nil {
				attrs = append(attrs, slog.Bool("photo", true))
			}
		}
		logger.Debug(ctx, logger.CompTG, "update.received", attrs...)

		return next(c)
	}
}
