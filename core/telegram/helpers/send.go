package helpers

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	tgsender "github.com/m3rciful/linkguard/core/telegram/sender"
)

func logSend(c tele.Context, action string, err error) error {
	if err != nil {
		logger.Warn(BuildContext(c), logger.CompTGSender, "send.fail",
			slog.String("action", action),
			slog.String("error_kind", tgsender.ClassifyError(err)),
			slog.String("err", tgsender.Scrub(err.Error())),
		)
	}
	return err
}

// SendText sends raw text (no parse mode) to the current chat.
func SendText(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return logSend(c, "send.text", c.Send(text, opts))
}

// SendMD sends a Markdown message with optional reply markup.
func SendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return logSend(c, "send.md", c.Send(text, opts))
}

// EditOrSendMD edits the message behind a callback, or sends a new one.
func EditOrSendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return logSend(c, "edit.md", c.EditOrSend(text, opts))
}

// SendPhotoMD sends a photo with a Markdown caption.
func SendPhotoMD(c tele.Context, fileID, caption string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	return logSend(c, "send.photo", c.Send(photo, opts))
}
