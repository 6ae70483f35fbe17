package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/core/telegram/format"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/core/telegram/keyboard"
	"github.com/m3rciful/linkguard/internal/access"
	"github.com/m3rciful/linkguard/internal/links"
	"github.com/m3rciful/linkguard/internal/token"
	"github.com/m3rciful/linkguard/internal/webverify"
)

// handleStart serves /start [payload]. A verification payload is redeemed
// first and replaced by the link the user was opening, if any.
func (a *App) handleStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	userID := tghelpers.SenderID(c)
	payload := startPayload(c)

	if kind, ok := token.KindOf(payload); ok && kind == token.KindVerify {
		v, err := a.links.Redeem(ctx, payload, userID)
		switch {
		case errors.Is(err, links.ErrNotFound), errors.Is(err, links.ErrOwnerMismatch):
			return tghelpers.SendText(c, verifyExpiredText)
		case err != nil:
			return a.replyFailed(c, "start.redeem", err)
		}
		payload = v.Resume
	}

	verdict, err := a.verdict(ctx, userID)
	if err != nil {
		return a.replyFailed(c, "start.check", err)
	}
	switch verdict {
	case access.Denied:
		return a.replyDenied(c)
	case access.Unverified:
		return a.sendVerification(c, payload)
	}

	if payload != "" {
		return a.openLink(c, payload)
	}
	return tghelpers.SendMD(c, fmt.Sprintf(welcomeText, format.MD(mention(c.Sender()))))
}

func startPayload(c tele.Context) string {
	if msg := c.Message(); msg != nil && msg.Payload != "" {
		return strings.TrimSpace(msg.Payload)
	}
	if args := c.Args(); len(args) > 0 {
		return args[0]
	}
	return ""
}

// openLink resolves a link token and replies with the join button.
func (a *App) openLink(c tele.Context, raw string) error {
	ctx := tghelpers.BuildContext(c)
	dest, err := a.links.Resolve(ctx, raw)
	if errors.Is(err, links.ErrNotFound) {
		logger.Info(ctx, logger.CompLinks, "link.open",
			slog.String("status", "skip"),
			slog.Any("token", token.Redacted(raw)),
		)
		return tghelpers.SendText(c, linkExpiredText)
	}
	if err != nil {
		return a.replyFailed(c, "link.open", err)
	}
	markup := keyboard.InlineButtons(keyboard.InlineBtn{Text: "🌟 Join Channel", WebApp: a.joinURL(dest)})
	return tghelpers.SendMD(c, joinText, markup)
}

// promptVerification is run for unverified users hitting a gated handler.
func (a *App) promptVerification(c tele.Context) error {
	return a.sendVerification(c, "")
}

// sendVerification issues a verification token and sends the user to the
// web page. resume is the link token to reopen afterwards.
func (a *App) sendVerification(c tele.Context, resume string) error {
	ctx := tghelpers.BuildContext(c)
	if kind, ok := token.KindOf(resume); !ok || kind != token.KindLink {
		resume = ""
	}
	raw, err := a.links.IssueVerification(ctx, tghelpers.SenderID(c), resume)
	if err != nil {
		return a.replyFailed(c, "verify.issue", err)
	}
	markup := keyboard.InlineButtons(keyboard.InlineBtn{
		Text: "🛡 Verify",
		URL:  webverify.VerifyURL(a.cfg.Verification.PublicURL, raw),
	})
	if c.Callback() != nil {
		_ = c.Respond()
	}
	return tghelpers.SendMD(c, verifyText, markup)
}

// replyDenied tells a banned user why nothing happens.
func (a *App) replyDenied(c tele.Context) error {
	text := bannedText
	if countries := a.allowedCountries(); countries != "" {
		text += "\n" + fmt.Sprintf(regionDeniedText, countries)
	}
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}
	return tghelpers.SendText(c, text)
}
