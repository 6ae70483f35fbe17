package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/core/telegram/format"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/core/telegram/keyboard"
	tgsender "github.com/m3rciful/linkguard/core/telegram/sender"
	"github.com/m3rciful/linkguard/internal/broadcast"
)

const (
	cbBroadcastConfirm = "bc_confirm"
	cbBroadcastCancel  = "bc_cancel"
	cbBroadcastStop    = "bc_stop"
)

func stopMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtons(keyboard.InlineBtn{Text: "🛑 Stop", Unique: cbBroadcastStop})
}

// broadcastMessage builds the broadcast from the command text or, when the
// command replies to a message, from that message.
func broadcastMessage(c tele.Context) broadcast.Message {
	msg := broadcast.Message{Text: commandArgs(c)}
	cur := c.Message()
	if cur == nil || cur.ReplyTo == nil {
		return msg
	}
	src := cur.ReplyTo
	var media *broadcast.Media
	switch {
	case src.Photo != nil:
		media = &broadcast.Media{Kind: broadcast.MediaPhoto, FileID: src.Photo.FileID}
	case src.Video != nil:
		media = &broadcast.Media{Kind: broadcast.MediaVideo, FileID: src.Video.FileID}
	case src.Document != nil:
		media = &broadcast.Media{Kind: broadcast.MediaDocument, FileID: src.Document.FileID}
	}
	if media != nil {
		msg.Media = media
		if msg.Text == "" {
			msg.Text = src.Caption
		}
		return msg
	}
	if msg.Text == "" {
		msg.Text = src.Text
	}
	return msg
}

// handleBroadcast serves /broadcast: it stores the message and asks the
// admin to confirm.
func (a *App) handleBroadcast(c tele.Context) error {
	msg := broadcastMessage(c)
	if msg.Text == "" && msg.Media == nil {
		return tghelpers.SendMD(c, broadcastUsageText)
	}
	if a.broadcasts == nil {
		return a.replyFailed(c, "broadcast.prepare", errors.New("broadcast manager not started"))
	}
	if a.broadcasts.Running() {
		return tghelpers.SendText(c, broadcastBusyText)
	}
	recipients, err := a.audience.Recipients(tghelpers.BuildContext(c))
	if err != nil {
		return a.replyFailed(c, "broadcast.recipients", err)
	}
	if len(recipients) == 0 {
		return tghelpers.SendText(c, broadcastNoUsersText)
	}

	a.pendingMu.Lock()
	a.pending[tghelpers.SenderID(c)] = msg
	a.pendingMu.Unlock()

	markup := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Confirm", Unique: cbBroadcastConfirm},
		{Text: "❌ Cancel", Unique: cbBroadcastCancel},
	})
	return tghelpers.SendMD(c, fmt.Sprintf(broadcastConfirmText, len(recipients)), markup)
}

func (a *App) takePending(adminID int64) (broadcast.Message, bool) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	msg, ok := a.pending[adminID]
	delete(a.pending, adminID)
	return msg, ok
}

func (a *App) handleBroadcastConfirm(c tele.Context) error {
	msg, ok := a.takePending(tghelpers.SenderID(c))
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: broadcastGoneText, ShowAlert: true})
	}
	ctx := tghelpers.BuildContext(c)
	status := c.Message()
	a.editStatus(ctx, status, broadcastStartText, stopMarkup())

	job, err := a.broadcasts.Start(ctx, msg, func(p broadcast.Progress) {
		a.editStatus(ctx, status, fmt.Sprintf(broadcastProgText, p.Sent, p.Failed, p.Total-p.Done), stopMarkup())
	})
	if errors.Is(err, broadcast.ErrAlreadyRunning) {
		return c.Respond(&tele.CallbackResponse{Text: broadcastBusyText, ShowAlert: true})
	}
	if err != nil {
		return a.replyFailed(c, "broadcast.start", err)
	}

	go func() {
		res := job.Wait()
		text := fmt.Sprintf(broadcastDoneText, res.Total, res.Sent, res.Failed, time.Now().Format("15:04:05"))
		if res.Cancelled {
			text = fmt.Sprintf(broadcastStoppedText, res.Total, res.Sent, res.Failed)
		}
		a.editStatus(ctx, status, text, nil)
	}()
	return nil
}

func (a *App) handleBroadcastCancel(c tele.Context) error {
	a.takePending(tghelpers.SenderID(c))
	return tghelpers.EditOrSendMD(c, broadcastCancelText)
}

func (a *App) handleBroadcastStop(c tele.Context) error {
	if a.broadcasts == nil || !a.broadcasts.Cancel() {
		return c.Respond(&tele.CallbackResponse{Text: noBroadcastText})
	}
	return c.Respond(&tele.CallbackResponse{Text: stoppingText})
}

// handleStopBroadcast serves /stopbroadcast.
func (a *App) handleStopBroadcast(c tele.Context) error {
	if a.broadcasts == nil || !a.broadcasts.Cancel() {
		return tghelpers.SendText(c, noBroadcastText)
	}
	return tghelpers.SendText(c, stoppingText)
}

// editStatus rewrites the broadcast status message. Failures are logged
// only; the broadcast carries on.
func (a *App) editStatus(ctx context.Context, msg *tele.Message, text string, markup *tele.ReplyMarkup) {
	if a.editor == nil || msg == nil {
		return
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
	if _, err := a.editor.Edit(msg, text, opts); err != nil {
		logger.Debug(ctx, logger.CompBroadcast, "status.edit",
			slog.String("status", "fail"),
			slog.String("err", tgsender.Scrub(err.Error())),
		)
	}
}

func targetUser(c tele.Context) (int64, bool) {
	args := strings.Fields(commandArgs(c))
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	return id, err == nil && id != 0
}

// handleBan serves /ban <user_id>.
func (a *App) handleBan(c tele.Context) error {
	if len(strings.Fields(commandArgs(c))) != 1 {
		return tghelpers.SendText(c, banUsageText)
	}
	id, ok := targetUser(c)
	if !ok {
		return tghelpers.SendText(c, badUserIDText)
	}
	if err := a.access.MarkBanned(tghelpers.BuildContext(c), id, ""); err != nil {
		return a.replyFailed(c, "admin.ban", err)
	}
	a.gate.Forget(id)
	return tghelpers.SendText(c, fmt.Sprintf(bannedUserText, id))
}

// handleUnban serves /unban <user_id>.
func (a *App) handleUnban(c tele.Context) error {
	if len(strings.Fields(commandArgs(c))) != 1 {
		return tghelpers.SendText(c, unbanUsageText)
	}
	id, ok := targetUser(c)
	if !ok {
		return tghelpers.SendText(c, badUserIDText)
	}
	removed, err := a.access.Unban(tghelpers.BuildContext(c), id)
	if err != nil {
		return a.replyFailed(c, "admin.unban", err)
	}
	a.gate.Forget(id)
	if !removed {
		return tghelpers.SendText(c, fmt.Sprintf(notBannedText, id))
	}
	return tghelpers.SendText(c, fmt.Sprintf(unbannedText, id))
}

// handleStats serves /stats.
func (a *App) handleStats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	users, err := a.audience.Recipients(ctx)
	if err != nil {
		return a.replyFailed(c, "admin.stats", err)
	}
	nLinks, err := a.links.CountLinks(ctx)
	if err != nil {
		return a.replyFailed(c, "admin.stats", err)
	}
	st, err := a.access.Stats(ctx)
	if err != nil {
		return a.replyFailed(c, "admin.stats", err)
	}
	gs := a.gate.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, statsText, len(users), nLinks, st.Verified, st.Banned, gs.Cached)
	if len(gs.Countries) == 0 {
		b.WriteString("• none yet")
	}
	for _, row := range gs.Countries {
		mark := "🚫"
		if row.Allowed {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s: `%d`\n", mark, format.MD(row.Country), row.Users)
	}
	return tghelpers.SendMD(c, b.String())
}
