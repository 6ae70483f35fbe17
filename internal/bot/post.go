package bot

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/telegram/format"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/core/telegram/keyboard"
	"github.com/m3rciful/linkguard/internal/links"
	"github.com/m3rciful/linkguard/internal/session"
)

const (
	cbAddImage = "add_image"
	cbNoImage  = "no_image"
)

func commandArgs(c tele.Context) string {
	if msg := c.Message(); msg != nil && msg.Payload != "" {
		return strings.TrimSpace(msg.Payload)
	}
	return strings.TrimSpace(strings.Join(c.Args(), " "))
}

// protect stores destination and returns the deep link that opens it.
func (a *App) protect(c tele.Context, destination string) (string, error) {
	raw, err := a.links.Protect(tghelpers.BuildContext(c), destination, a.cfg.Links.TTL)
	if err != nil {
		return "", err
	}
	return a.shareLink(raw), nil
}

// handleProtect serves /protect <link>.
func (a *App) handleProtect(c tele.Context) error {
	dest, err := links.CheckDestination(commandArgs(c), a.cfg.Links.AllowedPrefixes)
	if errors.Is(err, links.ErrInvalidDestination) {
		return tghelpers.SendMD(c, protectUsageText)
	}
	if err != nil {
		return a.replyFailed(c, "protect.check", err)
	}
	link, err := a.protect(c, dest)
	if err != nil {
		return a.replyFailed(c, "protect.store", err)
	}
	markup := keyboard.InlineButtons(keyboard.InlineBtn{Text: "🔄 Share Link", URL: keyboard.ShareURL(link)})
	return tghelpers.SendMD(c, fmt.Sprintf(protectedText, link), markup)
}

// handlePost serves /post <link> and starts the post conversation.
func (a *App) handlePost(c tele.Context) error {
	dest, err := links.CheckDestination(commandArgs(c), a.cfg.Links.AllowedPrefixes)
	if err != nil {
		return tghelpers.SendMD(c, postUsageText)
	}
	a.sessions.Set(tghelpers.SenderID(c), session.AwaitingCaption{Destination: dest})
	return tghelpers.SendMD(c, askCaptionText)
}

func (a *App) handleCancel(c tele.Context) error {
	a.sessions.Clear(tghelpers.SenderID(c))
	return tghelpers.SendText(c, postCancelledText)
}

// InProgress implements router.FSM.
func (a *App) InProgress(userID int64) bool {
	return a.sessions.InProgress(userID)
}

// ManagerHandler implements router.FSM: it feeds a text or photo message
// into the conversation of its sender.
func (a *App) ManagerHandler(c tele.Context) error {
	userID := tghelpers.SenderID(c)
	msg := c.Message()

	switch st := a.sessions.Get(userID).(type) {
	case session.AwaitingCaption:
		caption := strings.TrimSpace(c.Text())
		if msg != nil && msg.Photo != nil {
			caption = strings.TrimSpace(msg.Caption)
		}
		if caption == "" {
			return tghelpers.SendMD(c, askCaptionText)
		}
		a.sessions.Set(userID, session.AwaitingImageChoice{Destination: st.Destination, Caption: caption})
		markup := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
			{Text: "✅ Yes, add image", Unique: cbAddImage},
			{Text: "❌ No image", Unique: cbNoImage},
		})
		return tghelpers.SendMD(c, askImageText, markup)

	case session.AwaitingImageChoice:
		return tghelpers.SendMD(c, askImageText)

	case session.AwaitingImage:
		if msg == nil || msg.Photo == nil {
			return tghelpers.SendMD(c, sendImageText)
		}
		return a.finishPost(c, st.Destination, st.Caption, msg.Photo.FileID)
	}
	return nil
}

func (a *App) handleAddImage(c tele.Context) error {
	userID := tghelpers.SenderID(c)
	st, ok := a.sessions.Get(userID).(session.AwaitingImageChoice)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Nothing to add an image to."})
	}
	a.sessions.Set(userID, session.AwaitingImage{Destination: st.Destination, Caption: st.Caption})
	return tghelpers.EditOrSendMD(c, sendImageText)
}

func (a *App) handleNoImage(c tele.Context) error {
	st, ok := a.sessions.Get(tghelpers.SenderID(c)).(session.AwaitingImageChoice)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Nothing to post."})
	}
	return a.finishPost(c, st.Destination, st.Caption, "")
}

// finishPost protects destination and sends the final post, with photo when
// fileID is set. The conversation ends either way.
func (a *App) finishPost(c tele.Context, destination, caption, fileID string) error {
	a.sessions.Clear(tghelpers.SenderID(c))
	link, err := a.protect(c, destination)
	if err != nil {
		return a.replyFailed(c, "post.store", err)
	}

	text := postBody(caption, link, a.botUsername)
	markup := keyboard.InlineButtons(keyboard.InlineBtn{Text: "🔄 Share Post", URL: keyboard.ShareURL(link)})
	if fileID != "" {
		return tghelpers.SendPhotoMD(c, fileID, text, markup)
	}
	return tghelpers.SendMD(c, text, markup)
}

func postBody(caption, link, botUsername string) string {
	if caption != "" {
		caption = format.MD(caption) + "\n\n"
	}
	return fmt.Sprintf(postText, caption, format.MD(link), format.MD(botUsername))
}

func (a *App) handleUnexpectedPhoto(c tele.Context) error {
	return tghelpers.SendMD(c, noPostText)
}
