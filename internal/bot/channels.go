package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/core/telegram/callbacks"
	"github.com/m3rciful/linkguard/core/telegram/format"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/core/telegram/keyboard"
)

const (
	cbChannel = "channel"
	cbBack    = "back"
)

func (a *App) channel(id string) (coreconfig.ChannelConfig, bool) {
	for _, ch := range a.cfg.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return coreconfig.ChannelConfig{}, false
}

func (a *App) directoryMarkup() *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		btns = append(btns, keyboard.InlineBtn{Text: ch.Title, Unique: cbChannel, Data: ch.ID})
	}
	return keyboard.InlineButtons(btns...)
}

// handleChannels serves /channels.
func (a *App) handleChannels(c tele.Context) error {
	if len(a.cfg.Channels) == 0 {
		return tghelpers.SendText(c, noChannelsText)
	}
	return tghelpers.SendMD(c, channelsText, a.directoryMarkup())
}

func (a *App) handleChannel(c tele.Context) error {
	ch, ok := a.channel(callbacks.CallbackPayload(c))
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Channel not found!", ShowAlert: true})
	}
	markup := keyboard.InlineButtons(
		keyboard.InlineBtn{Text: "🌟 Join Channel", WebApp: a.joinURL(ch.Link)},
		keyboard.InlineBtn{Text: "« Back to Channels", Unique: cbBack},
	)
	return tghelpers.EditOrSendMD(c, fmt.Sprintf(channelText, format.MD(ch.Title)), markup)
}

func (a *App) handleBack(c tele.Context) error {
	return tghelpers.EditOrSendMD(c, channelsText, a.directoryMarkup())
}
