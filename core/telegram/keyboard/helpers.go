// Package keyboard builds inline keyboards.
package keyboard

import (
	"net/url"

	tele "gopkg.in/telebot.v4"
)

// InlineBtn describes one inline button. Exactly one of Unique, URL or
// WebApp should be set.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
	URL    string
	WebApp string
}

// Inline converts b to a telebot inline button.
func (b InlineBtn) Inline() tele.InlineButton {
	switch {
	case b.WebApp != "":
		return tele.InlineButton{Text: b.Text, WebApp: &tele.WebApp{URL: b.WebApp}}
	case b.URL != "":
		return tele.InlineButton{Text: b.Text, URL: b.URL}
	}
	return tele.InlineButton{Text: b.Text, Unique: b.Unique, Data: b.Data}
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons ...InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = btn.Inline()
		}
		inline[i] = r
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons...)
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		rows = append(rows, buttons[i:min(i+n, len(buttons))])
	}
	return InlineButtonsRows(rows...)
}

// ShareURL returns a t.me link that opens the share dialog for link.
func ShareURL(link string) string {
	return "https://t.me/share/url?" + url.Values{"url": {link}}.Encode()
}
