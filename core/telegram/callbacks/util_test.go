package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"nil", nil, "", ""},
		{"encoded", &tele.Callback{Data: "\fchannel|-100123"}, "channel", "-100123"},
		{"no payload", &tele.Callback{Data: "\fback"}, "back", ""},
		{"unique set", &tele.Callback{Unique: "bc_confirm", Data: ""}, "bc_confirm", ""},
		{"unique with raw data", &tele.Callback{Unique: "channel", Data: "42"}, "channel", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, payload := ParseCallbackData(tt.cb)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.payload, payload)
		})
	}
}
