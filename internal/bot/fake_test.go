package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/internal/geo"
	"github.com/m3rciful/linkguard/internal/kvstore/jsonfile"
)

const adminID = 1

type reply struct {
	what   interface{}
	markup *tele.ReplyMarkup
	edit   bool
}

func (r reply) text() string {
	switch v := r.what.(type) {
	case string:
		return v
	case *tele.Photo:
		return v.Caption
	}
	return ""
}

type fakeContext struct {
	tele.Context
	update  tele.Update
	store   map[string]any
	replies []reply
	answers []*tele.CallbackResponse
}

func newMessage(userID int64, text string) *fakeContext {
	msg := &tele.Message{
		ID:     10,
		Sender: &tele.User{ID: userID, FirstName: "Asha"},
		Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		Text:   text,
	}
	if strings.HasPrefix(text, "/") {
		_, msg.Payload, _ = strings.Cut(text, " ")
	}
	return &fakeContext{update: tele.Update{ID: 1, Message: msg}, store: map[string]any{}}
}

func newCallback(userID int64, unique, data string) *fakeContext {
	user := &tele.User{ID: userID}
	cb := &tele.Callback{
		ID:     "cb",
		Sender: user,
		Unique: unique,
		Data:   data,
		Message: &tele.Message{
			ID:     20,
			Sender: &tele.User{ID: 999, IsBot: true},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		},
	}
	return &fakeContext{update: tele.Update{ID: 2, Callback: cb}, store: map[string]any{}}
}

func (f *fakeContext) Update() tele.Update { return f.update }

func (f *fakeContext) Message() *tele.Message {
	if f.update.Callback != nil {
		return f.update.Callback.Message
	}
	return f.update.Message
}

func (f *fakeContext) Callback() *tele.Callback { return f.update.Callback }

func (f *fakeContext) Sender() *tele.User {
	if f.update.Callback != nil {
		return f.update.Callback.Sender
	}
	return f.update.Message.Sender
}

func (f *fakeContext) Chat() *tele.Chat { return f.Message().Chat }

func (f *fakeContext) Text() string {
	if f.update.Message == nil {
		return ""
	}
	return f.update.Message.Text
}

func (f *fakeContext) Args() []string {
	if f.update.Callback != nil {
		if f.update.Callback.Data == "" {
			return nil
		}
		return strings.Split(f.update.Callback.Data, "|")
	}
	return strings.Fields(f.update.Message.Payload)
}

func (f *fakeContext) Get(k string) any    { return f.store[k] }
func (f *fakeContext) Set(k string, v any) { f.store[k] = v }

func markupOf(opts []interface{}) *tele.ReplyMarkup {
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			return so.ReplyMarkup
		}
	}
	return nil
}

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.replies = append(f.replies, reply{what: what, markup: markupOf(opts)})
	return nil
}

func (f *fakeContext) EditOrSend(what interface{}, opts ...interface{}) error {
	f.replies = append(f.replies, reply{what: what, markup: markupOf(opts), edit: f.update.Callback != nil})
	return nil
}

func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	if len(resp) > 0 {
		f.answers = append(f.answers, resp[0])
	}
	return nil
}

func (f *fakeContext) last(t *testing.T) reply {
	t.Helper()
	require.NotEmpty(t, f.replies)
	return f.replies[len(f.replies)-1]
}

type stubProvider struct {
	mu    sync.Mutex
	loc   geo.Location
	err   error
	calls int
}

func (p *stubProvider) Lookup(_ context.Context, addr string) (geo.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return geo.Location{}, p.err
	}
	loc := p.loc
	loc.Address = "203.0.113.7"
	return loc, nil
}

func india() geo.Location {
	return geo.Location{Known: true, Country: "India", Region: "Gujarat", City: "Surat", ISP: "Jio", Timezone: "Asia/Kolkata"}
}

func testConfig() *coreconfig.Config {
	return &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{AdminID: adminID},
		Links: coreconfig.LinksConfig{
			TTL:             time.Hour,
			RedirectPage:    "https://r.example.com/redirect.html",
			AllowedPrefixes: coreconfig.DefaultAllowedPrefixes,
		},
		Verification: coreconfig.VerificationConfig{TTL: 10 * time.Minute},
		Geo: coreconfig.GeoConfig{
			AllowedCountries: []string{"India"},
			Timeout:          time.Second,
			CacheSize:        100,
		},
		Channels: []coreconfig.ChannelConfig{
			{ID: "gaming", Title: "🎮 Gaming Zone", Link: "https://t.me/+abcdef"},
		},
	}
}

func newTestApp(t *testing.T, cfg *coreconfig.Config, provider geo.Provider) *App {
	t.Helper()
	store, err := jsonfile.Open(t.TempDir())
	require.NoError(t, err)
	app, err := NewWithProvider(cfg, store, provider)
	require.NoError(t, err)
	app.botUsername = "guard_bot"
	return app
}
