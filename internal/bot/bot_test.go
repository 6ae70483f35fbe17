package bot

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/internal/access"
	"github.com/m3rciful/linkguard/internal/broadcast"
	"github.com/m3rciful/linkguard/internal/session"
)

func startLink(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "?start=")
	require.GreaterOrEqual(t, i, 0, text)
	raw := text[i+len("?start="):]
	if j := strings.IndexAny(raw, "`\\ \n"); j >= 0 {
		raw = raw[:j]
	}
	return raw
}

func TestStartWelcomesAllowedUser(t *testing.T) {
	provider := &stubProvider{loc: india()}
	app := newTestApp(t, testConfig(), provider)

	c := newMessage(42, "/start")
	require.NoError(t, app.handleStart(c))
	assert.Contains(t, c.last(t).text(), "Welcome Asha")

	v, err := app.access.Check(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, access.Allowed, v)
}

func TestStartBansDeniedCountry(t *testing.T) {
	provider := &stubProvider{err: errors.New("502")}
	app := newTestApp(t, testConfig(), provider)

	for i := 0; i < 2; i++ {
		c := newMessage(42, "/start")
		require.NoError(t, app.handleStart(c))
		assert.Contains(t, c.last(t).text(), "banned")
	}
	assert.Equal(t, 1, provider.calls)

	v, err := app.access.Check(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, access.Denied, v)
}

func TestProtectAndOpenLink(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})

	c := newMessage(42, "/protect https://t.me/sample")
	require.NoError(t, app.handleProtect(c))
	out := c.last(t)
	assert.Contains(t, out.text(), "https://t.me/guard_bot?start=L1")
	require.NotNil(t, out.markup)
	assert.True(t, strings.HasPrefix(out.markup.InlineKeyboard[0][0].URL, "https://t.me/share/url?url="))

	raw := startLink(t, out.text())
	c = newMessage(42, "/start "+raw)
	require.NoError(t, app.handleStart(c))
	join := c.last(t)
	require.NotNil(t, join.markup)
	webApp := join.markup.InlineKeyboard[0][0].WebApp
	require.NotNil(t, webApp)
	u, err := url.Parse(webApp.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/sample", u.Query().Get("url"))
}

func TestProtectRejectsForeignLink(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	for _, text := range []string{"/protect", "/protect https://evil.example.com/x"} {
		c := newMessage(42, text)
		require.NoError(t, app.handleProtect(c))
		assert.Contains(t, c.last(t).text(), "valid Telegram link")
	}
}

func TestStartUnknownLink(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	c := newMessage(42, "/start L1AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, app.handleStart(c))
	assert.Equal(t, linkExpiredText, c.last(t).text())
}

func TestWebVerificationResumesLink(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.Listen = ":8080"
	cfg.Verification.PublicURL = "https://verify.example.com"
	provider := &stubProvider{loc: india()}
	app := newTestApp(t, cfg, provider)
	ctx := context.Background()

	linkRaw, err := app.links.Protect(ctx, "https://t.me/sample", time.Hour)
	require.NoError(t, err)

	c := newMessage(42, "/start "+linkRaw)
	require.NoError(t, app.handleStart(c))
	prompt := c.last(t)
	require.NotNil(t, prompt.markup)
	verifyURL := prompt.markup.InlineKeyboard[0][0].URL
	require.True(t, strings.HasPrefix(verifyURL, "https://verify.example.com/verify/V1"), verifyURL)
	assert.Zero(t, provider.calls, "the bot leaves the lookup to the web step")

	vRaw := strings.TrimPrefix(verifyURL, "https://verify.example.com/verify/")
	_, err = app.gate.Decide(ctx, 42, "203.0.113.7")
	require.NoError(t, err)

	c = newMessage(42, "/start "+vRaw)
	require.NoError(t, app.handleStart(c))
	join := c.last(t)
	require.NotNil(t, join.markup)
	assert.Contains(t, join.markup.InlineKeyboard[0][0].WebApp.URL, "url=https%3A%2F%2Ft.me%2Fsample")

	c = newMessage(42, "/start "+vRaw)
	require.NoError(t, app.handleStart(c))
	assert.Equal(t, verifyExpiredText, c.last(t).text())
}

func TestVerificationOwnedByAnotherUser(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.Listen = ":8080"
	cfg.Verification.PublicURL = "https://verify.example.com"
	app := newTestApp(t, cfg, &stubProvider{loc: india()})

	raw, err := app.links.IssueVerification(context.Background(), 42, "")
	require.NoError(t, err)
	c := newMessage(7, "/start "+raw)
	require.NoError(t, app.handleStart(c))
	assert.Equal(t, verifyExpiredText, c.last(t).text())
}

func TestPostFlowWithoutImage(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})

	c := newMessage(42, "/post t.me/sample")
	require.NoError(t, app.handlePost(c))
	assert.True(t, app.InProgress(42))
	assert.IsType(t, session.AwaitingCaption{}, app.sessions.Get(42))

	c = newMessage(42, "Join my_channel")
	require.NoError(t, app.ManagerHandler(c))
	choice := c.last(t)
	require.NotNil(t, choice.markup)
	assert.Equal(t, cbAddImage, choice.markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, session.AwaitingImageChoice{Destination: "https://t.me/sample", Caption: "Join my_channel"}, app.sessions.Get(42))

	cb := newCallback(42, cbNoImage, "")
	require.NoError(t, app.handleNoImage(cb))
	post := cb.last(t)
	assert.Contains(t, post.text(), "Join my\\_channel")
	assert.Contains(t, post.text(), "start=L1")
	assert.False(t, app.InProgress(42))
}

func TestPostFlowWithImage(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	app.sessions.Set(42, session.AwaitingImageChoice{Destination: "https://t.me/sample", Caption: "hi"})

	cb := newCallback(42, cbAddImage, "")
	require.NoError(t, app.handleAddImage(cb))
	assert.IsType(t, session.AwaitingImage{}, app.sessions.Get(42))

	c := newMessage(42, "not a photo")
	require.NoError(t, app.ManagerHandler(c))
	assert.Equal(t, sendImageText, c.last(t).text())

	c = newMessage(42, "")
	c.update.Message.Photo = &tele.Photo{File: tele.File{FileID: "PHOTO1"}}
	require.NoError(t, app.ManagerHandler(c))
	photo, ok := c.last(t).what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "PHOTO1", photo.FileID)
	assert.Contains(t, photo.Caption, "Secured by @guard\\_bot")
	assert.False(t, app.InProgress(42))
}

func TestNoImageWithoutConversation(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	cb := newCallback(42, cbNoImage, "")
	require.NoError(t, app.handleNoImage(cb))
	assert.Empty(t, cb.replies)
	require.Len(t, cb.answers, 1)
}

func TestChannels(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})

	c := newMessage(42, "/channels")
	require.NoError(t, app.handleChannels(c))
	btn := c.last(t).markup.InlineKeyboard[0][0]
	assert.Equal(t, cbChannel, btn.Unique)
	assert.Equal(t, "gaming", btn.Data)

	cb := newCallback(42, "", "\fchannel|gaming")
	require.NoError(t, app.handleChannel(cb))
	out := cb.last(t)
	assert.True(t, out.edit)
	assert.Contains(t, out.markup.InlineKeyboard[0][0].WebApp.URL, "url=https%3A%2F%2Ft.me%2F%2Babcdef")
	assert.Equal(t, cbBack, out.markup.InlineKeyboard[1][0].Unique)

	cb = newCallback(42, cbChannel, "missing")
	require.NoError(t, app.handleChannel(cb))
	require.Len(t, cb.answers, 1)
	assert.True(t, cb.answers[0].ShowAlert)
}

func TestGeoReport(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	c := newMessage(42, "/geo")
	require.NoError(t, app.handleGeo(c))
	text := c.last(t).text()
	assert.Contains(t, text, "`203.0.113.7`")
	assert.Contains(t, text, "`Surat`")
	assert.Contains(t, text, geoAllowedText)
	assert.Contains(t, text, "Bot Connection")

	unknown := newTestApp(t, testConfig(), &stubProvider{err: errors.New("down")})
	c = newMessage(42, "/geo")
	require.NoError(t, unknown.handleGeo(c))
	assert.Contains(t, c.last(t).text(), "not allowed")
}

func TestGatedHandlerDeniesBannedUser(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	require.NoError(t, app.access.MarkBanned(context.Background(), 42, "Germany"))

	var called bool
	h := app.gated(func(tele.Context) error { called = true; return nil })
	c := newMessage(42, "/protect t.me/x")
	require.NoError(t, h(c))
	assert.False(t, called)
	assert.Contains(t, c.last(t).text(), bannedText)
}

func TestBanAndUnban(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	ctx := context.Background()

	tests := []struct {
		handler func(tele.Context) error
		text    string
		want    string
	}{
		{app.handleBan, "/ban", banUsageText},
		{app.handleBan, "/ban abc", badUserIDText},
		{app.handleUnban, "/unban 1 2", unbanUsageText},
		{app.handleUnban, "/unban 77", "User 77 is not banned"},
		{app.handleBan, "/ban 77", "Banned user: 77"},
	}
	for _, tt := range tests {
		c := newMessage(adminID, tt.text)
		require.NoError(t, tt.handler(c))
		assert.Equal(t, tt.want, c.last(t).text(), tt.text)
	}
	v, err := app.access.Check(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, access.Denied, v)

	c := newMessage(adminID, "/unban 77")
	require.NoError(t, app.handleUnban(c))
	assert.Equal(t, "Unbanned user: 77", c.last(t).text())
	v, err = app.access.Check(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, access.Unverified, v)
}

func TestStats(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	ctx := context.Background()
	require.NoError(t, app.audience.Add(ctx, 42))
	_, err := app.links.Protect(ctx, "https://t.me/sample", time.Hour)
	require.NoError(t, err)
	_, err = app.gate.Decide(ctx, 42, "203.0.113.7")
	require.NoError(t, err)

	c := newMessage(adminID, "/stats")
	require.NoError(t, app.handleStats(c))
	text := c.last(t).text()
	assert.Contains(t, text, "Subscribers: `1`")
	assert.Contains(t, text, "Protected links: `1`")
	assert.Contains(t, text, "Verified users: `1`")
	assert.Contains(t, text, "✅ India: `1`")
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []int64
}

func (r *recordingTransport) Send(_ context.Context, id int64, _ broadcast.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, id)
	return nil
}

type fakeEditor struct {
	mu    sync.Mutex
	texts []string
}

func (e *fakeEditor) Edit(_ tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, what.(string))
	return &tele.Message{}, nil
}

func (e *fakeEditor) lastText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.texts) == 0 {
		return ""
	}
	return e.texts[len(e.texts)-1]
}

func TestBroadcastConfirmFlow(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	ctx := context.Background()
	transport := &recordingTransport{}
	editor := &fakeEditor{}
	app.broadcasts = broadcast.NewManager(transport, app.audience, broadcast.Options{ProgressEvery: 1})
	app.editor = editor
	for _, id := range []int64{10, 11, 12} {
		require.NoError(t, app.audience.Add(ctx, id))
	}

	c := newMessage(adminID, "/broadcast")
	require.NoError(t, app.handleBroadcast(c))
	assert.Equal(t, broadcastUsageText, c.last(t).text())

	c = newMessage(adminID, "/broadcast hello all")
	require.NoError(t, app.handleBroadcast(c))
	confirm := c.last(t)
	assert.Contains(t, confirm.text(), "3 users")
	assert.Equal(t, cbBroadcastConfirm, confirm.markup.InlineKeyboard[0][0].Unique)

	cb := newCallback(adminID, cbBroadcastConfirm, "")
	require.NoError(t, app.handleBroadcastConfirm(cb))
	assert.Eventually(t, func() bool {
		return strings.Contains(editor.lastText(), "Broadcast Completed")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, editor.lastText(), "Successful: 3")
	assert.ElementsMatch(t, []int64{10, 11, 12}, transport.sent)

	cb = newCallback(adminID, cbBroadcastConfirm, "")
	require.NoError(t, app.handleBroadcastConfirm(cb))
	require.Len(t, cb.answers, 1)
	assert.Equal(t, broadcastGoneText, cb.answers[0].Text)
}

func TestBroadcastCancelAndReplyMedia(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	app.broadcasts = broadcast.NewManager(&recordingTransport{}, app.audience, broadcast.Options{})
	require.NoError(t, app.audience.Add(context.Background(), 10))

	c := newMessage(adminID, "/broadcast")
	c.update.Message.ReplyTo = &tele.Message{Caption: "new video", Video: &tele.Video{File: tele.File{FileID: "VID"}}}
	msg := broadcastMessage(c)
	require.NotNil(t, msg.Media)
	assert.Equal(t, broadcast.MediaVideo, msg.Media.Kind)
	assert.Equal(t, "new video", msg.Text)

	require.NoError(t, app.handleBroadcast(c))
	cb := newCallback(adminID, cbBroadcastCancel, "")
	require.NoError(t, app.handleBroadcastCancel(cb))
	assert.Equal(t, broadcastCancelText, cb.last(t).text())
	_, pending := app.takePending(adminID)
	assert.False(t, pending)

	stop := newMessage(adminID, "/stopbroadcast")
	require.NoError(t, app.handleStopBroadcast(stop))
	assert.Equal(t, noBroadcastText, stop.last(t).text())
}

func TestTrackAudience(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	h := app.trackAudience(func(tele.Context) error { return nil })
	require.NoError(t, h(newMessage(42, "hi")))
	require.NoError(t, h(newMessage(42, "again")))

	ids, err := app.audience.Recipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)
}

func TestTelegramRunOptions(t *testing.T) {
	app := newTestApp(t, testConfig(), &stubProvider{loc: india()})
	opts, err := app.TelegramRunOptions()
	require.NoError(t, err)

	endpoints := map[any]bool{}
	for _, r := range opts.Routes {
		endpoints[r.Endpoint] = true
	}
	for _, e := range []any{"/start", "/protect", "/gdv", "/post", "/geo", "/myip", "/stats", "/ipstats", tele.OnCallback, tele.OnText, tele.OnPhoto} {
		assert.True(t, endpoints[e], e)
	}
	geoCmd := opts.Registry.Commands()["/geo"]
	assert.NotContains(t, strings.ToLower(geoCmd.Description), "your")
	assert.Contains(t, geoCmd.Description, "bot connection")
	assert.ElementsMatch(t,
		[]string{cbAddImage, cbBack, cbBroadcastCancel, cbBroadcastConfirm, cbBroadcastStop, cbChannel, cbNoImage},
		opts.Registry.ListCallbacks(),
	)
}
