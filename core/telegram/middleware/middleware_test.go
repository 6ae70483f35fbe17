package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/ratelimit"
	"github.com/m3rciful/linkguard/internal/access"
)

type fakeContext struct {
	tele.Context
	update tele.Update
	store  map[string]any
}

func newFakeContext(userID int64, text string) *fakeContext {
	user := &tele.User{ID: userID}
	return &fakeContext{
		update: tele.Update{ID: 7, Message: &tele.Message{
			Sender: user,
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   text,
		}},
		store: map[string]any{},
	}
}

func (f *fakeContext) Update() tele.Update { return f.update }
func (f *fakeContext) Sender() *tele.User  { return f.update.Message.Sender }
func (f *fakeContext) Chat() *tele.Chat    { return f.update.Message.Chat }
func (f *fakeContext) Text() string        { return f.update.Message.Text }
func (f *fakeContext) Get(k string) any    { return f.store[k] }
func (f *fakeContext) Set(k string, v any) { f.store[k] = v }

type checkerFunc func(int64) (access.Verdict, error)

func (f checkerFunc) Check(_ context.Context, id int64) (access.Verdict, error) { return f(id) }

func counter(n *int) tele.HandlerFunc {
	return func(tele.Context) error { *n++; return nil }
}

func TestAdminOnly(t *testing.T) {
	var calls, rejected int
	mw := AdminOnlyMiddleware(AdminOptions{AdminID: 1, OnReject: counter(&rejected)})

	require.NoError(t, mw(counter(&calls))(newFakeContext(1, "/stats")))
	require.NoError(t, mw(counter(&calls))(newFakeContext(2, "/stats")))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rejected)
}

func TestAccessMiddleware(t *testing.T) {
	verdicts := map[int64]access.Verdict{1: access.Allowed, 2: access.Denied, 3: access.Unverified}
	var calls, denied, unverified int
	mw := AccessMiddleware(GateOptions{
		Checker:      checkerFunc(func(id int64) (access.Verdict, error) { return verdicts[id], nil }),
		Exempt:       99,
		OnDenied:     counter(&denied),
		OnUnverified: counter(&unverified),
	})
	h := mw(counter(&calls))

	for _, id := range []int64{1, 2, 3, 99} {
		require.NoError(t, h(newFakeContext(id, "/geo")))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, denied)
	assert.Equal(t, 1, unverified)
}

func TestAccessMiddlewareCheckError(t *testing.T) {
	boom := errors.New("store down")
	mw := AccessMiddleware(GateOptions{
		Checker: checkerFunc(func(int64) (access.Verdict, error) { return access.Unverified, boom }),
	})
	var calls int
	assert.ErrorIs(t, mw(counter(&calls))(newFakeContext(1, "/geo")), boom)
	assert.Zero(t, calls)
}

func TestRateLimitMiddleware(t *testing.T) {
	var calls, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Limiter:   ratelimit.NewKeyed[int64](rate.Every(time.Hour), 1),
		OnLimited: counter(&limited),
	})
	h := mw(counter(&calls))

	require.NoError(t, h(newFakeContext(1, "a")))
	require.NoError(t, h(newFakeContext(1, "b")))
	require.NoError(t, h(newFakeContext(2, "c")))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, limited)
}

func TestRateLimitExclude(t *testing.T) {
	var calls int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Burst:    1,
		Exclude:  map[string]struct{}{"message": {}},
	})
	h := mw(counter(&calls))
	for i := 0; i < 3; i++ {
		require.NoError(t, h(newFakeContext(1, "x")))
	}
	assert.Equal(t, 3, calls)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newFakeContext(1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoggerMiddlewareStoresContext(t *testing.T) {
	c := newFakeContext(5, "/start")
	var rid string
	h := LoggerMiddleware(func(c tele.Context) error {
		rid, _ = c.Get("rid").(string)
		_, ok := c.Get("logger_ctx").(context.Context)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, h(c))
	assert.NotEmpty(t, rid)
}
