package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/internal/broadcast"
)

type sent struct {
	to   tele.Recipient
	what interface{}
}

type fakeClient struct {
	calls []sent
	err   error
}

func (f *fakeClient) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.calls = append(f.calls, sent{to: to, what: what})
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{}, nil
}

func TestSendText(t *testing.T) {
	client := &fakeClient{}
	s := New(client, Options{})

	require.NoError(t, s.Send(context.Background(), 42, broadcast.Message{Text: "hello"}))
	require.Len(t, client.calls, 1)
	assert.Equal(t, "42", client.calls[0].to.Recipient())
	assert.Equal(t, "hello", client.calls[0].what)
}

func TestSendMapsFloodError(t *testing.T) {
	client := &fakeClient{err: tele.FloodError{RetryAfter: 3}}
	s := New(client, Options{})

	err := s.Send(context.Background(), 1, broadcast.Message{Text: "x"})
	var rl *broadcast.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
}

func TestSendPassesOtherErrors(t *testing.T) {
	client := &fakeClient{err: tele.ErrBlockedByUser}
	s := New(client, Options{})

	err := s.Send(context.Background(), 1, broadcast.Message{Text: "x"})
	assert.ErrorIs(t, err, tele.ErrBlockedByUser)
}

func TestContent(t *testing.T) {
	what, err := Content(broadcast.Message{Text: "cap", Media: &broadcast.Media{Kind: broadcast.MediaPhoto, FileID: "F1"}})
	require.NoError(t, err)
	photo, ok := what.(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "F1", photo.FileID)
	assert.Equal(t, "cap", photo.Caption)

	what, err = Content(broadcast.Message{Media: &broadcast.Media{Kind: broadcast.MediaVideo, FileID: "V"}})
	require.NoError(t, err)
	assert.IsType(t, &tele.Video{}, what)

	what, err = Content(broadcast.Message{Media: &broadcast.Media{Kind: broadcast.MediaDocument, FileID: "D"}})
	require.NoError(t, err)
	assert.IsType(t, &tele.Document{}, what)

	_, err = Content(broadcast.Message{})
	assert.Error(t, err)
	_, err = Content(broadcast.Message{Media: &broadcast.Media{Kind: "sticker", FileID: "S"}})
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{&net.DNSError{Err: "no such host"}, "dns"},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, "dial"},
		{tele.ErrBlockedByUser, "blocked"},
		{tele.NewError(400, "Bad Request: chat not found"), "http_4xx"},
		{fmt.Errorf("telegram: internal (502)"), "http_5xx"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), fmt.Sprint(tt.err))
	}
}

func TestScrub(t *testing.T) {
	msg := `Post "https://api.telegram.org/bot123456:AAH-secret_token/sendMessage": timeout`
	assert.Equal(t, `Post "https://api.telegram.org/bot<redacted>/sendMessage": timeout`, Scrub(msg))
}
