// Package sender adapts the Telegram client to the broadcast transport and
// classifies delivery failures for logging.
package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/broadcast"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Client is the part of *tele.Bot used for delivery.
type Client interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Options controls how messages are rendered.
type Options struct {
	ParseMode tele.ParseMode
}

// Sender delivers broadcast messages through Telegram.
type Sender struct {
	client Client
	opts   Options
}

// New returns a Sender for client.
func New(client Client, opts Options) *Sender {
	return &Sender{client: client, opts: opts}
}

// Send implements broadcast.Transport. A flood-control reply is reported as
// a *broadcast.RateLimitedError.
func (s *Sender) Send(ctx context.Context, recipient int64, msg broadcast.Message) error {
	start := time.Now()
	what, err := Content(msg)
	if err != nil {
		return err
	}
	sendOpts := &tele.SendOptions{ParseMode: s.opts.ParseMode, DisableWebPagePreview: msg.Media == nil}
	_, err = s.client.Send(tele.ChatID(recipient), what, sendOpts)
	if err == nil {
		logger.Debug(ctx, logger.CompTGSender, "send.success",
			slog.Int64("target_id", recipient),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		retry := time.Duration(flood.RetryAfter) * time.Second
		logger.Warn(ctx, logger.CompTGSender, "send.flood",
			slog.String("status", "rate_limited"),
			slog.Int64("target_id", recipient),
			slog.Duration("retry_after", retry),
		)
		return &broadcast.RateLimitedError{RetryAfter: retry}
	}

	logger.Debug(ctx, logger.CompTGSender, "send.fail",
		slog.Int64("target_id", recipient),
		slog.String("error_kind", ClassifyError(err)),
		slog.String("err", Scrub(err.Error())),
		slog.Duration("duration", time.Since(start)),
	)
	return err
}

// Content builds the telebot payload for msg.
func Content(msg broadcast.Message) (interface{}, error) {
	if msg.Media == nil {
		if msg.Text == "" {
			return nil, errors.New("sender: empty message")
		}
		return msg.Text, nil
	}
	file := tele.File{FileID: msg.Media.FileID}
	switch msg.Media.Kind {
	case broadcast.MediaPhoto:
		return &tele.Photo{File: file, Caption: msg.Text}, nil
	case broadcast.MediaVideo:
		return &tele.Video{File: file, Caption: msg.Text}, nil
	case broadcast.MediaDocument:
		return &tele.Document{File: file, Caption: msg.Text}, nil
	}
	return nil, errors.New("sender: unsupported media kind " + string(msg.Media.Kind))
}

// ClassifyError buckets a delivery error for logs.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return "dial"
		}
		if kind := ClassifyError(opErr.Err); kind != "unknown" {
			return kind
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
		if kind := ClassifyError(urlErr.Err); kind != "unknown" {
			return kind
		}
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return "tls"
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusForbidden:
		return "blocked"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}

	return "unknown"
}

// Scrub removes Telegram bot tokens from msg.
func Scrub(msg string) string {
	return tokenRe.ReplaceAllString(msg, "bot<redacted>")
}

func httpStatusFromError(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	msg := err.Error()
	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		codeStr := strings.TrimSpace(msg[lastOpen+1 : lastClose])
		if code, convErr := strconv.Atoi(codeStr); convErr == nil {
			return code
		}
	}

	return 0
}
