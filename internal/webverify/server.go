// Package webverify serves the browser step of user verification. The bot
// sends an unverified user to /verify/{token}; the page checks the address
// the request comes from and hands the user back to the bot.
package webverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/core/ratelimit"
	"github.com/m3rciful/linkguard/internal/access"
	"github.com/m3rciful/linkguard/internal/links"
	"github.com/m3rciful/linkguard/internal/token"
)

const (
	msgNotFound = "This verification link is expired or invalid. Send /start to the bot to get a new one."
	msgDenied   = "Access denied: this service is not available in your region."
	msgLimited  = "Too many requests, try again in a minute."
	msgFailed   = "Verification failed, please try again later."
)

// Owners looks up who a verification token was issued to.
type Owners interface {
	VerificationOwner(ctx context.Context, raw string) (int64, error)
}

// Checker reports the stored access verdict of a user.
type Checker interface {
	Check(ctx context.Context, userID int64) (access.Verdict, error)
}

// Decider runs the geolocation gate.
type Decider interface {
	Decide(ctx context.Context, userID int64, addr string) (access.Verdict, error)
}

// Options configures the handler.
type Options struct {
	// BotUsername is the bot the user is sent back to.
	BotUsername string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// PerAddress limits requests per client address per minute. Zero
	// disables the limit.
	PerAddress int
}

// Server serves the verification endpoint.
type Server struct {
	opts    Options
	owners  Owners
	checker Checker
	decider Decider
	limiter *ratelimit.Keyed[string]
}

// New builds a Server.
func New(opts Options, owners Owners, checker Checker, decider Decider) *Server {
	s := &Server{opts: opts, owners: owners, checker: checker, decider: decider}
	if opts.PerAddress > 0 {
		s.limiter = ratelimit.NewKeyed[string](rate.Every(time.Minute/time.Duration(opts.PerAddress)), opts.PerAddress)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Get("/verify/{token}", s.verify)
	return r
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "token")
	addr := clientAddress(r)

	if s.limiter != nil && !s.limiter.Allow(addr) {
		logger.Warn(ctx, logger.CompWeb, "verify.rate_limited", slog.String("status", "rate_limited"))
		writeText(w, http.StatusTooManyRequests, msgLimited)
		return
	}

	userID, err := s.owners.VerificationOwner(ctx, raw)
	if err != nil {
		if !errors.Is(err, links.ErrNotFound) {
			logger.Error(ctx, logger.CompWeb, "verify.owner", slog.String("err", err.Error()))
			writeText(w, http.StatusInternalServerError, msgFailed)
			return
		}
		logger.Info(ctx, logger.CompWeb, "verify.unknown_token",
			slog.String("status", "skip"),
			slog.Any("token", token.Redacted(raw)),
		)
		writeText(w, http.StatusNotFound, msgNotFound)
		return
	}
	ctx = logger.WithUser(ctx, userID)

	verdict, err := s.checker.Check(ctx, userID)
	if err == nil && verdict == access.Unverified {
		verdict, err = s.decider.Decide(ctx, userID, addr)
	}
	if err != nil && ctx.Err() != nil {
		logger.Info(ctx, logger.CompWeb, "verify.abandoned", slog.String("status", "skip"))
		return
	}
	if err != nil {
		logger.Error(ctx, logger.CompWeb, "verify.decide", slog.String("err", err.Error()))
		writeText(w, http.StatusInternalServerError, msgFailed)
		return
	}

	logger.Info(ctx, logger.CompWeb, "verify.done",
		slog.String("verdict", verdict.String()),
		slog.Any("token", token.Redacted(raw)),
	)
	if verdict != access.Allowed {
		writeText(w, http.StatusForbidden, msgDenied)
		return
	}
	http.Redirect(w, r, DeepLink(s.opts.BotUsername, raw), http.StatusFound)
}

// DeepLink returns the t.me link that opens the bot with payload as the
// start parameter.
func DeepLink(botUsername, payload string) string {
	u := url.URL{Scheme: "https", Host: "t.me", Path: "/" + strings.TrimPrefix(botUsername, "@")}
	if payload != "" {
		u.RawQuery = url.Values{"start": {payload}}.Encode()
	}
	return u.String()
}

// VerifyURL returns the public address of the verification page for raw.
func VerifyURL(publicURL, raw string) string {
	return strings.TrimRight(publicURL, "/") + "/verify/" + url.PathEscape(raw)
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return host
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, msg)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRID(r.Context(), chimiddleware.GetReqID(r.Context()))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Event(ctx, logger.CompWeb, level, "http.request",
			slog.String("method", r.Method),
			slog.String("route", chi.RouteContext(r.Context()).RoutePattern()),
			slog.Int("code", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	if s.limiter != nil {
		go s.limiter.Run(ctx, 0)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, logger.CompWeb, "http.listen", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webverify: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webverify: shutdown: %w", err)
	}
	logger.Info(ctx, logger.CompWeb, "http.stopped")
	return nil
}
