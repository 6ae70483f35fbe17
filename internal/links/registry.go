// Package links maps opaque tokens to protected destination links and
// issues the one-shot tokens used by the verification step.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/kvstore"
	"github.com/m3rciful/linkguard/internal/token"
)

const (
	collectionLinks         = "links"
	collectionVerifications = "verifications"

	// DefaultTTL applies when Protect is called without a positive ttl.
	DefaultTTL = 365 * 24 * time.Hour
	// DefaultVerificationTTL is the lifetime of a verification token.
	DefaultVerificationTTL = 10 * time.Minute
)

var (
	// ErrNotFound covers malformed, unknown, corrupt and expired tokens alike.
	ErrNotFound = errors.New("links: not found")
	// ErrInvalidDestination is returned by CheckDestination.
	ErrInvalidDestination = errors.New("links: invalid destination")
)

type linkRecord struct {
	Destination string `json:"destination"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Registry issues and resolves tokens on top of a kvstore.Store.
type Registry struct {
	store kvstore.Store

	// NowFunc is used to get the current time.
	NowFunc func() time.Time
	// VerificationTTL is the lifetime of tokens from IssueVerification.
	VerificationTTL time.Duration
}

// NewRegistry returns a registry backed by store.
func NewRegistry(store kvstore.Store) *Registry {
	return &Registry{
		store:           store,
		NowFunc:         time.Now,
		VerificationTTL: DefaultVerificationTTL,
	}
}

// CheckDestination validates a destination link against the accepted
// prefixes and returns it in canonical https form.
func CheckDestination(raw string, prefixes []string) (string, error) {
	dest := strings.TrimSpace(raw)
	if dest == "" || strings.ContainsAny(dest, " \t\r\n") {
		return "", ErrInvalidDestination
	}
	lower := strings.ToLower(dest)
	for _, p := range prefixes {
		p = strings.ToLower(p)
		if !strings.HasPrefix(lower, p) || len(dest) == len(p) {
			continue
		}
		rest := dest[len(p):]
		switch p {
		case "http://t.me/", "t.me/":
			return "https://t.me/" + rest, nil
		}
		return dest, nil
	}
	return "", ErrInvalidDestination
}

// Protect stores destination under a fresh link token and returns the token.
func (r *Registry) Protect(ctx context.Context, destination string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(destination) == "" {
		return "", ErrInvalidDestination
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	p, err := token.NewPayload(r.NowFunc(), ttl)
	if err != nil {
		return "", err
	}
	raw := token.Encode(token.KindLink, p)

	rec := linkRecord{Destination: destination, CreatedAt: p.CreatedAt, ExpiresAt: p.ExpiresAt}
	if err := r.store.Put(ctx, collectionLinks, raw, rec); err != nil {
		return "", fmt.Errorf("links: store link: %w", err)
	}
	logger.Info(ctx, logger.CompLinks, "link.protected",
		slog.Any("token", token.Redacted(raw)),
		slog.Time("expires_at", time.Unix(p.ExpiresAt, 0)),
	)
	return raw, nil
}

// Resolve returns the destination of a link token. An expired record is
// removed on the way.
func (r *Registry) Resolve(ctx context.Context, raw string) (string, error) {
	kind, _, err := token.Decode(raw)
	if err != nil || kind != token.KindLink {
		return "", ErrNotFound
	}

	var rec linkRecord
	ok, err := r.store.Get(ctx, collectionLinks, raw, &rec)
	if err != nil {
		return "", fmt.Errorf("links: load link: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}
	if rec.Destination == "" || rec.ExpiresAt == 0 {
		logger.Warn(ctx, logger.CompLinks, "link.corrupt", slog.Any("token", token.Redacted(raw)))
		return "", ErrNotFound
	}
	if r.NowFunc().Unix() >= rec.ExpiresAt {
		r.expire(ctx, collectionLinks, raw)
		return "", ErrNotFound
	}
	return rec.Destination, nil
}

// CountLinks returns the number of stored link records, expired ones included.
func (r *Registry) CountLinks(ctx context.Context) (int, error) {
	entries, err := r.store.List(ctx, collectionLinks)
	if err != nil {
		return 0, fmt.Errorf("links: list: %w", err)
	}
	return len(entries), nil
}

func (r *Registry) expire(ctx context.Context, collection, raw string) {
	if err := r.store.Delete(ctx, collection, raw); err != nil {
		logger.Warn(ctx, logger.CompLinks, "expire.failed",
			slog.String("collection", collection),
			slog.Any("token", token.Redacted(raw)),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Debug(ctx, logger.CompLinks, "expired",
		slog.String("collection", collection),
		slog.Any("token", token.Redacted(raw)),
	)
}
