package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/token"
)

// ErrOwnerMismatch is returned when a verification token is redeemed by
// someone other than the user it was issued to.
var ErrOwnerMismatch = errors.New("links: verification token belongs to another user")

// Verification is a pending verification issued to a single user.
type Verification struct {
	OwnerUserID int64 `json:"owner_user_id"`
	// Resume is the link token the user was trying to open, if any.
	Resume    string `json:"resume,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// IssueVerification creates a one-shot verification token for userID.
func (r *Registry) IssueVerification(ctx context.Context, userID int64, resume string) (string, error) {
	p, err := token.NewPayload(r.NowFunc(), r.VerificationTTL)
	if err != nil {
		return "", err
	}
	raw := token.Encode(token.KindVerify, p)

	v := Verification{OwnerUserID: userID, Resume: resume, CreatedAt: p.CreatedAt, ExpiresAt: p.ExpiresAt}
	if err := r.store.Put(ctx, collectionVerifications, raw, v); err != nil {
		return "", fmt.Errorf("links: store verification: %w", err)
	}
	logger.Info(ctx, logger.CompLinks, "verification.issued",
		slog.Int64("owner_id", userID),
		slog.Any("token", token.Redacted(raw)),
	)
	return raw, nil
}

func (r *Registry) loadVerification(ctx context.Context, raw string) (Verification, error) {
	kind, _, err := token.Decode(raw)
	if err != nil || kind != token.KindVerify {
		return Verification{}, ErrNotFound
	}
	var v Verification
	ok, err := r.store.Get(ctx, collectionVerifications, raw, &v)
	if err != nil {
		return Verification{}, fmt.Errorf("links: load verification: %w", err)
	}
	if !ok || v.OwnerUserID == 0 || v.ExpiresAt == 0 {
		return Verification{}, ErrNotFound
	}
	return v, nil
}

// VerificationOwner returns the user a live verification token was issued
// to without consuming it.
func (r *Registry) VerificationOwner(ctx context.Context, raw string) (int64, error) {
	v, err := r.loadVerification(ctx, raw)
	if err != nil {
		return 0, err
	}
	if r.NowFunc().Unix() >= v.ExpiresAt {
		r.expire(ctx, collectionVerifications, raw)
		return 0, ErrNotFound
	}
	return v.OwnerUserID, nil
}

// Redeem consumes a verification token on behalf of userID. Every attempt
// on a well-formed verification token removes its record, corrupt or not,
// whatever the outcome.
func (r *Registry) Redeem(ctx context.Context, raw string, userID int64) (Verification, error) {
	if kind, _, err := token.Decode(raw); err != nil || kind != token.KindVerify {
		return Verification{}, ErrNotFound
	}
	v, loadErr := r.loadVerification(ctx, raw)
	if loadErr != nil && !errors.Is(loadErr, ErrNotFound) {
		return Verification{}, loadErr
	}
	if err := r.store.Delete(ctx, collectionVerifications, raw); err != nil {
		return Verification{}, fmt.Errorf("links: consume verification: %w", err)
	}
	if loadErr != nil {
		return Verification{}, loadErr
	}

	switch {
	case r.NowFunc().Unix() >= v.ExpiresAt:
		return Verification{}, ErrNotFound
	case v.OwnerUserID != userID:
		logger.Warn(ctx, logger.CompLinks, "verification.owner_mismatch",
			slog.Int64("owner_id", v.OwnerUserID),
			slog.Any("token", token.Redacted(raw)),
		)
		return Verification{}, ErrOwnerMismatch
	}
	logger.Info(ctx, logger.CompLinks, "verification.redeemed", slog.Any("token", token.Redacted(raw)))
	return v, nil
}
