// Package access tracks whether a user has been verified or banned.
//
// A user is Unknown until the geolocation gate marks them Verified or
// Banned. A ban always wins over a verification, and only an admin unban
// brings a user back to Unknown.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/kvstore"
)

const (
	collectionBanned   = "access.banned"
	collectionVerified = "access.verified"
)

// Verdict is the outcome of Check.
type Verdict int

const (
	// Unverified users have to go through the geolocation gate first.
	Unverified Verdict = iota
	// Allowed users may open protected links.
	Allowed
	// Denied users are banned.
	Denied
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unverified"
	}
}

type mark struct {
	UserID  int64  `json:"user_id"`
	Country string `json:"country,omitempty"`
	At      int64  `json:"at"`
}

// Stats summarizes the stored access marks.
type Stats struct {
	Verified int
	Banned   int
}

// Machine persists access marks in a kvstore.Store.
type Machine struct {
	store kvstore.Store

	// NowFunc is used to get the current time.
	NowFunc func() time.Time
}

// NewMachine returns a Machine backed by store.
func NewMachine(store kvstore.Store) *Machine {
	return &Machine{store: store, NowFunc: time.Now}
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (m *Machine) has(ctx context.Context, collection string, userID int64) (bool, error) {
	var rec mark
	ok, err := m.store.Get(ctx, collection, userKey(userID), &rec)
	if err != nil {
		return false, fmt.Errorf("access: read %s: %w", collection, err)
	}
	// A record without a user (e.g. JSON null) is no mark.
	return ok && rec.UserID != 0, nil
}

// Check returns the verdict for userID.
func (m *Machine) Check(ctx context.Context, userID int64) (Verdict, error) {
	banned, err := m.has(ctx, collectionBanned, userID)
	if err != nil {
		return Unverified, err
	}
	if banned {
		return Denied, nil
	}
	verified, err := m.has(ctx, collectionVerified, userID)
	if err != nil {
		return Unverified, err
	}
	if verified {
		return Allowed, nil
	}
	return Unverified, nil
}

// MarkVerified records that userID passed the gate from country.
func (m *Machine) MarkVerified(ctx context.Context, userID int64, country string) error {
	return m.mark(ctx, collectionVerified, "user.verified", userID, country)
}

// MarkBanned records that userID failed the gate from country.
func (m *Machine) MarkBanned(ctx context.Context, userID int64, country string) error {
	return m.mark(ctx, collectionBanned, "user.banned", userID, country)
}

func (m *Machine) mark(ctx context.Context, collection, event string, userID int64, country string) error {
	exists, err := m.has(ctx, collection, userID)
	if err != nil || exists {
		return err
	}
	rec := mark{UserID: userID, Country: country, At: m.NowFunc().Unix()}
	if err := m.store.Put(ctx, collection, userKey(userID), rec); err != nil {
		return fmt.Errorf("access: write %s: %w", collection, err)
	}
	logger.Info(ctx, logger.CompAccess, event,
		slog.Int64("target_id", userID),
		slog.String("country", country),
	)
	return nil
}

// Unban clears both marks so the user goes through the gate again. It
// reports whether the user was banned.
func (m *Machine) Unban(ctx context.Context, userID int64) (bool, error) {
	banned, err := m.has(ctx, collectionBanned, userID)
	if err != nil {
		return false, err
	}
	for _, c := range []string{collectionBanned, collectionVerified} {
		if err := m.store.Delete(ctx, c, userKey(userID)); err != nil {
			return false, fmt.Errorf("access: clear %s: %w", c, err)
		}
	}
	logger.Info(ctx, logger.CompAccess, "user.unbanned",
		slog.Int64("target_id", userID),
		slog.Bool("was_banned", banned),
	)
	return banned, nil
}

// Stats counts verified and banned users.
func (m *Machine) Stats(ctx context.Context) (Stats, error) {
	verified, err := m.store.List(ctx, collectionVerified)
	if err != nil {
		return Stats{}, fmt.Errorf("access: list verified: %w", err)
	}
	banned, err := m.store.List(ctx, collectionBanned)
	if err != nil {
		return Stats{}, fmt.Errorf("access: list banned: %w", err)
	}
	return Stats{Verified: len(verified), Banned: len(banned)}, nil
}
