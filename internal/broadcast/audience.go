package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/m3rciful/linkguard/internal/kvstore"
)

const collectionSubscribers = "subscribers"

// DefaultSeenSize bounds how many known subscribers Audience remembers to
// skip the store lookup in Add.
const DefaultSeenSize = 50000

type subscriber struct {
	UserID int64 `json:"user_id"`
	Since  int64 `json:"since"`
}

// Audience is the persisted set of users that talked to the bot.
type Audience struct {
	store kvstore.Store
	seen  *lru.Cache[int64, struct{}]
}

// NewAudience returns an Audience backed by store.
func NewAudience(store kvstore.Store) *Audience {
	return newAudience(store, DefaultSeenSize)
}

func newAudience(store kvstore.Store, seenSize int) *Audience {
	if seenSize <= 0 {
		seenSize = DefaultSeenSize
	}
	// lru.New fails only for a non-positive size.
	seen, _ := lru.New[int64, struct{}](seenSize)
	return &Audience{store: store, seen: seen}
}

// Add records userID once. Repeated calls for a recently seen user do not
// touch the store.
func (a *Audience) Add(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}
	if _, ok := a.seen.Get(userID); ok {
		return nil
	}

	key := strconv.FormatInt(userID, 10)
	var existing subscriber
	found, err := a.store.Get(ctx, collectionSubscribers, key, &existing)
	if err != nil {
		return fmt.Errorf("broadcast: read subscriber: %w", err)
	}
	if !found {
		rec := subscriber{UserID: userID, Since: time.Now().Unix()}
		if err := a.store.Put(ctx, collectionSubscribers, key, rec); err != nil {
			return fmt.Errorf("broadcast: add subscriber: %w", err)
		}
	}

	a.seen.Add(userID, struct{}{})
	return nil
}

// Recipients lists every subscriber.
func (a *Audience) Recipients(ctx context.Context) ([]int64, error) {
	entries, err := a.store.List(ctx, collectionSubscribers)
	if err != nil {
		return nil, fmt.Errorf("broadcast: list subscribers: %w", err)
	}
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := strconv.ParseInt(e.Key, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
