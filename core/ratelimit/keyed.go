// Package ratelimit provides token buckets keyed by caller identity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdle is how long an unused bucket is kept.
const DefaultIdle = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed is a set of token buckets, one per key, with stale-entry cleanup.
type Keyed[K comparable] struct {
	mu      sync.Mutex
	buckets map[K]*bucket
	limit   rate.Limit
	burst   int
}

// NewKeyed creates buckets refilling at limit with the given burst.
func NewKeyed[K comparable](limit rate.Limit, burst int) *Keyed[K] {
	if burst <= 0 {
		burst = 1
	}
	return &Keyed[K]{buckets: make(map[K]*bucket), limit: limit, burst: burst}
}

// Allow reports whether key may proceed now and consumes a token if so.
func (k *Keyed[K]) Allow(key K) bool {
	return k.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (k *Keyed[K]) AllowAt(key K, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep drops buckets unused for longer than idle and returns how many
// remain.
func (k *Keyed[K]) Sweep(now time.Time, idle time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(k.buckets, key)
		}
	}
	return len(k.buckets)
}

// Run sweeps idle buckets every interval until ctx is done.
func (k *Keyed[K]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultIdle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			k.Sweep(now, DefaultIdle)
		}
	}
}
