package geo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/access"
)

// DefaultTimeout bounds a single provider lookup.
const DefaultTimeout = 4 * time.Second

// Escalator persists the outcome of a decision.
type Escalator interface {
	MarkVerified(ctx context.Context, userID int64, country string) error
	MarkBanned(ctx context.Context, userID int64, country string) error
}

// Options configures a Gate.
type Options struct {
	Allowed   []string
	Timeout   time.Duration
	CacheSize int
}

// CountryCount is one row of Stats.
type CountryCount struct {
	Country string
	Allowed bool
	Users   int
}

// Stats summarizes the decisions taken since start.
type Stats struct {
	Cached    int
	Countries []CountryCount
}

// Gate decides whether a user may pass based on the country of their
// address.
type Gate struct {
	provider  Provider
	escalator Escalator
	allowed   map[string]struct{}
	timeout   time.Duration

	cache *lru.Cache[int64, access.Verdict]
	group singleflight.Group

	mu     sync.Mutex
	counts map[string]int
}

// NewGate builds a Gate. Allowed countries are matched case-insensitively.
func NewGate(provider Provider, escalator Escalator, opts Options) (*Gate, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[int64, access.Verdict](size)
	if err != nil {
		return nil, fmt.Errorf("geo: cache: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	allowed := make(map[string]struct{}, len(opts.Allowed))
	for _, c := range opts.Allowed {
		if c = normalizeCountry(c); c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &Gate{
		provider:  provider,
		escalator: escalator,
		allowed:   allowed,
		timeout:   timeout,
		cache:     cache,
		counts:    make(map[string]int),
	}, nil
}

func normalizeCountry(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// Allows reports whether loc is on the allow-list. Unresolved locations are
// never allowed.
func (g *Gate) Allows(loc Location) bool {
	if !loc.Known {
		return false
	}
	_, ok := g.allowed[normalizeCountry(loc.Country)]
	return ok
}

// Lookup resolves addr within the gate timeout. It never fails: any
// provider error yields an Unknown location.
func (g *Gate) Lookup(ctx context.Context, addr string) Location {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	loc, err := g.provider.Lookup(ctx, addr)
	if err != nil {
		logger.Warn(ctx, logger.CompGeo, "geo.lookup",
			slog.String("status", "fail"),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return Unknown(addr)
	}
	logger.Debug(ctx, logger.CompGeo, "geo.lookup",
		slog.String("status", "ok"),
		slog.String("country", loc.Country),
		slog.Duration("duration", time.Since(start)),
	)
	return loc
}

// Decide returns the verdict for userID connecting from addr. A cached
// verdict is returned without side effects. Otherwise the address is looked
// up once per user, the outcome is persisted through the escalator, and the
// verdict is cached.
//
// The lookup runs detached from ctx: a caller that goes away gets
// Unverified and ctx.Err(), while the decision itself completes on the
// provider's answer. A ctx that is already done starts no lookup.
func (g *Gate) Decide(ctx context.Context, userID int64, addr string) (access.Verdict, error) {
	if v, ok := g.cache.Get(userID); ok {
		logger.Debug(ctx, logger.CompGeo, "geo.decide",
			slog.String("verdict", v.String()),
			slog.String("cache", "hit"),
		)
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return access.Unverified, err
	}

	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		if v, ok := g.cache.Get(userID); ok {
			return v, nil
		}
		return g.decide(detached, userID, addr)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return access.Unverified, res.Err
		}
		return res.Val.(access.Verdict), nil
	case <-ctx.Done():
		logger.Info(ctx, logger.CompGeo, "geo.decide",
			slog.String("status", "abandoned"),
			slog.String("err", ctx.Err().Error()),
		)
		return access.Unverified, ctx.Err()
	}
}

func (g *Gate) decide(ctx context.Context, userID int64, addr string) (access.Verdict, error) {
	loc := g.Lookup(ctx, addr)
	verdict := access.Denied
	if g.Allows(loc) {
		verdict = access.Allowed
	}

	var err error
	if verdict == access.Allowed {
		err = g.escalator.MarkVerified(ctx, userID, loc.Country)
	} else {
		err = g.escalator.MarkBanned(ctx, userID, loc.Country)
	}
	if err != nil {
		return access.Unverified, fmt.Errorf("geo: persist verdict: %w", err)
	}

	g.cache.Add(userID, verdict)
	g.mu.Lock()
	g.counts[loc.Country]++
	g.mu.Unlock()

	logger.Info(ctx, logger.CompGeo, "geo.decide",
		slog.String("verdict", verdict.String()),
		slog.String("country", loc.Country),
		slog.String("cache", "miss"),
	)
	return verdict, nil
}

// Forget drops the cached verdict for userID.
func (g *Gate) Forget(userID int64) {
	g.cache.Remove(userID)
}

// Stats reports the number of cached verdicts and decisions per country,
// most frequent first.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	rows := make([]CountryCount, 0, len(g.counts))
	for country, n := range g.counts {
		_, ok := g.allowed[normalizeCountry(country)]
		rows = append(rows, CountryCount{Country: country, Allowed: ok && country != UnknownCountry, Users: n})
	}
	g.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Users != rows[j].Users {
			return rows[i].Users > rows[j].Users
		}
		return rows[i].Country < rows[j].Country
	})
	return Stats{Cached: g.cache.Len(), Countries: rows}
}
