package links

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/linkguard/internal/kvstore"
	"github.com/m3rciful/linkguard/internal/kvstore/jsonfile"
	"github.com/m3rciful/linkguard/internal/token"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type setup struct {
	reg   *Registry
	store kvstore.Store
	clock *clock
}

func newSetup(t *testing.T) setup {
	t.Helper()
	store, err := jsonfile.Open(t.TempDir())
	require.NoError(t, err)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	reg := NewRegistry(store)
	reg.NowFunc = c.Now
	return setup{reg: reg, store: store, clock: c}
}

func TestProtectResolveExpiry(t *testing.T) {
	st := newSetup(t)
	ctx := context.Background()

	raw, err := st.reg.Protect(ctx, "https://t.me/+abc", time.Hour)
	require.NoError(t, err)
	kind, ok := token.KindOf(raw)
	require.True(t, ok)
	assert.Equal(t, token.KindLink, kind)

	st.clock.advance(1800 * time.Second)
	dest, err := st.reg.Resolve(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", dest)

	st.clock.advance(1801 * time.Second)
	_, err = st.reg.Resolve(ctx, raw)
	assert.ErrorIs(t, err, ErrNotFound)

	var rec linkRecord
	found, err := st.store.Get(ctx, collectionLinks, raw, &rec)
	require.NoError(t, err)
	assert.False(t, found, "expired record must be removed")

	st.clock.now = time.Unix(1_700_000_000, 0)
	_, err = st.reg.Resolve(ctx, raw)
	assert.ErrorIs(t, err, ErrNotFound, "expired token stays gone")
}

func TestResolveIsReadMany(t *testing.T) {
	st := newSetup(t)
	ctx := context.Background()

	raw, err := st.reg.Protect(ctx, "https://t.me/joinchat/xyz", 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		dest, err := st.reg.Resolve(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "https://t.me/joinchat/xyz", dest)
	}

	st.clock.advance(DefaultTTL - time.Second)
	_, err = st.reg.Resolve(ctx, raw)
	assert.NoError(t, err, "default ttl is one year")
}

func TestProtectIssuesDistinctTokens(t *testing.T) {
	st := newSetup(t)
	ctx := context.Background()

	a, err := st.reg.Protect(ctx, "https://t.me/+same", time.Hour)
	require.NoError(t, err)
	b, err := st.reg.Protect(ctx, "https://t.me/+same", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	n, err := st.reg.CountLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveNotFound(t *testing.T) {
	st := newSetup(t)
	ctx := context.Background()

	p, err := token.NewPayload(st.clock.now, time.Hour)
	require.NoError(t, err)
	unknown := token.Encode(token.KindLink, p)
	verify := token.Encode(token.KindVerify, p)

	corrupt := token.Encode(token.KindLink, p)
	corrupt = corrupt[:len(corrupt)-4] + "AAAA"
	require.NoError(t, st.store.Put(ctx, collectionLinks, corrupt, map[string]any{"created_at": 1}))

	for name, raw := range map[string]string{
		"garbage":         "not-a-token",
		"empty":           "",
		"unknown token":   unknown,
		"wrong kind":      verify,
		"missing fields":  corrupt,
		"legacy base64id": "MTY5OTk5OTk5OS1hYmNkZWZnaA",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := st.reg.Resolve(ctx, raw)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestProtectRejectsEmptyDestination(t *testing.T) {
	st := newSetup(t)
	_, err := st.reg.Protect(context.Background(), "  ", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestCheckDestination(t *testing.T) {
	prefixes := []string{"https://t.me/", "http://t.me/", "t.me/"}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://t.me/+AbCd", want: "https://t.me/+AbCd"},
		{in: "  http://t.me/channel ", want: "https://t.me/channel"},
		{in: "t.me/joinchat/xyz", want: "https://t.me/joinchat/xyz"},
		{in: "HTTPS://T.ME/Upper", want: "HTTPS://T.ME/Upper"},
		{in: "https://t.me/", wantErr: true},
		{in: "https://example.com/t.me/x", wantErr: true},
		{in: "https://t.me/a b", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CheckDestination(tt.in, prefixes)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDestination)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
