package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestKeyedAllow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	k := NewKeyed[int64](rate.Every(time.Second), 1)

	assert.True(t, k.AllowAt(1, now))
	assert.False(t, k.AllowAt(1, now.Add(100*time.Millisecond)))
	assert.True(t, k.AllowAt(2, now), "keys are independent")
	assert.True(t, k.AllowAt(1, now.Add(1100*time.Millisecond)))
}

func TestKeyedBurst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	k := NewKeyed[string](rate.Every(time.Minute), 3)
	for i := 0; i < 3; i++ {
		assert.True(t, k.AllowAt("10.0.0.1", now))
	}
	assert.False(t, k.AllowAt("10.0.0.1", now))
}

func TestKeyedSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	k := NewKeyed[int64](rate.Inf, 0)
	k.AllowAt(1, now)
	k.AllowAt(2, now.Add(time.Minute))

	assert.Equal(t, 1, k.Sweep(now.Add(90*time.Second), 45*time.Second))
	assert.Equal(t, 0, k.Sweep(now.Add(time.Hour), time.Minute))
}
