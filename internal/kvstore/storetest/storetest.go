// Package storetest holds behaviour checks shared by every kvstore backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/linkguard/internal/kvstore"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Run exercises the kvstore.Store contract against stores produced by newStore.
// Each call to newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) kvstore.Store) {
	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "things", "a", record{Name: "alpha", Count: 1}))

		var got record
		ok, err := s.Get(ctx, "things", "a", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, record{Name: "alpha", Count: 1}, got)
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "things", "a", record{Name: "one"}))
		require.NoError(t, s.Put(ctx, "things", "a", record{Name: "two"}))

		var got record
		ok, err := s.Get(ctx, "things", "a", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "two", got.Name)
	})

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		var got record
		ok, err := s.Get(context.Background(), "things", "nope", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("undecodable record reads as absent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "things", "a", "just a string"))

		var got record
		ok, err := s.Get(ctx, "things", "a", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "things", "a", record{Name: "alpha"}))
		require.NoError(t, s.Delete(ctx, "things", "a"))
		require.NoError(t, s.Delete(ctx, "things", "a"))

		var got record
		ok, err := s.Get(ctx, "things", "a", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "left", "k", record{Name: "left"}))
		require.NoError(t, s.Put(ctx, "right", "k", record{Name: "right"}))

		var got record
		ok, err := s.Get(ctx, "left", "k", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "left", got.Name)
	})

	t.Run("list is ordered by key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, "things", k, record{Name: k}))
		}

		entries, err := s.List(ctx, "things")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, want, entries[i].Key)
			var r record
			require.NoError(t, entries[i].Decode(&r))
			assert.Equal(t, want, r.Name)
		}

		empty, err := s.List(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("invalid names", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.ErrorIs(t, s.Put(ctx, "../etc", "k", record{}), kvstore.ErrInvalidName)
		assert.ErrorIs(t, s.Put(ctx, "things", "", record{}), kvstore.ErrInvalidName)
		_, err := s.List(ctx, "Bad Name")
		assert.ErrorIs(t, err, kvstore.ErrInvalidName)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, "things", fmt.Sprintf("k%02d", i), record{Count: i}))
			}(i)
		}
		wg.Wait()

		entries, err := s.List(ctx, "things")
		require.NoError(t, err)
		assert.Len(t, entries, 20)
	})
}
