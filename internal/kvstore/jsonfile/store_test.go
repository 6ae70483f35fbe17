package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/linkguard/internal/kvstore"
	"github.com/m3rciful/linkguard/internal/kvstore/storetest"
)

type link struct {
	Destination string `json:"destination"`
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) kvstore.Store {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "links", "tok", link{Destination: "https://t.me/+abc"}))

	reopened, err := Open(dir)
	require.NoError(t, err)
	var got link
	ok, err := reopened.Get(ctx, "links", "tok", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://t.me/+abc", got.Destination)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCorruptCollectionReadsEmptyAndIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "links.json"), []byte("{not json"), 0o600))

	s, err := Open(dir)
	require.NoError(t, err)

	entries, err := s.List(ctx, "links")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Put(ctx, "links", "tok", link{Destination: "https://t.me/x"}))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	var aside []string
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "links.json.corrupt-") {
			aside = append(aside, f.Name())
		}
	}
	require.Len(t, aside, 1)
	data, err := os.ReadFile(filepath.Join(dir, aside[0]))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	reopened, err := Open(dir)
	require.NoError(t, err)
	var got link
	ok, err := reopened.Get(ctx, "links", "tok", &got)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyFileIsEmptyCollection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "links.json"), nil, 0o600))

	s, err := Open(dir)
	require.NoError(t, err)
	entries, err := s.List(context.Background(), "links")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
