// Package jsonfile is a kvstore backend that keeps each collection in a
// single JSON document inside a data directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/kvstore"
)

type collection struct {
	mu      sync.RWMutex
	loaded  bool
	corrupt bool
	records map[string]json.RawMessage
}

// Store keeps every collection in memory and rewrites its file on each
// mutation via a temp file, fsync and rename.
type Store struct {
	dir string

	mu          sync.Mutex
	collections map[string]*collection
}

var _ kvstore.Store = (*Store)(nil)

// Open creates the data directory if needed and returns a store rooted at it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("jsonfile: create data dir: %w", err)
	}
	return &Store{dir: dir, collections: make(map[string]*collection)}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) collection(name string) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

// load reads the collection file once. Callers hold c.mu for writing.
func (s *Store) load(ctx context.Context, name string, c *collection) error {
	if c.loaded {
		return nil
	}
	c.records = make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path(name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("jsonfile: read %s: %w", name, err)
	case len(data) == 0:
	default:
		if err := json.Unmarshal(data, &c.records); err != nil {
			c.records = make(map[string]json.RawMessage)
			c.corrupt = true
			logger.Error(ctx, logger.CompStore, "store.corrupt",
				slog.String("collection", name),
				slog.String("path", s.path(name)),
				slog.String("err", err.Error()),
			)
		}
	}
	c.loaded = true
	return nil
}

// locked runs fn with the collection loaded and its lock held.
func (s *Store) locked(ctx context.Context, name string, write bool, fn func(c *collection) error) error {
	c := s.collection(name)
	if write {
		c.mu.Lock()
		defer c.mu.Unlock()
	} else {
		c.mu.RLock()
		if !c.loaded {
			c.mu.RUnlock()
			c.mu.Lock()
			defer c.mu.Unlock()
		} else {
			defer c.mu.RUnlock()
		}
	}
	if err := s.load(ctx, name, c); err != nil {
		return err
	}
	return fn(c)
}

// Put implements kvstore.Store.
func (s *Store) Put(ctx context.Context, name, key string, record any) error {
	if err := kvstore.CheckName(name, key); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s/%s: %w", name, key, err)
	}
	return s.locked(ctx, name, true, func(c *collection) error {
		next := cloneRecords(c.records)
		next[key] = raw
		if err := s.persist(ctx, name, c, next); err != nil {
			return err
		}
		c.records = next
		return nil
	})
}

// Get implements kvstore.Store.
func (s *Store) Get(ctx context.Context, name, key string, out any) (bool, error) {
	if err := kvstore.CheckName(name, key); err != nil {
		return false, err
	}
	var raw json.RawMessage
	err := s.locked(ctx, name, false, func(c *collection) error {
		raw = c.records[key]
		return nil
	})
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warn(ctx, logger.CompStore, "record.undecodable",
			slog.String("collection", name),
			slog.String("err", err.Error()),
		)
		return false, nil
	}
	return true, nil
}

// Delete implements kvstore.Store.
func (s *Store) Delete(ctx context.Context, name, key string) error {
	if err := kvstore.CheckName(name, key); err != nil {
		return err
	}
	return s.locked(ctx, name, true, func(c *collection) error {
		if _, ok := c.records[key]; !ok {
			return nil
		}
		next := cloneRecords(c.records)
		delete(next, key)
		if err := s.persist(ctx, name, c, next); err != nil {
			return err
		}
		c.records = next
		return nil
	})
}

// List implements kvstore.Store.
func (s *Store) List(ctx context.Context, name string) ([]kvstore.Entry, error) {
	if err := kvstore.CheckCollection(name); err != nil {
		return nil, err
	}
	var out []kvstore.Entry
	err := s.locked(ctx, name, false, func(c *collection) error {
		out = make([]kvstore.Entry, 0, len(c.records))
		for k, v := range c.records {
			out = append(out, kvstore.Entry{Key: k, Value: v})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

// persist atomically replaces the collection file. A file that failed to
// parse is moved aside first so it can be recovered by hand.
func (s *Store) persist(ctx context.Context, name string, c *collection, records map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", name, err)
	}

	target := s.path(name)
	if c.corrupt {
		aside := target + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
		if err := os.Rename(target, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("jsonfile: move corrupt %s aside: %w", name, err)
		}
		logger.Warn(ctx, logger.CompStore, "store.corrupt.moved",
			slog.String("collection", name),
			slog.String("path", aside),
		)
		c.corrupt = false
	}

	tmp, err := os.CreateTemp(s.dir, name+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("jsonfile: replace %s: %w", name, err)
	}
	syncDir(s.dir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func cloneRecords(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
