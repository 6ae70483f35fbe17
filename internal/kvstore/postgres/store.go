// Package postgres is a kvstore backend on top of the kv_records table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/kvstore"
)

const (
	upsertQuery = `
INSERT INTO kv_records (collection, key, value, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	getQuery    = `SELECT value FROM kv_records WHERE collection = $1 AND key = $2`
	deleteQuery = `DELETE FROM kv_records WHERE collection = $1 AND key = $2`
	listQuery   = `SELECT key, value FROM kv_records WHERE collection = $1 ORDER BY key`
)

// Store implements kvstore.Store with one row per record.
type Store struct {
	db *sqlx.DB
}

var _ kvstore.Store = (*Store)(nil)

// New wraps an open connection. The schema is created by the migrations.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Put implements kvstore.Store.
func (s *Store) Put(ctx context.Context, collection, key string, record any) error {
	if err := kvstore.CheckName(collection, key); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("postgres store: encode %s/%s: %w", collection, key, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertQuery, collection, key, string(raw)); err != nil {
		return fmt.Errorf("postgres store: put %s: %w", collection, err)
	}
	return nil
}

// Get implements kvstore.Store.
func (s *Store) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	if err := kvstore.CheckName(collection, key); err != nil {
		return false, err
	}
	var raw []byte
	err := s.db.GetContext(ctx, &raw, getQuery, collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres store: get %s: %w", collection, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warn(ctx, logger.CompStore, "record.undecodable",
			slog.String("collection", collection),
			slog.String("err", err.Error()),
		)
		return false, nil
	}
	return true, nil
}

// Delete implements kvstore.Store.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := kvstore.CheckName(collection, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, deleteQuery, collection, key); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", collection, err)
	}
	return nil
}

type row struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// List implements kvstore.Store.
func (s *Store) List(ctx context.Context, collection string) ([]kvstore.Entry, error) {
	if err := kvstore.CheckCollection(collection); err != nil {
		return nil, err
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, listQuery, collection); err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", collection, err)
	}
	out := make([]kvstore.Entry, len(rows))
	for i, r := range rows {
		out[i] = kvstore.Entry{Key: r.Key, Value: json.RawMessage(r.Value)}
	}
	return out, nil
}
