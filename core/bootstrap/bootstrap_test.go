package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/internal/kvstore/jsonfile"
	"github.com/m3rciful/linkguard/internal/kvstore/postgres"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunJSONFile(t *testing.T) {
	cfg := &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: coreconfig.StorageJSONFile, Dir: t.TempDir()}}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, res.Store)
	assert.Nil(t, res.DB)
	assert.NoError(t, res.Close())
}

func TestRunPostgres(t *testing.T) {
	sqlDB, err := sql.Open("postgres", "postgres://localhost/none?sslmode=disable")
	require.NoError(t, err)
	db := sqlx.NewDb(sqlDB, "postgres")

	var migrated bool
	cfg := &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: coreconfig.StoragePostgres}}
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect:    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) { return db, nil },
		Migrate: func(context.Context, coreconfig.DatabaseConfig) error {
			migrated = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.IsType(t, &postgres.Store{}, res.Store)
	assert.NoError(t, res.Close())
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return boom },
	})
	assert.ErrorIs(t, err, boom)

	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: coreconfig.StoragePostgres}},
		LoggerInit: noLogger,
		Connect:    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)

	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: "redis"}},
		LoggerInit: noLogger,
	})
	assert.Error(t, err)
}
