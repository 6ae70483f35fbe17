package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/linkguard/core/config"
)

func TestListMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_add_index.up.sql",
		"000001_create_kv_records.up.sql",
		"000001_create_kv_records.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.up.sql"), 0o755))

	assert.Equal(t, []string{
		"000001_create_kv_records.up.sql",
		"000002_add_index.up.sql",
	}, listMigrationFiles(dir))
	assert.Nil(t, listMigrationFiles(filepath.Join(dir, "missing")))
}

func TestSelectApplied(t *testing.T) {
	files := []string{"000001_a.up.sql", "000002_b.up.sql", "000003_c.up.sql"}

	assert.Equal(t, []string{"000002_b.up.sql", "000003_c.up.sql"}, selectApplied(files, 1, 3))
	assert.Empty(t, selectApplied(files, 3, 3))
	assert.Equal(t, uint64(0), parseVersion("garbage"))
}

func TestURLEscapesCredentials(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "bot", Password: "p@ss/word", Name: "linkguard", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://bot:p%40ss%2Fword@db:5432/linkguard?sslmode=disable", URL(cfg))
	assert.Contains(t, DSN(cfg), "dbname=linkguard")
}
