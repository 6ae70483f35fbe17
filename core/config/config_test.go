package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc", AdminID: 42},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Normalize(cfg))

	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, StorageJSONFile, cfg.Storage.Driver)
	assert.Equal(t, DefaultStorageDir, cfg.Storage.Dir)
	assert.Equal(t, DefaultLinkTTL, cfg.Links.TTL)
	assert.Equal(t, DefaultAllowedPrefixes, cfg.Links.AllowedPrefixes)
	assert.Equal(t, DefaultVerificationTTL, cfg.Verification.TTL)
	assert.Equal(t, []string{"India"}, cfg.Geo.AllowedCountries)
	assert.Equal(t, DefaultGeoTimeout, cfg.Geo.Timeout)
	assert.Equal(t, DefaultBroadcastDelay, cfg.Broadcast.Delay)
	assert.Equal(t, DefaultProgressEvery, cfg.Broadcast.ProgressEvery)
}

func TestNormalizeRejects(t *testing.T) {
	tests := map[string]func(*Config){
		"missing token":        func(c *Config) { c.Telegram.Token = "" },
		"missing admin":        func(c *Config) { c.Telegram.AdminID = 0 },
		"bad run mode":         func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" },
		"webhook without url":  func(c *Config) { c.Telegram.RunMode = RunModeWebhook },
		"unknown store":        func(c *Config) { c.Storage.Driver = "mongo" },
		"bad exclude":          func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"inline_query"} },
		"bad provider url":     func(c *Config) { c.Geo.ProviderURL = "not a url" },
		"verify without url":   func(c *Config) { c.Verification.Listen = ":8081" },
		"channel without link": func(c *Config) { c.Channels = []ChannelConfig{{ID: "news", Title: "News"}} },
		"channel bad id":       func(c *Config) { c.Channels = []ChannelConfig{{ID: "a b", Title: "T", Link: "https://t.me/+x"}} },
		"tiny link ttl":        func(c *Config) { c.Links.TTL = time.Millisecond },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, Normalize(cfg))
		})
	}
}

func TestNormalizeRateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit = RateLimitConfig{IntervalMS: 500, ExcludeUpdates: []string{" Callback ", ""}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{UpdateCallback}, cfg.RateLimit.ExcludeUpdates)
	assert.Equal(t, 1, cfg.RateLimit.Burst)
}

func TestLoadYAMLWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
telegram:
  token: from-file
  admin_id: 7
storage:
  driver: jsonfile
  dir: /var/lib/linkguard
links:
  ttl: 720h
geo:
  allowed_countries: [India, Nepal]
  timeout: 2s
channels:
  - id: news
    title: News
    link: https://t.me/+abc
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("BROADCAST_DELAY", "150ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, int64(7), cfg.Telegram.AdminID)
	assert.Equal(t, "/var/lib/linkguard", cfg.Storage.Dir)
	assert.Equal(t, 720*time.Hour, cfg.Links.TTL)
	assert.Equal(t, []string{"India", "Nepal"}, cfg.Geo.AllowedCountries)
	assert.Equal(t, 2*time.Second, cfg.Geo.Timeout)
	assert.Equal(t, 150*time.Millisecond, cfg.Broadcast.Delay)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "news", cfg.Channels[0].ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
