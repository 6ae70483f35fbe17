package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID" validate:"gt=0"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format    string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder string `yaml:"keys_order"`
	Dir       string `yaml:"dir"`
	BotFile   string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig throttles how often a single user may hit the bot.
// ExcludeUpdates accepts "callback" and "message".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS" validate:"gte=0"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST" validate:"gte=0"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// StorageJSONFile keeps every collection in a JSON document on disk.
	StorageJSONFile = "jsonfile"
	// StoragePostgres keeps records in a PostgreSQL table.
	StoragePostgres = "postgres"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver   string         `yaml:"driver" envconfig:"STORAGE_DRIVER" validate:"oneof=jsonfile postgres"`
	Dir      string         `yaml:"dir" envconfig:"STORAGE_DIR" validate:"required_if=Driver jsonfile"`
	Database DatabaseConfig `yaml:"database"`
}

// LinksConfig controls protected link issuance.
type LinksConfig struct {
	TTL             time.Duration `yaml:"ttl" envconfig:"LINK_TTL" validate:"gte=1s"`
	RedirectPage    string        `yaml:"redirect_page" envconfig:"LINK_REDIRECT_PAGE" validate:"required,url"`
	AllowedPrefixes []string      `yaml:"allowed_prefixes" validate:"min=1,dive,required"`
}

// VerificationConfig controls verification tokens and the optional web step.
// Listen left empty disables the web step.
type VerificationConfig struct {
	TTL        time.Duration `yaml:"ttl" envconfig:"VERIFY_TTL" validate:"gte=1s"`
	Listen     string        `yaml:"listen" envconfig:"VERIFY_LISTEN"`
	PublicURL  string        `yaml:"public_url" envconfig:"VERIFY_PUBLIC_URL" validate:"omitempty,url"`
	TrustProxy bool          `yaml:"trust_proxy" envconfig:"VERIFY_TRUST_PROXY"`
}

// GeoConfig configures the geolocation provider and the allow-list.
type GeoConfig struct {
	ProviderURL      string        `yaml:"provider_url" envconfig:"GEO_PROVIDER_URL" validate:"required,url"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"GEO_TIMEOUT" validate:"gte=100ms"`
	AllowedCountries []string      `yaml:"allowed_countries" envconfig:"GEO_ALLOWED_COUNTRIES" validate:"min=1,dive,required"`
	CacheSize        int           `yaml:"cache_size" envconfig:"GEO_CACHE_SIZE" validate:"gt=0"`
}

// BroadcastConfig paces admin broadcasts.
type BroadcastConfig struct {
	Delay         time.Duration `yaml:"delay" envconfig:"BROADCAST_DELAY" validate:"gte=0"`
	ProgressEvery int           `yaml:"progress_every" envconfig:"BROADCAST_PROGRESS_EVERY" validate:"gt=0"`
}

// ChannelConfig is one entry of the public channel directory.
type ChannelConfig struct {
	ID    string `yaml:"id" validate:"required,alphanum,max=32"`
	Title string `yaml:"title" validate:"required"`
	Link  string `yaml:"link" validate:"required"`
}

// Config aggregates the bot configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Storage      StorageConfig      `yaml:"storage"`
	Links        LinksConfig        `yaml:"links"`
	Verification VerificationConfig `yaml:"verification"`
	Geo          GeoConfig          `yaml:"geo"`
	Broadcast    BroadcastConfig    `yaml:"broadcast"`
	Channels     []ChannelConfig    `yaml:"channels" validate:"dive"`
}

// Defaults applied by Normalize to zero values.
const (
	DefaultLinkTTL          = 365 * 24 * time.Hour
	DefaultVerificationTTL  = 10 * time.Minute
	DefaultGeoTimeout       = 4 * time.Second
	DefaultGeoCacheSize     = 10000
	DefaultBroadcastDelay   = 200 * time.Millisecond
	DefaultProgressEvery    = 20
	DefaultGeoProviderURL   = "http://ip-api.com"
	DefaultRedirectPage     = "https://exciting-rat.static.domains/redirect.html"
	DefaultStorageDir       = "data"
	DefaultMigrationsDir    = "migrations"
	DefaultAllowedCountry   = "India"
	defaultDBMaxConnections = 5
)

// DefaultAllowedPrefixes are the accepted shapes of a destination link.
var DefaultAllowedPrefixes = []string{"https://t.me/", "http://t.me/", "t.me/"}

var validate = validator.New()

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates the configuration.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	applyDefaults(cfg)
	if cfg.Verification.Listen != "" && cfg.Verification.PublicURL == "" {
		return fmt.Errorf("verification.public_url is required when verification.listen is set")
	}

	if err := validate.Struct(cfg); err != nil {
		return describeValidation(err)
	}
	return nil
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeRateLimit(rl *RateLimitConfig) error {
	out := rl.ExcludeUpdates[:0]
	for _, v := range rl.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch key {
		case "":
			continue
		case UpdateCallback, UpdateMessage:
			out = append(out, key)
		default:
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
	}
	rl.ExcludeUpdates = out
	if rl.IntervalMS > 0 && rl.Burst == 0 {
		rl.Burst = 1
	}
	return nil
}

func applyDefaults(cfg *Config) {
	st := &cfg.Storage
	st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	if st.Driver == "" {
		st.Driver = StorageJSONFile
	}
	if st.Driver == StorageJSONFile && strings.TrimSpace(st.Dir) == "" {
		st.Dir = DefaultStorageDir
	}
	if st.Database.MaxConnections <= 0 {
		st.Database.MaxConnections = defaultDBMaxConnections
	}
	if st.Database.SSLMode == "" {
		st.Database.SSLMode = "disable"
	}
	if st.Database.MigrationsDir == "" {
		st.Database.MigrationsDir = DefaultMigrationsDir
	}

	if cfg.Links.TTL == 0 {
		cfg.Links.TTL = DefaultLinkTTL
	}
	if cfg.Links.RedirectPage == "" {
		cfg.Links.RedirectPage = DefaultRedirectPage
	}
	if len(cfg.Links.AllowedPrefixes) == 0 {
		cfg.Links.AllowedPrefixes = append([]string(nil), DefaultAllowedPrefixes...)
	}

	if cfg.Verification.TTL == 0 {
		cfg.Verification.TTL = DefaultVerificationTTL
	}
	cfg.Verification.PublicURL = strings.TrimRight(cfg.Verification.PublicURL, "/")

	if cfg.Geo.ProviderURL == "" {
		cfg.Geo.ProviderURL = DefaultGeoProviderURL
	}
	cfg.Geo.ProviderURL = strings.TrimRight(cfg.Geo.ProviderURL, "/")
	if cfg.Geo.Timeout == 0 {
		cfg.Geo.Timeout = DefaultGeoTimeout
	}
	if len(cfg.Geo.AllowedCountries) == 0 {
		cfg.Geo.AllowedCountries = []string{DefaultAllowedCountry}
	}
	if cfg.Geo.CacheSize == 0 {
		cfg.Geo.CacheSize = DefaultGeoCacheSize
	}

	if cfg.Broadcast.Delay == 0 {
		cfg.Broadcast.Delay = DefaultBroadcastDelay
	}
	if cfg.Broadcast.ProgressEvery == 0 {
		cfg.Broadcast.ProgressEvery = DefaultProgressEvery
	}
}

func describeValidation(err error) error {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
