package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/firehose"
)

// Config holds all configuration for the application.
type Config struct {
	// Locale is the IANA zone local times are rendered in. Empty means UTC.
	Locale    string          `yaml:"locale" mapstructure:"locale"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	AppView   AppViewConfig   `yaml:"appview" mapstructure:"appview"`
	Firehose  FirehoseConfig  `yaml:"firehose" mapstructure:"firehose"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// NormalizeConfig tunes the normalizers.
type NormalizeConfig struct {
	MaxDepth int `yaml:"max_depth" mapstructure:"max_depth"`
}

// BatchConfig configures file normalization.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// AppViewConfig configures the Bluesky AppView client. Identifier and
// AppPassword are optional; when set the client logs in first.
type AppViewConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	PDS           string  `yaml:"pds" mapstructure:"pds"`
	Identifier    string  `yaml:"identifier" mapstructure:"identifier"`
	AppPassword   string  `yaml:"app_password" mapstructure:"app_password"`
}

// FirehoseConfig configures the Jetstream subscriber.
type FirehoseConfig struct {
	URL                  string `yaml:"url" mapstructure:"url"`
	StatsIntervalSecs    int    `yaml:"stats_interval_secs" mapstructure:"stats_interval_secs"`
	CursorIntervalSecs   int    `yaml:"cursor_interval_secs" mapstructure:"cursor_interval_secs"`
	PruneMaxAgeHours     int    `yaml:"prune_max_age_hours" mapstructure:"prune_max_age_hours"`
	PruneMaxRows         int    `yaml:"prune_max_rows" mapstructure:"prune_max_rows"`
	PruneIntervalMinutes int    `yaml:"prune_interval_minutes" mapstructure:"prune_interval_minutes"`
}

// StoreConfig configures the SQLite database holding collected records and
// firehose cursors.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from socialnorm.yaml and SOCIALNORM_ environment
// variables with sensible defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("socialnorm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOCIALNORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("locale", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("normalize.max_depth", domain.DefaultMaxDepth)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("appview.base_url", "https://public.api.bsky.app")
	v.SetDefault("appview.rate_per_second", 5)
	v.SetDefault("appview.burst", 5)
	v.SetDefault("appview.pds", "https://bsky.social")
	v.SetDefault("appview.identifier", "")
	v.SetDefault("appview.app_password", "")
	v.SetDefault("firehose.url", firehose.DefaultURL)
	v.SetDefault("firehose.stats_interval_secs", 30)
	v.SetDefault("firehose.cursor_interval_secs", 5)
	v.SetDefault("firehose.prune_max_age_hours", 72)
	v.SetDefault("firehose.prune_max_rows", 1_000_000)
	v.SetDefault("firehose.prune_interval_minutes", 10)
	v.SetDefault("store.path", "socialnorm.db")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Batch.Concurrency <= 0 {
		return nil, eris.Errorf("config: batch.concurrency must be positive, got %d", cfg.Batch.Concurrency)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location resolves Locale.
func (c *Config) Location() (*time.Location, error) {
	loc, err := dates.LoadLocation(c.Locale)
	if err != nil {
		return nil, eris.Wrapf(err, "config: invalid locale %q", c.Locale)
	}
	return loc, nil
}

// NormalizeOptions returns the normalizer options implied by the
// configuration.
func (c *Config) NormalizeOptions(logger *zap.Logger) ([]domain.Option, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return []domain.Option{
		domain.WithLocale(loc),
		domain.WithMaxDepth(c.Normalize.MaxDepth),
		domain.WithLogger(logger),
	}, nil
}

// NewLogger builds a JSON production logger, or a console development
// logger when Format is "console".
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}
