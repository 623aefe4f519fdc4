// Package config loads stockbot settings with priority
// defaults -> TOML files -> environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/atmx/stockbot/internal/market"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Market  MarketConfig  `toml:"market"`
	Quotes    QuotesConfig    `toml:"quotes"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	Host            string   `toml:"host"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StoreConfig selects the persistent store. Postgres wins over Mongo when
// both are set; with neither, orders live in memory.
type StoreConfig struct {
	DatabaseURL   string   `toml:"database_url"`
	RedisURL      string   `toml:"redis_url"`
	RedisTTL      Duration `toml:"redis_ttl"`
	MongoURI      string   `toml:"mongo_uri"`
	MongoDatabase string   `toml:"mongo_database"`
	Memory        bool     `toml:"memory"` // in-memory store when no database is configured
}

// MarketConfig contains market data provider settings.
type MarketConfig struct {
	Provider    string   `toml:"provider"` // auto, eodhd or sim
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	RPS         float64  `toml:"rps"`
	Burst       int      `toml:"burst"`
	Timeout     Duration `toml:"timeout"`
	MaxFailures uint32   `toml:"max_failures"`
	OpenFor     Duration `toml:"open_for"`
}

// QuotesConfig contains quote cache settings.
type QuotesConfig struct {
	TTL Duration `toml:"ttl"`
}

// AnalyticsConfig contains analytics report settings.
type AnalyticsConfig struct {
	Period string `toml:"period"` // history lookback: 5d, 1mo, 3mo, 6mo, 1y or 2y
}

// LedgerConfig contains order ledger settings.
type LedgerConfig struct {
	QuoteWorkers int `toml:"quote_workers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Provider names.
const (
	ProviderAuto  = "auto"
	ProviderEODHD = "eodhd"
	ProviderSim   = "sim"
)

// Duration is a time.Duration written as "30s" or "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment overrides. PORT, DATABASE_URL,
// REDIS_URL, MONGO_URI and EODHD_API_KEY keep their conventional names;
// everything else is STOCKBOT_*.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("STOCKBOT_HOST"); host != "" {
		config.Server.Host = host
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		config.Store.RedisURL = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		config.Store.MongoURI = v
	}
	if v := os.Getenv("STOCKBOT_MONGO_DATABASE"); v != "" {
		config.Store.MongoDatabase = v
	}
	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		config.Market.APIKey = v
	}
	if v := os.Getenv("STOCKBOT_PROVIDER"); v != "" {
		config.Market.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("STOCKBOT_QUOTE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Quotes.TTL.Duration = d
		}
	}
	if v := os.Getenv("STOCKBOT_ANALYTICS_PERIOD"); v != "" {
		config.Analytics.Period = strings.ToLower(v)
	}
	if level := os.Getenv("STOCKBOT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("STOCKBOT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Market.Provider {
	case ProviderAuto, ProviderEODHD, ProviderSim:
	default:
		return fmt.Errorf("config: unknown market provider %q", c.Market.Provider)
	}
	if c.Market.Provider == ProviderEODHD && c.Market.APIKey == "" {
		return errors.New("config: market provider eodhd requires an api key")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Quotes.TTL.Duration <= 0 {
		return errors.New("config: quote ttl must be positive")
	}
	if _, err := c.Analytics.LookbackPeriod(); err != nil {
		return fmt.Errorf("config: analytics period: %w", err)
	}
	return nil
}

// LookbackPeriod parses the configured analytics history period.
func (a AnalyticsConfig) LookbackPeriod() (market.Period, error) {
	return market.ParsePeriod(a.Period)
}

// ProviderName resolves "auto" to eodhd when an API key is present.
func (m MarketConfig) ProviderName() string {
	if m.Provider == ProviderAuto {
		if m.APIKey != "" {
			return ProviderEODHD
		}
		return ProviderSim
	}
	return m.Provider
}

// Guard returns the rate limit and circuit breaker settings for the provider.
func (m MarketConfig) Guard() market.GuardConfig {
	return market.GuardConfig{
		Name:        m.ProviderName(),
		RPS:         m.RPS,
		Burst:       m.Burst,
		Timeout:     m.Timeout.Duration,
		MaxFailures: m.MaxFailures,
		OpenFor:     m.OpenFor.Duration,
	}
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SlogLevel maps the configured level onto slog. Unknown values mean info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger from the logging settings.
func (l LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.ToLower(l.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
