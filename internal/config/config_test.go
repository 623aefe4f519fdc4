package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atmx/stockbot/internal/market"
)

// clearEnv unsets every variable applyEnvOverrides reads for the duration
// of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "STOCKBOT_HOST", "DATABASE_URL", "REDIS_URL", "MONGO_URI",
		"STOCKBOT_MONGO_DATABASE", "EODHD_API_KEY", "STOCKBOT_PROVIDER",
		"STOCKBOT_QUOTE_TTL", "STOCKBOT_ANALYTICS_PERIOD", "STOCKBOT_LOG_LEVEL", "STOCKBOT_LOG_FORMAT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Quotes.TTL.Duration != 300*time.Second {
		t.Errorf("expected default quote ttl 5m, got %s", cfg.Quotes.TTL)
	}
	if cfg.Market.Provider != ProviderAuto {
		t.Errorf("expected default provider auto, got %s", cfg.Market.Provider)
	}
	if !cfg.Store.Memory {
		t.Error("expected in-memory store by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles with no files should not error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFiles_ValidTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
host = "0.0.0.0"
request_timeout = "15s"

[store]
database_url = "postgres://localhost/stockbot"
redis_ttl = "1m"

[market]
provider = "sim"
rps = 2.5
open_for = "2m"

[quotes]
ttl = "90s"

[analytics]
period = "6mo"

[logging]
level = "debug"
format = "text"
`
	if err := os.WriteFile(tomlPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(tomlPath)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("expected addr 0.0.0.0:9090, got %s", cfg.Server.Addr())
	}
	if cfg.Server.RequestTimeout.Duration != 15*time.Second {
		t.Errorf("expected request timeout 15s, got %s", cfg.Server.RequestTimeout)
	}
	if cfg.Store.DatabaseURL != "postgres://localhost/stockbot" {
		t.Errorf("unexpected database url %q", cfg.Store.DatabaseURL)
	}
	if cfg.Store.RedisTTL.Duration != time.Minute {
		t.Errorf("expected redis ttl 1m, got %s", cfg.Store.RedisTTL)
	}
	if cfg.Market.ProviderName() != ProviderSim || cfg.Market.RPS != 2.5 {
		t.Errorf("unexpected market config %+v", cfg.Market)
	}
	if cfg.Market.Burst != 10 {
		t.Errorf("unset keys should keep defaults, burst = %d", cfg.Market.Burst)
	}
	if cfg.Quotes.TTL.Duration != 90*time.Second {
		t.Errorf("expected quote ttl 90s, got %s", cfg.Quotes.TTL)
	}
	if p, err := cfg.Analytics.LookbackPeriod(); err != nil || p != market.Period6M {
		t.Errorf("expected analytics period 6mo, got %q (%v)", p, err)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.Logging.SlogLevel())
	}
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	local := filepath.Join(dir, "local.toml")
	os.WriteFile(base, []byte("[server]\nport = 7000\n[logging]\nlevel = \"warn\"\n"), 0644)
	os.WriteFile(local, []byte("[server]\nport = 7001\n"), 0644)

	cfg, err := LoadFromFiles(base, local)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("expected port 7001, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level from base file, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFiles_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFiles("/nonexistent/stockbot.toml"); err == nil {
		t.Error("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("[server\nport = "), 0644)
	if _, err := LoadFromFiles(bad); err == nil {
		t.Error("expected error for invalid TOML")
	}

	badDur := filepath.Join(dir, "dur.toml")
	os.WriteFile(badDur, []byte("[quotes]\nttl = \"soon\"\n"), 0644)
	if _, err := LoadFromFiles(badDur); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/0")
	t.Setenv("MONGO_URI", "mongodb://env")
	t.Setenv("EODHD_API_KEY", "env-key")
	t.Setenv("STOCKBOT_QUOTE_TTL", "45s")
	t.Setenv("STOCKBOT_ANALYTICS_PERIOD", "2Y")
	t.Setenv("STOCKBOT_LOG_LEVEL", "error")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Store.DatabaseURL != "postgres://env/db" || cfg.Store.RedisURL != "redis://env:6379/0" || cfg.Store.MongoURI != "mongodb://env" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Market.ProviderName() != ProviderEODHD {
		t.Errorf("auto provider with a key should resolve to eodhd, got %s", cfg.Market.ProviderName())
	}
	if cfg.Analytics.Period != "2y" {
		t.Errorf("expected analytics period 2y, got %q", cfg.Analytics.Period)
	}
	if cfg.Quotes.TTL.Duration != 45*time.Second {
		t.Errorf("expected quote ttl 45s, got %s", cfg.Quotes.TTL)
	}
	if cfg.Logging.SlogLevel() != slog.LevelError {
		t.Errorf("expected error level, got %s", cfg.Logging.SlogLevel())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Market.Provider = "yahoo" }},
		{"eodhd without key", func(c *Config) { c.Market.Provider = ProviderEODHD }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero ttl", func(c *Config) { c.Quotes.TTL.Duration = 0 }},
		{"unknown analytics period", func(c *Config) { c.Analytics.Period = "10y" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGuard(t *testing.T) {
	g := NewDefaultConfig().Market.Guard()
	if g.Name != ProviderSim || g.RPS != 5 || g.Burst != 10 || g.MaxFailures != 3 || g.OpenFor != time.Minute {
		t.Errorf("unexpected guard config %+v", g)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("EODHD_API_KEY=from-dotenv\nPORT=8181\n"), 0644)

	t.Setenv("PORT", "8282") // already set, must not be overridden
	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("EODHD_API_KEY") })

	if got := os.Getenv("EODHD_API_KEY"); got != "from-dotenv" {
		t.Errorf("expected key from .env, got %q", got)
	}
	if got := os.Getenv("PORT"); got != "8282" {
		t.Errorf("existing env should win, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}
