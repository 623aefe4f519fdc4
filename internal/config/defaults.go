package config

import (
	"time"

	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/quote"
)

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "",
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Store: StoreConfig{
			RedisTTL:      Duration{30 * time.Second},
			MongoDatabase: "stockbot",
			Memory:        true,
		},
		Market: MarketConfig{
			Provider:    ProviderAuto,
			RPS:         5,
			Burst:       10,
			Timeout:     Duration{10 * time.Second},
			MaxFailures: 3,
			OpenFor:     Duration{60 * time.Second},
		},
		Quotes: QuotesConfig{
			TTL: Duration{quote.DefaultTTL},
		},
		Analytics: AnalyticsConfig{
			Period: string(market.Period1Y),
		},
		Ledger: LedgerConfig{
			QuoteWorkers: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
