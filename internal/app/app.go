// Package app assembles the engine from configuration: the market data
// provider, the persistent store and their cleanup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atmx/stockbot/internal/analytics"
	"github.com/atmx/stockbot/internal/config"
	"github.com/atmx/stockbot/internal/engine"
	"github.com/atmx/stockbot/internal/ledger"
	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/quote"
	"github.com/atmx/stockbot/internal/store"
)

const connectTimeout = 10 * time.Second

// App holds the wired engine and the resources it owns.
type App struct {
	Engine  *engine.Engine
	Store   store.Store // nil in degraded mode
	cleanup []func()
}

// New builds the provider, opens the store and wires the engine. A store
// that cannot be reached at startup is logged and the engine runs degraded.
func New(ctx context.Context, cfg *config.Config, n ledger.Notifier) (*App, error) {
	p, err := NewProvider(cfg.Market)
	if err != nil {
		return nil, err
	}

	period, err := cfg.Analytics.LookbackPeriod()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{}
	st, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("store unavailable, running without persistence", "err", err)
		st = nil
	}
	a.Store = st

	a.Engine = engine.New(p, engine.Config{
		Store:            st,
		QuoteOptions:     []quote.Option{quote.WithTTL(cfg.Quotes.TTL.Duration)},
		AnalyticsOptions: []analytics.Option{analytics.WithPeriod(period)},
		Notifier:         n,
		QuoteWorkers:     cfg.Ledger.QuoteWorkers,
	})
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// NewProvider selects the market data source and wraps it in the
// rate-limited, circuit-broken guard.
func NewProvider(cfg config.MarketConfig) (market.Provider, error) {
	var p market.Provider
	switch name := cfg.ProviderName(); name {
	case config.ProviderEODHD:
		var opts []market.EODHDOption
		if cfg.BaseURL != "" {
			opts = append(opts, market.WithBaseURL(cfg.BaseURL))
		}
		p = market.NewEODHD(cfg.APIKey, opts...)
		slog.Info("market provider selected", "provider", name)
	case config.ProviderSim:
		p = market.NewSim(nil)
		slog.Warn("no market data key configured, using simulated prices")
	default:
		return nil, fmt.Errorf("app: unknown market provider %q", name)
	}
	return market.NewGuarded(p, cfg.Guard()), nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Ping(ctx); err != nil {
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("database schema: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return a.withCache(ctx, pg, cfg)

	case cfg.MongoURI != "":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		})
		ms := store.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := ms.Ping(ctx); err != nil {
			return nil, fmt.Errorf("mongo ping failed: %w", err)
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		slog.Info("connected to MongoDB", "database", cfg.MongoDatabase)
		return a.withCache(ctx, ms, cfg)

	case cfg.Memory:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("no store configured")
}

// withCache wraps primary with the Redis read-through cache when configured.
// A Redis outage at startup leaves the primary store uncached.
func (a *App) withCache(ctx context.Context, primary store.Store, cfg config.StoreConfig) (store.Store, error) {
	if cfg.RedisURL == "" {
		return primary, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		slog.Warn("redis unavailable, cache disabled", "err", err)
		return primary, nil
	}
	a.cleanup = append(a.cleanup, func() { rdb.Close() })
	slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL.String())
	return store.NewCachedStore(primary, rdb, cfg.RedisTTL.Duration), nil
}
