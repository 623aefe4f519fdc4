// Package quote serves priced snapshots of a symbol from a TTL cache in
// front of a market data provider.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/metrics"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/store"
	"github.com/atmx/stockbot/internal/symbol"
)

// DefaultTTL is how long a fetched quote is served before refetching.
const DefaultTTL = 300 * time.Second

// ErrNoData is returned when the provider has no sessions for a symbol.
var ErrNoData = errors.New("quote: no data for symbol")

type entry struct {
	quote     model.Quote
	fetchedAt time.Time
}

// Cache is a per-symbol quote cache. Safe for concurrent use; concurrent
// misses for one symbol share a single provider fetch.
type Cache struct {
	provider market.Provider
	auditor  store.QuoteAuditor
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithAuditor records every fetched quote. Audit failures never fail a Get.
func WithAuditor(a store.QuoteAuditor) Option {
	return func(c *Cache) { c.auditor = a }
}

// New returns a cache in front of p.
func New(p market.Provider, opts ...Option) *Cache {
	c := &Cache{
		provider: p,
		ttl:      DefaultTTL,
		now:      time.Now,
		entries:  make(map[string]entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the quote for raw, serving it from cache while fresh.
func (c *Cache) Get(ctx context.Context, raw string) (model.Quote, error) {
	sym, err := symbol.Parse(raw)
	if err != nil {
		return model.Quote{}, err
	}
	key := sym.Ticker

	if q, ok := c.lookup(key); ok {
		metrics.QuoteCacheHits.Inc()
		return q, nil
	}
	metrics.QuoteCacheMisses.Inc()

	// The shared fetch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if q, ok := c.lookup(key); ok {
			return q, nil
		}
		q, err := c.fetch(shared, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{quote: q, fetchedAt: c.now()}
		c.mu.Unlock()
		return q, nil
	})
	select {
	case <-ctx.Done():
		return model.Quote{}, fmt.Errorf("quote: get %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return model.Quote{}, res.Err
		}
		return clone(res.Val.(model.Quote)), nil
	}
}

func (c *Cache) lookup(key string) (model.Quote, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return model.Quote{}, false
	}
	return clone(e.quote), true
}

// clone copies the optional fields so callers never share the cached values.
func clone(q model.Quote) model.Quote {
	q.MarketCap = copyDec(q.MarketCap)
	q.PERatio = copyDec(q.PERatio)
	q.DividendYield = copyDec(q.DividendYield)
	return q
}

func copyDec(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (c *Cache) fetch(ctx context.Context, sym string) (model.Quote, error) {
	bars, err := c.provider.FetchRecent(ctx, sym, 2)
	if errors.Is(err, market.ErrUnknownSymbol) {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrNoData, sym)
	}
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote: fetch %s: %w", sym, err)
	}
	if len(bars) == 0 {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrNoData, sym)
	}

	latest := bars[len(bars)-1]
	previous := latest
	if len(bars) > 1 {
		previous = bars[len(bars)-2]
	}
	q := build(sym, latest, previous, c.now())

	fields, err := c.provider.FetchSnapshotFields(ctx, sym)
	if err != nil {
		slog.Warn("quote fundamentals unavailable", "symbol", sym, "err", err)
	} else {
		q.MarketCap = decPtr(fields, model.FieldMarketCap)
		q.PERatio = decPtr(fields, model.FieldTrailingPE)
		q.DividendYield = decPtr(fields, model.FieldDividendYield)
	}

	if c.auditor != nil {
		if err := c.auditor.InsertQuote(ctx, q); err != nil {
			slog.Warn("quote audit write failed", "symbol", sym, "err", err)
		}
	}
	return q, nil
}

// build prices a quote from the latest and previous sessions.
func build(sym string, latest, previous model.Bar, now time.Time) model.Quote {
	price := decimal.NewFromFloat(latest.Close)
	prevClose := decimal.NewFromFloat(previous.Close)
	change := price.Sub(prevClose)
	pct := decimal.Zero
	if !prevClose.IsZero() {
		pct = change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return model.Quote{
		Symbol:        sym,
		Price:         price,
		Volume:        latest.Volume,
		Open:          decimal.NewFromFloat(latest.Open),
		High:          decimal.NewFromFloat(latest.High),
		Low:           decimal.NewFromFloat(latest.Low),
		Close:         price,
		PreviousClose: prevClose,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     now.UTC(),
	}
}

func decPtr(f model.Fundamentals, name string) *decimal.Decimal {
	v, ok := f.Get(name)
	if !ok {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

// Len returns the number of cached symbols, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
