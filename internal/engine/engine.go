// Package engine is the entry point into the Portfolio & Analytics Engine.
// Transports (HTTP, MCP, chat, CLI) talk to an Engine with plain model
// values and classify failures with Kind.
package engine

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"github.com/atmx/stockbot/internal/analytics"
	"github.com/atmx/stockbot/internal/indicator"
	"github.com/atmx/stockbot/internal/ledger"
	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/quote"
	"github.com/atmx/stockbot/internal/store"
	"github.com/atmx/stockbot/internal/symbol"
)

// Engine bundles the quote cache, analytics and the ledger.
type Engine struct {
	provider  market.Provider
	quotes    *quote.Cache
	analytics *analytics.Service
	ledger    *ledger.Ledger
}

// Config holds optional collaborators for New.
type Config struct {
	// Store may be nil, in which case the ledger runs degraded.
	Store            store.Store
	QuoteOptions     []quote.Option
	AnalyticsOptions []analytics.Option
	Notifier         ledger.Notifier
	QuoteWorkers     int
}

// New wires an engine around provider p.
func New(p market.Provider, cfg Config) *Engine {
	qopts := append([]quote.Option(nil), cfg.QuoteOptions...)
	aopts := append([]analytics.Option(nil), cfg.AnalyticsOptions...)
	if cfg.Store != nil {
		qopts = append(qopts, quote.WithAuditor(cfg.Store))
		aopts = append(aopts, analytics.WithAuditor(cfg.Store))
	}
	quotes := quote.New(p, qopts...)

	lopts := []ledger.Option{ledger.WithQuoteWorkers(cfg.QuoteWorkers)}
	if cfg.Notifier != nil {
		lopts = append(lopts, ledger.WithNotifier(cfg.Notifier))
	}
	return &Engine{
		provider:  p,
		quotes:    quotes,
		analytics: analytics.New(p, aopts...),
		ledger:    ledger.New(cfg.Store, quotes, lopts...),
	}
}

// GetQuote returns the current quote for a symbol.
func (e *Engine) GetQuote(ctx context.Context, sym string) (model.Quote, error) {
	return e.quotes.Get(ctx, sym)
}

// GetAnalytics returns a freshly computed analytics report.
func (e *Engine) GetAnalytics(ctx context.Context, sym string) (model.AnalyticsReport, error) {
	return e.analytics.Report(ctx, sym)
}

// PlaceOrder records a new order.
func (e *Engine) PlaceOrder(ctx context.Context, d model.OrderDraft) (model.Order, error) {
	return e.ledger.PlaceOrder(ctx, d)
}

// ExecuteOrder executes a pending order.
func (e *Engine) ExecuteOrder(ctx context.Context, id string) (model.Order, error) {
	return e.ledger.ExecuteOrder(ctx, id)
}

// CancelOrder cancels a pending order.
func (e *Engine) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	return e.ledger.CancelOrder(ctx, id)
}

// ListOrders returns a user's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return e.ledger.ListOrders(ctx, userID)
}

// GetPortfolio returns a user's marked-to-market portfolio.
func (e *Engine) GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	return e.ledger.GetPortfolio(ctx, userID)
}

// Degraded reports whether orders are held without durable storage.
func (e *Engine) Degraded() bool { return e.ledger.Degraded() }

// Status is a point-in-time health summary.
type Status struct {
	Storage      string `json:"storage"`  // ok or degraded
	Provider     string `json:"provider"` // breaker state, or unguarded
	CachedQuotes int    `json:"cached_quotes"`
}

// Status reports storage mode, the provider breaker state and the quote
// cache size.
func (e *Engine) Status() Status {
	st := Status{Storage: "ok", Provider: "unguarded", CachedQuotes: e.quotes.Len()}
	if e.Degraded() {
		st.Storage = "degraded"
	}
	if b, ok := e.provider.(interface{ State() gobreaker.State }); ok {
		st.Provider = b.State().String()
	}
	return st
}

// Error kinds reported to transports.
const (
	KindValidation           = "validation"
	KindNoData               = "no_data"
	KindNotFound             = "not_found"
	KindAlreadyExecuted      = "already_executed"
	KindInsufficientPosition = "insufficient_position"
	KindStorageUnavailable   = "storage_unavailable"
	KindInternal             = "internal"
)

// Kind classifies err into one of the Kind constants. Provider and storage
// failures that have no dedicated kind are internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, symbol.ErrInvalid),
		errors.Is(err, market.ErrInvalidPeriod):
		return KindValidation
	case errors.Is(err, quote.ErrNoData),
		errors.Is(err, analytics.ErrNoData),
		errors.Is(err, indicator.ErrInsufficientHistory),
		errors.Is(err, market.ErrUnknownSymbol):
		return KindNoData
	case errors.Is(err, ledger.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ledger.ErrAlreadyExecuted):
		return KindAlreadyExecuted
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return KindInsufficientPosition
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return KindStorageUnavailable
	}
	return KindInternal
}
