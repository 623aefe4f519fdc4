// Package analytics builds on-demand analytics reports: a year of daily
// history run through the indicator calculator and the risk engine.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/stockbot/internal/indicator"
	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/metrics"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/risk"
	"github.com/atmx/stockbot/internal/store"
	"github.com/atmx/stockbot/internal/symbol"
)

// HistoryBars is the number of trailing bars included in a report.
const HistoryBars = 30

// ErrNoData is returned when the provider has no history for a symbol.
var ErrNoData = errors.New("analytics: no historical data for symbol")

// Service produces analytics reports.
type Service struct {
	provider market.Provider
	auditor  store.AnalyticsAuditor
	period   market.Period
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuditor records every generated report. Audit failures are logged.
func WithAuditor(a store.AnalyticsAuditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithPeriod overrides the one-year lookback.
func WithPeriod(p market.Period) Option {
	return func(s *Service) { s.period = p }
}

// WithClock injects the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service reading from p.
func New(p market.Provider, opts ...Option) *Service {
	s := &Service{provider: p, period: market.Period1Y, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Report computes the analytics report for raw. Reports are never cached.
func (s *Service) Report(ctx context.Context, raw string) (model.AnalyticsReport, error) {
	start := time.Now()
	defer func() { metrics.AnalyticsLatency.Observe(time.Since(start).Seconds()) }()

	sym, err := symbol.Parse(raw)
	if err != nil {
		return model.AnalyticsReport{}, err
	}

	history, err := s.provider.FetchHistory(ctx, sym.Ticker, s.period)
	if errors.Is(err, market.ErrUnknownSymbol) {
		return model.AnalyticsReport{}, fmt.Errorf("%w: %s", ErrNoData, sym.Ticker)
	}
	if err != nil {
		return model.AnalyticsReport{}, fmt.Errorf("analytics: history %s: %w", sym.Ticker, err)
	}

	ind, err := indicator.Compute(history)
	if errors.Is(err, indicator.ErrInsufficientHistory) {
		return model.AnalyticsReport{}, fmt.Errorf("%w: %s", ErrNoData, sym.Ticker)
	}
	if err != nil {
		return model.AnalyticsReport{}, err
	}

	fields, err := s.provider.FetchSnapshotFields(ctx, sym.Ticker)
	if err != nil {
		slog.Warn("analytics fundamentals unavailable", "symbol", sym.Ticker, "err", err)
		fields = nil
	}
	fundamentals := fields.Metrics()
	assessment := risk.Assess(ind, fundamentals)

	report := model.AnalyticsReport{
		Symbol:          sym.Ticker,
		Indicators:      ind,
		Fundamentals:    fundamentals,
		PriceHistory:    priceHistory(history, HistoryBars),
		Recommendations: assessment.Recommendations,
		RiskScore:       assessment.Score,
		Timestamp:       s.now().UTC(),
	}

	if s.auditor != nil {
		if err := s.auditor.InsertAnalytics(ctx, report); err != nil {
			slog.Warn("analytics audit write failed", "symbol", sym.Ticker, "err", err)
		}
	}
	return report, nil
}

// priceHistory returns the trailing n bars as report points.
func priceHistory(bars []model.Bar, n int) []model.PricePoint {
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	points := make([]model.PricePoint, len(bars))
	for i, b := range bars {
		points[i] = model.PricePoint{
			Date:   b.Date.Format(time.DateOnly),
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return points
}
