// Package market provides market data sources: the Provider interface the
// engine depends on, an EODHD HTTP client, a deterministic simulator for
// offline use, and a rate-limited, circuit-broken decorator.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/stockbot/internal/model"
)

var (
	// ErrUnknownSymbol is returned when the provider has no data for a symbol.
	ErrUnknownSymbol = errors.New("market: unknown symbol")

	// ErrInvalidPeriod is returned for unsupported history periods.
	ErrInvalidPeriod = errors.New("market: invalid period")
)

// Provider supplies raw OHLCV history and snapshot fundamentals.
// Bars are ordered oldest to newest.
type Provider interface {
	// FetchRecent returns the latest sessions trading days.
	FetchRecent(ctx context.Context, symbol string, sessions int) ([]model.Bar, error)

	// FetchHistory returns daily bars covering period.
	FetchHistory(ctx context.Context, symbol string, period Period) ([]model.Bar, error)

	// FetchSnapshotFields returns fundamental fields; absent fields are nil.
	FetchSnapshotFields(ctx context.Context, symbol string) (model.Fundamentals, error)
}

// Period is a history lookback such as "1y".
type Period string

const (
	Period5D Period = "5d"
	Period1M Period = "1mo"
	Period3M Period = "3mo"
	Period6M Period = "6mo"
	Period1Y Period = "1y"
	Period2Y Period = "2y"
)

var periodMonths = map[Period]int{
	Period1M: 1,
	Period3M: 3,
	Period6M: 6,
	Period1Y: 12,
	Period2Y: 24,
}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if p == Period5D {
		return p, nil
	}
	if _, ok := periodMonths[p]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// Start returns the first calendar day covered by p when looking back from now.
func (p Period) Start(now time.Time) (time.Time, error) {
	if p == Period5D {
		// Five trading sessions span at most a week plus a holiday.
		return now.AddDate(0, 0, -8), nil
	}
	months, ok := periodMonths[p]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
	return now.AddDate(0, -months, 0), nil
}

// lastN returns the trailing n bars.
func lastN(bars []model.Bar, n int) []model.Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
