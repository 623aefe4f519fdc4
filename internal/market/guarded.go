package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/atmx/stockbot/internal/metrics"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/symbol"
)

// GuardConfig tunes the Guarded decorator.
type GuardConfig struct {
	Name    string
	RPS     float64       // token refill rate; <= 0 disables limiting
	Burst   int           // bucket size
	Timeout time.Duration // per-call deadline; 0 means none

	// Consecutive failures before the breaker opens.
	MaxFailures uint32
	// How long the breaker stays open before probing again.
	OpenFor time.Duration
}

// DefaultGuardConfig matches a free-tier market data plan.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Name:        "market",
		RPS:         5,
		Burst:       10,
		Timeout:     10 * time.Second,
		MaxFailures: 3,
		OpenFor:     60 * time.Second,
	}
}

// Guarded wraps a Provider with a token-bucket limiter, a circuit breaker
// and a per-call timeout. Unknown-symbol and validation errors are caller
// mistakes and do not count against the breaker.
type Guarded struct {
	next    Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuarded decorates next.
func NewGuarded(next Provider, cfg GuardConfig) *Guarded {
	g := &Guarded{next: next, timeout: cfg.Timeout}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	st := gobreaker.Settings{Name: cfg.Name}
	st.Interval = 60 * time.Second
	st.Timeout = cfg.OpenFor
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= maxFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrUnknownSymbol) ||
			errors.Is(err, ErrInvalidPeriod) || errors.Is(err, symbol.ErrInvalid)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("market provider breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}
	g.breaker = gobreaker.NewCircuitBreaker(st)
	return g
}

// guard runs fn under the limiter, timeout and breaker.
func guard[T any](ctx context.Context, g *Guarded, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.ProviderRequests.WithLabelValues(op, "rate_limited").Inc()
			return zero, fmt.Errorf("market: %s: rate limit: %w", op, err)
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ProviderRequests.WithLabelValues(op, "breaker_open").Inc()
		return zero, fmt.Errorf("market: %s: %w", op, err)
	case err != nil:
		metrics.ProviderRequests.WithLabelValues(op, "error").Inc()
		return zero, err
	}
	metrics.ProviderRequests.WithLabelValues(op, "ok").Inc()
	return out.(T), nil
}

// FetchRecent implements Provider.
func (g *Guarded) FetchRecent(ctx context.Context, sym string, sessions int) ([]model.Bar, error) {
	return guard(ctx, g, "recent", func(ctx context.Context) ([]model.Bar, error) {
		return g.next.FetchRecent(ctx, sym, sessions)
	})
}

// FetchHistory implements Provider.
func (g *Guarded) FetchHistory(ctx context.Context, sym string, period Period) ([]model.Bar, error) {
	return guard(ctx, g, "history", func(ctx context.Context) ([]model.Bar, error) {
		return g.next.FetchHistory(ctx, sym, period)
	})
}

// FetchSnapshotFields implements Provider.
func (g *Guarded) FetchSnapshotFields(ctx context.Context, sym string) (model.Fundamentals, error) {
	return guard(ctx, g, "fundamentals", func(ctx context.Context) (model.Fundamentals, error) {
		return g.next.FetchSnapshotFields(ctx, sym)
	})
}

// State reports the breaker state, e.g. for health checks.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}
