package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/symbol"
)

// simEpoch is the first session of every simulated series. Generating from a
// fixed origin keeps a symbol's bar for a given date stable across calls.
var simEpoch = time.Date(2015, time.January, 2, 0, 0, 0, 0, time.UTC)

// Sim is an offline Provider producing a deterministic random walk per
// symbol. It backs demos and the CLI when no API key is configured.
type Sim struct {
	now func() time.Time
}

// NewSim returns a simulator. A nil now uses time.Now.
func NewSim(now func() time.Time) *Sim {
	if now == nil {
		now = time.Now
	}
	return &Sim{now: now}
}

func simSeed(code string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(code))
	return h.Sum64()
}

// series generates every weekday session from simEpoch through the day of now.
func (s *Sim) series(code string, now time.Time) []model.Bar {
	seed := simSeed(code)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	price := 20 + float64(seed%48000)/100
	bars := make([]model.Bar, 0, int(end.Sub(simEpoch).Hours()/24)*5/7+1)
	for d := simEpoch; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		open := price * (1 + rng.NormFloat64()*0.004)
		price *= math.Exp(0.0003 + rng.NormFloat64()*0.018)
		if price < 1 {
			price = 1
		}
		hi := math.Max(open, price) * (1 + math.Abs(rng.NormFloat64())*0.006)
		lo := math.Min(open, price) * (1 - math.Abs(rng.NormFloat64())*0.006)
		bars = append(bars, model.Bar{
			Date:   d,
			Open:   round2(open),
			High:   round2(hi),
			Low:    round2(lo),
			Close:  round2(price),
			Volume: 500_000 + rng.Int64N(40_000_000),
		})
	}
	return bars
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FetchRecent implements Provider.
func (s *Sim) FetchRecent(_ context.Context, sym string, sessions int) ([]model.Bar, error) {
	p, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	if sessions <= 0 {
		sessions = 1
	}
	return lastN(s.series(p.Ticker, s.now().UTC()), sessions), nil
}

// FetchHistory implements Provider.
func (s *Sim) FetchHistory(_ context.Context, sym string, period Period) ([]model.Bar, error) {
	p, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	from, err := period.Start(now)
	if err != nil {
		return nil, err
	}
	all := s.series(p.Ticker, now)
	for i, b := range all {
		if !b.Date.Before(from) {
			return all[i:], nil
		}
	}
	return nil, nil
}

// FetchSnapshotFields implements Provider. Values are stable per symbol;
// some symbols report no dividend yield.
func (s *Sim) FetchSnapshotFields(_ context.Context, sym string) (model.Fundamentals, error) {
	p, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	seed := simSeed(p.Ticker)
	rng := rand.New(rand.NewPCG(seed^0x9e3779b97f4a7c15, seed))

	series := s.series(p.Ticker, s.now().UTC())
	if len(series) == 0 {
		return nil, ErrUnknownSymbol
	}
	last := series[len(series)-1].Close
	shares := 1e8 + rng.Float64()*9.9e9

	f := model.Fundamentals{
		model.FieldMarketCap:      ptr(math.Round(last * shares)),
		model.FieldTrailingPE:     ptr(round2(5 + rng.Float64()*55)),
		model.FieldPriceToBook:    ptr(round2(0.5 + rng.Float64()*19.5)),
		model.FieldDebtToEquity:   ptr(round2(rng.Float64() * 3)),
		model.FieldReturnOnEquity: ptr(round2(-0.1 + rng.Float64()*0.5)),
		model.FieldProfitMargins:  ptr(round2(-0.05 + rng.Float64()*0.4)),
		model.FieldRevenueGrowth:  ptr(round2(-0.2 + rng.Float64()*0.6)),
		model.FieldEarningsGrowth: ptr(round2(-0.3 + rng.Float64()*0.9)),
		model.FieldDividendYield:  nil,
	}
	if seed%3 != 0 {
		f[model.FieldDividendYield] = ptr(math.Round(rng.Float64()*600) / 10000)
	}
	return f, nil
}

func ptr(v float64) *float64 { return &v }
