package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/symbol"
)

// DefaultEODHDBaseURL is the public EODHD API root.
const DefaultEODHDBaseURL = "https://eodhd.com/api"

// EODHD fetches end-of-day bars and fundamentals from eodhd.com.
type EODHD struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// EODHDOption configures an EODHD client.
type EODHDOption func(*EODHD)

// WithBaseURL points the client at another API root, e.g. an httptest server.
func WithBaseURL(u string) EODHDOption {
	return func(c *EODHD) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) EODHDOption {
	return func(c *EODHD) { c.client = hc }
}

// WithNow overrides the clock used to compute date ranges.
func WithNow(now func() time.Time) EODHDOption {
	return func(c *EODHD) { c.now = now }
}

// NewEODHD returns a client authenticating with apiKey.
func NewEODHD(apiKey string, opts ...EODHDOption) *EODHD {
	c := &EODHD{
		apiKey:  apiKey,
		baseURL: DefaultEODHDBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// eodBar is one row of the /eod endpoint.
//
//	{"date":"2024-02-13","open":675.06,"high":684.21,"low":648.65,
//	 "close":668.44,"adjusted_close":67.70,"volume":0}
type eodBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchRecent implements Provider.
func (c *EODHD) FetchRecent(ctx context.Context, sym string, sessions int) ([]model.Bar, error) {
	if sessions <= 0 {
		sessions = 1
	}
	now := c.now().UTC()
	// Calendar lookback wide enough to cover weekends and holidays.
	from := now.AddDate(0, 0, -(sessions*2 + 7))
	bars, err := c.fetchEOD(ctx, sym, from, now)
	if err != nil {
		return nil, err
	}
	return lastN(bars, sessions), nil
}

// FetchHistory implements Provider.
func (c *EODHD) FetchHistory(ctx context.Context, sym string, period Period) ([]model.Bar, error) {
	now := c.now().UTC()
	from, err := period.Start(now)
	if err != nil {
		return nil, err
	}
	return c.fetchEOD(ctx, sym, from, now)
}

func (c *EODHD) fetchEOD(ctx context.Context, sym string, from, to time.Time) ([]model.Bar, error) {
	s, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("order", "a")
	q.Set("from", from.Format(time.DateOnly))
	q.Set("to", to.Format(time.DateOnly))

	var rows []eodBar
	if err := c.get(ctx, "/eod/"+url.PathEscape(s.ProviderCode()), q, &rows); err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("market: eodhd %s: bad date %q: %w", s.Code, r.Date, err)
		}
		bars = append(bars, model.Bar{
			Date:   d,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: int64(r.Volume),
		})
	}
	return bars, nil
}

// fundamentalsDoc is the subset of /fundamentals we read. Pointers keep
// null and missing values distinct from zero.
type fundamentalsDoc struct {
	Highlights struct {
		MarketCapitalization       *float64 `json:"MarketCapitalization"`
		PERatio                    *float64 `json:"PERatio"`
		DividendYield              *float64 `json:"DividendYield"`
		ProfitMargin               *float64 `json:"ProfitMargin"`
		ReturnOnEquityTTM          *float64 `json:"ReturnOnEquityTTM"`
		QuarterlyRevenueGrowthYOY  *float64 `json:"QuarterlyRevenueGrowthYOY"`
		QuarterlyEarningsGrowthYOY *float64 `json:"QuarterlyEarningsGrowthYOY"`
	} `json:"Highlights"`
	Valuation struct {
		TrailingPE   *float64 `json:"TrailingPE"`
		PriceBookMRQ *float64 `json:"PriceBookMRQ"`
	} `json:"Valuation"`
}

// FetchSnapshotFields implements Provider. EODHD does not publish a
// debt-to-equity ratio, so that field is always absent.
func (c *EODHD) FetchSnapshotFields(ctx context.Context, sym string) (model.Fundamentals, error) {
	s, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("filter", "Highlights,Valuation")

	var doc fundamentalsDoc
	if err := c.get(ctx, "/fundamentals/"+url.PathEscape(s.ProviderCode()), q, &doc); err != nil {
		return nil, err
	}

	pe := doc.Valuation.TrailingPE
	if pe == nil {
		pe = doc.Highlights.PERatio
	}
	return model.Fundamentals{
		model.FieldMarketCap:      doc.Highlights.MarketCapitalization,
		model.FieldTrailingPE:     pe,
		model.FieldDividendYield:  doc.Highlights.DividendYield,
		model.FieldPriceToBook:    doc.Valuation.PriceBookMRQ,
		model.FieldDebtToEquity:   nil,
		model.FieldReturnOnEquity: doc.Highlights.ReturnOnEquityTTM,
		model.FieldProfitMargins:  doc.Highlights.ProfitMargin,
		model.FieldRevenueGrowth:  doc.Highlights.QuarterlyRevenueGrowthYOY,
		model.FieldEarningsGrowth: doc.Highlights.QuarterlyEarningsGrowthYOY,
	}, nil
}

// get issues an authenticated GET and decodes the JSON body into out.
func (c *EODHD) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("api_token", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("market: eodhd request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("market: eodhd GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("market: eodhd GET %s: %s: %s", path, resp.Status, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("market: eodhd decode %s: %w", path, err)
	}
	return nil
}
