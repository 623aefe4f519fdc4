package model

import "time"

// Provider-side fundamental field names.
const (
	FieldMarketCap      = "marketCap"
	FieldTrailingPE     = "trailingPE"
	FieldDividendYield  = "dividendYield"
	FieldPriceToBook    = "priceToBook"
	FieldDebtToEquity   = "debtToEquity"
	FieldReturnOnEquity = "returnOnEquity"
	FieldProfitMargins  = "profitMargins"
	FieldRevenueGrowth  = "revenueGrowth"
	FieldEarningsGrowth = "earningsGrowth"
)

// Report-side fundamental metric names.
const (
	MetricMarketCap      = "market_cap"
	MetricPERatio        = "pe_ratio"
	MetricPBRatio        = "pb_ratio"
	MetricDebtToEquity   = "debt_to_equity"
	MetricReturnOnEquity = "return_on_equity"
	MetricProfitMargins  = "profit_margins"
	MetricRevenueGrowth  = "revenue_growth"
	MetricEarningsGrowth = "earnings_growth"
)

// Fundamentals maps provider field names to optional values.
// A nil value or a missing key means the provider did not report the field.
type Fundamentals map[string]*float64

// Get returns the value for name and whether it was reported.
func (f Fundamentals) Get(name string) (float64, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// FundamentalMetrics maps report metric names to optional values.
type FundamentalMetrics map[string]*float64

// Get returns the value for name and whether it was reported.
func (m FundamentalMetrics) Get(name string) (float64, bool) {
	v, ok := m[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// metricFields maps report metric names to the provider fields they come from.
var metricFields = []struct{ metric, field string }{
	{MetricMarketCap, FieldMarketCap},
	{MetricPERatio, FieldTrailingPE},
	{MetricPBRatio, FieldPriceToBook},
	{MetricDebtToEquity, FieldDebtToEquity},
	{MetricReturnOnEquity, FieldReturnOnEquity},
	{MetricProfitMargins, FieldProfitMargins},
	{MetricRevenueGrowth, FieldRevenueGrowth},
	{MetricEarningsGrowth, FieldEarningsGrowth},
}

// Metrics projects provider fundamentals onto the report metric names.
// Every metric key is present; unreported ones map to nil.
func (f Fundamentals) Metrics() FundamentalMetrics {
	m := make(FundamentalMetrics, len(metricFields))
	for _, mf := range metricFields {
		if v, ok := f.Get(mf.field); ok {
			val := v
			m[mf.metric] = &val
		} else {
			m[mf.metric] = nil
		}
	}
	return m
}

// IndicatorSet holds the technical indicators computed from price history.
type IndicatorSet struct {
	SMA20      float64 `json:"sma_20"`
	SMA50      float64 `json:"sma_50"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
}

// PricePoint is one entry of the recent price/volume series in a report.
type PricePoint struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// AnalyticsReport is produced on demand and never treated as stored state.
type AnalyticsReport struct {
	Symbol          string             `json:"symbol"`
	Indicators      IndicatorSet       `json:"technical_indicators"`
	Fundamentals    FundamentalMetrics `json:"fundamental_metrics"`
	PriceHistory    []PricePoint       `json:"price_history"`
	Recommendations []string           `json:"recommendations"`
	RiskScore       float64            `json:"risk_score"`
	Timestamp       time.Time          `json:"timestamp"`
}
