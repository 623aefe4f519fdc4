// Package risk turns indicators and fundamentals into a bounded risk score
// and an ordered list of advisory notes. Everything here is pure.
package risk

import (
	"math"

	"github.com/atmx/stockbot/internal/model"
)

// Score bounds and rule weights.
const (
	BaseScore = 50.0
	MinScore  = 0.0
	MaxScore  = 100.0

	ExtremeRSIPenalty = 20.0
	HighPEPenalty     = 15.0
	HighDebtPenalty   = 25.0
)

// Recommendation texts, in the order the rules are evaluated.
const (
	NoteOversold     = "RSI indicates oversold conditions - potential buy signal"
	NoteOverbought   = "RSI indicates overbought conditions - consider taking profits"
	NoteBullishMACD  = "MACD is above signal line - bullish momentum"
	NoteBearishMACD  = "MACD is below signal line - bearish momentum"
	NoteValuePE      = "Low P/E ratio suggests good value"
	NoteGrowthPE     = "High P/E ratio - evaluate growth prospects"
	NoteHighDebt     = "High debt levels - increased risk"
	NoteNoStrongSign = "No strong signals - maintain current position"
)

// Assessment is the outcome of Assess.
type Assessment struct {
	Score           float64  `json:"risk_score"`
	Recommendations []string `json:"recommendations"`
}

// Assess scores risk and builds recommendations. Same inputs, same output.
func Assess(ind model.IndicatorSet, f model.FundamentalMetrics) Assessment {
	return Assessment{
		Score:           Score(ind, f),
		Recommendations: Recommend(ind, f),
	}
}

// Score is additive from BaseScore, clamped to [0,100] and rounded to one
// decimal place. Unreported fundamentals add nothing.
func Score(ind model.IndicatorSet, f model.FundamentalMetrics) float64 {
	score := BaseScore

	if ind.RSI < 20 || ind.RSI > 80 {
		score += ExtremeRSIPenalty
	}
	if pe, _ := f.Get(model.MetricPERatio); pe > 30 {
		score += HighPEPenalty
	}
	if de, _ := f.Get(model.MetricDebtToEquity); de > 1.5 {
		score += HighDebtPenalty
	}

	score = math.Max(MinScore, math.Min(MaxScore, score))
	return math.Round(score*10) / 10
}

// Recommend evaluates the advisory rules in order. The MACD rule always
// fires; if nothing else does, a neutral note is appended.
func Recommend(ind model.IndicatorSet, f model.FundamentalMetrics) []string {
	var recs []string

	switch {
	case ind.RSI < 30:
		recs = append(recs, NoteOversold)
	case ind.RSI > 70:
		recs = append(recs, NoteOverbought)
	}

	macdNote := NoteBearishMACD
	if ind.MACD > ind.MACDSignal {
		macdNote = NoteBullishMACD
	}
	recs = append(recs, macdNote)

	if pe, ok := f.Get(model.MetricPERatio); ok {
		switch {
		case pe < 15:
			recs = append(recs, NoteValuePE)
		case pe > 25:
			recs = append(recs, NoteGrowthPE)
		}
	}

	if de, ok := f.Get(model.MetricDebtToEquity); ok && de > 1 {
		recs = append(recs, NoteHighDebt)
	}

	if len(recs) == 1 {
		recs = append(recs, NoteNoStrongSign)
	}
	return recs
}

// Level buckets a score into low, medium or high.
func Level(score float64) string {
	switch {
	case score < 30:
		return "low"
	case score < 70:
		return "medium"
	default:
		return "high"
	}
}
