// Package indicator computes technical indicators from daily OHLCV history.
//
// Computation never fails on numeric edge cases: any indicator whose window
// is not yet filled, or whose result is not finite, is reported with its
// documented default (0 for averages, MACD and Bollinger terms; 50 for RSI).
// Only an empty history is an error.
package indicator

import (
	"errors"
	"math"

	"github.com/atmx/stockbot/internal/model"
)

// ErrInsufficientHistory is returned when the history contains no bars.
var ErrInsufficientHistory = errors.New("indicator: price history is empty")

// Window sizes and defaults.
const (
	ShortSMAWindow  = 20
	LongSMAWindow   = 50
	RSIPeriod       = 14
	MACDFastSpan    = 12
	MACDSlowSpan    = 26
	MACDSignalSpan  = 9
	BollingerWindow = 20
	BollingerWidth  = 2.0

	DefaultRSI = 50.0
)

// Compute returns the indicator set for history, ordered oldest to newest.
func Compute(history []model.Bar) (model.IndicatorSet, error) {
	if len(history) == 0 {
		return model.IndicatorSet{}, ErrInsufficientHistory
	}

	closes := make([]float64, len(history))
	for i, b := range history {
		closes[i] = b.Close
	}

	macd, signal := MACD(closes, MACDFastSpan, MACDSlowSpan, MACDSignalSpan)
	mid, upper, lower := Bollinger(closes, BollingerWindow, BollingerWidth)

	rsi := orDefault(RSI(closes, RSIPeriod), DefaultRSI)
	rsi = math.Max(0, math.Min(100, rsi))

	return model.IndicatorSet{
		SMA20:      orDefault(SMA(closes, ShortSMAWindow), 0),
		SMA50:      orDefault(SMA(closes, LongSMAWindow), 0),
		RSI:        rsi,
		MACD:       orDefault(macd, 0),
		MACDSignal: orDefault(signal, 0),
		BBUpper:    orDefault(upper, 0),
		BBMiddle:   orDefault(mid, 0),
		BBLower:    orDefault(lower, 0),
	}, nil
}

// SMA is the mean of the trailing window values. NaN if the window is not filled.
func SMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return math.NaN()
	}
	var sum float64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// StdDev is the sample standard deviation (n-1) of the trailing window.
// NaN if the window is not filled or has fewer than two points.
func StdDev(values []float64, window int) float64 {
	if window < 2 || len(values) < window {
		return math.NaN()
	}
	tail := values[len(values)-window:]
	mean := SMA(tail, window)
	var ss float64
	for _, v := range tail {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(window-1))
}

// RSI is the relative strength index over the last period price deltas,
// using simple averages of gains and of losses (losses as magnitudes).
// NaN when fewer than period deltas exist or when the series is flat.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return math.NaN()
	}
	var gains, losses float64
	for i := len(values) - period; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA returns the exponentially weighted moving average series of values
// with smoothing alpha = 2/(span+1). Weights are normalised over the
// observations seen so far, so the series is defined from the first point.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if span <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	decay := 1 - 2/float64(span+1)
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// MACD returns the MACD line (fast EMA - slow EMA) and its signal EMA,
// both evaluated at the last value.
func MACD(values []float64, fast, slow, signal int) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	last := len(values) - 1
	return line[last], sig[last]
}

// Bollinger returns the middle, upper and lower bands over window values,
// width standard deviations apart. NaN when the window is not filled.
func Bollinger(values []float64, window int, width float64) (mid, upper, lower float64) {
	mid = SMA(values, window)
	sd := StdDev(values, window)
	return mid, mid + width*sd, mid - width*sd
}

func orDefault(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
