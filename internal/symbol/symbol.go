// Package symbol handles ticker symbol normalization and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultExchange is assumed when a ticker carries no exchange suffix.
const DefaultExchange = "US"

// tickerRegex matches: {code}[.{exchange}]
// Examples: AAPL, BRK-B, VOD.LSE
var tickerRegex = regexp.MustCompile(
	`^([A-Z0-9]{1,6}(?:-[A-Z])?)(?:\.([A-Z]{1,4}))?$`,
)

var ErrInvalid = errors.New("symbol: invalid ticker format")

// Symbol is a parsed ticker.
type Symbol struct {
	Ticker   string `json:"ticker"`   // normalized input, e.g. "AAPL" or "VOD.LSE"
	Code     string `json:"code"`     // e.g. "AAPL"
	Exchange string `json:"exchange"` // e.g. "US"
}

// Normalize trims whitespace and upper-cases a ticker without validating it.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Parse normalizes and validates a ticker string.
func Parse(raw string) (Symbol, error) {
	ticker := Normalize(raw)
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	exchange := matches[2]
	if exchange == "" {
		exchange = DefaultExchange
	}
	return Symbol{
		Ticker:   ticker,
		Code:     matches[1],
		Exchange: exchange,
	}, nil
}

// ProviderCode returns the {code}.{exchange} form used by EOD data vendors.
func (s Symbol) ProviderCode() string {
	return s.Code + "." + s.Exchange
}
