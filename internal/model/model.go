// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal; indicator math stays in float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusExecuted  OrderStatus = "executed"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// Bar is one daily OHLCV session as supplied by a market data provider.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is a priced snapshot of a symbol. A new fetch produces a new Quote;
// existing values are never mutated.
type Quote struct {
	Symbol        string           `json:"symbol"`
	Price         decimal.Decimal  `json:"price"`
	Volume        int64            `json:"volume"`
	Open          decimal.Decimal  `json:"open_price"`
	High          decimal.Decimal  `json:"high_price"`
	Low           decimal.Decimal  `json:"low_price"`
	Close         decimal.Decimal  `json:"close_price"`
	PreviousClose decimal.Decimal  `json:"previous_close"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent decimal.Decimal  `json:"change_percent"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	PERatio       *decimal.Decimal `json:"pe_ratio,omitempty"`
	DividendYield *decimal.Decimal `json:"dividend_yield,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Order is a buy or sell instruction. Orders are never deleted; they move
// from pending to executed, cancelled or failed.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"user_id"`
	Notes       string          `json:"notes,omitempty"`
}

// OrderDraft is the caller-supplied input for placing an order.
// Price is optional; a supplied price must be positive, and placement
// always re-prices from the latest quote.
// Status may be empty (pending), pending or executed.
type OrderDraft struct {
	Symbol   string              `json:"symbol"`
	Side     Side                `json:"side"`
	Quantity int64               `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	Status   OrderStatus         `json:"status,omitempty"`
	UserID   string              `json:"user_id"`
	Notes    string              `json:"notes,omitempty"`
}

// Position is a user's holding in one symbol. TotalInvested is a running
// total kept independently of Quantity*AveragePrice.
type Position struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// PositionView is a Position marked to market at read time.
type PositionView struct {
	Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates a user's marked positions.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Positions     []PositionView  `json:"positions"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
	Skipped       []string        `json:"skipped,omitempty"` // symbols whose quote could not be fetched
	Timestamp     time.Time       `json:"timestamp"`
}
