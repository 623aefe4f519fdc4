// Package store defines the persistence interface for stockbot.
// Implementations include PostgreSQL and MongoDB (sources of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/stockbot/internal/model"
)

var (
	// ErrNotFound is returned when an order or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStatusConflict is returned by UpdateOrderStatus when the stored
	// status is not the expected one.
	ErrStatusConflict = errors.New("store: order status conflict")
)

// QuoteAuditor records fetched quotes. Writes are best-effort audit copies
// and are never read back by the engine.
type QuoteAuditor interface {
	InsertQuote(ctx context.Context, q model.Quote) error
}

// AnalyticsAuditor records generated analytics reports.
type AnalyticsAuditor interface {
	InsertAnalytics(ctx context.Context, r model.AnalyticsReport) error
}

// Store is the persistence interface.
type Store interface {
	QuoteAuditor
	AnalyticsAuditor

	// --- Orders ---

	// InsertOrder persists a new order, assigning o.ID when it is empty.
	InsertOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrderStatus moves an order from one status to another. It is a
	// compare-and-set: ErrStatusConflict if the current status is not from.
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error

	// ListOrdersByUser returns a user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// --- Positions ---

	// GetPosition returns the (user, symbol) position or ErrNotFound.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// UpsertPosition creates or replaces the (user, symbol) position.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes the (user, symbol) position. Deleting a missing
	// position is not an error.
	DeletePosition(ctx context.Context, userID, symbol string) error

	// ListPositions returns a user's positions ordered by symbol.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
