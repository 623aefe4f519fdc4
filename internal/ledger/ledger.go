// Package ledger places and executes simulated orders and maintains each
// user's positions with weighted-average cost basis.
//
// All monetary values use shopspring/decimal. Position changes for one
// (user, symbol) pair are serialized in-process; the order status flip is a
// compare-and-set in the store so a second process cannot execute the same
// order twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/stockbot/internal/metrics"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/store"
	"github.com/atmx/stockbot/internal/symbol"
)

var (
	ErrValidation           = errors.New("ledger: invalid order")
	ErrNotFound             = errors.New("ledger: order not found")
	ErrAlreadyExecuted      = errors.New("ledger: order is no longer pending")
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
	ErrStorageUnavailable   = errors.New("ledger: storage unavailable")
)

// DefaultUser owns orders placed without a user id.
const DefaultUser = "default_user"

// Order lifecycle events delivered to a Notifier.
const (
	EventPlaced    = "order_placed"
	EventExecuted  = "order_executed"
	EventCancelled = "order_cancelled"
)

// Quoter prices a symbol. *quote.Cache satisfies it.
type Quoter interface {
	Get(ctx context.Context, symbol string) (model.Quote, error)
}

// Notifier receives order lifecycle events after they are persisted.
type Notifier interface {
	OrderEvent(event string, o model.Order)
}

// Ledger is the order and portfolio service. A nil store puts it in
// degraded mode: orders can still be priced and placed, but nothing is
// durable and every read or state transition fails.
type Ledger struct {
	store    store.Store
	quotes   Quoter
	notifier Notifier
	locks    *keyLock
	now      func() time.Time
	workers  int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier publishes order events to n.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithClock injects the time source for order and position timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithQuoteWorkers bounds concurrent quote fetches when marking a portfolio.
func WithQuoteWorkers(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.workers = n
		}
	}
}

// New returns a ledger. Pass a nil st for degraded mode.
func New(st store.Store, q Quoter, opts ...Option) *Ledger {
	l := &Ledger{
		store:   st,
		quotes:  q,
		locks:   newKeyLock(),
		now:     time.Now,
		workers: 8,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Degraded reports whether the ledger runs without a store.
func (l *Ledger) Degraded() bool { return l.store == nil }

// PlaceOrder validates draft, prices it from the latest quote and records
// it. A draft with status executed is applied to the position immediately.
func (l *Ledger) PlaceOrder(ctx context.Context, draft model.OrderDraft) (model.Order, error) {
	sym, err := validate(draft)
	if err != nil {
		metrics.OrderRejections.WithLabelValues("validation").Inc()
		return model.Order{}, err
	}
	userID := draft.UserID
	if userID == "" {
		userID = DefaultUser
	}
	status := draft.Status
	if status == "" {
		status = model.StatusPending
	}
	// Executing needs the stored position; only pending orders can be
	// held without storage.
	if l.store == nil && status == model.StatusExecuted {
		metrics.OrderRejections.WithLabelValues("storage_unavailable").Inc()
		return model.Order{}, fmt.Errorf("%w: cannot execute %s without storage", ErrStorageUnavailable, sym)
	}

	q, err := l.quotes.Get(ctx, sym)
	if err != nil {
		return model.Order{}, err
	}
	if !q.Price.IsPositive() {
		metrics.OrderRejections.WithLabelValues("validation").Inc()
		return model.Order{}, fmt.Errorf("%w: no positive price for %s", ErrValidation, sym)
	}

	order := model.Order{
		Symbol:      sym,
		Side:        draft.Side,
		Quantity:    draft.Quantity,
		Price:       q.Price,
		TotalAmount: q.Price.Mul(decimal.NewFromInt(draft.Quantity)),
		Status:      status,
		Timestamp:   l.now().UTC(),
		UserID:      userID,
		Notes:       draft.Notes,
	}

	if l.store == nil {
		order.ID = "local-" + uuid.New().String()
		slog.Warn("order placed without storage; not durable",
			"order_id", order.ID, "user", userID, "symbol", sym)
		metrics.OrdersTotal.WithLabelValues(string(order.Side), "placed").Inc()
		return order, nil
	}

	if status == model.StatusExecuted {
		if err := l.placeExecuted(ctx, &order); err != nil {
			return model.Order{}, err
		}
		l.emit(EventExecuted, order)
		return order, nil
	}

	if err := l.store.InsertOrder(ctx, &order); err != nil {
		return model.Order{}, fmt.Errorf("ledger: record order: %w", err)
	}
	slog.Info("order placed",
		"order_id", order.ID,
		"user", userID,
		"symbol", sym,
		"side", string(order.Side),
		"qty", order.Quantity,
		"price", order.Price.String(),
	)
	metrics.OrdersTotal.WithLabelValues(string(order.Side), "placed").Inc()
	l.emit(EventPlaced, order)
	return order, nil
}

// placeExecuted records an already-executed order together with its
// position change. The change is computed first so an oversell persists
// nothing.
func (l *Ledger) placeExecuted(ctx context.Context, order *model.Order) error {
	unlock := l.locks.Lock(positionLockKey(order.UserID, order.Symbol))
	defer unlock()

	next, err := l.nextPosition(ctx, *order)
	if err != nil {
		return err
	}
	if err := l.store.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("ledger: record order: %w", err)
	}
	if err := l.writePosition(ctx, order.UserID, order.Symbol, next); err != nil {
		return err
	}
	l.logExecuted(*order, next)
	return nil
}

// ExecuteOrder applies a pending order to the user's position at the
// order's recorded price.
func (l *Ledger) ExecuteOrder(ctx context.Context, orderID string) (model.Order, error) {
	if l.store == nil {
		return model.Order{}, ErrStorageUnavailable
	}
	o, err := l.getOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}

	unlock := l.locks.Lock(positionLockKey(o.UserID, o.Symbol))
	defer unlock()

	// Re-read under the lock; another execution may have won the race.
	o, err = l.getOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.Status != model.StatusPending {
		return model.Order{}, fmt.Errorf("%w: order %s is %s", ErrAlreadyExecuted, orderID, o.Status)
	}

	next, err := l.nextPosition(ctx, o)
	if err != nil {
		return model.Order{}, err
	}

	if err := l.store.UpdateOrderStatus(ctx, orderID, model.StatusPending, model.StatusExecuted); err != nil {
		return model.Order{}, l.transitionErr(orderID, err)
	}
	if err := l.writePosition(ctx, o.UserID, o.Symbol, next); err != nil {
		// Put the order back so it can be retried.
		if rerr := l.store.UpdateOrderStatus(ctx, orderID, model.StatusExecuted, model.StatusPending); rerr != nil {
			slog.Error("order status rollback failed", "order_id", orderID, "err", rerr)
		}
		return model.Order{}, err
	}

	o.Status = model.StatusExecuted
	l.logExecuted(o, next)
	l.emit(EventExecuted, o)
	return o, nil
}

// CancelOrder marks a pending order cancelled. Positions are untouched.
func (l *Ledger) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	if l.store == nil {
		return model.Order{}, ErrStorageUnavailable
	}
	o, err := l.getOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.Status != model.StatusPending {
		return model.Order{}, fmt.Errorf("%w: order %s is %s", ErrAlreadyExecuted, orderID, o.Status)
	}

	unlock := l.locks.Lock(positionLockKey(o.UserID, o.Symbol))
	defer unlock()

	if err := l.store.UpdateOrderStatus(ctx, orderID, model.StatusPending, model.StatusCancelled); err != nil {
		return model.Order{}, l.transitionErr(orderID, err)
	}
	o.Status = model.StatusCancelled
	slog.Info("order cancelled", "order_id", orderID, "user", o.UserID, "symbol", o.Symbol)
	metrics.OrdersTotal.WithLabelValues(string(o.Side), "cancelled").Inc()
	l.emit(EventCancelled, o)
	return o, nil
}

// ListOrders returns a user's orders, newest first.
func (l *Ledger) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	if l.store == nil {
		return nil, ErrStorageUnavailable
	}
	if userID == "" {
		userID = DefaultUser
	}
	orders, err := l.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list orders: %w", err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// GetPortfolio marks every position to the latest quote. Positions whose
// quote cannot be fetched are left out and listed in Skipped.
func (l *Ledger) GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	if l.store == nil {
		return model.Portfolio{}, ErrStorageUnavailable
	}
	if userID == "" {
		userID = DefaultUser
	}
	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: list positions: %w", err)
	}

	prices := make([]decimal.Decimal, len(positions))
	failed := make([]error, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, p := range positions {
		g.Go(func() error {
			q, err := l.quotes.Get(gctx, p.Symbol)
			if err != nil {
				failed[i] = err
				return nil
			}
			prices[i] = q.Price
			return nil
		})
	}
	g.Wait()

	pf := model.Portfolio{
		UserID:        userID,
		Positions:     []model.PositionView{},
		TotalInvested: decimal.Zero,
		CurrentValue:  decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		ReturnPercent: decimal.Zero,
		Timestamp:     l.now().UTC(),
	}
	for i, p := range positions {
		if failed[i] != nil {
			slog.Warn("portfolio quote failed; skipping position",
				"user", userID, "symbol", p.Symbol, "err", failed[i])
			pf.Skipped = append(pf.Skipped, p.Symbol)
			continue
		}
		value := prices[i].Mul(decimal.NewFromInt(p.Quantity))
		view := model.PositionView{
			Position:      p,
			CurrentPrice:  prices[i],
			CurrentValue:  value,
			UnrealizedPnL: value.Sub(p.TotalInvested),
		}
		pf.Positions = append(pf.Positions, view)
		pf.TotalInvested = pf.TotalInvested.Add(p.TotalInvested)
		pf.CurrentValue = pf.CurrentValue.Add(value)
	}
	sort.Slice(pf.Positions, func(i, j int) bool { return pf.Positions[i].Symbol < pf.Positions[j].Symbol })

	pf.UnrealizedPnL = pf.CurrentValue.Sub(pf.TotalInvested)
	if pf.TotalInvested.IsPositive() {
		pf.ReturnPercent = pf.UnrealizedPnL.Div(pf.TotalInvested).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return pf, nil
}

// nextPosition applies o to the stored position and returns the result.
// A nil result means the position closes and must be deleted.
func (l *Ledger) nextPosition(ctx context.Context, o model.Order) (*model.Position, error) {
	cur, err := l.store.GetPosition(ctx, o.UserID, o.Symbol)
	if errors.Is(err, store.ErrNotFound) {
		cur = nil
	} else if err != nil {
		return nil, fmt.Errorf("ledger: load position: %w", err)
	}

	next, err := Apply(cur, o, l.now().UTC())
	if errors.Is(err, ErrInsufficientPosition) {
		metrics.OrderRejections.WithLabelValues("insufficient_position").Inc()
	}
	return next, err
}

// Apply is the ledger-update rule. Buys add quantity and cost and
// re-average; sells remove quantity and cost in proportion, leaving the
// average unchanged. cur may be nil when no position is held.
func Apply(cur *model.Position, o model.Order, now time.Time) (*model.Position, error) {
	var held int64
	if cur != nil {
		held = cur.Quantity
	}

	switch o.Side {
	case model.SideBuy:
		next := model.Position{
			UserID:        o.UserID,
			Symbol:        o.Symbol,
			Quantity:      held + o.Quantity,
			TotalInvested: o.TotalAmount,
			LastUpdated:   now,
		}
		if cur != nil {
			next.TotalInvested = cur.TotalInvested.Add(o.TotalAmount)
		}
		next.AveragePrice = next.TotalInvested.Div(decimal.NewFromInt(next.Quantity))
		return &next, nil

	case model.SideSell:
		if o.Quantity > held {
			return nil, fmt.Errorf("%w: selling %d %s but holding %d",
				ErrInsufficientPosition, o.Quantity, o.Symbol, held)
		}
		if o.Quantity == held {
			return nil, nil
		}
		next := *cur
		soldCost := cur.TotalInvested.Mul(decimal.NewFromInt(o.Quantity)).Div(decimal.NewFromInt(held))
		next.TotalInvested = cur.TotalInvested.Sub(soldCost)
		next.Quantity = held - o.Quantity
		next.LastUpdated = now
		return &next, nil
	}
	return nil, fmt.Errorf("%w: unknown side %q", ErrValidation, o.Side)
}

func (l *Ledger) writePosition(ctx context.Context, userID, sym string, next *model.Position) error {
	if next == nil {
		if err := l.store.DeletePosition(ctx, userID, sym); err != nil {
			return fmt.Errorf("ledger: delete position: %w", err)
		}
		return nil
	}
	if err := l.store.UpsertPosition(ctx, next); err != nil {
		return fmt.Errorf("ledger: save position: %w", err)
	}
	return nil
}

func (l *Ledger) getOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := l.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Order{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("ledger: load order: %w", err)
	}
	return *o, nil
}

func (l *Ledger) transitionErr(id string, err error) error {
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		return fmt.Errorf("%w: %s", ErrAlreadyExecuted, id)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("ledger: update order: %w", err)
}

func (l *Ledger) logExecuted(o model.Order, next *model.Position) {
	var qty int64
	avg := decimal.Zero
	if next != nil {
		qty, avg = next.Quantity, next.AveragePrice
	}
	slog.Info("order executed",
		"order_id", o.ID,
		"user", o.UserID,
		"symbol", o.Symbol,
		"side", string(o.Side),
		"qty", o.Quantity,
		"price", o.Price.String(),
		"position_qty", qty,
		"average_price", avg.String(),
	)
	metrics.OrdersTotal.WithLabelValues(string(o.Side), "executed").Inc()
	metrics.SharesTraded.WithLabelValues(o.Symbol, string(o.Side)).Add(float64(o.Quantity))
}

func (l *Ledger) emit(event string, o model.Order) {
	if l.notifier != nil {
		l.notifier.OrderEvent(event, o)
	}
}

// validate checks the caller-supplied fields and returns the normalized symbol.
func validate(d model.OrderDraft) (string, error) {
	if d.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !d.Side.Valid() {
		return "", fmt.Errorf("%w: side must be buy or sell, got %q", ErrValidation, d.Side)
	}
	if d.Price.Valid && !d.Price.Decimal.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	switch d.Status {
	case "", model.StatusPending, model.StatusExecuted:
	default:
		return "", fmt.Errorf("%w: status must be pending or executed, got %q", ErrValidation, d.Status)
	}
	sym, err := symbol.Parse(d.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return sym.Ticker, nil
}
