package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/stockbot/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.InsertOrder(ctx, o); err != nil {
		return err
	}
	s.cacheJSON(ctx, orderKey(o.ID), o)
	s.rdb.Del(ctx, ordersKey(o.UserID))
	return nil
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	err := s.primary.UpdateOrderStatus(ctx, id, from, to)
	// Invalidate even on conflict; the cached copy is stale either way.
	if o, gerr := s.GetOrder(ctx, id); gerr == nil {
		s.rdb.Del(ctx, orderKey(id), ordersKey(o.UserID))
	} else {
		s.rdb.Del(ctx, orderKey(id))
	}
	return err
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.UserID, p.Symbol), positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	if err := s.primary.DeletePosition(ctx, userID, symbol); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(userID, symbol), positionsKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.readJSON(ctx, orderKey(id), &o) {
		return &o, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, orderKey(id), got)
	return got, nil
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	if s.readJSON(ctx, ordersKey(userID), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, ordersKey(userID), orders)
	return orders, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	if s.readJSON(ctx, positionKey(userID, symbol), &p) {
		return &p, nil
	}

	got, err := s.primary.GetPosition(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionKey(userID, symbol), got)
	return got, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	if s.readJSON(ctx, positionsKey(userID), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertQuote(ctx context.Context, q model.Quote) error {
	return s.primary.InsertQuote(ctx, q)
}

func (s *CachedStore) InsertAnalytics(ctx context.Context, r model.AnalyticsReport) error {
	return s.primary.InsertAnalytics(ctx, r)
}

// Ping checks both the primary and Redis.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id string) string { return fmt.Sprintf("order:%s", id) }
func ordersKey(uid string) string { return fmt.Sprintf("orders:%s", uid) }
func positionKey(uid, symbol string) string { return fmt.Sprintf("position:%s:%s", uid, symbol) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
