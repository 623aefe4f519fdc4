package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockbot/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InsertQuote(ctx context.Context, q model.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quotes (symbol, price, volume, payload, fetched_at)
		 VALUES ($1, $2::NUMERIC, $3, $4::JSONB, $5)`,
		q.Symbol, q.Price.String(), q.Volume, string(payload), q.Timestamp,
	)
	return err
}

func (s *PostgresStore) InsertAnalytics(ctx context.Context, r model.AnalyticsReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analytics (symbol, risk_score, report, created_at)
		 VALUES ($1, $2, $3::JSONB, $4)`,
		r.Symbol, r.RiskScore, string(payload), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol, side, quantity, price, total_amount, status, notes, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		o.ID, o.UserID, o.Symbol, string(o.Side), o.Quantity,
		o.Price.String(), o.TotalAmount.String(),
		string(o.Status), o.Notes, o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, user_id, symbol, side, quantity, price::TEXT, total_amount::TEXT, status, notes, timestamp`

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	return fmt.Errorf("order %s is %s, not %s: %w", id, current, from, ErrStatusConflict)
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY timestamp DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

const positionColumns = `user_id, symbol, quantity, average_price::TEXT, total_invested::TEXT, last_updated`

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", userID, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, average_price, total_invested, last_updated)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     average_price = EXCLUDED.average_price,
		     total_invested = EXCLUDED.total_invested,
		     last_updated = EXCLUDED.last_updated`,
		p.UserID, p.Symbol, p.Quantity,
		p.AveragePrice.String(), p.TotalInvested.String(), p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.UserID, p.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row pgxRow) (*model.Order, error) {
	var o model.Order
	var side, status, priceS, totalS string
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &o.Quantity,
		&priceS, &totalS, &status, &o.Notes, &o.Timestamp); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Status = model.OrderStatus(status)
	o.Price, _ = decimal.NewFromString(priceS)
	o.TotalAmount, _ = decimal.NewFromString(totalS)
	return &o, nil
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var avgS, investedS string
	if err := row.Scan(&p.UserID, &p.Symbol, &p.Quantity, &avgS, &investedS, &p.LastUpdated); err != nil {
		return nil, err
	}
	p.AveragePrice, _ = decimal.NewFromString(avgS)
	p.TotalInvested, _ = decimal.NewFromString(investedS)
	return &p, nil
}
