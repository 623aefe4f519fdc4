package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atmx/stockbot/internal/model"
)

// Collection names.
const (
	quotesCollection    = "stocks"
	ordersCollection    = "orders"
	positionsCollection = "portfolio"
	analyticsCollection = "analytics"
)

// MongoStore implements Store on a MongoDB database. Money is stored as
// Decimal128.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore returns a store backed by db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// EnsureIndexes creates the lookup indexes used by the store.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(positionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "symbol", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("portfolio index: %w", err)
	}
	_, err = s.db.Collection(ordersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("orders index: %w", err)
	}
	return nil
}

type quoteDoc struct {
	Symbol        string               `bson:"symbol"`
	Price         primitive.Decimal128 `bson:"price"`
	Volume        int64                `bson:"volume"`
	Open          primitive.Decimal128 `bson:"open_price"`
	High          primitive.Decimal128 `bson:"high_price"`
	Low           primitive.Decimal128 `bson:"low_price"`
	PreviousClose primitive.Decimal128 `bson:"previous_close"`
	Change        primitive.Decimal128 `bson:"change"`
	ChangePercent primitive.Decimal128 `bson:"change_percent"`
	Timestamp     time.Time            `bson:"timestamp"`
}

type orderDoc struct {
	ID          string               `bson:"_id"`
	UserID      string               `bson:"user_id"`
	Symbol      string               `bson:"symbol"`
	Side        string               `bson:"order_type"`
	Quantity    int64                `bson:"quantity"`
	Price       primitive.Decimal128 `bson:"price"`
	TotalAmount primitive.Decimal128 `bson:"total_amount"`
	Status      string               `bson:"status"`
	Notes       string               `bson:"notes,omitempty"`
	Timestamp   time.Time            `bson:"timestamp"`
}

type positionDoc struct {
	UserID        string               `bson:"user_id"`
	Symbol        string               `bson:"symbol"`
	Quantity      int64                `bson:"quantity"`
	AveragePrice  primitive.Decimal128 `bson:"average_price"`
	TotalInvested primitive.Decimal128 `bson:"total_invested"`
	LastUpdated   time.Time            `bson:"last_updated"`
}

type analyticsDoc struct {
	Symbol          string              `bson:"symbol"`
	Indicators      model.IndicatorSet  `bson:"technical_indicators"`
	Fundamentals    map[string]*float64 `bson:"fundamental_metrics"`
	Recommendations []string            `bson:"recommendations"`
	RiskScore       float64             `bson:"risk_score"`
	PriceHistory    []model.PricePoint  `bson:"price_history"`
	Timestamp       time.Time           `bson:"timestamp"`
}

func dec128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDec128(v primitive.Decimal128) decimal.Decimal {
	d, _ := decimal.NewFromString(v.String())
	return d
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) InsertQuote(ctx context.Context, q model.Quote) error {
	_, err := s.db.Collection(quotesCollection).InsertOne(ctx, quoteDoc{
		Symbol:        q.Symbol,
		Price:         dec128(q.Price),
		Volume:        q.Volume,
		Open:          dec128(q.Open),
		High:          dec128(q.High),
		Low:           dec128(q.Low),
		PreviousClose: dec128(q.PreviousClose),
		Change:        dec128(q.Change),
		ChangePercent: dec128(q.ChangePercent),
		Timestamp:     q.Timestamp,
	})
	return err
}

func (s *MongoStore) InsertAnalytics(ctx context.Context, r model.AnalyticsReport) error {
	_, err := s.db.Collection(analyticsCollection).InsertOne(ctx, analyticsDoc{
		Symbol:          r.Symbol,
		Indicators:      r.Indicators,
		Fundamentals:    r.Fundamentals,
		Recommendations: r.Recommendations,
		RiskScore:       r.RiskScore,
		PriceHistory:    r.PriceHistory,
		Timestamp:       r.Timestamp,
	})
	return err
}

func (s *MongoStore) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.db.Collection(ordersCollection).InsertOne(ctx, orderDoc{
		ID:          o.ID,
		UserID:      o.UserID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Quantity:    o.Quantity,
		Price:       dec128(o.Price),
		TotalAmount: dec128(o.TotalAmount),
		Status:      string(o.Status),
		Notes:       o.Notes,
		Timestamp:   o.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (d orderDoc) order() model.Order {
	return model.Order{
		ID:          d.ID,
		UserID:      d.UserID,
		Symbol:      d.Symbol,
		Side:        model.Side(d.Side),
		Quantity:    d.Quantity,
		Price:       fromDec128(d.Price),
		TotalAmount: fromDec128(d.TotalAmount),
		Status:      model.OrderStatus(d.Status),
		Notes:       d.Notes,
		Timestamp:   d.Timestamp.UTC(),
	}
}

func (s *MongoStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var doc orderDoc
	err := s.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	o := doc.order()
	return &o, nil
}

func (s *MongoStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	coll := s.db.Collection(ordersCollection)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to)}},
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	var doc orderDoc
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	return fmt.Errorf("order %s is %s, not %s: %w", id, doc.Status, from, ErrStatusConflict)
}

func (s *MongoStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(ordersCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var orders []model.Order
	for cur.Next(ctx) {
		var doc orderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		orders = append(orders, doc.order())
	}
	return orders, cur.Err()
}

func (d positionDoc) position() model.Position {
	return model.Position{
		UserID:        d.UserID,
		Symbol:        d.Symbol,
		Quantity:      d.Quantity,
		AveragePrice:  fromDec128(d.AveragePrice),
		TotalInvested: fromDec128(d.TotalInvested),
		LastUpdated:   d.LastUpdated.UTC(),
	}
}

func (s *MongoStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var doc positionDoc
	err := s.db.Collection(positionsCollection).
		FindOne(ctx, bson.M{"user_id": userID, "symbol": symbol}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("position %s/%s: %w", userID, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	p := doc.position()
	return &p, nil
}

func (s *MongoStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.db.Collection(positionsCollection).ReplaceOne(ctx,
		bson.M{"user_id": p.UserID, "symbol": p.Symbol},
		positionDoc{
			UserID:        p.UserID,
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AveragePrice:  dec128(p.AveragePrice),
			TotalInvested: dec128(p.TotalInvested),
			LastUpdated:   p.LastUpdated,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.UserID, p.Symbol, err)
	}
	return nil
}

func (s *MongoStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := s.db.Collection(positionsCollection).DeleteOne(ctx, bson.M{"user_id": userID, "symbol": symbol})
	return err
}

func (s *MongoStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	opts := options.Find().SetSort(bson.D{{Key: "symbol", Value: 1}})
	cur, err := s.db.Collection(positionsCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var positions []model.Position
	for cur.Next(ctx) {
		var doc positionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		positions = append(positions, doc.position())
	}
	return positions, cur.Err()
}
