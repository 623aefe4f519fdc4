package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/quote"
	"github.com/atmx/stockbot/internal/store"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeQuoter serves settable prices.
type fakeQuoter struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (q *fakeQuoter) Get(_ context.Context, sym string) (model.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[sym]
	if !ok {
		return model.Quote{}, quote.ErrNoData
	}
	return model.Quote{Symbol: sym, Price: p}, nil
}

func (q *fakeQuoter) set(sym string, price float64) {
	q.mu.Lock()
	q.prices[sym] = d(price)
	q.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) OrderEvent(event string, _ model.Order) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

type testEnv struct {
	ledger *Ledger
	store  *store.MemoryStore
	quotes *fakeQuoter
	events *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	q := &fakeQuoter{prices: map[string]decimal.Decimal{"AAPL": d(100), "MSFT": d(400)}}
	n := &recordingNotifier{}
	clk := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	l := New(st, q, WithNotifier(n), WithClock(func() time.Time { return clk }))
	return &testEnv{ledger: l, store: st, quotes: q, events: n}
}

func (e *testEnv) trade(t *testing.T, side model.Side, sym string, qty int64, price float64) model.Order {
	t.Helper()
	e.quotes.set(sym, price)
	o, err := e.ledger.PlaceOrder(context.Background(), model.OrderDraft{
		Symbol: sym, Side: side, Quantity: qty, Status: model.StatusExecuted, UserID: "alice",
	})
	if err != nil {
		t.Fatalf("%s %d %s @ %v: %v", side, qty, sym, price, err)
	}
	return o
}

func (e *testEnv) position(t *testing.T, sym string) *model.Position {
	t.Helper()
	p, err := e.store.GetPosition(context.Background(), "alice", sym)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCostBasisScenario(t *testing.T) {
	env := newTestEnv(t)

	env.trade(t, model.SideBuy, "AAPL", 10, 100)
	env.trade(t, model.SideBuy, "AAPL", 10, 120)

	p := env.position(t, "AAPL")
	if p.Quantity != 20 || !p.TotalInvested.Equal(d(2200)) || !p.AveragePrice.Equal(d(110)) {
		t.Fatalf("after buys: %+v", p)
	}

	sell := env.trade(t, model.SideSell, "AAPL", 5, 130)
	if !sell.TotalAmount.Equal(d(650)) {
		t.Errorf("sell total = %s, want 650", sell.TotalAmount)
	}

	p = env.position(t, "AAPL")
	if p.Quantity != 15 {
		t.Errorf("quantity = %d, want 15", p.Quantity)
	}
	if !p.TotalInvested.Equal(d(1650)) {
		t.Errorf("total invested = %s, want 1650", p.TotalInvested)
	}
	if !p.AveragePrice.Equal(d(110)) {
		t.Errorf("average price = %s, want 110", p.AveragePrice)
	}
}

func TestBuySequenceInvariant(t *testing.T) {
	env := newTestEnv(t)
	rng := rand.New(rand.NewSource(7))

	total := decimal.Zero
	var qty int64
	for i := 0; i < 25; i++ {
		n := int64(rng.Intn(50) + 1)
		price := float64(rng.Intn(50000)+100) / 100
		o := env.trade(t, model.SideBuy, "MSFT", n, price)
		total = total.Add(o.TotalAmount)
		qty += n
	}

	p := env.position(t, "MSFT")
	if p.Quantity != qty || !p.TotalInvested.Equal(total) {
		t.Fatalf("position = %+v, want qty %d invested %s", p, qty, total)
	}
	want := total.Div(decimal.NewFromInt(qty))
	if !p.AveragePrice.Equal(want) {
		t.Errorf("average = %s, want %s", p.AveragePrice, want)
	}
}

func TestFullSellRemovesPosition(t *testing.T) {
	env := newTestEnv(t)
	env.trade(t, model.SideBuy, "AAPL", 10, 100)
	env.trade(t, model.SideSell, "AAPL", 10, 90)

	if p := env.position(t, "AAPL"); p != nil {
		t.Errorf("position = %+v, want removed", p)
	}
}

func TestOversellRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.trade(t, model.SideBuy, "AAPL", 5, 100)

	_, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{
		Symbol: "AAPL", Side: model.SideSell, Quantity: 6, Status: model.StatusExecuted, UserID: "alice",
	})
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}

	p := env.position(t, "AAPL")
	if p.Quantity != 5 || !p.TotalInvested.Equal(d(500)) {
		t.Errorf("position changed: %+v", p)
	}
	orders, _ := env.ledger.ListOrders(ctx, "alice")
	if len(orders) != 1 {
		t.Errorf("orders = %d, want only the buy", len(orders))
	}
}

func TestSellWithoutPosition(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.PlaceOrder(context.Background(), model.OrderDraft{
		Symbol: "MSFT", Side: model.SideSell, Quantity: 1, Status: model.StatusExecuted, UserID: "alice",
	})
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("err = %v, want ErrInsufficientPosition", err)
	}
}

func TestPlacePendingThenExecute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{
		Symbol: " aapl", Side: model.SideBuy, Quantity: 3, Price: decimal.NewNullDecimal(d(1)), UserID: "alice", Notes: "via chat",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Status != model.StatusPending || o.Symbol != "AAPL" || o.ID == "" {
		t.Fatalf("order = %+v", o)
	}
	// Supplied prices are replaced by the current quote.
	if !o.Price.Equal(d(100)) || !o.TotalAmount.Equal(d(300)) {
		t.Errorf("price = %s total = %s", o.Price, o.TotalAmount)
	}
	if p := env.position(t, "AAPL"); p != nil {
		t.Fatal("pending order must not touch the position")
	}

	// The quote moves; execution uses the recorded price.
	env.quotes.set("AAPL", 150)
	ex, err := env.ledger.ExecuteOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	if ex.Status != model.StatusExecuted {
		t.Errorf("status = %s", ex.Status)
	}
	p := env.position(t, "AAPL")
	if p.Quantity != 3 || !p.AveragePrice.Equal(d(100)) {
		t.Errorf("position = %+v", p)
	}

	if _, err := env.ledger.ExecuteOrder(ctx, o.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("second execute err = %v, want ErrAlreadyExecuted", err)
	}
	if p := env.position(t, "AAPL"); p.Quantity != 3 {
		t.Errorf("second execute changed quantity to %d", p.Quantity)
	}

	env.events.mu.Lock()
	got := append([]string(nil), env.events.events...)
	env.events.mu.Unlock()
	if len(got) != 2 || got[0] != EventPlaced || got[1] != EventExecuted {
		t.Errorf("events = %v", got)
	}
}

func TestExecuteOversellLeavesOrderPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{
		Symbol: "AAPL", Side: model.SideSell, Quantity: 2, UserID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.ExecuteOrder(ctx, o.ID); !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}
	stored, _ := env.store.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}

	env.trade(t, model.SideBuy, "AAPL", 2, 100)
	if _, err := env.ledger.ExecuteOrder(ctx, o.ID); err != nil {
		t.Fatalf("retry after buying: %v", err)
	}
	if p := env.position(t, "AAPL"); p != nil {
		t.Errorf("position = %+v, want closed", p)
	}
}

func TestExecuteUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.ledger.ExecuteOrder(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1, UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := env.ledger.CancelOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if c.Status != model.StatusCancelled {
		t.Errorf("status = %s", c.Status)
	}
	if _, err := env.ledger.ExecuteOrder(ctx, o.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("execute cancelled err = %v, want ErrAlreadyExecuted", err)
	}
	if _, err := env.ledger.CancelOrder(ctx, o.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("cancel twice err = %v, want ErrAlreadyExecuted", err)
	}
	if _, err := env.ledger.CancelOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel missing err = %v, want ErrNotFound", err)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		draft model.OrderDraft
	}{
		{"zero quantity", model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 0}},
		{"negative quantity", model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: -3}},
		{"bad side", model.OrderDraft{Symbol: "AAPL", Side: "hold", Quantity: 1}},
		{"negative price", model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1, Price: decimal.NewNullDecimal(d(-1))}},
		{"zero price", model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1, Price: decimal.NewNullDecimal(decimal.Zero)}},
		{"bad status", model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1, Status: model.StatusCancelled}},
		{"bad symbol", model.OrderDraft{Symbol: "not a symbol", Side: model.SideBuy, Quantity: 1}},
		{"empty symbol", model.OrderDraft{Side: model.SideBuy, Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.ledger.PlaceOrder(context.Background(), tc.draft); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestPlaceOrderQuoteFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{Symbol: "NVDA", Side: model.SideBuy, Quantity: 1})
	if !errors.Is(err, quote.ErrNoData) {
		t.Errorf("err = %v, want quote.ErrNoData", err)
	}

	env.quotes.set("FREE", 0)
	_, err = env.ledger.PlaceOrder(ctx, model.OrderDraft{Symbol: "FREE", Side: model.SideBuy, Quantity: 1})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("zero price err = %v, want ErrValidation", err)
	}
}

func TestDefaultUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if o.UserID != DefaultUser {
		t.Errorf("user = %q, want %q", o.UserID, DefaultUser)
	}
	orders, err := env.ledger.ListOrders(ctx, "")
	if err != nil || len(orders) != 1 {
		t.Errorf("ListOrders(default) = %d, %v", len(orders), err)
	}
}

func TestDegradedMode(t *testing.T) {
	q := &fakeQuoter{prices: map[string]decimal.Decimal{"AAPL": d(100)}}
	l := New(nil, q)
	ctx := context.Background()

	if !l.Degraded() {
		t.Fatal("expected degraded ledger")
	}
	o, err := l.PlaceOrder(ctx, model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 2, UserID: "bob"})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(o.ID) < 7 || o.ID[:6] != "local-" {
		t.Errorf("id = %q, want local- prefix", o.ID)
	}
	if !o.TotalAmount.Equal(d(200)) {
		t.Errorf("total = %s", o.TotalAmount)
	}

	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		_, err := l.PlaceOrder(ctx, model.OrderDraft{
			Symbol: "AAPL", Side: side, Quantity: 1000, Status: model.StatusExecuted, UserID: "bob",
		})
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Errorf("executed %s without storage: err = %v, want ErrStorageUnavailable", side, err)
		}
	}

	if _, err := l.ExecuteOrder(ctx, o.ID); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("execute err = %v", err)
	}
	if _, err := l.CancelOrder(ctx, o.ID); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("cancel err = %v", err)
	}
	if _, err := l.ListOrders(ctx, "bob"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("list err = %v", err)
	}
	if _, err := l.GetPortfolio(ctx, "bob"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("portfolio err = %v", err)
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.trade(t, model.SideBuy, "MSFT", 2, 400)
	env.trade(t, model.SideBuy, "AAPL", 10, 100)
	env.trade(t, model.SideBuy, "TSLA", 1, 200)

	env.quotes.set("AAPL", 110)
	env.quotes.set("MSFT", 390)
	env.quotes.mu.Lock()
	delete(env.quotes.prices, "TSLA")
	env.quotes.mu.Unlock()

	pf, err := env.ledger.GetPortfolio(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if len(pf.Positions) != 2 || pf.Positions[0].Symbol != "AAPL" || pf.Positions[1].Symbol != "MSFT" {
		t.Fatalf("positions = %+v", pf.Positions)
	}
	aapl := pf.Positions[0]
	if !aapl.CurrentValue.Equal(d(1100)) || !aapl.UnrealizedPnL.Equal(d(100)) || !aapl.CurrentPrice.Equal(d(110)) {
		t.Errorf("AAPL view = %+v", aapl)
	}
	msft := pf.Positions[1]
	if !msft.UnrealizedPnL.Equal(d(-20)) {
		t.Errorf("MSFT pnl = %s, want -20", msft.UnrealizedPnL)
	}
	if len(pf.Skipped) != 1 || pf.Skipped[0] != "TSLA" {
		t.Errorf("skipped = %v, want [TSLA]", pf.Skipped)
	}
	if !pf.TotalInvested.Equal(d(1800)) || !pf.CurrentValue.Equal(d(1880)) || !pf.UnrealizedPnL.Equal(d(80)) {
		t.Errorf("totals = %s / %s / %s", pf.TotalInvested, pf.CurrentValue, pf.UnrealizedPnL)
	}
	if !pf.ReturnPercent.Equal(d(4.44)) {
		t.Errorf("return = %s, want 4.44", pf.ReturnPercent)
	}
}

func TestEmptyPortfolio(t *testing.T) {
	env := newTestEnv(t)
	pf, err := env.ledger.GetPortfolio(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(pf.Positions) != 0 || !pf.TotalInvested.IsZero() || !pf.ReturnPercent.IsZero() {
		t.Errorf("portfolio = %+v", pf)
	}
}

func TestConcurrentBuys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{
				Symbol: "AAPL", Side: model.SideBuy, Quantity: 1, Status: model.StatusExecuted, UserID: "alice",
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	p := env.position(t, "AAPL")
	if p.Quantity != 50 || !p.TotalInvested.Equal(d(5000)) {
		t.Errorf("position = %+v, want 50 shares / 5000", p)
	}
	if n := env.ledger.locks.size(); n != 0 {
		t.Errorf("lock table holds %d keys after all trades", n)
	}
}

func TestConcurrentExecuteSameOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, err := env.ledger.PlaceOrder(ctx, model.OrderDraft{Symbol: "AAPL", Side: model.SideBuy, Quantity: 4, UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	var ok, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.ExecuteOrder(ctx, o.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyExecuted):
				already.Add(1)
			default:
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || already.Load() != 9 {
		t.Errorf("successes = %d, already executed = %d", ok.Load(), already.Load())
	}
	if p := env.position(t, "AAPL"); p.Quantity != 4 {
		t.Errorf("quantity = %d, want 4", p.Quantity)
	}
}

func TestApplyPartialSellKeepsAverage(t *testing.T) {
	now := time.Now()
	cur := &model.Position{UserID: "u", Symbol: "X", Quantity: 3, AveragePrice: d(10), TotalInvested: d(30)}
	next, err := Apply(cur, model.Order{Side: model.SideSell, Quantity: 1, Symbol: "X", TotalAmount: d(50)}, now)
	if err != nil {
		t.Fatal(err)
	}
	if next.Quantity != 2 || !next.TotalInvested.Equal(d(20)) || !next.AveragePrice.Equal(d(10)) {
		t.Errorf("next = %+v", next)
	}
	if cur.Quantity != 3 {
		t.Error("Apply mutated its input")
	}
}
