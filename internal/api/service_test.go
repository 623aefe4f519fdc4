package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockbot/internal/api"
	"github.com/atmx/stockbot/internal/engine"
	"github.com/atmx/stockbot/internal/ledger"
	"github.com/atmx/stockbot/internal/market"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// sessionDay is a Friday so the simulator has a bar for "today".
var sessionDay = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

// delistedProvider serves simulated data except for ZZZZ.
type delistedProvider struct{ *market.Sim }

func (p delistedProvider) FetchRecent(ctx context.Context, sym string, n int) ([]model.Bar, error) {
	if strings.HasPrefix(sym, "ZZZZ") {
		return nil, market.ErrUnknownSymbol
	}
	return p.Sim.FetchRecent(ctx, sym, n)
}

func newEngine(st store.Store, n ledger.Notifier) *engine.Engine {
	p := delistedProvider{market.NewSim(func() time.Time { return sessionDay })}
	return engine.New(p, engine.Config{Store: st, Notifier: n})
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*api.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := api.NewService(newEngine(ms, nil))
	return svc, ms, api.NewRouter(svc, nil, 0)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	resp := decode[api.ErrorResponse](t, w)
	if resp.Kind != kind {
		t.Errorf("kind = %q, want %q", resp.Kind, kind)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func placeOrder(t *testing.T, router http.Handler, req api.PlaceOrderRequest) model.Order {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Order](t, w)
}

// --- Quotes & analytics ---

func TestGetQuote(t *testing.T) {
	_, ms, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/quotes/aapl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	q := decode[model.Quote](t, w)
	if q.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", q.Symbol)
	}
	if !q.Price.IsPositive() {
		t.Errorf("price should be positive, got %s", q.Price)
	}
	if ms.QuoteAudits() != 1 {
		t.Errorf("quote audits = %d, want 1", ms.QuoteAudits())
	}
}

func TestGetQuote_UnknownSymbol(t *testing.T) {
	_, _, router := newTestEnv(t)
	expectError(t, do(t, router, "GET", "/api/v1/quotes/ZZZZ", nil), http.StatusNotFound, engine.KindNoData)
}

func TestGetQuote_InvalidSymbol(t *testing.T) {
	_, _, router := newTestEnv(t)
	expectError(t, do(t, router, "GET", "/api/v1/quotes/BAD!", nil), http.StatusBadRequest, engine.KindValidation)
}

func TestGetAnalytics(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/analytics/MSFT", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rep := decode[model.AnalyticsReport](t, w)
	if rep.Symbol != "MSFT" {
		t.Errorf("symbol = %q", rep.Symbol)
	}
	if rep.RiskScore < 0 || rep.RiskScore > 100 {
		t.Errorf("risk score out of range: %v", rep.RiskScore)
	}
	if len(rep.Recommendations) < 2 {
		t.Errorf("expected at least 2 recommendations, got %v", rep.Recommendations)
	}
}

// --- Orders ---

func TestPlaceAndExecuteOrder(t *testing.T) {
	_, _, router := newTestEnv(t)

	o := placeOrder(t, router, api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 10, UserID: "user1"})
	if o.ID == "" || o.Status != model.StatusPending {
		t.Fatalf("unexpected order: %+v", o)
	}
	if !o.TotalAmount.Equal(o.Price.Mul(d(10))) {
		t.Errorf("total %s != price*qty", o.TotalAmount)
	}

	w := do(t, router, "PUT", "/api/v1/orders/"+o.ID+"/execute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[model.Order](t, w); got.Status != model.StatusExecuted {
		t.Errorf("status = %s, want executed", got.Status)
	}

	// A second execute is a conflict.
	expectError(t, do(t, router, "POST", "/api/v1/orders/"+o.ID+"/execute", nil), http.StatusConflict, engine.KindAlreadyExecuted)

	w = do(t, router, "GET", "/api/v1/portfolio/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pf := decode[model.Portfolio](t, w)
	if len(pf.Positions) != 1 || pf.Positions[0].Quantity != 10 || pf.Positions[0].Symbol != "AAPL" {
		t.Fatalf("unexpected portfolio: %+v", pf)
	}
	if !pf.TotalInvested.Equal(o.TotalAmount) {
		t.Errorf("invested = %s, want %s", pf.TotalInvested, o.TotalAmount)
	}
}

func TestPlaceOrder_OrderTypeAlias(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := placeOrder(t, router, api.PlaceOrderRequest{Symbol: "MSFT", OrderType: "BUY", Quantity: 1, Status: "executed", UserID: "u"})
	if o.Side != model.SideBuy || o.Status != model.StatusExecuted {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)
	cases := []api.PlaceOrderRequest{
		{Symbol: "AAPL", Side: "buy", Quantity: 0},
		{Symbol: "AAPL", Side: "hold", Quantity: 1},
		{Symbol: "", Side: "buy", Quantity: 1},
		{Symbol: "AAPL", Side: "buy", Quantity: 1, Status: "cancelled"},
		{Symbol: "AAPL", Side: "buy", Quantity: 1, Price: decimal.NewNullDecimal(decimal.Zero)},
		{Symbol: "AAPL", Side: "buy", Quantity: 1, Price: decimal.NewNullDecimal(d(-5))},
	}
	for _, req := range cases {
		expectError(t, do(t, router, "POST", "/api/v1/orders", req), http.StatusBadRequest, engine.KindValidation)
	}
}

func TestPlaceOrder_BadBody(t *testing.T) {
	_, _, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, engine.KindValidation)
}

func TestSell_InsufficientPosition(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeOrder(t, router, api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 2, Status: "executed", UserID: "u"})

	w := do(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{Symbol: "AAPL", Side: "sell", Quantity: 5, Status: "executed", UserID: "u"})
	expectError(t, w, http.StatusConflict, engine.KindInsufficientPosition)

	pf := decode[model.Portfolio](t, do(t, router, "GET", "/api/v1/portfolio/u", nil))
	if len(pf.Positions) != 1 || pf.Positions[0].Quantity != 2 {
		t.Errorf("position should be unchanged, got %+v", pf.Positions)
	}
}

func TestExecuteOrder_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)
	expectError(t, do(t, router, "PUT", "/api/v1/orders/missing/execute", nil), http.StatusNotFound, engine.KindNotFound)
}

func TestCancelOrder(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := placeOrder(t, router, api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 1, UserID: "u"})

	w := do(t, router, "POST", "/api/v1/orders/"+o.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[model.Order](t, w); got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	expectError(t, do(t, router, "PUT", "/api/v1/orders/"+o.ID+"/execute", nil), http.StatusConflict, engine.KindAlreadyExecuted)
}

func TestListOrders(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/users/nobody/orders", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d: %s", w.Code, w.Body.String())
	}

	placeOrder(t, router, api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 1, UserID: "u"})
	placeOrder(t, router, api.PlaceOrderRequest{Symbol: "MSFT", Side: "buy", Quantity: 1, UserID: "u"})
	orders := decode[[]model.Order](t, do(t, router, "GET", "/api/v1/users/u/orders", nil))
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
}

func TestEmptyPortfolio(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/portfolio/nobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"positions":[]`) {
		t.Errorf("positions should encode as an empty list: %s", w.Body.String())
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	_, _, router := newTestEnv(t)
	do(t, router, "GET", "/api/v1/quotes/AAPL", nil)

	w := do(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["storage"] != "ok" || body["provider"] != "unguarded" {
		t.Errorf("unexpected health body: %v", body)
	}
	if body["cached_quotes"] != float64(1) {
		t.Errorf("cached_quotes = %v, want 1", body["cached_quotes"])
	}
}

// --- Degraded mode ---

func TestDegraded(t *testing.T) {
	svc := api.NewService(newEngine(nil, nil))
	router := api.NewRouter(svc, nil, 0)

	w := do(t, router, "GET", "/health", nil)
	if !strings.Contains(w.Body.String(), `"storage":"degraded"`) || !strings.Contains(w.Body.String(), `"status":"degraded"`) {
		t.Errorf("health should report degraded storage: %s", w.Body.String())
	}

	expectError(t, do(t, router, "GET", "/api/v1/portfolio/u", nil), http.StatusServiceUnavailable, engine.KindStorageUnavailable)

	o := placeOrder(t, router, api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 1, UserID: "u"})
	if !strings.HasPrefix(o.ID, "local-") {
		t.Errorf("degraded order id = %q, want local- prefix", o.ID)
	}

	w = do(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{Symbol: "AAPL", Side: "sell", Quantity: 10, Status: "executed", UserID: "u"})
	expectError(t, w, http.StatusServiceUnavailable, engine.KindStorageUnavailable)
}

// --- Chat ---

func TestChat(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/chat", api.ChatRequest{Message: "Buy 3 shares of NVDA", UserID: "chatter"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.ChatResponse](t, w)
	if !strings.Contains(resp.Response, "Buy Order Placed Successfully!") {
		t.Errorf("unexpected reply: %s", resp.Response)
	}
	if resp.UserID != "chatter" || resp.Timestamp.IsZero() {
		t.Errorf("unexpected response: %+v", resp)
	}

	orders := decode[[]model.Order](t, do(t, router, "GET", "/api/v1/users/chatter/orders", nil))
	if len(orders) != 1 || orders[0].Symbol != "NVDA" || orders[0].Quantity != 3 {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestChat_DefaultUser(t *testing.T) {
	_, _, router := newTestEnv(t)
	resp := decode[api.ChatResponse](t, do(t, router, "POST", "/api/v1/chat", api.ChatRequest{Message: "hello"}))
	if resp.UserID != ledger.DefaultUser {
		t.Errorf("user = %q, want %q", resp.UserID, ledger.DefaultUser)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	_, _, router := newTestEnv(t)
	expectError(t, do(t, router, "POST", "/api/v1/chat", api.ChatRequest{Message: "  "}), http.StatusBadRequest, engine.KindValidation)
}

func TestChatHelp(t *testing.T) {
	_, _, router := newTestEnv(t)
	help := decode[api.ChatHelp](t, do(t, router, "GET", "/api/v1/chat/help", nil))
	if !strings.Contains(help.Help, "StockBot Commands") || len(help.Examples) == 0 {
		t.Errorf("unexpected help: %+v", help)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		engine.KindValidation:           http.StatusBadRequest,
		engine.KindNoData:               http.StatusNotFound,
		engine.KindNotFound:             http.StatusNotFound,
		engine.KindAlreadyExecuted:      http.StatusConflict,
		engine.KindInsufficientPosition: http.StatusConflict,
		engine.KindStorageUnavailable:   http.StatusServiceUnavailable,
		engine.KindInternal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := api.StatusFor(kind); got != want {
			t.Errorf("StatusFor(%q) = %d, want %d", kind, got, want)
		}
	}
}

// --- WebSocket ---

func TestWSHub_OrderEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	svc := api.NewService(newEngine(store.NewMemoryStore(), hub))
	srv := httptest.NewServer(api.NewRouter(svc, hub, 0))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body, _ := json.Marshal(api.PlaceOrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 4, UserID: "ws-user"})
	resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != ledger.EventPlaced || msg.Symbol != "AAPL" || msg.Quantity != 4 || msg.UserID != "ws-user" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
