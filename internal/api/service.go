// Package api provides the HTTP handlers for quotes, analytics, orders,
// portfolios and the chat front-end.
//
// All monetary values use shopspring/decimal; they are encoded as JSON
// strings.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/atmx/stockbot/internal/chat"
	"github.com/atmx/stockbot/internal/engine"
	"github.com/atmx/stockbot/internal/ledger"
	"github.com/atmx/stockbot/internal/model"
)

// Engine is the engine surface the handlers need.
type Engine interface {
	chat.Engine
	Status() engine.Status
}

// Service serves the engine over HTTP.
type Service struct {
	engine Engine
	bot    *chat.Bot
	now    func() time.Time
}

// NewService creates a new API service.
func NewService(e Engine) *Service {
	return &Service{
		engine: e,
		bot:    chat.NewBot(e),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /orders. OrderType is
// accepted as an alias for Side.
type PlaceOrderRequest struct {
	Symbol    string              `json:"symbol"`
	Side      string              `json:"side"`
	OrderType string              `json:"order_type"`
	Quantity  int64               `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	Status    string              `json:"status"`
	UserID    string              `json:"user_id"`
	Notes     string              `json:"notes"`
}

// ChatRequest is the JSON body for POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// ChatResponse is returned from POST /chat.
type ChatResponse struct {
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatHelp is returned from GET /chat/help.
type ChatHelp struct {
	Help     string   `json:"help"`
	Examples []string `json:"examples"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var chatExamples = []string{
	"Buy 10 shares of AAPL",
	"Sell 5 MSFT",
	"What is the price of TSLA?",
	"Analyze GOOGL",
	"Show my portfolio",
	"Help",
}

// --- HTTP Handlers ---

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	status := "ok"
	if st.Storage != "ok" || st.Provider == gobreaker.StateOpen.String() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"service":       "stockbot",
		"storage":       st.Storage,
		"provider":      st.Provider,
		"cached_quotes": st.CachedQuotes,
	})
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetAnalytics handles GET /api/v1/analytics/{symbol}
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.GetAnalytics(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body", engine.KindValidation)
		return
	}

	side := req.Side
	if side == "" {
		side = req.OrderType
	}
	o, err := s.engine.PlaceOrder(r.Context(), model.OrderDraft{
		Symbol:   req.Symbol,
		Side:     model.Side(strings.ToLower(side)),
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   model.OrderStatus(strings.ToLower(req.Status)),
		UserID:   req.UserID,
		Notes:    req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ExecuteOrder handles PUT|POST /api/v1/orders/{orderID}/execute
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.ExecuteOrder)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.CancelOrder)
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (model.Order, error)) {
	o, err := fn(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /api/v1/users/{userID}/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.ListOrders(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPortfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if p.Positions == nil {
		p.Positions = []model.PositionView{}
	}
	writeJSON(w, http.StatusOK, p)
}

// Chat handles POST /api/v1/chat
func (s *Service) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body", engine.KindValidation)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeMessage(w, http.StatusBadRequest, "message is required", engine.KindValidation)
		return
	}
	if req.UserID == "" {
		req.UserID = ledger.DefaultUser
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Message:   req.Message,
		Response:  s.bot.Reply(r.Context(), req.UserID, req.Message),
		UserID:    req.UserID,
		Timestamp: s.now(),
	})
}

// ChatHelp handles GET /api/v1/chat/help
func (s *Service) ChatHelp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ChatHelp{Help: chat.HelpText, Examples: chatExamples})
}

// StatusFor maps an engine error kind onto an HTTP status code.
func StatusFor(kind string) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindNoData, engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindAlreadyExecuted, engine.KindInsufficientPosition:
		return http.StatusConflict
	case engine.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError classifies err and writes it as a JSON error response.
// Internal errors are logged and not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	kind := engine.Kind(err)
	msg := err.Error()
	if kind == engine.KindInternal {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeMessage(w, StatusFor(kind), msg, kind)
}

func writeMessage(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
