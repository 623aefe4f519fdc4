package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/stockbot/internal/metrics"
)

// NewRouter mounts the service, the WebSocket hub and the metrics endpoint.
// hub may be nil, in which case /api/v1/ws is not served.
func NewRouter(s *Service, hub *WSHub, timeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			if timeout > 0 {
				r.Use(middleware.Timeout(timeout))
			}

			r.Get("/quotes/{symbol}", s.GetQuote)
			r.Get("/analytics/{symbol}", s.GetAnalytics)

			r.Post("/orders", s.PlaceOrder)
			r.Put("/orders/{orderID}/execute", s.ExecuteOrder)
			r.Post("/orders/{orderID}/execute", s.ExecuteOrder)
			r.Post("/orders/{orderID}/cancel", s.CancelOrder)
			r.Get("/users/{userID}/orders", s.ListOrders)

			r.Get("/portfolio/{userID}", s.GetPortfolio)

			r.Post("/chat", s.Chat)
			r.Get("/chat/help", s.ChatHelp)
		})
	})
	return r
}

// cors allows cross-origin requests from browser front-ends.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
