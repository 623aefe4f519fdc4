// Package metrics provides Prometheus instrumentation for stockbot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuoteCacheHits counts quote lookups served from the cache.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockbot_quote_cache_hits_total",
		Help: "Quote lookups served from cache",
	})

	// QuoteCacheMisses counts quote lookups that went to the provider.
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockbot_quote_cache_misses_total",
		Help: "Quote lookups that required a provider fetch",
	})

	// ProviderRequests counts market data calls by operation and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbot_provider_requests_total",
		Help: "Market data provider calls",
	}, []string{"op", "outcome"})

	// AnalyticsLatency tracks end-to-end analytics report generation.
	AnalyticsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockbot_analytics_latency_seconds",
		Help:    "Analytics report latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// OrdersTotal counts order lifecycle events, partitioned by side and event.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbot_orders_total",
		Help: "Order lifecycle events",
	}, []string{"side", "event"})

	// OrderRejections counts orders rejected by the ledger, by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbot_order_rejections_total",
		Help: "Orders rejected by the ledger",
	}, []string{"reason"})

	// SharesTraded tracks cumulative executed quantity per symbol.
	SharesTraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbot_shares_traded_total",
		Help: "Cumulative executed quantity in shares",
	}, []string{"symbol", "side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockbot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockbot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockbot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush forwards to the underlying writer when it supports streaming.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
