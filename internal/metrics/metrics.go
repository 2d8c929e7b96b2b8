// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TradesTotal counts executed trades, partitioned by transaction type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finlearn_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finlearn_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeRejections counts trades refused by a business rule, by error code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finlearn_trade_rejections_total",
		Help: "Trades rejected, by error code",
	}, []string{"code"})

	// TradeConflicts counts units of work retried after a concurrent write.
	TradeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finlearn_trade_conflicts_total",
		Help: "Trade attempts retried after a concurrent modification",
	})

	// PriceRefreshes counts refreshed symbols by outcome (ok, failed).
	PriceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finlearn_price_refreshes_total",
		Help: "Per-symbol price refresh attempts",
	}, []string{"outcome"})

	PriceRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finlearn_price_refresh_duration_seconds",
		Help:    "Duration of a full price refresh",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// TrackedStocks is the number of stocks in the price cache.
	TrackedStocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finlearn_tracked_stocks",
		Help: "Number of stocks held in the price cache",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finlearn_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// FeedPollers is 1 while the shared price poller is running.
	FeedPollers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finlearn_feed_pollers",
		Help: "Number of running price feed pollers",
	})

	// LessonsCompleted counts first-time lesson completions.
	LessonsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finlearn_lessons_completed_total",
		Help: "First-time lesson completions",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finlearn_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finlearn_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
