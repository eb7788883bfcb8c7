// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts completed simulation ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candlz_ticks_total",
		Help: "Total number of simulation ticks completed",
	})

	// TickDuration tracks how long one full tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "candlz_tick_duration_seconds",
		Help:    "Simulation tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TickErrors counts non-fatal per-step errors collected during ticks.
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candlz_tick_errors_total",
		Help: "Non-fatal errors collected during simulation ticks",
	})

	// OrdersExecuted counts order fills, partitioned by side.
	OrdersExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlz_orders_executed_total",
		Help: "Total number of order fills",
	}, []string{"side"})

	// PricesUpdated counts per-asset price updates.
	PricesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candlz_prices_updated_total",
		Help: "Total number of asset price updates",
	})

	// EventsActive tracks the number of currently active market events.
	EventsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlz_events_active",
		Help: "Number of currently active market events",
	})

	// MarketPhase tracks the current market phase as a one-hot gauge.
	MarketPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "candlz_market_phase",
		Help: "Current market phase (1 for the active phase, 0 otherwise)",
	}, []string{"phase"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlz_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlz_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "candlz_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetPhase sets the one-hot phase gauge.
func SetPhase(active string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == active {
			v = 1.0
		}
		MarketPhase.WithLabelValues(p).Set(v)
	}
}

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

		path := r.URL.Path
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
