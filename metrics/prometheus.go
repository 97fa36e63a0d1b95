// Package metrics exports service metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/inventory-engine/inventory"
)

const namespace = "inventory"

// Prometheus collects sale operation, HTTP and audit metrics on its own
// registry.
type Prometheus struct {
	registry *prometheus.Registry

	saleOperations *prometheus.CounterVec
	saleDuration   *prometheus.HistogramVec
	saleRetries    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	auditRuns         *prometheus.CounterVec
	negativeProducts  prometheus.Gauge
	danglingSaleItems prometheus.Gauge
	lastAudit         prometheus.Gauge
}

var _ inventory.Recorder = (*Prometheus)(nil)

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Prometheus {
	// Create a new registry to avoid conflicts with default metrics
	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.saleOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_operations_total",
			Help:      "Sale operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	p.saleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_operation_duration_seconds",
			Help:      "Sale operation latency including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	p.saleRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_operation_retries_total",
			Help:      "Atomic units retried after a concurrent modification",
		},
		[]string{"operation"},
	)
	p.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	p.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	p.auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_runs_total",
			Help:      "Stock drift audit passes by result",
		},
		[]string{"result"},
	)
	p.negativeProducts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_negative_stock_products",
		Help:      "Products with negative quantity at the last audit",
	})
	p.danglingSaleItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_dangling_sale_items",
		Help:      "Sale lines referencing deleted products at the last audit",
	})
	p.lastAudit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_last_run_timestamp_seconds",
		Help:      "Unix time of the last completed audit",
	})

	p.registry.MustRegister(
		p.saleOperations,
		p.saleDuration,
		p.saleRetries,
		p.httpRequests,
		p.httpDuration,
		p.auditRuns,
		p.negativeProducts,
		p.danglingSaleItems,
		p.lastAudit,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the Prometheus registry (for testing).
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ObserveOperation implements inventory.Recorder.
func (p *Prometheus) ObserveOperation(op inventory.Operation, outcome string, elapsed time.Duration) {
	p.saleOperations.WithLabelValues(string(op), outcome).Inc()
	p.saleDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// ObserveRetry implements inventory.Recorder.
func (p *Prometheus) ObserveRetry(op inventory.Operation) {
	p.saleRetries.WithLabelValues(string(op)).Inc()
}

// ObserveAudit records one audit pass. A nil report records a failed pass.
func (p *Prometheus) ObserveAudit(report *inventory.DriftReport, at time.Time) {
	if report == nil {
		p.auditRuns.WithLabelValues("error").Inc()
		return
	}
	result := "clean"
	if !report.Clean() {
		result = "drift"
	}
	p.auditRuns.WithLabelValues(result).Inc()
	p.negativeProducts.Set(float64(len(report.NegativeProducts)))
	p.danglingSaleItems.Set(float64(len(report.DanglingItems)))
	p.lastAudit.Set(float64(at.Unix()))
}

// Middleware records request counts and latency by chi route pattern, so
// ids in paths do not explode label cardinality.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		p.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		p.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
