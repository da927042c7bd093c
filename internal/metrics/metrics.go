// Package metrics exposes Prometheus counters for authentication outcomes and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	logins                    *prometheus.CounterVec
	credentialRejections      *prometheus.CounterVec
	refreshes                 *prometheus.CounterVec
	secondFactorVerifications *prometheus.CounterVec
	ledgerErrors              *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		credentialRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_credential_rejections_total",
			Help: "Credentials rejected during validation, by reason.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		secondFactorVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_second_factor_verifications_total",
			Help: "Second factor checks by method and result.",
		}, []string{"method", "result"}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ledger_errors_total",
			Help: "Ledger calls that failed after retries.",
		}, []string{"op"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.logins,
		m.credentialRejections,
		m.refreshes,
		m.secondFactorVerifications,
		m.ledgerErrors,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRejection(kind string) {
	if m == nil {
		return
	}
	m.credentialRejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSecondFactor(method string, ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	m.secondFactorVerifications.WithLabelValues(method, result).Inc()
}

// ObserveLedgerError matches the ledger.Guarded error hook
func (m *Metrics) ObserveLedgerError(op string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(op).Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight gauge.
// The route label is the chi pattern so ids never become label values.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)

		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
