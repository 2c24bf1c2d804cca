package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the ledger service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	entriesPosted     prometheus.Counter
	reversalsPosted   prometheus.Counter
	postingsRejected  prometheus.Counter
	periodCloses      prometheus.Counter
	integrityFailures prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entriesPosted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_entries_posted_total",
		Help: "Journal entries posted, reversals included.",
	})
	reversalsPosted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reversals_posted_total",
		Help: "Reversal entries posted.",
	})
	postingsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_postings_rejected_total",
		Help: "Posting attempts rejected by validation or period state.",
	})
	periodCloses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_period_closes_total",
		Help: "Accounting periods closed.",
	})
	integrityFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_integrity_failures_total",
		Help: "Periods where posted debits and credits drifted apart.",
	})
	registry.MustRegister(requests, duration, entriesPosted, reversalsPosted, postingsRejected, periodCloses, integrityFailures)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		entriesPosted:     entriesPosted,
		reversalsPosted:   reversalsPosted,
		postingsRejected:  postingsRejected,
		periodCloses:      periodCloses,
		integrityFailures: integrityFailures,
	}
}

// Handler returns the http.Handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted counts one posted journal entry.
func (m *Metrics) EntryPosted() {
	if m != nil {
		m.entriesPosted.Inc()
	}
}

// ReversalPosted counts one posted reversal. Reversals also count as posted
// entries.
func (m *Metrics) ReversalPosted() {
	if m != nil {
		m.reversalsPosted.Inc()
		m.entriesPosted.Inc()
	}
}

// PostingRejected counts one rejected posting attempt.
func (m *Metrics) PostingRejected() {
	if m != nil {
		m.postingsRejected.Inc()
	}
}

// PeriodClosed counts one closed period.
func (m *Metrics) PeriodClosed() {
	if m != nil {
		m.periodCloses.Inc()
	}
}

// IntegrityFailure counts one period failing the debit/credit drift scan.
func (m *Metrics) IntegrityFailure() {
	if m != nil {
		m.integrityFailures.Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
