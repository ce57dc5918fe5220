package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klyr/proxyurl/internal/logging"
)

type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	extractionsTotal   *prometheus.CounterVec
	gatewayHitsTotal   *prometheus.CounterVec
	ratelimitHitsTotal *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "proxyurl_requests_total", Help: "Total API requests"},
			[]string{"endpoint", "code"},
		),
		extractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "proxyurl_extractions_total", Help: "Total inspected URLs"},
			[]string{"outcome", "key"},
		),
		gatewayHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "proxyurl_gateway_hits_total", Help: "URLs recognised as gateway carriers"},
			[]string{"gateway"},
		),
		ratelimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "proxyurl_ratelimit_hits_total", Help: "Total rate limit hits"},
			[]string{"key"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxyurl_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.extractionsTotal,
		m.gatewayHitsTotal,
		m.ratelimitHitsTotal,
		m.requestDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(endpoint string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveRecord records the outcome of one inspected URL.
func (m *Metrics) ObserveRecord(record logging.Record) {
	if m == nil {
		return
	}

	outcome := Outcome(record)
	key := record.Key
	if key == "" {
		key = "none"
	}
	m.extractionsTotal.WithLabelValues(outcome, key).Inc()

	if record.Gateway != "" {
		m.gatewayHitsTotal.WithLabelValues(record.Gateway).Inc()
	}
}

func (m *Metrics) ObserveRateLimit(key string) {
	if m == nil {
		return
	}
	m.ratelimitHitsTotal.WithLabelValues(key).Inc()
}

// Outcome classifies a record as matched, unmatched, skipped or error.
func Outcome(record logging.Record) string {
	switch {
	case record.Error != "":
		return "error"
	case record.Skipped:
		return "skipped"
	case record.Matched:
		return "matched"
	default:
		return "unmatched"
	}
}
