package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/internal/ledger"
)

const namespace = "stakeledger"

// Metrics collects ledger and HTTP metrics on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	staked    *prometheus.GaugeVec
	pools     prometheus.Gauge
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Ledger events emitted, by type.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Rejected ledger operations, by operation and error code.",
		}, []string{"op", "code"}),
		staked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_total_staked",
			Help:      "Total staked in base units per pool (approximate above 2^53).",
		}, []string{"pool"}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools",
			Help:      "Number of pools.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.events, m.failures, m.staked, m.pools, m.requests, m.durations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Emit implements ledger.Emitter.
func (m *Metrics) Emit(evt ledger.Event) {
	m.events.WithLabelValues(evt.EventType()).Inc()
	if evt.EventType() == ledger.TypePoolCreated {
		m.pools.Inc()
	}
}

// ObserveFailure counts a rejected operation.
func (m *Metrics) ObserveFailure(op string, err error) {
	m.failures.WithLabelValues(op, ledger.ErrorCode(err)).Inc()
}

// ObservePools refreshes the per-pool gauges.
func (m *Metrics) ObservePools(pools []ledger.Pool) {
	m.pools.Set(float64(len(pools)))
	for _, pool := range pools {
		m.staked.WithLabelValues(strconv.FormatUint(pool.ID, 10)).Set(toFloat(&pool.TotalStaked))
	}
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		m.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func toFloat(value *uint256.Int) float64 {
	if value.IsUint64() {
		return float64(value.Uint64())
	}
	f, _ := new(big.Float).SetInt(value.ToBig()).Float64()
	return f
}
