package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of a load run and of the status
// server that exposes them.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	iterations    *prometheus.CounterVec
	records       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	iterationTime *prometheus.HistogramVec
	activeWorkers prometheus.Gauge

	progress *Progress
}

// NewMetrics initialises a private registry with the load and HTTP metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_http_requests_total",
		Help: "Status server requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loadgen_http_request_duration_seconds",
		Help:    "Status server request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	iterations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_iterations_total",
		Help: "Worker iterations partitioned by scenario and status.",
	}, []string{"scenario", "status"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_records_total",
		Help: "Records accepted by the sink.",
	}, []string{"scenario"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_record_failures_total",
		Help: "Records still rejected after every retry round.",
	}, []string{"scenario"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_publish_retries_total",
		Help: "Stream publish retry rounds.",
	}, []string{"scenario"})
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_payload_bytes_total",
		Help: "Payload bytes written, raw or as sent on the wire.",
	}, []string{"scenario", "encoding"})
	iterationTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loadgen_iteration_duration_seconds",
		Help:    "Duration of one generate and ingest iteration.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"scenario"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loadgen_active_workers",
		Help: "Workers currently running.",
	})
	registry.MustRegister(requests, duration, iterations, records, failures, retries, bytes, iterationTime, active)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		iterations:      iterations,
		records:         records,
		failures:        failures,
		retries:         retries,
		bytes:           bytes,
		iterationTime:   iterationTime,
		activeWorkers:   active,
		progress:        NewProgress(),
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every status server request.
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

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// Progress returns the live per-worker progress table.
func (m *Metrics) Progress() *Progress {
	if m == nil {
		return nil
	}
	return m.progress
}

// WorkerStarted marks a worker as running.
func (m *Metrics) WorkerStarted(thread int, runID string) {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
	m.progress.start(thread, runID)
}

// WorkerFinished marks a worker as done, successfully or not.
func (m *Metrics) WorkerFinished(thread int, err error) {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
	m.progress.finish(thread, err)
}

// IterationStats is what a finished iteration reports.
type IterationStats struct {
	Records  int
	Failures int
	Retries  int
	SizeRaw  int64
	SizeWire int64
}

// Tracker instruments one iteration of one worker.
type Tracker struct {
	metrics  *Metrics
	scenario string
	thread   int
	start    time.Time
}

// Track starts timing an iteration.
func (m *Metrics) Track(scenario string, thread int) *Tracker {
	return &Tracker{metrics: m, scenario: scenario, thread: thread, start: time.Now()}
}

// End records the iteration and returns err untouched.
func (t *Tracker) End(stats IterationStats, err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.iterations.WithLabelValues(t.scenario, status).Inc()
	m.iterationTime.WithLabelValues(t.scenario).Observe(time.Since(t.start).Seconds())
	if err == nil {
		m.records.WithLabelValues(t.scenario).Add(float64(stats.Records))
		m.failures.WithLabelValues(t.scenario).Add(float64(stats.Failures))
		m.retries.WithLabelValues(t.scenario).Add(float64(stats.Retries))
		m.bytes.WithLabelValues(t.scenario, "raw").Add(float64(stats.SizeRaw))
		m.bytes.WithLabelValues(t.scenario, "wire").Add(float64(stats.SizeWire))
		m.progress.iteration(t.thread, stats)
	}
	return err
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
