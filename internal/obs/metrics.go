package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/events"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики фоновых задач и событий леджера
var (
	sweepEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_sweep_entities_total",
			Help: "Entities handled by the daily sweeps, by outcome.",
		},
		[]string{"sweep", "outcome"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_sweep_duration_seconds",
			Help:    "Wall time of a sweep run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"sweep"},
	)

	ledgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Domain events raised after committed units of work.",
		},
		[]string{"type"},
	)
)

var initOnce sync.Once

// Init регистрирует метрики в default-регистре. Повторный вызов безопасен.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			sweepEntities, sweepDuration, ledgerEvents)
	})
}

// Handler отдаёт /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RouteFunc resolves the route pattern of a served request. It runs after
// the handler so routers that fill their context lazily are supported.
type RouteFunc func(r *http.Request) string

// Instrument measures in-flight requests, counts and latency per route.
func Instrument(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := ""
			if route != nil {
				path = route(r)
			}
			if path == "" {
				path = CanonicalPath(r.URL.Path)
			}
			status := strconv.Itoa(sw.Code)
			httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

// StatusWriter запоминает код ответа.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the wrapper.
func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// CanonicalPath collapses identifiers in path so metric labels stay bounded.
// Segments that follow a collection name are replaced with :id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if collections[parts[i-1]] && !actions[parts[i]] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

var collections = map[string]bool{
	"investments":  true,
	"financings":   true,
	"installments": true,
	"transfers":    true,
	"contacts":     true,
}

// actions are fixed path segments that live under a collection.
var actions = map[string]bool{
	"simulate": true,
	"validate": true,
}

// SweepObserver exports sweep reports.
type SweepObserver struct{}

var _ sweep.Observer = SweepObserver{}

func (SweepObserver) ObserveSweep(r sweep.Report, took time.Duration) {
	sweepEntities.WithLabelValues(r.Sweep, "processed").Add(float64(r.Processed))
	sweepEntities.WithLabelValues(r.Sweep, "skipped").Add(float64(r.Skipped))
	sweepEntities.WithLabelValues(r.Sweep, "failed").Add(float64(r.Failed))
	sweepDuration.WithLabelValues(r.Sweep).Observe(took.Seconds())
}

// EventCounter counts published events by type. It never fails.
type EventCounter struct{}

var _ events.Publisher = EventCounter{}

func (EventCounter) Publish(_ context.Context, evt events.Event) error {
	ledgerEvents.WithLabelValues(evt.Type).Inc()
	return nil
}
