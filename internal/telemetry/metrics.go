// Package telemetry holds the Prometheus metrics recorded by the provider, the
// remote evaluation client and the OFREP server.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	evaluations   *prometheus.CounterVec
	engineReqs    *prometheus.CounterVec
	engineDur     prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	configChanges prometheus.Counter
	httpReqs      *prometheus.CounterVec
	httpDur       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors. Collectors already registered with reg (a second
// provider on the same registry) are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "growthbook_flag_evaluations_total",
				Help: "Total flag evaluations by value type and reason",
			},
			[]string{"type", "reason", "error_code"},
		),
		engineReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "growthbook_engine_requests_total",
				Help: "Total remote evaluation requests by outcome",
			},
			[]string{"outcome"},
		),
		engineDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "growthbook_engine_request_duration_seconds",
			Help:    "Remote evaluation request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "growthbook_cache_lookups_total",
				Help: "Payload cache lookups by result",
			},
			[]string{"result"},
		),
		configChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "growthbook_config_changes_total",
			Help: "Feature definition changes observed",
		}),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	if reg == nil {
		return m
	}

	m.evaluations = register(reg, m.evaluations)
	m.engineReqs = register(reg, m.engineReqs)
	m.engineDur = register(reg, m.engineDur)
	m.cacheLookups = register(reg, m.cacheLookups)
	m.configChanges = register(reg, m.configChanges)
	m.httpReqs = register(reg, m.httpReqs)
	m.httpDur = register(reg, m.httpDur)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Evaluation counts one provider evaluation.
func (m *Metrics) Evaluation(flagType, reason, errorCode string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(flagType, reason, errorCode).Inc()
}

// EngineRequest records one remote call and its duration.
func (m *Metrics) EngineRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.engineReqs.WithLabelValues(outcome).Inc()
	m.engineDur.Observe(d.Seconds())
}

// CacheLookup counts a payload cache lookup ("hit", "miss", "error").
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ConfigChange counts one observed change of feature definitions.
func (m *Metrics) ConfigChange() {
	if m == nil {
		return
	}
	m.configChanges.Inc()
}

// Middleware records request counts and durations keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// route pattern is only complete after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		m.httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
