// Package ofrep serves a provider over the OpenFeature Remote Evaluation
// Protocol.
package ofrep

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/growthbook-openfeature-go/internal/telemetry"
)

const (
	defaultRequestTimeout = 5 * time.Second
	maxBodyBytes          = 64 << 10
)

// Provider is the subset of the GrowthBook provider the server needs.
type Provider interface {
	ObjectEvaluation(ctx context.Context, flag string, defaultValue any, flatCtx openfeature.FlattenedContext) openfeature.InterfaceResolutionDetail
	Status() openfeature.State
}

// Config configures a Server.
type Config struct {
	Provider Provider

	// APIKey, when set, is required as a bearer token on evaluation routes.
	APIKey string

	// RateLimitPerIP is the number of evaluation requests per minute per
	// client IP. Zero disables rate limiting.
	RateLimitPerIP int

	RequestTimeout time.Duration
	Gatherer       prometheus.Gatherer
	Metrics        *telemetry.Metrics
	Logger         zerolog.Logger
}

// Server exposes OFREP evaluation plus health and metrics endpoints.
type Server struct {
	provider  Provider
	apiKey    string
	rateLimit int
	timeout   time.Duration
	gatherer  prometheus.Gatherer
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

func NewServer(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		provider:  cfg.Provider,
		apiKey:    cfg.APIKey,
		rateLimit: cfg.RateLimitPerIP,
		timeout:   timeout,
		gatherer:  gatherer,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "ofrep").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.metrics.Middleware)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(RateLimitedError),
			))
		}
		if s.apiKey != "" {
			r.Use(s.auth)
		}
		r.Post("/ofrep/v1/evaluate/flags/{key}", s.handleEvaluate)
	})

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if st := s.provider.Status(); st != openfeature.ReadyState {
		writeErrorResponse(w, r, http.StatusServiceUnavailable,
			NewErrorResponse(http.StatusServiceUnavailable, ErrCodeNotReady, "provider status "+string(st)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type evaluateRequest struct {
	Context map[string]any `json:"context"`
}

type evaluationSuccess struct {
	Key      string                   `json:"key"`
	Value    any                      `json:"value"`
	Reason   openfeature.Reason       `json:"reason"`
	Variant  string                   `json:"variant,omitempty"`
	Metadata openfeature.FlagMetadata `json:"metadata,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req evaluateRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, evaluationFailure{
				Key:          key,
				ErrorCode:    openfeature.InvalidContextCode,
				ErrorDetails: "request body must be a JSON object with a context field",
			})
			return
		}
	}

	res := s.provider.ObjectEvaluation(r.Context(), key, nil, openfeature.FlattenedContext(req.Context))
	detail := res.ResolutionDetail()
	if detail.ErrorCode != "" {
		writeJSON(w, statusForCode(detail.ErrorCode), evaluationFailure{
			Key:          key,
			ErrorCode:    detail.ErrorCode,
			ErrorDetails: detail.ErrorMessage,
		})
		return
	}

	writeJSON(w, http.StatusOK, evaluationSuccess{
		Key:      key,
		Value:    res.Value,
		Reason:   res.Reason,
		Variant:  res.Variant,
		Metadata: res.FlagMetadata,
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, got, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
		got = strings.TrimSpace(got)
		if !strings.EqualFold(scheme, "Bearer") || got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
