package growthbook

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/cache"
)

const (
	// DefaultCacheTTL matches the GrowthBook SDK default of 60 seconds.
	DefaultCacheTTL = 60 * time.Second

	// DefaultHTTPTimeout bounds one remote evaluation request.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultInitTimeout bounds the readiness probe run by Init.
	DefaultInitTimeout = 15 * time.Second

	defaultCacheEntries = 10000
	eventBufferSize     = 16
)

// Options holds the GrowthBook connection settings.
type Options struct {
	APIHost       string // e.g. https://cdn.growthbook.io
	ClientKey     string // SDK connection key, e.g. sdk-abc123
	DecryptionKey string // base64 key when the connection encrypts payloads

	// CacheTTL is how long evaluated payloads are reused for an identical
	// context. Zero means DefaultCacheTTL; negative disables caching.
	CacheTTL time.Duration

	HTTPTimeout time.Duration // zero means DefaultHTTPTimeout
	InitTimeout time.Duration // zero means DefaultInitTimeout
}

func (o Options) withDefaults() Options {
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = DefaultHTTPTimeout
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	return o
}

type settings struct {
	engine         engine.Engine
	logger         zerolog.Logger
	httpClient     *http.Client
	newCache       func(ctx context.Context) (cache.Cache, error)
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

// Option customizes a Provider.
type Option func(*settings)

// WithEngine evaluates against e instead of the remote evaluation endpoint.
// Options.APIHost and Options.ClientKey are then ignored.
func WithEngine(e engine.Engine) Option {
	return func(s *settings) { s.engine = e }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithHTTPClient sets the HTTP client for remote evaluation. Its Timeout
// overrides Options.HTTPTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithMemoryCache bounds the in-process payload cache. maxEntries <= 0 means unbounded.
func WithMemoryCache(maxEntries int) Option {
	return func(s *settings) {
		s.newCache = func(context.Context) (cache.Cache, error) { return cache.NewMemory(maxEntries), nil }
	}
}

// WithRedisCache shares evaluated payloads between processes through Redis.
func WithRedisCache(client *redis.Client) Option {
	return func(s *settings) {
		s.newCache = func(context.Context) (cache.Cache, error) { return cache.NewRedisFromClient(client), nil }
	}
}

// WithCacheBackend selects the payload cache by name: "memory" (bounded by
// maxEntries), "redis" (connecting to redisURL) or "none". New fails when
// the backend cannot be created.
func WithCacheBackend(kind, redisURL string, maxEntries int) Option {
	return func(s *settings) {
		s.newCache = func(ctx context.Context) (cache.Cache, error) {
			return cache.New(ctx, kind, redisURL, maxEntries)
		}
	}
}

// WithRegisterer registers the provider's Prometheus metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithTracerProvider sets the OpenTelemetry tracer provider for remote calls.
// The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = tp }
}
