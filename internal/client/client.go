// Package client talks to a GrowthBook remote evaluation endpoint. It
// implements engine.Engine, engine.Initializer and engine.Notifier.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/cache"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/telemetry"
)

const (
	// DefaultTimeout bounds a single remote evaluation request.
	DefaultTimeout = 10 * time.Second

	// maxErrorBodySize limits how much of an error response body we keep (1KB)
	maxErrorBodySize = 1024

	tracerName = "github.com/TimurManjosov/growthbook-openfeature-go/internal/client"
)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote evaluation error (status %d): %s", e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	APIHost       string
	ClientKey     string
	DecryptionKey string

	// CacheTTL is how long evaluated payloads are reused. Negative disables caching.
	CacheTTL time.Duration

	HTTPClient     *http.Client
	Cache          cache.Cache
	Metrics        *telemetry.Metrics
	Logger         zerolog.Logger
	TracerProvider trace.TracerProvider
	UserAgent      string
}

// Client is an HTTP client for the remote evaluation endpoint.
type Client struct {
	endpoint      string
	clientKey     string
	decryptionKey string
	cacheTTL      time.Duration
	userAgent     string

	http    *http.Client
	cache   cache.Cache
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	tracer  trace.Tracer

	flight singleflight.Group
	engine.Broadcaster

	revMu    sync.Mutex
	revision time.Time
}

// New creates a client. APIHost and ClientKey are required.
func New(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.APIHost), "/")
	if host == "" {
		return nil, errors.New("api host is required")
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid api host: %w", err)
	}
	if strings.TrimSpace(cfg.ClientKey) == "" {
		return nil, errors.New("client key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	c := cfg.Cache
	if c == nil || cfg.CacheTTL < 0 {
		c = cache.Nop{}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "growthbook-openfeature-go"
	}

	return &Client{
		endpoint:      host + "/api/eval/" + url.PathEscape(cfg.ClientKey),
		clientKey:     cfg.ClientKey,
		decryptionKey: cfg.DecryptionKey,
		cacheTTL:      cfg.CacheTTL,
		userAgent:     ua,
		http:          httpClient,
		cache:         c,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("component", "remote-eval").Logger(),
		tracer:        tp.Tracer(tracerName),
	}, nil
}

// evalRequest is the body of POST /api/eval/{clientKey}.
type evalRequest struct {
	Attributes       map[string]any `json:"attributes"`
	ForcedVariations map[string]int `json:"forcedVariations"`
	ForcedFeatures   [][2]any       `json:"forcedFeatures"`
	URL              string         `json:"url"`
}

// evalResponse is the body returned by the remote evaluation endpoint.
type evalResponse struct {
	Features          map[string]wireFeature `json:"features"`
	EncryptedFeatures string                 `json:"encryptedFeatures,omitempty"`
	DateUpdated       string                 `json:"dateUpdated,omitempty"`
}

// EvalFeature evaluates one feature for the user.
func (c *Client) EvalFeature(ctx context.Context, key string, user engine.UserContext) (engine.FeatureResult, error) {
	p, err := c.Features(ctx, user)
	if err != nil {
		return engine.FeatureResult{}, err
	}
	res, ok := p.Features[key]
	if !ok {
		return engine.UnknownFeature(), nil
	}
	return res, nil
}

// Features returns the evaluated feature set for the user, from cache when a
// live entry exists. Concurrent calls for the same user share one request.
func (c *Client) Features(ctx context.Context, user engine.UserContext) (*cache.Payload, error) {
	attrs := user.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	fp, err := cache.Fingerprint(c.clientKey, attrs)
	if err != nil {
		return nil, err
	}

	if p, ok := c.lookup(ctx, fp); ok {
		return p, nil
	}

	// The shared fetch must not die with the first caller's context; each
	// waiter still honors its own.
	ch := c.flight.DoChan(fp, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		p, err := c.fetch(fetchCtx, attrs)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(fetchCtx, fp, p, c.cacheTTL); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache payload")
		}
		c.observeRevision(p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*cache.Payload), nil
	}
}

func (c *Client) lookup(ctx context.Context, fp string) (*cache.Payload, bool) {
	if c.cacheTTL < 0 {
		return nil, false
	}
	p, ok, err := c.cache.Get(ctx, fp)
	switch {
	case err != nil:
		c.metrics.CacheLookup("error")
		c.logger.Warn().Err(err).Msg("payload cache lookup failed")
		return nil, false
	case ok:
		c.metrics.CacheLookup("hit")
		return p, true
	default:
		c.metrics.CacheLookup("miss")
		return nil, false
	}
}

// fetch performs one remote evaluation request.
func (c *Client) fetch(ctx context.Context, attrs map[string]any) (p *cache.Payload, err error) {
	ctx, span := c.tracer.Start(ctx, "growthbook.remote_eval",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("growthbook.endpoint", c.endpoint)),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("growthbook.features", len(p.Features)))
		}
		c.metrics.EngineRequest(outcome, time.Since(start))
		span.End()
	}()

	body, err := json.Marshal(evalRequest{
		Attributes:       attrs,
		ForcedVariations: map[string]int{},
		ForcedFeatures:   [][2]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var er evalResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	features, err := c.features(er)
	if err != nil {
		return nil, err
	}

	p = &cache.Payload{
		Features:  features,
		ETag:      engine.ETag(features),
		FetchedAt: time.Now().UTC(),
	}
	if er.DateUpdated != "" {
		if t, perr := time.Parse(time.RFC3339, er.DateUpdated); perr == nil {
			p.DateUpdated = t.UTC()
		}
	}

	c.logger.Debug().Int("features", len(features)).Str("etag", p.ETag).Msg("remote evaluation fetched")
	return p, nil
}

// features decodes plain or encrypted features into engine results.
func (c *Client) features(er evalResponse) (map[string]engine.FeatureResult, error) {
	wire := er.Features
	if er.EncryptedFeatures != "" {
		plain, err := decryptPayload(er.EncryptedFeatures, c.decryptionKey)
		if err != nil {
			return nil, err
		}
		wire = nil
		if err := json.Unmarshal(plain, &wire); err != nil {
			return nil, fmt.Errorf("%w: decrypted features are not valid JSON", ErrDecryption)
		}
	}

	out := make(map[string]engine.FeatureResult, len(wire))
	for key, f := range wire {
		out[key] = f.result()
	}
	return out, nil
}

// observeRevision publishes a change when a payload carries a newer
// definition revision than any seen before. The first revision only seeds the tracker.
func (c *Client) observeRevision(p *cache.Payload) {
	if p.DateUpdated.IsZero() {
		return
	}

	c.revMu.Lock()
	prev := c.revision
	newer := p.DateUpdated.After(prev)
	if newer {
		c.revision = p.DateUpdated
	}
	c.revMu.Unlock()

	if !newer || prev.IsZero() {
		return
	}

	keys := make([]string, 0, len(p.Features))
	for k := range p.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.metrics.ConfigChange()
	c.logger.Info().Time("revision", p.DateUpdated).Msg("feature definitions changed")
	c.Publish(engine.Change{Keys: keys})
}

// Initialize performs one anonymous evaluation to check the host, client key
// and decryption key before the provider reports ready.
func (c *Client) Initialize(ctx context.Context) error {
	if _, err := c.Features(ctx, engine.UserContext{}); err != nil {
		return fmt.Errorf("remote evaluation probe failed: %w", err)
	}
	c.logger.Info().Msg("remote evaluation endpoint reachable")
	return nil
}

// Close releases the payload cache.
func (c *Client) Close() error {
	return c.cache.Close()
}
