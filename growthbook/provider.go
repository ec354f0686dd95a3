package growthbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/cache"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/client"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/telemetry"
)

// ProviderName is reported by Metadata and attached to emitted events.
const ProviderName = "GrowthBook Provider"

var (
	_ openfeature.FeatureProvider = (*Provider)(nil)
	_ openfeature.StateHandler    = (*Provider)(nil)
	_ openfeature.EventHandler    = (*Provider)(nil)
)

// Provider is an OpenFeature provider that evaluates flags with GrowthBook.
type Provider struct {
	engine      engine.Engine
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	initTimeout time.Duration
	hooks       []openfeature.Hook
	events      chan openfeature.Event

	// lifecycle serializes Init and Shutdown.
	lifecycle   sync.Mutex
	stopForward func()
	forwardDone chan struct{}

	// mu guards ready and status. Evaluations hold it only to join inflight.
	mu       sync.RWMutex
	ready    bool
	status   openfeature.State
	inflight sync.WaitGroup
}

// New creates a provider. APIHost and ClientKey are required unless an
// engine is supplied with WithEngine. The provider is not ready until Init.
func New(opts Options, options ...Option) (*Provider, error) {
	opts = opts.withDefaults()

	s := settings{logger: zerolog.Nop()}
	for _, o := range options {
		o(&s)
	}

	var metrics *telemetry.Metrics
	if s.registerer != nil {
		metrics = telemetry.New(s.registerer)
	}

	e := s.engine
	if e == nil {
		if strings.TrimSpace(opts.APIHost) == "" {
			return nil, errors.New("growthbook: api host is required")
		}
		if strings.TrimSpace(opts.ClientKey) == "" {
			return nil, errors.New("growthbook: client key is required")
		}

		httpClient := s.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: opts.HTTPTimeout}
		}
		var c cache.Cache = cache.NewMemory(defaultCacheEntries)
		if s.newCache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), opts.InitTimeout)
			built, err := s.newCache(ctx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("growthbook: cache: %w", err)
			}
			c = built
		}

		remote, err := client.New(client.Config{
			APIHost:        opts.APIHost,
			ClientKey:      opts.ClientKey,
			DecryptionKey:  opts.DecryptionKey,
			CacheTTL:       opts.CacheTTL,
			HTTPClient:     httpClient,
			Cache:          c,
			Metrics:        metrics,
			Logger:         s.logger,
			TracerProvider: s.tracerProvider,
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("growthbook: %w", err)
		}
		e = remote
	}

	logger := s.logger.With().Str("component", "provider").Logger()
	return &Provider{
		engine:      e,
		logger:      logger,
		metrics:     metrics,
		initTimeout: opts.InitTimeout,
		hooks:       []openfeature.Hook{&loggingHook{logger: logger}},
		events:      make(chan openfeature.Event, eventBufferSize),
		status:      openfeature.NotReadyState,
	}, nil
}

// Metadata implements openfeature.FeatureProvider.
func (p *Provider) Metadata() openfeature.Metadata {
	return openfeature.Metadata{Name: ProviderName}
}

// Hooks implements openfeature.FeatureProvider.
func (p *Provider) Hooks() []openfeature.Hook {
	return p.hooks
}

// Init prepares the engine and marks the provider ready. Calling Init on a
// ready provider is a no-op.
func (p *Provider) Init(openfeature.EvaluationContext) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.isReady() {
		return nil
	}

	if in, ok := p.engine.(engine.Initializer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), p.initTimeout)
		err := in.Initialize(ctx)
		cancel()
		if err != nil {
			p.setState(false, openfeature.ErrorState)
			p.logger.Error().Err(err).Msg("provider initialization failed")
			return fmt.Errorf("growthbook: initialize: %w", err)
		}
	}

	if n, ok := p.engine.(engine.Notifier); ok {
		changes, unsubscribe := n.Subscribe()
		done := make(chan struct{})
		p.stopForward = unsubscribe
		p.forwardDone = done
		go p.forward(changes, done)
	}

	p.setState(true, openfeature.ReadyState)
	p.logger.Info().Msg("provider ready")
	return nil
}

// Shutdown stops accepting evaluations, waits for in-flight ones, and
// releases the engine.
func (p *Provider) Shutdown() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.setState(false, openfeature.NotReadyState)
	p.inflight.Wait()

	if p.stopForward != nil {
		p.stopForward()
		<-p.forwardDone
		p.stopForward, p.forwardDone = nil, nil
	}

	if c, ok := p.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close engine")
		}
	}
	p.logger.Info().Msg("provider shut down")
}

// Status reports the provider state.
func (p *Provider) Status() openfeature.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// EventChannel implements openfeature.EventHandler.
func (p *Provider) EventChannel() <-chan openfeature.Event {
	return p.events
}

func (p *Provider) isReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *Provider) setState(ready bool, status openfeature.State) {
	p.mu.Lock()
	p.ready = ready
	p.status = status
	p.mu.Unlock()
}

// begin registers an in-flight evaluation. It reports false when the
// provider is not ready; otherwise the caller must call p.inflight.Done.
func (p *Provider) begin() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ready {
		return false
	}
	p.inflight.Add(1)
	return true
}

// forward turns engine changes into provider events until changes is closed.
func (p *Provider) forward(changes <-chan engine.Change, done chan<- struct{}) {
	defer close(done)
	for c := range changes {
		p.emit(changeEvent(c))
	}
}

func changeEvent(c engine.Change) openfeature.Event {
	if c.Err != nil {
		return openfeature.Event{
			ProviderName: ProviderName,
			EventType:    openfeature.ProviderError,
			ProviderEventDetails: openfeature.ProviderEventDetails{
				Message: c.Err.Error(),
			},
		}
	}
	return openfeature.Event{
		ProviderName: ProviderName,
		EventType:    openfeature.ProviderConfigChange,
		ProviderEventDetails: openfeature.ProviderEventDetails{
			Message:     "feature definitions changed",
			FlagChanges: c.Keys,
		},
	}
}

func (p *Provider) emit(ev openfeature.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn().Str("event", string(ev.EventType)).Msg("event buffer full, dropping event")
	}
}
