package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/growthbook"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/config"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/logging"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/ofrep"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/telemetry"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With().Str("env", cfg.AppEnv).Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	provider, err := newProvider(cfg, logger, reg)
	if err != nil {
		return err
	}

	// Drain provider events; flag changes go to the configured webhooks.
	dispatcher := webhook.NewDispatcher(webhook.Config{
		URLs:       cfg.WebhookURLs,
		Secret:     cfg.WebhookSecret,
		MaxRetries: cfg.WebhookMaxRetries,
		Timeout:    cfg.WebhookTimeout,
		Logger:     logger,
	})
	dispatcher.Start()
	defer dispatcher.Close()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go dispatcher.Relay(relayCtx, provider.EventChannel(), cfg.AppEnv)

	// Until Init succeeds /readyz reports 503 and evaluations answer
	// PROVIDER_NOT_READY. Retries stop before the provider shuts down.
	defer provider.Shutdown()
	initCtx, stopInit := context.WithCancel(context.Background())
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		_ = initUntilReady(initCtx, func() error {
			return provider.Init(openfeature.EvaluationContext{})
		}, initRetryBase, initRetryMax, logger)
	}()
	defer func() {
		stopInit()
		<-initDone
	}()

	srvOFREP := ofrep.NewServer(ofrep.Config{
		Provider:       provider,
		APIKey:         cfg.OFREPAPIKey,
		RateLimitPerIP: cfg.RateLimitPerIP,
		Gatherer:       reg,
		Metrics:        telemetry.New(reg),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvOFREP.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Bool("offline", cfg.Offline()).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-stop:
	}

	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShut); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("stopped")
	return nil
}

func newProvider(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*growthbook.Provider, error) {
	options := []growthbook.Option{
		growthbook.WithLogger(logger),
		growthbook.WithRegisterer(reg),
	}
	if cfg.Offline() {
		options = append(options, growthbook.WithEngine(engine.NewFileEngine(cfg.FixturesFile, logger)))
	} else {
		options = append(options, growthbook.WithCacheBackend(cfg.CacheBackend, cfg.RedisURL, cfg.CacheMaxEntries))
	}

	return growthbook.New(growthbook.Options{
		APIHost:       cfg.APIHost,
		ClientKey:     cfg.ClientKey,
		DecryptionKey: cfg.DecryptionKey,
		CacheTTL:      cfg.CacheTTLDuration(),
		HTTPTimeout:   cfg.HTTPTimeout,
		InitTimeout:   cfg.InitTimeout,
	}, options...)
}
