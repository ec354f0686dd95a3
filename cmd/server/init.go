package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	initRetryBase = time.Second
	initRetryMax  = 30 * time.Second
)

// initUntilReady calls initFn until it succeeds or ctx is done. The delay
// between attempts doubles from base up to maxDelay.
func initUntilReady(ctx context.Context, initFn func() error, base, maxDelay time.Duration, logger zerolog.Logger) error {
	delay := base
	for attempt := 1; ; attempt++ {
		err := initFn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("provider ready after retry")
			}
			return nil
		}
		logger.Error().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("provider not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
