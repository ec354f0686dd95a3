package growthbook

import (
	"context"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/rs/zerolog"
)

// loggingHook records failed evaluations.
type loggingHook struct {
	openfeature.UnimplementedHook
	logger zerolog.Logger
}

func (h *loggingHook) Error(_ context.Context, hookContext openfeature.HookContext, err error, _ openfeature.HookHints) {
	h.logger.Warn().
		Err(err).
		Str("flag", hookContext.FlagKey()).
		Msg("flag evaluation failed")
}
