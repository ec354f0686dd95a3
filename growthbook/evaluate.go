package growthbook

import (
	"context"
	"fmt"

	"github.com/open-feature/go-sdk/openfeature"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
)

// BooleanEvaluation resolves flag as a boolean using GrowthBook's on/off state.
func (p *Provider) BooleanEvaluation(ctx context.Context, flag string, defaultValue bool, flatCtx openfeature.FlattenedContext) openfeature.BoolResolutionDetail {
	v, d := resolve(ctx, p, "boolean", flag, defaultValue, flatCtx, asBool)
	return openfeature.BoolResolutionDetail{Value: v, ProviderResolutionDetail: d}
}

// StringEvaluation resolves flag as a string.
func (p *Provider) StringEvaluation(ctx context.Context, flag string, defaultValue string, flatCtx openfeature.FlattenedContext) openfeature.StringResolutionDetail {
	v, d := resolve(ctx, p, "string", flag, defaultValue, flatCtx, asString)
	return openfeature.StringResolutionDetail{Value: v, ProviderResolutionDetail: d}
}

// FloatEvaluation resolves flag as a float64.
func (p *Provider) FloatEvaluation(ctx context.Context, flag string, defaultValue float64, flatCtx openfeature.FlattenedContext) openfeature.FloatResolutionDetail {
	v, d := resolve(ctx, p, "float", flag, defaultValue, flatCtx, asFloat)
	return openfeature.FloatResolutionDetail{Value: v, ProviderResolutionDetail: d}
}

// IntEvaluation resolves flag as an int64.
func (p *Provider) IntEvaluation(ctx context.Context, flag string, defaultValue int64, flatCtx openfeature.FlattenedContext) openfeature.IntResolutionDetail {
	v, d := resolve(ctx, p, "integer", flag, defaultValue, flatCtx, asInt)
	return openfeature.IntResolutionDetail{Value: v, ProviderResolutionDetail: d}
}

// ObjectEvaluation resolves flag as a JSON object or array. A nil default
// accepts any non-nil value.
func (p *Provider) ObjectEvaluation(ctx context.Context, flag string, defaultValue any, flatCtx openfeature.FlattenedContext) openfeature.InterfaceResolutionDetail {
	v, d := resolve(ctx, p, "object", flag, defaultValue, flatCtx, asObject(defaultValue == nil))
	return openfeature.InterfaceResolutionDetail{Value: v, ProviderResolutionDetail: d}
}

// resolve runs one evaluation and normalizes the engine result into an
// OpenFeature resolution. It never returns an error; failures yield the
// default value with reason ERROR.
func resolve[T any](ctx context.Context, p *Provider, flagType, flag string, defaultValue T, flatCtx openfeature.FlattenedContext, extract extractor[T]) (T, openfeature.ProviderResolutionDetail) {
	value, detail, code := evaluate(ctx, p, flag, defaultValue, flatCtx, extract)
	p.metrics.Evaluation(flagType, string(detail.Reason), string(code))
	if code != "" {
		p.logger.Debug().
			Str("flag", flag).
			Str("type", flagType).
			Str("code", string(code)).
			Msg("returning default value")
	}
	return value, detail
}

func evaluate[T any](ctx context.Context, p *Provider, flag string, defaultValue T, flatCtx openfeature.FlattenedContext, extract extractor[T]) (T, openfeature.ProviderResolutionDetail, openfeature.ErrorCode) {
	if !p.begin() {
		return fail(defaultValue, openfeature.ProviderNotReadyCode, "provider is not ready")
	}
	defer p.inflight.Done()

	if flag == "" {
		return fail(defaultValue, openfeature.FlagNotFoundCode, "flag key is empty")
	}

	res, err := p.engine.EvalFeature(ctx, flag, userContext(flatCtx))
	if err != nil {
		return fail(defaultValue, openfeature.GeneralCode, err.Error())
	}

	switch res.Source {
	case engine.SourceUnknownFeature:
		return fail(defaultValue, openfeature.FlagNotFoundCode, fmt.Sprintf("flag %q not found", flag))
	case engine.SourceCyclicPrerequisite:
		return fail(defaultValue, openfeature.GeneralCode, fmt.Sprintf("flag %q has a cyclic prerequisite", flag))
	}

	value, outcome := extract(res)
	switch outcome {
	case valueAbsent:
		reason := openfeature.DefaultReason
		if res.Source == engine.SourcePrerequisite {
			reason = openfeature.DisabledReason
		}
		return defaultValue, openfeature.ProviderResolutionDetail{Reason: reason, FlagMetadata: flagMetadata(res)}, ""
	case valueMismatch:
		return fail(defaultValue, openfeature.TypeMismatchCode,
			fmt.Sprintf("flag %q has value of type %T", flag, res.Value))
	}

	return value, openfeature.ProviderResolutionDetail{
		Reason:       reasonFor(res.Source),
		Variant:      variantFor(res),
		FlagMetadata: flagMetadata(res),
	}, ""
}

func fail[T any](defaultValue T, code openfeature.ErrorCode, msg string) (T, openfeature.ProviderResolutionDetail, openfeature.ErrorCode) {
	return defaultValue, openfeature.ProviderResolutionDetail{
		ResolutionError: resolutionError(code, msg),
		Reason:          openfeature.ErrorReason,
	}, code
}

func resolutionError(code openfeature.ErrorCode, msg string) openfeature.ResolutionError {
	switch code {
	case openfeature.ProviderNotReadyCode:
		return openfeature.NewProviderNotReadyResolutionError(msg)
	case openfeature.FlagNotFoundCode:
		return openfeature.NewFlagNotFoundResolutionError(msg)
	case openfeature.TypeMismatchCode:
		return openfeature.NewTypeMismatchResolutionError(msg)
	case openfeature.ParseErrorCode:
		return openfeature.NewParseErrorResolutionError(msg)
	default:
		return openfeature.NewGeneralResolutionError(msg)
	}
}
