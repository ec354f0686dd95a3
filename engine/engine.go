// Package engine defines the contract between the OpenFeature provider and the
// flag-evaluation engine it delegates to.
//
// An engine owns targeting, rollouts and experiment assignment. The provider
// only hands it a flag key and a user context and reads back a FeatureResult.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotInitialized is returned by engines that are used before Initialize.
var ErrNotInitialized = errors.New("engine not initialized")

// Source describes why the engine produced a value. The values mirror the
// GrowthBook feature-result sources.
type Source string

const (
	SourceUnknownFeature     Source = "unknownFeature"
	SourceDefaultValue       Source = "defaultValue"
	SourceForce              Source = "force"
	SourceExperiment         Source = "experiment"
	SourceOverride           Source = "override"
	SourcePrerequisite       Source = "prerequisite"
	SourceCyclicPrerequisite Source = "cyclicPrerequisite"
)

// UserContext is the engine-side view of an evaluation context.
type UserContext struct {
	Attributes map[string]any `json:"attributes"`
}

// ExperimentResult describes the experiment assignment behind a value.
type ExperimentResult struct {
	Key          string `json:"key" yaml:"key"`
	VariationID  int    `json:"variationId" yaml:"variationId"`
	VariationKey string `json:"variationKey,omitempty" yaml:"variationKey,omitempty"`
	InExperiment bool   `json:"inExperiment" yaml:"inExperiment"`
	HashUsed     bool   `json:"hashUsed,omitempty" yaml:"hashUsed,omitempty"`
}

// FeatureResult is the outcome of evaluating one feature for one user.
type FeatureResult struct {
	Value      any               `json:"value"`
	On         bool              `json:"on"`
	Off        bool              `json:"off"`
	Source     Source            `json:"source"`
	RuleID     string            `json:"ruleId,omitempty"`
	Experiment *ExperimentResult `json:"experimentResult,omitempty"`
}

// NewFeatureResult builds a result and derives On/Off from the value.
func NewFeatureResult(value any, source Source) FeatureResult {
	on := Truthy(value)
	return FeatureResult{Value: value, On: on, Off: !on, Source: source}
}

// UnknownFeature is the result for a key the engine does not know.
func UnknownFeature() FeatureResult {
	return NewFeatureResult(nil, SourceUnknownFeature)
}

// Truthy reports whether v counts as "on": nil, false, "" and numeric zero are off.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int8:
		return x != 0
	case int16:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint:
		return x != 0
	case uint8:
		return x != 0
	case uint16:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	default:
		return true
	}
}

// Engine evaluates features. Implementations must be safe for concurrent use.
type Engine interface {
	EvalFeature(ctx context.Context, key string, user UserContext) (FeatureResult, error)
}

// Initializer is implemented by engines that need a warm-up step before the
// first evaluation (loading a file, probing a remote endpoint).
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Notifier is implemented by engines that can tell when their feature
// definitions changed.
type Notifier interface {
	Subscribe() (<-chan Change, func())
}

// Func adapts an ordinary function to the Engine interface.
type Func func(ctx context.Context, key string, user UserContext) (FeatureResult, error)

// EvalFeature calls f.
func (f Func) EvalFeature(ctx context.Context, key string, user UserContext) (FeatureResult, error) {
	return f(ctx, key, user)
}
