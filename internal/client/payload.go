package client

import (
	"encoding/json"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
)

// wireFeature is one feature of a remote evaluation payload. The endpoint has
// already applied targeting: defaultValue holds the value for this user and
// the remaining rule, if any, says whether it was forced or assigned by an
// experiment.
type wireFeature struct {
	DefaultValue any        `json:"defaultValue"`
	Rules        []wireRule `json:"rules,omitempty"`
}

type wireRule struct {
	ID         string          `json:"id,omitempty"`
	Force      json.RawMessage `json:"force,omitempty"`
	Variations []any           `json:"variations,omitempty"`
	Tracks     []wireTrack     `json:"tracks,omitempty"`
}

type wireTrack struct {
	Experiment struct {
		Key string `json:"key"`
	} `json:"experiment"`
	Result struct {
		VariationID  int    `json:"variationId"`
		Key          string `json:"key"`
		Value        any    `json:"value"`
		InExperiment bool   `json:"inExperiment"`
		HashUsed     bool   `json:"hashUsed"`
	} `json:"result"`
}

func (r wireRule) forced() (any, bool) {
	if len(r.Force) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(r.Force, &v); err != nil {
		return nil, false
	}
	return v, true
}

// result maps the first rule that carries a force value or an experiment
// exposure. Features without one resolve to their default value.
func (f wireFeature) result() engine.FeatureResult {
	for _, r := range f.Rules {
		if len(r.Tracks) > 0 {
			return r.experimentResult(f.DefaultValue)
		}
		if v, ok := r.forced(); ok {
			res := engine.NewFeatureResult(v, engine.SourceForce)
			res.RuleID = r.ID
			return res
		}
	}
	return engine.NewFeatureResult(f.DefaultValue, engine.SourceDefaultValue)
}

// experimentResult picks the assigned value: the forced value, then the
// variation at the assigned index, then the tracked result value.
func (r wireRule) experimentResult(fallback any) engine.FeatureResult {
	t := r.Tracks[0]
	id := t.Result.VariationID

	value := fallback
	if v, ok := r.forced(); ok {
		value = v
	} else if id >= 0 && id < len(r.Variations) {
		value = r.Variations[id]
	} else if t.Result.Value != nil {
		value = t.Result.Value
	}

	res := engine.NewFeatureResult(value, engine.SourceExperiment)
	res.RuleID = r.ID
	res.Experiment = &engine.ExperimentResult{
		Key:          t.Experiment.Key,
		VariationID:  id,
		VariationKey: t.Result.Key,
		InExperiment: t.Result.InExperiment,
		HashUsed:     t.Result.HashUsed,
	}
	return res
}
