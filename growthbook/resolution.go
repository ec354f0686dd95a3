package growthbook

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/open-feature/go-sdk/openfeature"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
)

type outcome int

const (
	valueOK outcome = iota
	valueAbsent
	valueMismatch
)

// extractor pulls a typed value out of an engine result.
type extractor[T any] func(engine.FeatureResult) (T, outcome)

func asBool(res engine.FeatureResult) (bool, outcome) {
	return res.On, valueOK
}

func asString(res engine.FeatureResult) (string, outcome) {
	switch v := res.Value.(type) {
	case nil:
		return "", valueAbsent
	case string:
		return v, valueOK
	default:
		return "", valueMismatch
	}
}

func asInt(res engine.FeatureResult) (int64, outcome) {
	switch v := res.Value.(type) {
	case nil:
		return 0, valueAbsent
	case int:
		return int64(v), valueOK
	case int8:
		return int64(v), valueOK
	case int16:
		return int64(v), valueOK
	case int32:
		return int64(v), valueOK
	case int64:
		return v, valueOK
	case uint:
		return uintToInt(uint64(v))
	case uint8:
		return int64(v), valueOK
	case uint16:
		return int64(v), valueOK
	case uint32:
		return int64(v), valueOK
	case uint64:
		return uintToInt(v)
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, valueOK
		}
		if f, err := v.Float64(); err == nil {
			return floatToInt(f)
		}
		return 0, valueMismatch
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, valueOK
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
		return 0, valueMismatch
	default:
		return 0, valueMismatch
	}
}

func uintToInt(v uint64) (int64, outcome) {
	if v > math.MaxInt64 {
		return 0, valueMismatch
	}
	return int64(v), valueOK
}

// floatToInt accepts only integral values inside the int64 range.
func floatToInt(f float64) (int64, outcome) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, valueMismatch
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, valueMismatch
	}
	return int64(f), valueOK
}

func asFloat(res engine.FeatureResult) (float64, outcome) {
	switch v := res.Value.(type) {
	case nil:
		return 0, valueAbsent
	case float64:
		return v, valueOK
	case float32:
		return float64(v), valueOK
	case int:
		return float64(v), valueOK
	case int8:
		return float64(v), valueOK
	case int16:
		return float64(v), valueOK
	case int32:
		return float64(v), valueOK
	case int64:
		return float64(v), valueOK
	case uint:
		return float64(v), valueOK
	case uint8:
		return float64(v), valueOK
	case uint16:
		return float64(v), valueOK
	case uint32:
		return float64(v), valueOK
	case uint64:
		return float64(v), valueOK
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, valueOK
		}
		return 0, valueMismatch
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, valueOK
		}
		return 0, valueMismatch
	default:
		return 0, valueMismatch
	}
}

// asObject accepts JSON objects and arrays. With anyValue set, scalars are
// accepted too. Objects are copied so callers cannot mutate engine or cache state.
func asObject(anyValue bool) extractor[any] {
	return func(res engine.FeatureResult) (any, outcome) {
		switch res.Value.(type) {
		case nil:
			return nil, valueAbsent
		case map[string]any, []any:
			return cloneValue(res.Value), valueOK
		default:
			if anyValue {
				return res.Value, valueOK
			}
			return nil, valueMismatch
		}
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func reasonFor(source engine.Source) openfeature.Reason {
	switch source {
	case engine.SourceDefaultValue:
		return openfeature.DefaultReason
	case engine.SourceForce:
		return openfeature.TargetingMatchReason
	case engine.SourceExperiment:
		return openfeature.SplitReason
	case engine.SourceOverride:
		return openfeature.StaticReason
	case engine.SourcePrerequisite:
		return openfeature.DisabledReason
	default:
		return openfeature.UnknownReason
	}
}

func variantFor(res engine.FeatureResult) string {
	if res.Source != engine.SourceExperiment || res.Experiment == nil {
		return ""
	}
	if res.Experiment.VariationKey != "" {
		return res.Experiment.VariationKey
	}
	return strconv.Itoa(res.Experiment.VariationID)
}

func flagMetadata(res engine.FeatureResult) openfeature.FlagMetadata {
	md := openfeature.FlagMetadata{"source": string(res.Source)}
	if res.RuleID != "" {
		md["ruleId"] = res.RuleID
	}
	if exp := res.Experiment; exp != nil {
		md["experimentKey"] = exp.Key
		md["variationId"] = int64(exp.VariationID)
		md["inExperiment"] = exp.InExperiment
	}
	return md
}
