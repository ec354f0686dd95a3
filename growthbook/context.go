package growthbook

import (
	"github.com/open-feature/go-sdk/openfeature"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
)

// idAttribute is the GrowthBook attribute that carries the targeting key.
const idAttribute = "id"

// userContext converts a flattened OpenFeature context into GrowthBook
// attributes. The targeting key becomes "id", replacing any "id" attribute.
func userContext(flatCtx openfeature.FlattenedContext) engine.UserContext {
	attrs := make(map[string]any, len(flatCtx))
	for k, v := range flatCtx {
		if k == openfeature.TargetingKey {
			continue
		}
		attrs[k] = v
	}
	if key, ok := flatCtx[openfeature.TargetingKey].(string); ok && key != "" {
		attrs[idAttribute] = key
	}
	return engine.UserContext{Attributes: attrs}
}
