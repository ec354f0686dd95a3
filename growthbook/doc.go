// Package growthbook provides an OpenFeature provider backed by GrowthBook
// remote evaluation.
//
// # Basic Usage
//
//	provider, err := growthbook.New(growthbook.Options{
//	    APIHost:   "https://cdn.growthbook.io",
//	    ClientKey: "sdk-abc123",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := openfeature.SetProviderAndWait(provider); err != nil {
//	    log.Fatal(err)
//	}
//
//	client := openfeature.NewClient("my-app")
//	evalCtx := openfeature.NewEvaluationContext("user-123", map[string]any{
//	    "country": "US",
//	})
//	enabled, _ := client.BooleanValue(context.Background(), "show-feature", false, evalCtx)
//
// The targeting key is sent to GrowthBook as the "id" attribute; every other
// attribute is forwarded unchanged.
//
// Evaluations never fail: on any error the caller's default is returned and
// the error is reported through the Reason and ErrorCode of the *ValueDetails
// methods. Targeting, rollouts and experiment assignment happen in GrowthBook,
// not in this package.
//
// # Offline use
//
// WithEngine replaces the remote client, for example with a fixtures file:
//
//	fixtures := engine.NewFileEngine("features.yaml", logger)
//	provider, _ := growthbook.New(growthbook.Options{}, growthbook.WithEngine(fixtures))
//
// # Concurrency
//
// The provider is safe for concurrent use. Shutdown waits for in-flight
// evaluations to complete.
package growthbook
