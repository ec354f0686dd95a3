package ofrep

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/growthbook"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/telemetry"
)

func newTestProvider(t *testing.T, ready bool) *growthbook.Provider {
	t.Helper()
	exp := engine.NewFeatureResult("green", engine.SourceExperiment)
	exp.Experiment = &engine.ExperimentResult{Key: "button-test", VariationID: 1, VariationKey: "treatment", InExperiment: true}

	p, err := growthbook.New(growthbook.Options{}, growthbook.WithEngine(engine.NewStatic(map[string]engine.FeatureResult{
		"new-checkout": engine.NewFeatureResult(true, engine.SourceForce),
		"button-color": exp,
		"cyclic":       engine.NewFeatureResult(nil, engine.SourceCyclicPrerequisite),
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ready {
		if err := p.Init(openfeature.EvaluationContext{}); err != nil {
			t.Fatalf("Init: %v", err)
		}
		t.Cleanup(p.Shutdown)
	}
	return p
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestHealthAndReady(t *testing.T) {
	notReady := NewServer(Config{Provider: newTestProvider(t, false), Gatherer: prometheus.NewRegistry()}).Router()

	rr := do(t, notReady, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz: got %d %q", rr.Code, rr.Body.String())
	}

	rr = do(t, notReady, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before init: expected 503, got %d", rr.Code)
	}

	ready := NewServer(Config{Provider: newTestProvider(t, true), Gatherer: prometheus.NewRegistry()}).Router()
	rr = do(t, ready, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("readyz after init: expected 200, got %d", rr.Code)
	}
}

func TestEvaluateSuccess(t *testing.T) {
	h := NewServer(Config{Provider: newTestProvider(t, true)}).Router()

	rr := do(t, h, http.MethodPost, "/ofrep/v1/evaluate/flags/button-color",
		`{"context":{"targetingKey":"user-1","country":"US"}}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["key"] != "button-color" || body["value"] != "green" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["reason"] != string(openfeature.SplitReason) {
		t.Errorf("Expected reason SPLIT, got %v", body["reason"])
	}
	if body["variant"] != "treatment" {
		t.Errorf("Expected variant treatment, got %v", body["variant"])
	}
	md, _ := body["metadata"].(map[string]any)
	if md["experimentKey"] != "button-test" {
		t.Errorf("Expected experimentKey in metadata, got %v", md)
	}
}

func TestEvaluateWithoutBody(t *testing.T) {
	h := NewServer(Config{Provider: newTestProvider(t, true)}).Router()

	rr := do(t, h, http.MethodPost, "/ofrep/v1/evaluate/flags/new-checkout", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if body := decode(t, rr); body["value"] != true {
		t.Errorf("Expected value true, got %v", body["value"])
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		path     string
		body     string
		status   int
		errorCod string
	}{
		{"unknown flag", true, "/ofrep/v1/evaluate/flags/missing", `{"context":{}}`, http.StatusNotFound, "FLAG_NOT_FOUND"},
		{"invalid json", true, "/ofrep/v1/evaluate/flags/new-checkout", `{"context":`, http.StatusBadRequest, "INVALID_CONTEXT"},
		{"context not an object", true, "/ofrep/v1/evaluate/flags/new-checkout", `{"context":[1]}`, http.StatusBadRequest, "INVALID_CONTEXT"},
		{"general error", true, "/ofrep/v1/evaluate/flags/cyclic", `{"context":{}}`, http.StatusInternalServerError, "GENERAL"},
		{"not ready", false, "/ofrep/v1/evaluate/flags/new-checkout", `{"context":{}}`, http.StatusServiceUnavailable, "PROVIDER_NOT_READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(Config{Provider: newTestProvider(t, tt.ready)}).Router()
			rr := do(t, h, http.MethodPost, tt.path, tt.body, nil)
			if rr.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if body := decode(t, rr); body["errorCode"] != tt.errorCod {
				t.Errorf("Expected errorCode %s, got %v", tt.errorCod, body["errorCode"])
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	h := NewServer(Config{Provider: newTestProvider(t, true), APIKey: "secret"}).Router()
	path := "/ofrep/v1/evaluate/flags/new-checkout"

	if rr := do(t, h, http.MethodPost, path, `{}`, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rr.Code)
	}

	rr := do(t, h, http.MethodPost, path, `{}`, map[string]string{"Authorization": "Bearer wrong"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("wrong token: expected 403, got %d", rr.Code)
	}
	if body := decode(t, rr); body["code"] != string(ErrCodeForbidden) {
		t.Errorf("Expected code FORBIDDEN, got %v", body["code"])
	}

	for _, header := range []string{"Bearersecret", "Basic secret", "secret", "Bearer "} {
		if rr := do(t, h, http.MethodPost, path, `{}`, map[string]string{"Authorization": header}); rr.Code != http.StatusUnauthorized {
			t.Errorf("%q: expected 401, got %d", header, rr.Code)
		}
	}

	if rr := do(t, h, http.MethodPost, path, `{}`, map[string]string{"Authorization": "Bearer secret"}); rr.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rr.Code)
	}

	// health stays public
	if rr := do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rr.Code)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	h := NewServer(Config{Provider: newTestProvider(t, true), RateLimitPerIP: 2}).Router()
	path := "/ofrep/v1/evaluate/flags/new-checkout"

	for i := 0; i < 2; i++ {
		if rr := do(t, h, http.MethodPost, path, `{}`, nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := do(t, h, http.MethodPost, path, `{}`, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rr.Code)
	}
	if body := decode(t, rr); body["code"] != string(ErrCodeRateLimited) {
		t.Errorf("Expected code RATE_LIMITED, got %v", body["code"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewServer(Config{
		Provider: newTestProvider(t, true),
		Gatherer: reg,
		Metrics:  telemetry.New(reg),
	}).Router()

	do(t, h, http.MethodPost, "/ofrep/v1/evaluate/flags/new-checkout", `{}`, nil)

	rr := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `http_requests_total{method="POST",route="/ofrep/v1/evaluate/flags/{key}"`) {
		t.Errorf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}
