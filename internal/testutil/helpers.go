// Package testutil provides a fake GrowthBook remote evaluation server for tests.
package testutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Feature is one feature as the remote evaluation endpoint sends it: the
// evaluated value in defaultValue, plus at most one rule describing why.
type Feature struct {
	DefaultValue any    `json:"defaultValue"`
	Rules        []Rule `json:"rules,omitempty"`
}

// Rule is a resolved feature rule.
type Rule struct {
	ID         string  `json:"id,omitempty"`
	Force      any     `json:"force,omitempty"`
	Variations []any   `json:"variations,omitempty"`
	Tracks     []Track `json:"tracks,omitempty"`
}

// Track is an experiment exposure attached to a rule.
type Track struct {
	Experiment TrackedExperiment `json:"experiment"`
	Result     TrackedResult     `json:"result"`
}

type TrackedExperiment struct {
	Key string `json:"key"`
}

type TrackedResult struct {
	VariationID  int    `json:"variationId"`
	Key          string `json:"key,omitempty"`
	Value        any    `json:"value"`
	InExperiment bool   `json:"inExperiment"`
	HashUsed     bool   `json:"hashUsed,omitempty"`
}

// Default serves value with no rule applied.
func Default(value any) Feature {
	return Feature{DefaultValue: value}
}

// Forced serves value as the result of force rule ruleID.
func Forced(ruleID string, value any) Feature {
	return Feature{
		DefaultValue: value,
		Rules:        []Rule{{ID: ruleID, Force: value}},
	}
}

// Experiment serves value as variation variationID of experiment key.
func Experiment(key string, variationID int, variationKey string, value any) Feature {
	return Feature{
		DefaultValue: value,
		Rules: []Rule{{
			ID:    "exp-" + key,
			Force: value,
			Tracks: []Track{{
				Experiment: TrackedExperiment{Key: key},
				Result: TrackedResult{
					VariationID:  variationID,
					Key:          variationKey,
					Value:        value,
					InExperiment: true,
					HashUsed:     true,
				},
			}},
		}},
	}
}

// FeatureFunc computes a feature from the request attributes.
type FeatureFunc func(attrs map[string]any) Feature

// RecordedRequest is one request received by the fake server.
type RecordedRequest struct {
	ClientKey  string
	Attributes map[string]any
}

// RemoteEval is a fake remote evaluation endpoint backed by httptest.
type RemoteEval struct {
	Server *httptest.Server

	clientKey string

	mu          sync.Mutex
	features    map[string]FeatureFunc
	requests    []RecordedRequest
	status      int
	encryptKey  string
	dateUpdated time.Time
	delay       time.Duration
}

// NewRemoteEval starts a fake server answering for clientKey. The server is
// closed when the test ends.
func NewRemoteEval(t *testing.T, clientKey string) *RemoteEval {
	t.Helper()
	r := &RemoteEval{
		clientKey: clientKey,
		features:  make(map[string]FeatureFunc),
		status:    http.StatusOK,
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Server.Close)
	return r
}

// URL returns the API host to configure clients with.
func (r *RemoteEval) URL() string { return r.Server.URL }

// SetFeature serves a fixed feature for every user.
func (r *RemoteEval) SetFeature(key string, f Feature) {
	r.SetFeatureFunc(key, func(map[string]any) Feature { return f })
}

// SetFeatureFunc serves a feature computed from the request attributes.
func (r *RemoteEval) SetFeatureFunc(key string, fn FeatureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[key] = fn
}

// SetStatus forces every response to use code. Non-2xx codes send an error body.
func (r *RemoteEval) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

// SetEncryptionKey makes the server send encryptedFeatures encrypted with key.
func (r *RemoteEval) SetEncryptionKey(keyB64 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encryptKey = keyB64
}

// SetDateUpdated sets the revision timestamp sent with every payload.
func (r *RemoteEval) SetDateUpdated(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dateUpdated = t
}

// SetDelay delays every response.
func (r *RemoteEval) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Requests returns a copy of the recorded requests.
func (r *RemoteEval) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedRequest(nil), r.requests...)
}

// RequestCount returns the number of requests received.
func (r *RemoteEval) RequestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *RemoteEval) serve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost || !strings.HasPrefix(req.URL.Path, "/api/eval/") {
		http.NotFound(w, req)
		return
	}
	clientKey := strings.TrimPrefix(req.URL.Path, "/api/eval/")

	var body struct {
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	r.requests = append(r.requests, RecordedRequest{ClientKey: clientKey, Attributes: body.Attributes})
	status, delay, encryptKey, dateUpdated := r.status, r.delay, r.encryptKey, r.dateUpdated
	funcs := make(map[string]FeatureFunc, len(r.features))
	for k, fn := range r.features {
		funcs[k] = fn
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}
	if r.clientKey != "" && clientKey != r.clientKey {
		http.Error(w, "unknown client key", http.StatusNotFound)
		return
	}
	if status != http.StatusOK {
		http.Error(w, "forced failure", status)
		return
	}

	features := make(map[string]Feature, len(funcs))
	for k, fn := range funcs {
		features[k] = fn(body.Attributes)
	}

	resp := map[string]any{}
	if !dateUpdated.IsZero() {
		resp["dateUpdated"] = dateUpdated.UTC().Format(time.RFC3339)
	}
	if encryptKey != "" {
		plain, _ := json.Marshal(features)
		enc, err := Encrypt(plain, encryptKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["features"] = map[string]Feature{}
		resp["encryptedFeatures"] = enc
	} else {
		resp["features"] = features
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// NewKey returns a random base64 AES-128 key.
func NewKey() string {
	key := make([]byte, 16)
	_, _ = rand.Read(key)
	return base64.StdEncoding.EncodeToString(key)
}

// Encrypt produces a "<b64 iv>.<b64 ciphertext>" payload with AES-CBC and PKCS#7.
func Encrypt(plain []byte, keyB64 string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), make([]byte, n)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(n)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(iv) + "." + base64.StdEncoding.EncodeToString(out), nil
}
