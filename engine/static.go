package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
)

// Static is an in-memory engine answering from a fixed feature table.
// It performs no targeting: every user receives the same result for a key.
// It is useful for tests, local development and offline fallbacks.
type Static struct {
	mu       sync.RWMutex
	features map[string]FeatureResult
}

// NewStatic creates a static engine seeded with the given features.
func NewStatic(features map[string]FeatureResult) *Static {
	s := &Static{features: make(map[string]FeatureResult, len(features))}
	for k, v := range features {
		s.features[k] = v
	}
	return s
}

// EvalFeature returns the stored result, or an unknownFeature result.
func (s *Static) EvalFeature(ctx context.Context, key string, _ UserContext) (FeatureResult, error) {
	if err := ctx.Err(); err != nil {
		return FeatureResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.features[key]
	if !ok {
		return UnknownFeature(), nil
	}
	return res, nil
}

// Set stores the result for key, replacing any previous one.
func (s *Static) Set(key string, res FeatureResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[key] = res
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Static) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.features, key)
}

// Replace swaps the whole table and returns the keys that were added, removed
// or modified, sorted.
func (s *Static) Replace(features map[string]FeatureResult) []string {
	next := make(map[string]FeatureResult, len(features))
	for k, v := range features {
		next[k] = v
	}

	s.mu.Lock()
	prev := s.features
	s.features = next
	s.mu.Unlock()

	return diffKeys(prev, next)
}

// Keys returns the known feature keys, sorted.
func (s *Static) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.features))
	for k := range s.features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the current table.
func (s *Static) Snapshot() map[string]FeatureResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]FeatureResult, len(s.features))
	for k, v := range s.features {
		out[k] = v
	}
	return out
}

// ETag returns a weak entity tag over the canonical JSON of a feature table.
// Equal tables always produce equal tags.
func ETag(features map[string]FeatureResult) string {
	blob, _ := json.Marshal(features) // map keys are sorted by encoding/json
	sum := sha256.Sum256(blob)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

func diffKeys(prev, next map[string]FeatureResult) []string {
	var changed []string
	for k, v := range next {
		old, ok := prev[k]
		if !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
