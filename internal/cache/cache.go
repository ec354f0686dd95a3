// Package cache stores remote evaluation payloads keyed by a fingerprint of the
// user context, so repeated evaluations for the same user do not hit the network.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
)

// ErrUnsupportedBackend is returned by New for an unknown backend kind.
var ErrUnsupportedBackend = errors.New("unsupported cache backend")

// Payload is the evaluated feature set for one user context.
type Payload struct {
	Features    map[string]engine.FeatureResult `json:"features"`
	DateUpdated time.Time                       `json:"dateUpdated,omitzero"`
	ETag        string                          `json:"etag"`
	FetchedAt   time.Time                       `json:"fetchedAt"`
}

// Cache defines payload storage. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the payload stored under key. A missing or expired entry
	// reports ok=false with a nil error.
	Get(ctx context.Context, key string) (p *Payload, ok bool, err error)

	// Set stores the payload for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, p *Payload, ttl time.Duration) error

	// Close releases any resources held by the cache.
	Close() error
}

// Backend kinds accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// New creates a cache for the given backend kind.
// Supported kinds: "memory", "redis", "none".
func New(ctx context.Context, kind, redisURL string, maxEntries int) (Cache, error) {
	switch kind {
	case BackendMemory, "":
		return NewMemory(maxEntries), nil
	case BackendRedis:
		return NewRedis(ctx, redisURL)
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Payload, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, *Payload, time.Duration) error { return nil }
func (Nop) Close() error                                               { return nil }
