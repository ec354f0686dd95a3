package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, BackendMemory, "", 0)
	if err != nil {
		t.Fatalf("memory backend failed: %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Errorf("Expected *Memory, got %T", c)
	}

	c, err = New(ctx, BackendNone, "", 0)
	if err != nil {
		t.Fatalf("none backend failed: %v", err)
	}
	if _, ok := c.(Nop); !ok {
		t.Errorf("Expected Nop, got %T", c)
	}

	_, err = New(ctx, "memcached", "", 0)
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestNew_RedisInvalidURL(t *testing.T) {
	_, err := New(context.Background(), BackendRedis, "not a url", 0)
	if err == nil {
		t.Error("Expected error for invalid redis URL")
	}
}

func TestNop(t *testing.T) {
	var c Nop
	ctx := context.Background()
	_ = c.Set(ctx, "k", testPayload(1), time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Expected Nop cache to never hit")
	}
}

// TestRedis_RoundTrip runs against a real server when GROWTHBOOK_TEST_REDIS_URL is set.
func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("GROWTHBOOK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GROWTHBOOK_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	r, err := NewRedis(ctx, url)
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer r.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	if err := r.Set(ctx, key, testPayload("red"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	p, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if p.Features["flag"].Value != "red" {
		t.Errorf("Expected 'red', got %v", p.Features["flag"].Value)
	}

	if _, ok, _ := r.Get(ctx, key+":missing"); ok {
		t.Error("Expected miss for unknown key")
	}
}
