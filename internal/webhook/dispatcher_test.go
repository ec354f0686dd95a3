package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/rs/zerolog"
)

func TestFromProviderEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, ok := FromProviderEvent(openfeature.Event{
		ProviderName: "GrowthBook Provider",
		EventType:    openfeature.ProviderConfigChange,
		ProviderEventDetails: openfeature.ProviderEventDetails{
			Message:     "feature definitions changed",
			FlagChanges: []string{"a", "b"},
		},
	}, "prod", now)
	if !ok {
		t.Fatal("config change should be relayed")
	}
	if ev.Type != EventFlagsChanged || len(ev.Flags) != 2 || ev.Environment != "prod" || !ev.Timestamp.Equal(now) {
		t.Errorf("unexpected event: %+v", ev)
	}

	ev, ok = FromProviderEvent(openfeature.Event{
		EventType:            openfeature.ProviderError,
		ProviderEventDetails: openfeature.ProviderEventDetails{Message: "bad fixtures"},
	}, "", now)
	if !ok || ev.Type != EventProviderError || ev.Message != "bad fixtures" {
		t.Errorf("unexpected error event: %+v ok=%v", ev, ok)
	}

	if _, ok := FromProviderEvent(openfeature.Event{EventType: openfeature.ProviderReady}, "", now); ok {
		t.Error("ready events should not be relayed")
	}
}

func TestSignPayload(t *testing.T) {
	payload := []byte(`{"event":"flags.changed"}`)
	sig := signPayload("secret", "d-1", payload)

	if !strings.HasPrefix(sig, "sha256=") || len(strings.TrimPrefix(sig, "sha256=")) != 64 {
		t.Errorf("Expected sha256=<64 hex>, got %v", sig)
	}
	if again := signPayload("secret", "d-1", payload); again != sig {
		t.Errorf("signPayload() not deterministic: %v != %v", again, sig)
	}
	if signPayload("other", "d-1", payload) == sig {
		t.Error("signature must depend on the secret")
	}
	if signPayload("secret", "d-2", payload) == sig {
		t.Error("signature must depend on the delivery ID")
	}
	if signPayload("secret", "d-1", []byte(`{}`)) == sig {
		t.Error("signature must depend on the payload")
	}
}

func TestDispatcherDeliversSignedEvents(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
			return
		}
		want := signPayload("test-secret", r.Header.Get(HeaderDelivery), body)
		if !hmac.Equal([]byte(r.Header.Get(HeaderSignature)), []byte(want)) {
			t.Error("invalid signature")
		}
		if r.Header.Get(HeaderEvent) != EventFlagsChanged {
			t.Errorf("Expected %s header %s, got %s", HeaderEvent, EventFlagsChanged, r.Header.Get(HeaderEvent))
		}
		if r.Header.Get(HeaderDelivery) == "" {
			t.Errorf("Missing %s header", HeaderDelivery)
		}
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("Failed to unmarshal event: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URLs: []string{srv.URL}, Secret: "test-secret", Logger: zerolog.Nop()})
	d.Start()
	defer d.Close()

	d.Dispatch(Event{Type: EventFlagsChanged, Flags: []string{"checkout"}})

	select {
	case ev := <-received:
		if len(ev.Flags) != 1 || ev.Flags[0] != "checkout" {
			t.Errorf("unexpected flags: %v", ev.Flags)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook")
	}
}

func TestDispatcherRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{MaxRetries: 2, RetryBase: time.Millisecond, Logger: zerolog.Nop()})
	if !d.deliverWithRetry(context.Background(), srv.URL, Event{Type: EventFlagsChanged}) {
		t.Fatal("delivery should succeed on the third attempt")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	attempts.Store(-10)
	d = NewDispatcher(Config{MaxRetries: 1, RetryBase: time.Millisecond, Logger: zerolog.Nop()})
	if d.deliverWithRetry(context.Background(), srv.URL, Event{Type: EventFlagsChanged}) {
		t.Error("delivery should fail after exhausting retries")
	}
}

func TestRelayForwardsProviderEvents(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get(HeaderEvent)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URLs: []string{srv.URL}, Logger: zerolog.Nop()})
	d.Start()
	defer d.Close()

	events := make(chan openfeature.Event, 3)
	events <- openfeature.Event{EventType: openfeature.ProviderReady}
	events <- openfeature.Event{EventType: openfeature.ProviderConfigChange}
	close(events)

	done := make(chan struct{})
	go func() {
		d.Relay(context.Background(), events, "dev")
		close(done)
	}()

	select {
	case got := <-received:
		if got != EventFlagsChanged {
			t.Errorf("Expected %s, got %s", EventFlagsChanged, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
	<-done
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(Config{Logger: zerolog.Nop()})
	d.Start()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	d.Dispatch(Event{Type: EventFlagsChanged})
}
