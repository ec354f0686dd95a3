// Package webhook relays provider change notifications to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/rs/zerolog"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of the response body we log (1KB)
	maxResponseBodySize = 1024

	// Delivery headers
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// Config configures a Dispatcher.
type Config struct {
	URLs       []string
	Secret     string        // HMAC key; deliveries are unsigned when empty
	MaxRetries int           // additional attempts after the first
	Timeout    time.Duration // per attempt
	RetryBase  time.Duration // backoff is RetryBase * 2^attempt
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Dispatcher delivers events to every configured URL with retries.
type Dispatcher struct {
	urls       []string
	secret     string
	maxRetries int
	timeout    time.Duration
	retryBase  time.Duration
	client     *http.Client
	logger     zerolog.Logger

	// mu guards closed against concurrent Dispatch and Close.
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		urls:       cfg.URLs,
		secret:     cfg.Secret,
		maxRetries: max(cfg.MaxRetries, 0),
		timeout:    timeout,
		retryBase:  retryBase,
		client:     client,
		logger:     cfg.Logger.With().Str("component", "webhook").Logger(),
		queue:      make(chan Event, queueSize),
		done:       make(chan struct{}),
	}
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close stops accepting events and waits for queued deliveries to finish.
// Close is safe to call multiple times.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return nil
}

// Dispatch queues an event for delivery without blocking. Events are
// dropped when the queue is full.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
		d.logger.Debug().Str("event", event.Type).Int("queue_size", len(d.queue)).Msg("event queued")
	default:
		d.logger.Error().Str("event", event.Type).Int("queue_size", queueSize).Msg("queue full, dropping event")
	}
}

// Relay reads provider events until ctx is done or events is closed and
// dispatches the ones that map to webhook events.
func (d *Dispatcher) Relay(ctx context.Context, events <-chan openfeature.Event, env string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			out, relay := FromProviderEvent(ev, env, time.Now())
			if !relay {
				continue
			}
			d.logger.Info().Str("event", out.Type).Strs("flags", out.Flags).Str("message", out.Message).Msg("provider event")
			if len(d.urls) > 0 {
				d.Dispatch(out)
			}
		}
	}
}

// worker processes events from the queue
func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		for _, url := range d.urls {
			d.deliverWithRetry(context.Background(), url, event)
		}
	}
}

// deliverWithRetry attempts to deliver an event to url, backing off
// exponentially between attempts. It reports whether delivery succeeded.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, url string, event Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event payload")
		return false
	}

	deliveryID := uuid.New().String()
	log := d.logger.With().Str("url", url).Str("event", event.Type).Str("delivery", deliveryID).Logger()

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		start := time.Now()
		statusCode, body, err := d.deliver(ctx, url, event.Type, deliveryID, payload)
		duration := time.Since(start)

		if err == nil && statusCode >= 200 && statusCode < 300 {
			log.Debug().Int("status", statusCode).Dur("duration", duration).Int("attempt", attempt+1).Msg("delivery succeeded")
			return true
		}

		entry := log.Warn().Err(err).Int("status", statusCode).Str("response", body).Int("attempt", attempt+1)
		if attempt < d.maxRetries {
			backoff := d.retryBase << attempt
			entry.Dur("retry_in", backoff).Msg("delivery failed")
			time.Sleep(backoff)
		} else {
			entry.Msg("delivery failed permanently")
		}
	}
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, url, eventType, deliveryID string, payload []byte) (int, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, deliveryID)
	if d.secret != "" {
		req.Header.Set(HeaderSignature, signPayload(d.secret, deliveryID, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	return resp.StatusCode, string(bodyBytes), nil
}

// signPayload returns "sha256=" and the hex HMAC of "<deliveryID>.<payload>".
// Binding the delivery ID lets receivers reject replayed deliveries.
func signPayload(secret, deliveryID string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(deliveryID))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
