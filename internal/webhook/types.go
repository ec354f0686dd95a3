package webhook

import (
	"time"

	"github.com/open-feature/go-sdk/openfeature"
)

// Event types that can trigger webhooks
const (
	EventFlagsChanged  = "flags.changed"
	EventProviderError = "provider.error"
)

// Event is the JSON body delivered to webhook endpoints.
type Event struct {
	Type        string    `json:"event"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment,omitempty"`
	Provider    string    `json:"provider"`
	Flags       []string  `json:"flags,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// FromProviderEvent converts a provider event. Only configuration changes
// and errors are relayed; ok is false for every other event type.
func FromProviderEvent(ev openfeature.Event, env string, now time.Time) (Event, bool) {
	out := Event{
		Timestamp:   now.UTC(),
		Environment: env,
		Provider:    ev.ProviderName,
		Message:     ev.Message,
	}
	switch ev.EventType {
	case openfeature.ProviderConfigChange:
		out.Type = EventFlagsChanged
		out.Flags = ev.FlagChanges
	case openfeature.ProviderError:
		out.Type = EventProviderError
	default:
		return Event{}, false
	}
	return out, true
}
