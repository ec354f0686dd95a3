package cache

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a deterministic key for a client key and user attributes.
// Attribute maps with the same content always produce the same fingerprint,
// regardless of insertion order.
func Fingerprint(clientKey string, attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	// encoding/json sorts map keys, which makes the encoding canonical
	blob, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}

	d := xxhash.New()
	_, _ = d.WriteString(clientKey)
	_, _ = d.WriteString(":")
	_, _ = d.Write(blob)
	return clientKey + ":" + strconv.FormatUint(d.Sum64(), 16), nil
}
