package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug().Str("component", "test").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "hello" || line["component"] != "test" || line["level"] != "debug" {
		t.Errorf("Unexpected log line: %v", line)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "", "console")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info().Msg("readable")
	if !strings.Contains(buf.String(), "readable") {
		t.Errorf("Expected console output to contain message, got %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(nil, "loud", "json"); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, err := New(nil, "info", "xml"); err == nil {
		t.Error("Expected error for invalid format")
	}
}
