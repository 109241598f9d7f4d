package gologger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromZerologWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf))

	logger.Warn("sync failed", "provider", "erp", "attempt", 2, "error", errors.New("timeout"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" || entry["message"] != "sync failed" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["provider"] != "erp" || entry["attempt"] != float64(2) || entry["error"] != "timeout" {
		t.Fatalf("expected key/value fields, got %v", entry)
	}
}

func TestZerologProviderTagsLoggerName(t *testing.T) {
	var buf bytes.Buffer
	provider := ZerologProvider(zerolog.New(&buf))

	provider.GetLogger("scheduler").Info("tick", "dangling")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["logger"] != "scheduler" || entry["extra"] != "dangling" {
		t.Fatalf("unexpected entry %v", entry)
	}
}
