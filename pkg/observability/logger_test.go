package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Info("hello")

	entry := parseLogLine(t, &buf)
	if entry["msg"] != "hello" {
		t.Errorf("Expected msg %q, got %v", "hello", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info message to be filtered, got %q", buf.String())
	}

	logger.Warn("should pass")
	if buf.Len() == 0 {
		t.Error("Expected warn message to be logged")
	}
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("passport_id", "ap_0123456789ab").Info("stored")

	entry := parseLogLine(t, &buf)
	if entry["passport_id"] != "ap_0123456789ab" {
		t.Errorf("Expected passport_id field, got %v", entry["passport_id"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"service": "github.com",
		"method":  "fallback_login",
	}).Info("authenticated")

	entry := parseLogLine(t, &buf)
	if entry["service"] != "github.com" {
		t.Errorf("Expected service field, got %v", entry["service"])
	}
	if entry["method"] != "fallback_login" {
		t.Errorf("Expected method field, got %v", entry["method"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("failed")

	entry := parseLogLine(t, &buf)
	if entry["error"] != "boom" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}

	// nil error is a no-op
	if got := logger.WithError(nil); got != logger {
		t.Error("Expected WithError(nil) to return the same logger")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID for fresh context")
	}
	if GetPassportID(ctx) != "" {
		t.Error("Expected empty passport ID for fresh context")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPassportID(ctx, "ap_0123456789ab")

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("Expected request ID req-123, got %q", GetRequestID(ctx))
	}
	if GetPassportID(ctx) != "ap_0123456789ab" {
		t.Errorf("Expected passport ID ap_0123456789ab, got %q", GetPassportID(ctx))
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithPassportID(ctx, "ap_00000000abcd")

	FromContext(ctx).Info("annotated")

	entry := parseLogLine(t, &buf)
	if entry["request_id"] != "req-456" {
		t.Errorf("Expected request_id field, got %v", entry["request_id"])
	}
	if entry["passport_id"] != "ap_00000000abcd" {
		t.Errorf("Expected passport_id field, got %v", entry["passport_id"])
	}
}
