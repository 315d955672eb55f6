package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"dooriq/internal/services"
)

func TestConsoleHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger = NewComponentLogger(logger, "pattern-engine")
	logger.Info("classified utterance", String("category", "objection"), Int("index", 3))

	line := buf.String()
	if !strings.Contains(line, "[pattern-engine]") {
		t.Fatalf("expected component tag in %q", line)
	}
	if !strings.Contains(line, "category=objection") || !strings.Contains(line, "index=3") {
		t.Fatalf("expected attrs in %q", line)
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))
	logger.Warn("note", String("text", "too expensive"))
	if !strings.Contains(buf.String(), `text="too expensive"`) {
		t.Fatalf("expected quoted value in %q", buf.String())
	}
}

func TestJSONHandlerRenamesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl))
	logger.Info("hello")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if _, ok := decoded["ts"]; !ok {
		t.Fatalf("expected ts key in %v", decoded)
	}
	if decoded["msg"] != "hello" {
		t.Fatalf("expected msg key in %v", decoded)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	ctx := services.WithSessionID(context.Background(), "sess-42")
	ctx = services.WithStage(ctx, "line_rating")
	WithContext(ctx, logger).Info("working")

	line := buf.String()
	if !strings.Contains(line, "session_id=sess-42") || !strings.Contains(line, "stage=line_rating") {
		t.Fatalf("expected context fields in %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
