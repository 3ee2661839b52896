package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Output: &buf})

	l.Info("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("want no output below configured level, got %q", buf.String())
	}

	l.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("want log line to contain message, got %q", buf.String())
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})
	scoped := l.WithComponent("dispatcher")

	scoped.Info("request accepted")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if got := entry.Fields["component"]; got != "dispatcher" {
		t.Errorf("want component field %q, got %q", "dispatcher", got)
	}
}

func TestFieldLoggerAccumulatesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})

	fl := l.WithField("slot", 3).WithField("block", 42)
	fl.Debug("cache hit")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry.Fields["slot"] != float64(3) || entry.Fields["block"] != float64(42) {
		t.Errorf("want both fields present, got %+v", entry.Fields)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
	}
	for input, want := range cases {
		got, err := ParseLogLevel(input)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseLogLevel("nonsense"); err == nil {
		t.Error("want error for invalid level, got nil")
	}
}
