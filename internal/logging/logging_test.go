package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRunID(WithComponent(NewLoggerTo(&buf, "info"), "session"), "run-1")
	logger.Info("chunk processed", "index", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "session" || entry["run_id"] != "run-1" {
		t.Errorf("missing attributes: %v", entry)
	}
	if entry["msg"] != "chunk processed" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNewLoggerTo_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %q", buf.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("SanitizeToken(long) = %q", got)
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://cdn.example/live.m3u8?token=secret", "https://cdn.example/live.m3u8?..."},
		{"/media/vod.mp4", "/media/vod.mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeURL(tt.in); got != tt.want {
			t.Errorf("SanitizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
