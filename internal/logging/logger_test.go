package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"", INFO},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.in, got, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN, true)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Expected debug/info to be filtered at WARN, got %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Expected warn and error to be logged, got %q", out)
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, true).WithField("launch_id", "abc")

	logger.Info("started", map[string]interface{}{"pid": 42})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "started" {
		t.Errorf("Expected message 'started', got %v", entry["message"])
	}
	if entry["launch_id"] != "abc" {
		t.Errorf("Expected launch_id 'abc', got %v", entry["launch_id"])
	}
	if entry["pid"] != float64(42) {
		t.Errorf("Expected pid 42, got %v", entry["pid"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, INFO, false).Info("hello", map[string]interface{}{"k": "v"})

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "k=v") {
		t.Errorf("Unexpected console output %q", out)
	}
}

func TestIsWritable(t *testing.T) {
	dir := t.TempDir()
	if !IsWritable(dir) {
		t.Errorf("Expected %s to be writable", dir)
	}
	if IsWritable("/proc/self/does-not-exist") {
		t.Error("Expected /proc path to be unwritable")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on discard logger: %v", err)
	}
}
