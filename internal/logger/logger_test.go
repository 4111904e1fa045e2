package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/h3serve/internal/config"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	lg := NewTestLogger(&buf)

	lg.Info("stream aborted", LogFields{"stream_id": 4, "error_code": "H3_MESSAGE_ERROR"})

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e["message"] != "stream aborted" {
		t.Errorf("message = %v", e["message"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v", e["level"])
	}
	if e["stream_id"] != float64(4) {
		t.Errorf("stream_id = %v", e["stream_id"])
	}
	if e["error_code"] != "H3_MESSAGE_ERROR" {
		t.Errorf("error_code = %v", e["error_code"])
	}
	if _, ok := e["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestLoggerNilFields(t *testing.T) {
	var buf bytes.Buffer
	lg := NewTestLogger(&buf)
	lg.Warn("no fields", nil)
	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 || entries[0]["level"] != "warn" {
		t.Errorf("entries = %v", entries)
	}
}

func TestNewLoggerNilConfig(t *testing.T) {
	if _, err := NewLogger(nil); err == nil {
		t.Fatal("expected an error for nil config")
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h3serve.log")
	lg, err := NewLogger(&config.LoggingConfig{LogLevel: config.LogLevelWarning, Target: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer lg.CloseLogFiles()

	lg.Debug("dropped", nil)
	lg.Info("dropped too", nil)
	lg.Warn("kept", nil)
	lg.Error("also kept", nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	entries := decodeLines(t, data)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2: %s", len(entries), data)
	}
	if entries[0]["message"] != "kept" || entries[1]["message"] != "also kept" {
		t.Errorf("entries = %v", entries)
	}
}

func TestReopenLogFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h3serve.log")
	lg, err := NewLogger(&config.LoggingConfig{LogLevel: config.LogLevelInfo, Target: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer lg.CloseLogFiles()

	lg.Info("before rotation", nil)
	rotated := path + ".1"
	if err := os.Rename(path, rotated); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := lg.ReopenLogFiles(); err != nil {
		t.Fatalf("ReopenLogFiles: %v", err)
	}
	lg.Info("after rotation", nil)

	newData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after rotation: %v", err)
	}
	entries := decodeLines(t, newData)
	if len(entries) != 1 || entries[0]["message"] != "after rotation" {
		t.Errorf("post-rotation entries = %v", entries)
	}
}

func TestReopenLogFilesStdTarget(t *testing.T) {
	lg, err := NewLogger(&config.LoggingConfig{LogLevel: config.LogLevelInfo, Target: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if err := lg.ReopenLogFiles(); err != nil {
		t.Errorf("ReopenLogFiles on stderr: %v", err)
	}
}
