package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/studio.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestLoggerWithJobID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.WithJobID("job-456").WithUserID("user-1").Info("tracking job")

	entry := decodeLine(t, &buf)
	if entry["job_id"] != "job-456" {
		t.Errorf("Expected job_id job-456, got %v", entry["job_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id user-1, got %v", entry["user_id"])
	}
	if entry["message"] != "tracking job" {
		t.Errorf("Unexpected message %v", entry["message"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.WarnLevel)

	logger.Info("dropped")
	logger.Debug("dropped too")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below warn level, got %q", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("Expected warn message to be written")
	}
}

func TestLogJobEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogJobEvent("job-123", "job.progress", "processing", map[string]interface{}{
		"attempts": 2,
	})

	entry := decodeLine(t, &buf)
	if entry["event"] != "job.progress" {
		t.Errorf("Expected event job.progress, got %v", entry["event"])
	}
	if entry["attempts"] != float64(2) {
		t.Errorf("Expected attempts 2, got %v", entry["attempts"])
	}
}

func TestLogPlaybackTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogPlaybackTransition(7, "native", "blob", "media_error")

	entry := decodeLine(t, &buf)
	if entry["video_id"] != float64(7) || entry["to"] != "blob" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestLogBackendCallLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogBackendCall("GET", "/videos/1", 200, 10*time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Error("Successful backend calls should log at debug level")
	}

	logger.LogBackendCall("GET", "/videos/1", 0, 10*time.Millisecond, errors.New("connection refused"))
	entry := decodeLine(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("Expected warn level, got %v", entry["level"])
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Info("nothing")
	logger.WithJobID("x").ErrorWithErr("nothing", errors.New("boom"))
	// Should not panic
}

func TestNewLoggerStdout(t *testing.T) {
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: "stdout"})
	if err != nil {
		t.Errorf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Error("Expected non-nil logger")
	}
}

func BenchmarkLogInfo(b *testing.B) {
	logger := New(&bytes.Buffer{}, zerolog.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}
