package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
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
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
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

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(Config{
		Level:     "info",
		Format:    "json",
		Output:    path,
		MaxSizeMB: 1,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	if !bytes.Contains(data, []byte("to file")) {
		t.Errorf("Expected message in log file, got %q", data)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.
		WithVideoID("video-789").
		WithUserID("user-1").
		WithStage("burn").
		WithRequestID("req-123").
		WithFields(map[string]interface{}{"key1": "value1"}).
		Info("hello")

	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{
		"video_id":   "video-789",
		"user_id":    "user-1",
		"stage":      "burn",
		"request_id": "req-123",
		"key1":       "value1",
		"message":    "hello",
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%s, got %v", key, want, entry[key])
		}
	}
}

func TestLogStageEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogStageEvent("v1", "transcription", "failed", errors.New("provider down"))

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
	if entry["error"] != "provider down" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
	if entry["outcome"] != "failed" {
		t.Errorf("Expected outcome failed, got %v", entry["outcome"])
	}
}

func TestLogLedgerReservation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogLedgerReservation("u1", "v1", "20", "5", "0.50", 2)

	entry := decodeLine(t, &buf)
	if entry["billable_minutes"] != "5" || entry["cost"] != "0.50" {
		t.Errorf("Unexpected ledger entry: %v", entry)
	}
	if entry["attempts"] != float64(2) {
		t.Errorf("Expected attempts 2, got %v", entry["attempts"])
	}
}

func TestLogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogHTTPRequest("GET", "/api/v1/videos", "192.168.1.1", 503, 100*time.Millisecond)

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected 5xx to log at error, got %v", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.WarnLevel)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	Nop().Error("nothing")
}

func TestLogStorageOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.LogStorageOperation("upload", "captions", "users/u1/videos/v1/source.mp4", 40*time.Millisecond, nil)
	entry := decodeLine(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("Expected debug level, got %v", entry["level"])
	}
	if entry["key"] != "users/u1/videos/v1/source.mp4" || entry["bucket"] != "captions" {
		t.Errorf("Unexpected fields: %v", entry)
	}

	buf.Reset()
	logger.LogStorageOperation("delete_prefix", "captions", "users/u1/", time.Millisecond, errors.New("access denied"))
	entry = decodeLine(t, &buf)
	if entry["level"] != "error" || entry["error"] != "access denied" {
		t.Errorf("Expected error entry, got %v", entry)
	}
}

func TestLogDatabaseOperationHiddenAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogDatabaseOperation("apply_charge", time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Expected no output for a successful operation at info, got %s", buf.String())
	}

	logger.LogDatabaseOperation("apply_charge", time.Millisecond, errors.New("deadlock detected"))
	entry := decodeLine(t, &buf)
	if entry["operation"] != "apply_charge" || entry["level"] != "error" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := New(io.Discard, zerolog.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}
