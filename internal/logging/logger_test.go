package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
		},
		{
			name: "json format to stdout",
			config: Config{
				Level:  LevelDebug,
				Format: FormatJSON,
				Output: "stdout",
			},
		},
		{
			name: "discard",
			config: Config{
				Level:  LevelWarn,
				Output: "discard",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}

			if logger != nil {
				if err := logger.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}
		})
	}
}

func TestLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "hostpulse.log")

	logger, err := NewLogger(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: logFile,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("cycle complete", "health_score", 87)
	logger.Close()

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "cycle complete") {
		t.Errorf("Log file does not contain expected message: %s", content)
	}
}

func newBufferLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return &Logger{
		Logger: slog.New(handler),
		config: DefaultConfig(),
		writer: buf,
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer

	logger := newBufferLogger(&buf, slog.LevelInfo)
	logger.WithComponent("sampler").Info("sampled")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if entry["component"] != "sampler" {
		t.Errorf("Expected component 'sampler', got %v", entry["component"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer

	logger := newBufferLogger(&buf, slog.LevelInfo)
	logger.WithFields(map[string]interface{}{
		"pid":    123,
		"source": "auth_log",
	}).Info("scan")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if entry["pid"] != float64(123) {
		t.Errorf("Expected pid 123, got %v", entry["pid"])
	}

	if entry["source"] != "auth_log" {
		t.Errorf("Expected source 'auth_log', got %v", entry["source"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEventLogger_DrainsOnClose(t *testing.T) {
	var buf bytes.Buffer

	logger := newBufferLogger(&buf, slog.LevelDebug)
	eventLogger := NewEventLogger(logger)

	eventLogger.LogCycle(LevelInfo, "cycle complete", 12*time.Millisecond, map[string]interface{}{
		"health_score": 90,
	})
	eventLogger.LogSecurity(LevelWarn, "auth log unreadable", "auth_log", nil)
	eventLogger.LogConfig(LevelInfo, "config reloaded", "/etc/hostpulse/config.yaml", nil)
	eventLogger.LogDaemon(LevelInfo, "daemon started", "start", nil)
	eventLogger.LogError(errors.New("boom"), "cycle failed", nil)

	eventLogger.Close()
	eventLogger.Close()

	out := buf.String()
	for _, want := range []string{"cycle complete", "auth log unreadable", "config reloaded", "daemon started", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("event output missing %q:\n%s", want, out)
		}
	}
}

func TestEventLogger_AfterClose(t *testing.T) {
	var buf bytes.Buffer

	eventLogger := NewEventLogger(newBufferLogger(&buf, slog.LevelInfo))
	eventLogger.Close()

	eventLogger.LogDaemon(LevelInfo, "late event", "stop", nil)

	if !strings.Contains(buf.String(), "late event") {
		t.Error("events logged after Close should be written directly")
	}
}

func TestEventLogger_CloseWhileLogging(t *testing.T) {
	var buf bytes.Buffer
	eventLogger := NewEventLogger(newBufferLogger(&buf, slog.LevelInfo))

	const writers, perWriter = 8, 200
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				eventLogger.LogDaemon(LevelInfo, "tick", "loop", nil)
			}
		}()
	}

	close(start)
	eventLogger.Close()
	wg.Wait()

	if got := strings.Count(buf.String(), "\n"); got != writers*perWriter {
		t.Errorf("wrote %d events, want %d", got, writers*perWriter)
	}
}

func TestMetricsLogger(t *testing.T) {
	var buf bytes.Buffer

	metricsLogger := NewMetricsLogger(newBufferLogger(&buf, slog.LevelDebug))

	metricsLogger.LogCounter("cycles_total", 3, map[string]string{"result": "ok"})
	metricsLogger.LogGauge("health_score", 77, nil)
	metricsLogger.LogHistogram("cycle_duration_seconds", 0.25, nil)
	metricsLogger.LogGauge("query_seconds", 0.25, map[string]string{"source": "journal"})

	out := buf.String()
	for _, want := range []string{"cycles_total", "health_score", "cycle_duration_seconds", "label_source"} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Level != LevelInfo {
		t.Errorf("Expected level %v, got %v", LevelInfo, config.Level)
	}

	if config.Format != FormatText {
		t.Errorf("Expected format %v, got %v", FormatText, config.Format)
	}

	if config.Output != "stderr" {
		t.Errorf("Expected output 'stderr', got %v", config.Output)
	}
}
