package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds the logger configuration
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"` // "stdout", "stderr", "discard" or file path
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns Info level, text format on stderr. Stdout is left to
// commands that print snapshots.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stderr",
		AddSource: false,
	}
}

// ParseLevel maps a level name to a slog.Level, falling back to Info.
func ParseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger wraps slog.Logger with component scoping and an owned writer.
type Logger struct {
	*slog.Logger
	config Config
	writer io.Writer
}

// openOutput resolves the output setting to a writer. Anything other than the
// well-known names is a file path, opened for append.
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func rfc3339Time(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
	}
	return a
}

// NewLogger builds a Logger from config.
func NewLogger(config Config) (*Logger, error) {
	w, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: rfc3339Time,
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if config.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h), config: config, writer: w}, nil
}

// NewNopLogger returns a logger that drops every record.
func NewNopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
		config: Config{Level: LevelError, Format: FormatText, Output: "discard"},
		writer: io.Discard,
	}
}

func (l *Logger) Config() Config {
	return l.config
}

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, writer: l.writer}
}

// WithComponent tags every record with component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive("component", component)
}

// WithFields attaches fields in sorted key order.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(sortedArgs(fields)...)
}

// Close closes the writer if the logger opened a file.
func (l *Logger) Close() error {
	if f, ok := l.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

func sortedArgs(fields map[string]interface{}) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// event is one queued domain record.
type event struct {
	level     slog.Level
	component string
	message   string
	args      []any
}

// EventLogger writes domain events (refresh cycles, auth source changes,
// config reloads, daemon lifecycle) from a background goroutine so a slow
// sink never stalls a refresh cycle. Events logged after Close are written
// synchronously.
type EventLogger struct {
	logger *Logger
	queue  chan event
	done   chan struct{}
	wg     sync.WaitGroup

	// mu orders enqueues against Close: senders hold it shared, Close
	// exclusively, so nothing is queued after drain has exited.
	mu     sync.RWMutex
	closed bool
}

func NewEventLogger(logger *Logger) *EventLogger {
	el := &EventLogger{
		logger: logger,
		queue:  make(chan event, 256),
		done:   make(chan struct{}),
	}

	el.wg.Add(1)
	go el.drain()
	return el
}

// LogCycle records a refresh cycle and its duration.
func (el *EventLogger) LogCycle(level LogLevel, message string, duration time.Duration, fields map[string]interface{}) {
	el.emit(level, "refresh", message, fields, "duration", duration.String())
}

// LogSecurity records a failed-login or shell-history finding from source.
func (el *EventLogger) LogSecurity(level LogLevel, message string, source string, fields map[string]interface{}) {
	el.emit(level, "security", message, fields, "source", source)
}

func (el *EventLogger) LogConfig(level LogLevel, message string, configPath string, fields map[string]interface{}) {
	el.emit(level, "config", message, fields, "config_path", configPath)
}

func (el *EventLogger) LogDaemon(level LogLevel, message string, action string, fields map[string]interface{}) {
	el.emit(level, "daemon", message, fields, "action", action)
}

// LogError records err at error level along with the caller's file and line.
func (el *EventLogger) LogError(err error, message string, fields map[string]interface{}) {
	extra := []any{}
	if _, file, line, ok := runtime.Caller(1); ok {
		extra = append(extra, "caller_file", filepath.Base(file), "caller_line", line)
	}
	if err != nil {
		extra = append(extra, "error", err.Error())
	}
	el.emit(LevelError, "error", message, fields, extra...)
}

func (el *EventLogger) emit(level LogLevel, component, message string, fields map[string]interface{}, extra ...any) {
	e := event{
		level:     ParseLevel(level),
		component: component,
		message:   message,
		args:      append(sortedArgs(fields), extra...),
	}

	el.mu.RLock()
	defer el.mu.RUnlock()

	if el.closed {
		el.write(e)
		return
	}

	select {
	case el.queue <- e:
	default:
		el.write(e)
	}
}

func (el *EventLogger) write(e event) {
	el.logger.WithComponent(e.component).Log(context.Background(), e.level, e.message, e.args...)
}

func (el *EventLogger) drain() {
	defer el.wg.Done()

	for {
		select {
		case e := <-el.queue:
			el.write(e)
		case <-el.done:
			for len(el.queue) > 0 {
				el.write(<-el.queue)
			}
			return
		}
	}
}

// Close flushes queued events and stops the writer goroutine. Safe to call
// twice.
func (el *EventLogger) Close() {
	el.mu.Lock()
	if !el.closed {
		el.closed = true
		close(el.done)
	}
	el.mu.Unlock()

	el.wg.Wait()
}

// MetricsLogger writes collector flushes at debug level.
type MetricsLogger struct {
	logger *Logger
}

func NewMetricsLogger(logger *Logger) *MetricsLogger {
	return &MetricsLogger{logger: logger.WithComponent("metrics")}
}

func (ml *MetricsLogger) LogCounter(name string, value int64, labels map[string]string) {
	ml.log("counter", name, value, labels)
}

func (ml *MetricsLogger) LogGauge(name string, value float64, labels map[string]string) {
	ml.log("gauge", name, value, labels)
}

func (ml *MetricsLogger) LogHistogram(name string, value float64, labels map[string]string) {
	ml.log("histogram", name, value, labels)
}

func (ml *MetricsLogger) log(kind, name string, value any, labels map[string]string) {
	args := []any{"metric_type", kind, "metric_name", name, "value", value}
	for _, k := range sortedKeys(labels) {
		args = append(args, "label_"+k, labels[k])
	}
	ml.logger.Debug(kind+" metric", args...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
