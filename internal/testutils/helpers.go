package testutils

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timfallmk/hostpulse/internal/config"
	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/query"
)

// CreateTempConfig creates a temporary configuration file for testing
func CreateTempConfig(t *testing.T, configData string) string {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "test_config.yaml")
	if err := os.WriteFile(configFile, []byte(configData), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	return configFile
}

// TestHost holds the files a test configuration points at.
type TestHost struct {
	Dir         string
	AuthLog     string
	HistoryFile string
}

// CreateTestHost writes an auth log and a shell history into a temp dir.
func CreateTestHost(t *testing.T, authLog, shellHistory string) TestHost {
	t.Helper()

	dir := t.TempDir()
	h := TestHost{
		Dir:         dir,
		AuthLog:     filepath.Join(dir, "auth.log"),
		HistoryFile: filepath.Join(dir, ".bash_history"),
	}

	if err := os.WriteFile(h.AuthLog, []byte(authLog), 0644); err != nil {
		t.Fatalf("Failed to write auth log: %v", err)
	}
	if err := os.WriteFile(h.HistoryFile, []byte(shellHistory), 0644); err != nil {
		t.Fatalf("Failed to write history: %v", err)
	}

	return h
}

// CreateTestConfig creates a test configuration with reasonable defaults
func CreateTestConfig(h TestHost) *config.Config {
	cfg := config.DefaultConfig()

	// Set test-friendly values
	cfg.Sampling.Interval = 100 * time.Millisecond
	cfg.Sampling.HistorySize = 10
	cfg.Sampling.DiskPath = os.TempDir()
	cfg.Sampling.HostLookupTimeout = 50 * time.Millisecond
	cfg.Security.AuthLogPaths = []string{h.AuthLog}
	cfg.Security.QueryTimeout = time.Second
	cfg.Shell.HistoryPaths = []string{h.HistoryFile}
	cfg.Advice.Seed = 1
	cfg.Observability.MetricsFlushInterval = 0
	cfg.Observability.HealthCheckInterval = 50 * time.Millisecond
	cfg.Observability.MaxSnapshotAge = 0
	cfg.Observability.MinFreeDiskBytes = 0
	cfg.Observability.MaxHeapBytes = 0
	cfg.Daemon.Name = "hostpulse-test"
	cfg.Daemon.PidFile = filepath.Join(h.Dir, "hostpulse.pid")
	cfg.Daemon.WatchConfig = false
	cfg.Logging.Output = "discard"

	return cfg
}

// CreateTestConfigYAML returns a test configuration in YAML format
func CreateTestConfigYAML(h TestHost) string {
	r := strings.NewReplacer("AUTH_LOG", h.AuthLog, "HISTORY", h.HistoryFile, "DIR", h.Dir)
	return r.Replace(`
sampling:
  interval: 100ms
  history_size: 10
  disk_path: "DIR"
  host_lookup_timeout: 50ms

security:
  auth_log_paths: ["AUTH_LOG"]
  marker: "Failed password"
  query_timeout: 1s

shell:
  history_paths: ["HISTORY"]
  window: 80
  top_commands: 3

thresholds:
  warning: 50
  critical: 80

advice:
  seed: 1

observability:
  metrics_flush_interval: 0s
  health_check_interval: 50ms

daemon:
  name: "hostpulse-test"
  description: "Test Daemon"
  pid_file: "DIR/hostpulse.pid"
  watch_config: false

logging:
  level: "debug"
  format: "text"
  output: "discard"
`)
}

// CountRunner is a query.Runner that answers every query with a fixed count
// and records the commands it saw.
type CountRunner struct {
	mu       sync.Mutex
	Count    string
	ExitCode int
	Err      error
	commands []query.Command
}

// NewCountRunner answers with count and exit status 0.
func NewCountRunner(count string) *CountRunner {
	return &CountRunner{Count: count}
}

func (r *CountRunner) Run(_ context.Context, cmd query.Command) (query.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands = append(r.commands, cmd)
	if r.Err != nil {
		return query.Result{ExitCode: -1}, r.Err
	}
	return query.Result{ExitCode: r.ExitCode, Stdout: r.Count + "\n"}, nil
}

// Commands returns the queries run so far.
func (r *CountRunner) Commands() []query.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]query.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// NopLogger returns a logger that discards everything.
func NopLogger() *logging.Logger {
	return logging.NewNopLogger()
}

// AssertFloatEqual asserts that actual is within tolerance of expected.
func AssertFloatEqual(t *testing.T, actual, expected, tolerance float64, msg string) {
	t.Helper()

	if math.Abs(actual-expected) > tolerance {
		t.Errorf("%s: actual=%.3f, expected=%.3f (tolerance=%.3f)", msg, actual, expected, tolerance)
	}
}

// AssertTimeRecent asserts that a timestamp is recent (within the last few seconds)
func AssertTimeRecent(t *testing.T, timestamp time.Time, maxAge time.Duration, msg string) {
	t.Helper()

	age := time.Since(timestamp)
	if age > maxAge {
		t.Errorf("%s: timestamp %v is too old (age=%v, maxAge=%v)", msg, timestamp, age, maxAge)
	}
}

// AssertPercentageValid asserts that a percentage value is between 0 and 100
func AssertPercentageValid(t *testing.T, value float64, name string) {
	t.Helper()

	if value < 0 || value > 100 {
		t.Errorf("%s should be between 0 and 100, got %.2f", name, value)
	}
}

// AssertScoreValid asserts that a health score is between 0 and 100
func AssertScoreValid(t *testing.T, score int, name string) {
	t.Helper()

	if score < 0 || score > 100 {
		t.Errorf("%s should be between 0 and 100, got %d", name, score)
	}
}

// SkipIfShort skips a test if running in short mode
func SkipIfShort(t *testing.T, reason string) {
	t.Helper()

	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}

// WaitForCondition waits for a condition to become true within a timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Errorf("Condition not met within %v: %s", timeout, message)
}

// ExpectError asserts that an error is not nil and optionally contains a message
func ExpectError(t *testing.T, err error, expectedSubstring string) {
	t.Helper()

	if err == nil {
		t.Error("Expected error but got nil")
		return
	}

	if expectedSubstring != "" && !strings.Contains(err.Error(), expectedSubstring) {
		t.Errorf("Expected error containing '%s', got '%s'", expectedSubstring, err.Error())
	}
}

// ExpectNoError asserts that an error is nil
func ExpectNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Errorf("Expected no error but got: %v", err)
	}
}

// RunConcurrently starts every fn at once and fails the test if any panics or
// they have not all returned within timeout.
func RunConcurrently(t *testing.T, timeout time.Duration, fns ...func()) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("concurrent function panicked: %v", r)
				}
			}()
			fn()
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		t.Fatalf("concurrent functions still running after %v", timeout)
	}
}
