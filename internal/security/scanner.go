// Package security counts failed login attempts from whichever authentication
// log source the host offers.
package security

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/query"
)

// Status reports whether a failed-login count could be obtained.
type Status int

const (
	StatusOK Status = iota
	StatusSourceUnavailable
	StatusReadError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSourceUnavailable:
		return "source_unavailable"
	case StatusReadError:
		return "read_error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source identifies where a count came from.
type Source string

const (
	SourceNone    Source = "none"
	SourceAuthLog Source = "auth_log"
	SourceJournal Source = "journal"
)

// DefaultMarker is the log text that marks a failed password attempt.
const DefaultMarker = "Failed password"

// DefaultAuthLogPaths lists recognised authentication logs in preference order.
func DefaultAuthLogPaths() []string {
	return []string{"/var/log/auth.log", "/var/log/secure"}
}

// Result is the outcome of one scan. FailedLogins is always 0 unless Status
// is StatusOK.
type Result struct {
	Status       Status `json:"status"`
	Source       Source `json:"source"`
	FailedLogins int    `json:"failed_logins"`
	Message      string `json:"message"`
}

// Options configures a Scanner.
type Options struct {
	AuthLogPaths    []string
	Marker          string
	JournalCommand  string
	JournalPriority int
	Timeout         time.Duration
}

// DefaultOptions mirrors the built-in configuration.
func DefaultOptions() Options {
	return Options{
		AuthLogPaths:    DefaultAuthLogPaths(),
		Marker:          DefaultMarker,
		JournalCommand:  "journalctl",
		JournalPriority: 3,
		Timeout:         query.DefaultTimeout,
	}
}

// Scanner resolves a failed-login count by trying, in order, an auth log file,
// the systemd journal, and finally reporting the source unavailable. It keeps
// no state between scans.
type Scanner struct {
	runner query.Runner
	opts   Options
	logger *logging.Logger

	statFile func(path string) bool
	lookPath func(name string) (string, error)
}

// NewScanner returns a scanner issuing its queries through runner.
func NewScanner(runner query.Runner, opts Options, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.JournalCommand == "" {
		opts.JournalCommand = "journalctl"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = query.DefaultTimeout
	}

	return &Scanner{
		runner:   runner,
		opts:     opts,
		logger:   logger.WithComponent("security"),
		statFile: regularFileExists,
		lookPath: exec.LookPath,
	}
}

// Scan runs the source chain once.
func (s *Scanner) Scan(ctx context.Context) Result {
	if path, ok := s.findAuthLog(); ok {
		return s.scanFile(ctx, path)
	}

	if _, err := s.lookPath(s.opts.JournalCommand); err == nil {
		return s.scanJournal(ctx)
	}

	return Result{
		Status:  StatusSourceUnavailable,
		Source:  SourceNone,
		Message: "No auth data available",
	}
}

func (s *Scanner) findAuthLog() (string, bool) {
	for _, p := range s.opts.AuthLogPaths {
		if s.statFile(p) {
			return p, true
		}
	}
	return "", false
}

func (s *Scanner) scanFile(ctx context.Context, path string) Result {
	cmd := query.Command{
		Name:    "grep",
		Args:    []string{"-c", "--", s.opts.Marker, path},
		Timeout: s.opts.Timeout,
	}

	count, err := s.count(ctx, cmd)
	if err != nil {
		s.logger.Warn("auth log query failed", "path", path, "error", err)
		return Result{
			Status:  StatusReadError,
			Source:  SourceAuthLog,
			Message: "Error reading " + path,
		}
	}

	return okResult(SourceAuthLog, count)
}

func (s *Scanner) scanJournal(ctx context.Context) Result {
	pipeline := fmt.Sprintf("%s -p %d -xb --no-pager | grep -c -- %s",
		shellQuote(s.opts.JournalCommand), s.opts.JournalPriority, shellQuote(s.opts.Marker))

	cmd := query.Command{
		Name:    "sh",
		Args:    []string{"-c", pipeline},
		Timeout: s.opts.Timeout,
	}

	count, err := s.count(ctx, cmd)
	if err != nil {
		s.logger.Warn("journal query failed", "error", err)
		return Result{
			Status:  StatusReadError,
			Source:  SourceJournal,
			Message: "No auth data available",
		}
	}

	return okResult(SourceJournal, count)
}

// count runs a grep -c style query. Exit 0 means matches, 1 means none; both
// are successes. Anything else, a timeout, or non-numeric output is an error.
func (s *Scanner) count(ctx context.Context, cmd query.Command) (int, error) {
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if res.TimedOut {
		return 0, fmt.Errorf("%s timed out after %s", cmd.Name, cmd.Timeout)
	}
	if res.ExitCode != 0 && res.ExitCode != 1 {
		return 0, fmt.Errorf("%s exited with status %d", cmd.Name, res.ExitCode)
	}

	return parseCount(res.Stdout)
}

func parseCount(stdout string) (int, error) {
	out := strings.TrimSpace(stdout)
	if out == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected count output %q: %w", out, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func okResult(source Source, count int) Result {
	return Result{
		Status:       StatusOK,
		Source:       source,
		FailedLogins: count,
		Message:      fmt.Sprintf("Failed logins today = %d", count),
	}
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
