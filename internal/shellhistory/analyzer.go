package shellhistory

import (
	"context"
	"errors"
	"time"

	"github.com/timfallmk/hostpulse/internal/logging"
)

// Status describes whether history could be read.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNotFound  Status = "not_found"
	StatusReadError Status = "read_error"
)

// Report is the per-cycle result of reading shell history.
type Report struct {
	Status        Status         `json:"status"`
	Path          string         `json:"path,omitempty"`
	SafetyMessage string         `json:"safety_message"`
	Finding       *Finding       `json:"finding,omitempty"`
	TotalCommands int            `json:"total_commands"`
	TopCommands   []CommandCount `json:"top_commands"`
}

// Options configures an Analyzer.
type Options struct {
	Paths       []string
	Window      int
	TopCommands int
	Patterns    []string
	ReadTimeout time.Duration
}

// DefaultOptions mirrors the built-in configuration.
func DefaultOptions() Options {
	return Options{
		Paths:       DefaultPaths(),
		Window:      DefaultWindow,
		TopCommands: DefaultTopCommands,
		Patterns:    DangerousPatterns(),
		ReadTimeout: 2 * time.Second,
	}
}

// Analyzer reads the history file once per call and produces a Report.
type Analyzer struct {
	opts   Options
	logger *logging.Logger
}

// NewAnalyzer fills unset options from DefaultOptions.
func NewAnalyzer(opts Options, logger *logging.Logger) *Analyzer {
	def := DefaultOptions()
	if len(opts.Paths) == 0 {
		opts.Paths = def.Paths
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.TopCommands <= 0 {
		opts.TopCommands = def.TopCommands
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = def.Patterns
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Analyzer{opts: opts, logger: logger.WithComponent("shellhistory")}
}

// Analyze never fails: a missing or unreadable file is reported through
// Report.Status and Report.SafetyMessage.
func (a *Analyzer) Analyze(ctx context.Context) Report {
	path, err := Locate(a.opts.Paths)
	if err != nil {
		return Report{Status: StatusNotFound, SafetyMessage: MessageNotFound}
	}

	rctx, cancel := context.WithTimeout(ctx, a.opts.ReadTimeout)
	defer cancel()

	lines, err := ReadLines(rctx, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("history read timed out", "path", path, "timeout", a.opts.ReadTimeout)
		} else {
			a.logger.Warn("history read failed", "path", path, "error", err)
		}
		return Report{Status: StatusReadError, Path: path, SafetyMessage: MessageReadError}
	}

	return a.report(path, lines)
}

func (a *Analyzer) report(path string, lines []string) Report {
	r := Report{
		Status:        StatusOK,
		Path:          path,
		SafetyMessage: MessageAllClear,
		TotalCommands: len(lines),
		TopCommands:   TopCommands(lines, a.opts.TopCommands),
	}

	if f, ok := Scan(Tail(lines, a.opts.Window), a.opts.Patterns); ok {
		r.Finding = &f
		r.SafetyMessage = WarningMessage(f)
	}

	return r
}
