// Package census lists running processes and buckets them by CPU usage.
package census

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/timfallmk/hostpulse/internal/logging"
)

// ErrNoSuchProcess is returned by Terminate when pid is not running.
var ErrNoSuchProcess = errors.New("no such process")

// Severity buckets a process by CPU usage.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMid
	SeverityHigh
)

// CPU percentages at which a process moves up a bucket.
const (
	MidCPUPercent  = 20.0
	HighCPUPercent = 50.0
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMid:
		return "mid"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Classify buckets a CPU percentage.
func Classify(cpuPercent float64) Severity {
	switch {
	case cpuPercent < MidCPUPercent:
		return SeverityLow
	case cpuPercent < HighCPUPercent:
		return SeverityMid
	default:
		return SeverityHigh
	}
}

// ProcessInfo describes one process at the moment it was read.
type ProcessInfo struct {
	PID        int32    `json:"pid"`
	Name       string   `json:"name"`
	CPUPercent float64  `json:"cpu_percent"`
	MemPercent float64  `json:"mem_percent"`
	Severity   Severity `json:"severity"`
}

// Handle is a process that may vanish at any time.
type Handle interface {
	Pid() int32
	Name(ctx context.Context) (string, error)
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float32, error)
	Terminate(ctx context.Context) error
}

// Source enumerates processes.
type Source interface {
	Processes(ctx context.Context) ([]Handle, error)
	Process(ctx context.Context, pid int32) (Handle, error)
}

// Census reads the process table once per call. Per-process CPU state lives
// in the Source.
type Census struct {
	src    Source
	logger *logging.Logger
}

// New creates a Census over src, or the live process table when src is nil.
func New(src Source, logger *logging.Logger) *Census {
	if src == nil {
		src = NewGopsutilSource()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Census{src: src, logger: logger.WithComponent("census")}
}

// Take returns every readable process in enumeration order. Processes that
// exit or deny access while being read are left out. An error is returned
// only when the table itself cannot be listed or ctx is done, and then the
// list is empty.
func (c *Census) Take(ctx context.Context) ([]ProcessInfo, error) {
	handles, err := c.src.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(handles))
	skipped := 0

	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, ok := read(ctx, h)
		if !ok {
			skipped++
			continue
		}
		out = append(out, info)
	}

	if skipped > 0 {
		c.logger.Debug("skipped unreadable processes", "skipped", skipped, "listed", len(handles))
	}
	return out, nil
}

// read reports ok=false when the process is gone or its name is unreadable.
// Unreadable usage figures of a live process read as 0.
func read(ctx context.Context, h Handle) (ProcessInfo, bool) {
	name, err := h.Name(ctx)
	if err != nil {
		return ProcessInfo{}, false
	}

	info := ProcessInfo{PID: h.Pid(), Name: name}

	cpu, err := h.CPUPercent(ctx)
	if vanished(err) {
		return ProcessInfo{}, false
	} else if err == nil {
		info.CPUPercent = cpu
	}

	mem, err := h.MemoryPercent(ctx)
	if vanished(err) {
		return ProcessInfo{}, false
	} else if err == nil {
		info.MemPercent = float64(mem)
	}

	info.Severity = Classify(info.CPUPercent)
	return info, true
}

func vanished(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH)
}

// Terminate asks pid to exit with SIGTERM.
func (c *Census) Terminate(ctx context.Context, pid int32) error {
	h, err := c.src.Process(ctx, pid)
	if err != nil {
		if vanished(err) {
			return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
		}
		return fmt.Errorf("failed to find pid %d: %w", pid, err)
	}

	if err := h.Terminate(ctx); err != nil {
		if vanished(err) {
			return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
		}
		return fmt.Errorf("failed to terminate pid %d: %w", pid, err)
	}

	c.logger.Info("sent SIGTERM", "pid", pid)
	return nil
}
