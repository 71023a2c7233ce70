package census

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilSource reads the live process table. It keeps each process handle
// between listings so CPU usage is measured since the previous census rather
// than over the process lifetime. A process seen for the first time reads 0.
type GopsutilSource struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
}

func NewGopsutilSource() *GopsutilSource {
	return &GopsutilSource{procs: make(map[int32]*process.Process)}
}

func (s *GopsutilSource) Processes(ctx context.Context) ([]Handle, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int32]*process.Process, len(pids))
	handles := make([]Handle, 0, len(pids))

	for _, pid := range pids {
		p, ok := s.procs[pid]
		if ok {
			// A recycled pid belongs to a new process with its own CPU times.
			if running, err := p.IsRunningWithContext(ctx); err != nil || !running {
				ok = false
			}
		}
		if !ok {
			if p, err = process.NewProcessWithContext(ctx, pid); err != nil {
				continue
			}
		}

		seen[pid] = p
		handles = append(handles, gopsutilHandle{p})
	}

	s.procs = seen
	return handles, nil
}

// Process returns a fresh handle for pid, outside the tracked set.
func (s *GopsutilSource) Process(ctx context.Context, pid int32) (Handle, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	return gopsutilHandle{p}, nil
}

// tracked reports how many processes carry CPU state into the next listing.
func (s *GopsutilSource) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

type gopsutilHandle struct {
	p *process.Process
}

func (h gopsutilHandle) Pid() int32 { return h.p.Pid }

func (h gopsutilHandle) Name(ctx context.Context) (string, error) {
	return h.p.NameWithContext(ctx)
}

func (h gopsutilHandle) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := h.p.PercentWithContext(ctx, 0)
	if err != nil || pct < 0 {
		return 0, err
	}
	return pct, nil
}

func (h gopsutilHandle) MemoryPercent(ctx context.Context) (float32, error) {
	return h.p.MemoryPercentWithContext(ctx)
}

func (h gopsutilHandle) Terminate(ctx context.Context) error {
	return h.p.TerminateWithContext(ctx)
}
