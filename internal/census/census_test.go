package census

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type fakeProc struct {
	pid        int32
	name       string
	cpu        float64
	mem        float32
	nameErr    error
	cpuErr     error
	memErr     error
	termErr    error
	terminated bool
}

func (p *fakeProc) Pid() int32 { return p.pid }

func (p *fakeProc) Name(context.Context) (string, error) { return p.name, p.nameErr }

func (p *fakeProc) CPUPercent(context.Context) (float64, error) { return p.cpu, p.cpuErr }

func (p *fakeProc) MemoryPercent(context.Context) (float32, error) { return p.mem, p.memErr }

func (p *fakeProc) Terminate(context.Context) error {
	if p.termErr != nil {
		return p.termErr
	}
	p.terminated = true
	return nil
}

type fakeSource struct {
	procs   []*fakeProc
	listErr error
}

func (s *fakeSource) Processes(context.Context) ([]Handle, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	hs := make([]Handle, len(s.procs))
	for i, p := range s.procs {
		hs[i] = p
	}
	return hs, nil
}

func (s *fakeSource) Process(_ context.Context, pid int32) (Handle, error) {
	for _, p := range s.procs {
		if p.pid == pid {
			return p, nil
		}
	}
	return nil, process.ErrorProcessNotRunning
}

func TestClassify(t *testing.T) {
	tests := []struct {
		cpu  float64
		want Severity
	}{
		{0, SeverityLow},
		{19.99, SeverityLow},
		{20, SeverityMid},
		{49.9, SeverityMid},
		{50, SeverityHigh},
		{350, SeverityHigh},
	}

	for _, tt := range tests {
		if got := Classify(tt.cpu); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.cpu, got, tt.want)
		}
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		s    Severity
		want string
	}{
		{SeverityLow, "low"},
		{SeverityMid, "mid"},
		{SeverityHigh, "high"},
		{Severity(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestTake_SkipsVanished(t *testing.T) {
	src := &fakeSource{procs: []*fakeProc{
		{pid: 1, name: "init", cpu: 0.1, mem: 0.2},
		{pid: 2, name: "gone", nameErr: process.ErrorProcessNotRunning},
		{pid: 3, name: "busy", cpu: 75, mem: 10},
		{pid: 4, name: "exiting", cpuErr: os.ErrNotExist},
		{pid: 5, name: "worker", cpu: 25, mem: 1.5},
	}}

	got, err := New(src, nil).Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}

	want := []ProcessInfo{
		{PID: 1, Name: "init", CPUPercent: 0.1, MemPercent: float64(float32(0.2)), Severity: SeverityLow},
		{PID: 3, Name: "busy", CPUPercent: 75, MemPercent: 10, Severity: SeverityHigh},
		{PID: 5, Name: "worker", CPUPercent: 25, MemPercent: 1.5, Severity: SeverityMid},
	}
	if len(got) != len(want) {
		t.Fatalf("Take() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Take()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTake_MissingUsageReadsZero(t *testing.T) {
	src := &fakeSource{procs: []*fakeProc{
		{pid: 7, name: "locked", cpu: 99, mem: 50, cpuErr: errors.New("permission denied"), memErr: errors.New("permission denied")},
	}}

	got, err := New(src, nil).Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Take() len = %d, want 1", len(got))
	}
	if got[0].CPUPercent != 0 || got[0].MemPercent != 0 || got[0].Severity != SeverityLow {
		t.Errorf("Take()[0] = %+v, want zero usage", got[0])
	}
}

func TestTake_ListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("proc unavailable")}

	got, err := New(src, nil).Take(context.Background())
	if err == nil {
		t.Fatal("Take() should fail when listing fails")
	}
	if len(got) != 0 {
		t.Errorf("Take() = %v, want empty", got)
	}
}

func TestTake_Cancelled(t *testing.T) {
	src := &fakeSource{procs: []*fakeProc{{pid: 1, name: "init"}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(src, nil).Take(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Take() error = %v, want context.Canceled", err)
	}
}

func TestTerminate(t *testing.T) {
	target := &fakeProc{pid: 42, name: "victim"}
	c := New(&fakeSource{procs: []*fakeProc{target}}, nil)

	if err := c.Terminate(context.Background(), 42); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if !target.terminated {
		t.Error("Terminate() did not signal the process")
	}

	if err := c.Terminate(context.Background(), 99); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Terminate(99) error = %v, want ErrNoSuchProcess", err)
	}
}

func TestTerminate_Denied(t *testing.T) {
	target := &fakeProc{pid: 1, name: "init", termErr: os.ErrPermission}
	c := New(&fakeSource{procs: []*fakeProc{target}}, nil)

	err := c.Terminate(context.Background(), 1)
	if err == nil || errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Terminate() error = %v, want permission failure", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("Terminate() error = %v, should wrap os.ErrPermission", err)
	}
}

func TestTake_Live(t *testing.T) {
	got, err := New(nil, nil).Take(context.Background())
	if err != nil {
		t.Skipf("Skipping live census: %v", err)
	}

	self := int32(os.Getpid())
	for _, p := range got {
		if p.PID == self {
			return
		}
	}
	t.Errorf("Take() did not include the test process %d among %d", self, len(got))
}

func TestGopsutilSource_KeepsHandlesBetweenListings(t *testing.T) {
	src := NewGopsutilSource()
	ctx := context.Background()

	first, err := src.Processes(ctx)
	if err != nil {
		t.Skipf("Skipping live process listing: %v", err)
	}
	if src.tracked() != len(first) {
		t.Errorf("tracked = %d, want %d", src.tracked(), len(first))
	}

	self := int32(os.Getpid())
	find := func(handles []Handle) *process.Process {
		for _, h := range handles {
			if gh, ok := h.(gopsutilHandle); ok && gh.p.Pid == self {
				return gh.p
			}
		}
		return nil
	}

	before := find(first)
	if before == nil {
		t.Fatalf("listing did not include the test process %d", self)
	}
	if _, err := (gopsutilHandle{before}).CPUPercent(ctx); err != nil {
		t.Fatalf("CPUPercent() error = %v", err)
	}

	// Burn some CPU so the next reading covers real work.
	deadline := time.Now().Add(50 * time.Millisecond)
	for n := 0; time.Now().Before(deadline); n++ {
		_ = n * n
	}

	second, err := src.Processes(ctx)
	if err != nil {
		t.Fatalf("second listing error = %v", err)
	}
	after := find(second)
	if after != before {
		t.Fatal("the test process handle was not reused between listings")
	}

	pct, err := (gopsutilHandle{after}).CPUPercent(ctx)
	if err != nil {
		t.Fatalf("CPUPercent() error = %v", err)
	}
	if pct < 0 {
		t.Errorf("CPUPercent() = %v, want non-negative", pct)
	}
}
