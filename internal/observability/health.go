package observability

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/timfallmk/hostpulse/internal/logging"
)

// HealthStatus is the state of one self-check or of the daemon as a whole.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
	StatusStarting  HealthStatus = "starting"
)

// severity orders statuses so the worst one decides the overall result.
func (s HealthStatus) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusStarting:
		return 1
	default:
		return 0
	}
}

// HealthCheck is the latest result of one checker.
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// HealthChecker is one self-check of the daemon.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

const (
	maxParallelChecks   = 4
	defaultCheckTimeout = 10 * time.Second
)

// HealthMonitor runs the daemon's self-checks on an interval and keeps the
// latest result of each. Only status changes are logged.
type HealthMonitor struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	results  map[string]HealthCheck

	logger  *logging.EventLogger
	metrics *ApplicationMetrics

	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewHealthMonitor creates a monitor that runs its checkers every
// checkInterval once Start is called. A non-positive interval becomes one
// second. metrics may be nil.
func NewHealthMonitor(logger *logging.Logger, metrics *ApplicationMetrics, checkInterval time.Duration) *HealthMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		checkers:      make(map[string]HealthChecker),
		results:       make(map[string]HealthCheck),
		logger:        logging.NewEventLogger(logger),
		metrics:       metrics,
		checkInterval: checkInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterChecker adds checker, replacing any with the same name. It reports
// StatusStarting until it first runs.
func (hm *HealthMonitor) RegisterChecker(checker HealthChecker) {
	name := checker.Name()

	hm.mu.Lock()
	hm.checkers[name] = checker
	hm.results[name] = HealthCheck{Name: name, Status: StatusStarting, LastChecked: time.Now()}
	hm.mu.Unlock()

	hm.logger.LogDaemon(logging.LevelDebug, "health checker registered", "register", map[string]interface{}{
		"checker": name,
	})
}

// CheckNow runs every checker once and waits for them to finish.
func (hm *HealthMonitor) CheckNow() {
	hm.runAllChecks()
}

// Start runs the checkers immediately and then every interval until Stop.
func (hm *HealthMonitor) Start() {
	hm.wg.Add(1)
	go func() {
		defer hm.wg.Done()

		ticker := time.NewTicker(hm.checkInterval)
		defer ticker.Stop()

		for {
			hm.runAllChecks()

			select {
			case <-hm.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (hm *HealthMonitor) Stop() {
	hm.cancel()
	hm.wg.Wait()
	hm.logger.Close()
}

// GetHealth returns a copy of the latest result of every checker.
func (hm *HealthMonitor) GetHealth() map[string]*HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make(map[string]*HealthCheck, len(hm.results))
	for name, r := range hm.results {
		r := r
		out[name] = &r
	}
	return out
}

// GetOverallHealth is the worst status across checkers, or StatusUnknown
// when none are registered.
func (hm *HealthMonitor) GetOverallHealth() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if len(hm.results) == 0 {
		return StatusUnknown
	}

	overall := StatusHealthy
	for _, r := range hm.results {
		if r.Status.severity() > overall.severity() {
			overall = r.Status
		}
	}
	return overall
}

func (hm *HealthMonitor) IsHealthy() bool {
	return hm.GetOverallHealth() == StatusHealthy
}

func (hm *HealthMonitor) runAllChecks() {
	hm.mu.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checkers))
	for _, c := range hm.checkers {
		checkers = append(checkers, c)
	}
	hm.mu.RUnlock()

	sem := make(chan struct{}, maxParallelChecks)
	var wg sync.WaitGroup

	for _, c := range checkers {
		if hm.ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(c HealthChecker) {
			defer func() {
				<-sem
				wg.Done()
			}()
			hm.runCheck(c)
		}(c)
	}
	wg.Wait()
}

func (hm *HealthMonitor) runCheck(checker HealthChecker) {
	timeout := checker.Timeout()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	ctx, cancel := context.WithTimeout(hm.ctx, timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	duration := time.Since(start)

	result := HealthCheck{
		Name:        checker.Name(),
		Status:      StatusHealthy,
		Message:     "OK",
		LastChecked: time.Now(),
		Duration:    duration,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		result.Error = errString(err)
	}

	hm.mu.Lock()
	prev := hm.results[result.Name]
	hm.results[result.Name] = result
	hm.mu.Unlock()

	if hm.metrics != nil {
		hm.metrics.RecordHealthCheck(result.Name, err == nil, duration)
	}

	if prev.Status != result.Status {
		level := logging.LevelInfo
		if err != nil {
			level = logging.LevelWarn
		}
		hm.logger.LogDaemon(level, "health status changed", "health_check", map[string]interface{}{
			"checker": result.Name,
			"from":    string(prev.Status),
			"to":      string(result.Status),
			"error":   errString(err),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// FuncChecker adapts a function to HealthChecker.
type FuncChecker struct {
	name     string
	testFunc func(ctx context.Context) error
	timeout  time.Duration
}

// NewFuncChecker returns a checker that calls testFunc. A nil testFunc
// always reports unhealthy.
func NewFuncChecker(name string, timeout time.Duration, testFunc func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, testFunc: testFunc, timeout: timeout}
}

func (f *FuncChecker) Name() string {
	return f.name
}

func (f *FuncChecker) Timeout() time.Duration {
	return f.timeout
}

func (f *FuncChecker) Check(ctx context.Context) error {
	if f.testFunc == nil {
		return fmt.Errorf("no test function provided")
	}
	return f.testFunc(ctx)
}

// ErrStale is returned when the newest snapshot is older than allowed.
var ErrStale = errors.New("snapshot is stale")

// FreshnessChecker reports unhealthy when the refresh loop has stopped
// producing snapshots.
type FreshnessChecker struct {
	name   string
	maxAge time.Duration
	latest func() (time.Time, bool)
	now    func() time.Time
}

// NewFreshnessChecker checks that latest returns a timestamp no older than
// maxAge. latest reports false before the first snapshot exists.
func NewFreshnessChecker(name string, maxAge time.Duration, latest func() (time.Time, bool)) *FreshnessChecker {
	return &FreshnessChecker{name: name, maxAge: maxAge, latest: latest, now: time.Now}
}

func (f *FreshnessChecker) Name() string {
	return f.name
}

func (f *FreshnessChecker) Timeout() time.Duration {
	return time.Second
}

func (f *FreshnessChecker) Check(ctx context.Context) error {
	at, ok := f.latest()
	if !ok {
		return fmt.Errorf("%w: no snapshot yet", ErrStale)
	}
	if age := f.now().Sub(at); age > f.maxAge {
		return fmt.Errorf("%w: last snapshot %s old, limit %s", ErrStale, age.Truncate(time.Millisecond), f.maxAge)
	}
	return nil
}

// MemoryHealthChecker reports unhealthy when the daemon's own heap grows
// past maxMemoryBytes.
type MemoryHealthChecker struct {
	name           string
	maxMemoryBytes uint64
	timeout        time.Duration
	readStats      func(*runtime.MemStats)
}

// NewMemoryHealthChecker checks runtime heap usage against maxMemoryBytes.
func NewMemoryHealthChecker(name string, maxMemoryBytes uint64) *MemoryHealthChecker {
	return &MemoryHealthChecker{
		name:           name,
		maxMemoryBytes: maxMemoryBytes,
		timeout:        1 * time.Second,
		readStats:      runtime.ReadMemStats,
	}
}

func (m *MemoryHealthChecker) Name() string {
	return m.name
}

func (m *MemoryHealthChecker) Timeout() time.Duration {
	return m.timeout
}

func (m *MemoryHealthChecker) Check(ctx context.Context) error {
	var ms runtime.MemStats
	m.readStats(&ms)

	if m.maxMemoryBytes > 0 && ms.HeapAlloc > m.maxMemoryBytes {
		return fmt.Errorf("heap %d bytes exceeds limit %d", ms.HeapAlloc, m.maxMemoryBytes)
	}
	return nil
}

// DiskSpaceHealthChecker checks available disk space
type DiskSpaceHealthChecker struct {
	name         string
	path         string
	minFreeBytes uint64
	timeout      time.Duration
	statFS       func(path string) (fsSpace, error)
}

type fsSpace struct {
	Total     uint64
	Available uint64
}

// NewDiskSpaceHealthChecker checks that at least minFreeBytes are free on
// the filesystem holding path.
func NewDiskSpaceHealthChecker(name, path string, minFreeBytes uint64) *DiskSpaceHealthChecker {
	return &DiskSpaceHealthChecker{
		name:         name,
		path:         path,
		minFreeBytes: minFreeBytes,
		timeout:      2 * time.Second,
		statFS:       statFilesystem,
	}
}

func (d *DiskSpaceHealthChecker) Name() string {
	return d.name
}

func (d *DiskSpaceHealthChecker) Timeout() time.Duration {
	return d.timeout
}

func (d *DiskSpaceHealthChecker) Check(ctx context.Context) error {
	space, err := d.statFS(d.path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", d.path, err)
	}

	if space.Available < d.minFreeBytes {
		return fmt.Errorf("%s has %d of %d bytes available, want at least %d",
			d.path, space.Available, space.Total, d.minFreeBytes)
	}
	return nil
}
