package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timfallmk/hostpulse/internal/advice"
	"github.com/timfallmk/hostpulse/internal/census"
	"github.com/timfallmk/hostpulse/internal/health"
	"github.com/timfallmk/hostpulse/internal/history"
	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/observability"
	"github.com/timfallmk/hostpulse/internal/security"
	"github.com/timfallmk/hostpulse/internal/shellhistory"
	"github.com/timfallmk/hostpulse/internal/stats"
)

// Components are the collaborators a Refresher drives each cycle.
type Components struct {
	Sampler  *stats.Sampler
	Census   *census.Census
	Scanner  *security.Scanner
	History  *shellhistory.Analyzer
	Advisor  *advice.Selector
	Levels   health.Thresholds
	Channels *history.Channels
}

func (c Components) validate() error {
	var errs []error
	if c.Sampler == nil {
		errs = append(errs, errors.New("sampler is required"))
	}
	if c.Census == nil {
		errs = append(errs, errors.New("census is required"))
	}
	if c.Scanner == nil {
		errs = append(errs, errors.New("security scanner is required"))
	}
	if c.History == nil {
		errs = append(errs, errors.New("history analyzer is required"))
	}
	if c.Advisor == nil {
		errs = append(errs, errors.New("advice selector is required"))
	}
	return errors.Join(errs...)
}

// Refresher runs one cycle at a time and keeps the most recent snapshot.
type Refresher struct {
	cycleMu sync.Mutex
	seq     uint64

	compMu sync.RWMutex
	comps  Components

	latest atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]chan *Snapshot
	nextSub int

	logger  *logging.Logger
	events  *logging.EventLogger
	metrics *observability.ApplicationMetrics
}

// New creates a Refresher. metrics may be nil.
func New(comps Components, logger *logging.Logger, metrics *observability.ApplicationMetrics) (*Refresher, error) {
	if err := comps.validate(); err != nil {
		return nil, fmt.Errorf("invalid refresher components: %w", err)
	}
	if comps.Levels == (health.Thresholds{}) {
		comps.Levels = health.DefaultThresholds()
	}
	if comps.Channels == nil {
		comps.Channels = comps.Sampler.Channels()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	logger = logger.WithComponent("monitor")

	return &Refresher{
		comps:   comps,
		subs:    make(map[int]chan *Snapshot),
		logger:  logger,
		events:  logging.NewEventLogger(logger),
		metrics: metrics,
	}, nil
}

// Reconfigure swaps in the non-nil components of c. A cycle already running
// finishes with the components it started with.
func (r *Refresher) Reconfigure(c Components) {
	r.compMu.Lock()
	defer r.compMu.Unlock()

	if c.Sampler != nil {
		r.comps.Sampler = c.Sampler
	}
	if c.Census != nil {
		r.comps.Census = c.Census
	}
	if c.Scanner != nil {
		r.comps.Scanner = c.Scanner
	}
	if c.History != nil {
		r.comps.History = c.History
	}
	if c.Advisor != nil {
		r.comps.Advisor = c.Advisor
	}
	if c.Levels != (health.Thresholds{}) {
		r.comps.Levels = c.Levels
	}
	if c.Channels != nil {
		r.comps.Channels = c.Channels
	} else if c.Sampler != nil && c.Sampler.Channels() != nil {
		r.comps.Channels = c.Sampler.Channels()
	}
}

func (r *Refresher) components() Components {
	r.compMu.RLock()
	defer r.compMu.RUnlock()
	return r.comps
}

// Refresh runs one cycle and publishes its snapshot. Component failures are
// recorded as snapshot warnings and never fail the cycle. If ctx is done
// before the snapshot is assembled nothing is published and ctx's error is
// returned.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comps := r.components()
	p := collect(ctx, comps, r.metrics)

	if err := ctx.Err(); err != nil {
		r.recordCycle(time.Since(start), len(p.warnings), false)
		r.logger.Debug("refresh cycle abandoned", "error", err)
		return nil, err
	}

	r.seq++
	snap := assemble(r.seq, p, comps.Levels)
	prev := r.latest.Swap(snap)
	r.publish(snap)

	duration := time.Since(start)
	r.recordCycle(duration, len(snap.Warnings), true)
	r.recordSnapshot(snap)
	r.logTransitions(prev, snap)

	fields := map[string]interface{}{
		"sequence":     snap.Sequence,
		"health_score": snap.HealthScore,
		"processes":    len(snap.Processes),
	}
	if len(snap.Warnings) > 0 {
		fields["warnings"] = snap.Warnings
		r.events.LogCycle(logging.LevelWarn, "refresh cycle degraded", duration, fields)
	} else {
		r.events.LogCycle(logging.LevelDebug, "refresh cycle complete", duration, fields)
	}

	return snap, nil
}

func collect(ctx context.Context, c Components, metrics *observability.ApplicationMetrics) parts {
	var p parts

	sample, err := c.Sampler.Sample(ctx)
	p.warnings = appendWarnings(p.warnings, err)
	p.sample = sample

	t := time.Now()
	procs, err := c.Census.Take(ctx)
	p.warnings = appendWarnings(p.warnings, err)
	p.procs = procs
	if metrics != nil {
		metrics.RecordProcessCount(len(procs), time.Since(t))
	}

	t = time.Now()
	p.scan = c.Scanner.Scan(ctx)
	if metrics != nil {
		metrics.RecordSecurityScan(p.scan.Status.String(), string(p.scan.Source), p.scan.FailedLogins, time.Since(t))
	}

	t = time.Now()
	p.history = c.History.Analyze(ctx)
	if metrics != nil {
		metrics.RecordHistoryScan(string(p.history.Status), p.history.Finding != nil, time.Since(t))
	}

	p.tip = c.Advisor.Pick()
	return p
}

// appendWarnings flattens joined errors into one message each.
func appendWarnings(warnings []string, err error) []string {
	if err == nil {
		return warnings
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			warnings = appendWarnings(warnings, e)
		}
		return warnings
	}
	return append(warnings, err.Error())
}

func (r *Refresher) recordCycle(d time.Duration, warnings int, published bool) {
	if r.metrics != nil {
		r.metrics.RecordCycle(d, warnings, published)
	}
}

func (r *Refresher) recordSnapshot(s *Snapshot) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordSample(s.CPUPercent, s.RAMPercent, s.DiskPercent, s.NetDownRate, s.NetUpRate)
	r.metrics.RecordHealthScore(s.HealthScore)
}

// logTransitions logs security findings only when they change, so a
// standing condition does not repeat every cycle.
func (r *Refresher) logTransitions(prev, cur *Snapshot) {
	if prev == nil || prev.SafetyMessage != cur.SafetyMessage {
		if cur.DangerousMatch != nil {
			r.events.LogSecurity(logging.LevelWarn, cur.SafetyMessage, "shell_history", map[string]interface{}{
				"pattern": cur.DangerousMatch.Pattern,
			})
		}
	}

	if prev == nil || prev.FailedLogins != cur.FailedLogins || prev.SecurityStatus != cur.SecurityStatus {
		level := logging.LevelInfo
		if cur.FailedLogins > 0 {
			level = logging.LevelWarn
		}
		r.events.LogSecurity(level, cur.SecurityMessage, string(cur.SecuritySource), map[string]interface{}{
			"status":        cur.SecurityStatus.String(),
			"failed_logins": cur.FailedLogins,
		})
	}
}

// Latest returns the most recently published snapshot, or nil.
func (r *Refresher) Latest() *Snapshot {
	return r.latest.Load()
}

// LatestTimestamp reports when the latest snapshot was taken.
func (r *Refresher) LatestTimestamp() (time.Time, bool) {
	if s := r.latest.Load(); s != nil {
		return s.Timestamp, true
	}
	return time.Time{}, false
}

// History returns a copy of the rolling metric windows.
func (r *Refresher) History() history.Window {
	ch := r.components().Channels
	if ch == nil {
		return history.Window{}
	}
	return ch.Window()
}

// Subscribe returns a channel that receives each published snapshot. A slow
// reader only ever sees the newest one. Call cancel to stop receiving; the
// channel is then closed.
func (r *Refresher) Subscribe() (<-chan *Snapshot, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan *Snapshot, 1)
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Refresher) publish(s *Snapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Drop the unread snapshot in favour of the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Terminate sends SIGTERM to pid.
func (r *Refresher) Terminate(ctx context.Context, pid int32) error {
	err := r.components().Census.Terminate(ctx, pid)
	if r.metrics != nil {
		r.metrics.RecordTermination(err == nil)
	}
	return err
}

// Close releases the event logger.
func (r *Refresher) Close() {
	r.events.Close()
}
