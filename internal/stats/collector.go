package stats

import (
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/timfallmk/hostpulse/internal/history"
	"github.com/timfallmk/hostpulse/internal/logging"
)

// Source is the set of host readers a Sampler draws from. Any nil field is
// filled from GopsutilSource.
type Source struct {
	CPUPercent    func(ctx context.Context, interval time.Duration) (float64, error)
	VirtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	DiskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	NetCounters   func(ctx context.Context) (net.IOCountersStat, error)
	BootTime      func(ctx context.Context) (time.Time, error)
	Hostname      func() (string, error)
	LookupIP      func(ctx context.Context, hostname string) (string, error)
	Now           func() time.Time
}

// GopsutilSource reads the live host.
func GopsutilSource() Source {
	return Source{
		CPUPercent: func(ctx context.Context, interval time.Duration) (float64, error) {
			p, err := cpu.PercentWithContext(ctx, interval, false)
			if err != nil {
				return 0, err
			}
			if len(p) == 0 {
				return 0, errors.New("no cpu reading")
			}
			return p[0], nil
		},
		VirtualMemory: mem.VirtualMemoryWithContext,
		DiskUsage:     disk.UsageWithContext,
		NetCounters: func(ctx context.Context) (net.IOCountersStat, error) {
			io, err := net.IOCountersWithContext(ctx, false)
			if err != nil {
				return net.IOCountersStat{}, err
			}
			if len(io) == 0 {
				return net.IOCountersStat{}, errors.New("no network counters")
			}
			return io[0], nil
		},
		BootTime: func(ctx context.Context) (time.Time, error) {
			bt, err := host.BootTimeWithContext(ctx)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(int64(bt), 0), nil
		},
		Hostname: os.Hostname,
		LookupIP: lookupIP,
		Now:      time.Now,
	}
}

func (s Source) withDefaults() Source {
	def := GopsutilSource()
	if s.CPUPercent == nil {
		s.CPUPercent = def.CPUPercent
	}
	if s.VirtualMemory == nil {
		s.VirtualMemory = def.VirtualMemory
	}
	if s.DiskUsage == nil {
		s.DiskUsage = def.DiskUsage
	}
	if s.NetCounters == nil {
		s.NetCounters = def.NetCounters
	}
	if s.BootTime == nil {
		s.BootTime = def.BootTime
	}
	if s.Hostname == nil {
		s.Hostname = def.Hostname
	}
	if s.LookupIP == nil {
		s.LookupIP = def.LookupIP
	}
	if s.Now == nil {
		s.Now = def.Now
	}
	return s
}

// Sampler reads host metrics and derives network throughput from the
// counters it saw on the previous call. It is the only writer of the history
// channels it was built with.
type Sampler struct {
	mu       sync.Mutex
	src      Source
	opts     Options
	channels *history.Channels
	logger   *logging.Logger
	lastNet  *netCounters
}

// NewSampler creates a Sampler. channels may be nil when no history is kept.
func NewSampler(src Source, opts Options, channels *history.Channels, logger *logging.Logger) *Sampler {
	def := DefaultOptions()
	if opts.DiskPath == "" {
		opts.DiskPath = def.DiskPath
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = def.LookupTimeout
	}
	if opts.CPUInterval < 0 {
		opts.CPUInterval = 0
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Sampler{
		src:      src.withDefaults(),
		opts:     opts,
		channels: channels,
		logger:   logger.WithComponent("sampler"),
	}
}

// Channels returns the history the sampler feeds.
func (s *Sampler) Channels() *history.Channels {
	return s.channels
}

// Sample always returns a Sample. Fields whose reading failed are left at
// zero and the failures are returned joined in the error.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	sample := Sample{Timestamp: s.src.Now(), HostIP: UnknownHostIP}

	if p, err := s.src.CPUPercent(ctx, s.opts.CPUInterval); err != nil {
		errs = append(errs, fmt.Errorf("failed to read cpu usage: %w", err))
	} else {
		sample.CPUPercent = p
	}

	if vm, err := s.src.VirtualMemory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to read memory stats: %w", err))
	} else {
		sample.RAMUsedBytes = vm.Used
		sample.RAMTotalBytes = vm.Total
		sample.RAMPercent = vm.UsedPercent
	}

	if du, err := s.src.DiskUsage(ctx, s.opts.DiskPath); err != nil {
		errs = append(errs, fmt.Errorf("failed to read disk usage for %s: %w", s.opts.DiskPath, err))
	} else {
		sample.DiskUsedBytes = du.Used
		sample.DiskTotalBytes = du.Total
		sample.DiskPercent = du.UsedPercent
	}

	if bt, err := s.src.BootTime(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to read boot time: %w", err))
	} else if up := sample.Timestamp.Sub(bt); up > 0 {
		sample.Uptime = up.Truncate(time.Second)
	}

	if err := s.sampleNetwork(ctx, &sample); err != nil {
		errs = append(errs, err)
	}

	s.resolveIdentity(ctx, &sample)

	if s.channels != nil {
		s.channels.CPU.Push(sample.CPUPercent)
		s.channels.RAM.Push(sample.RAMPercent)
		s.channels.NetDown.Push(sample.NetDownRate)
		s.channels.NetUp.Push(sample.NetUpRate)
	}

	return sample, errors.Join(errs...)
}

func (s *Sampler) sampleNetwork(ctx context.Context, sample *Sample) error {
	io, err := s.src.NetCounters(ctx)
	if err != nil {
		return fmt.Errorf("failed to read network counters: %w", err)
	}

	cur := &netCounters{recv: io.BytesRecv, sent: io.BytesSent, at: sample.Timestamp}
	if prev := s.lastNet; prev != nil {
		elapsed := cur.at.Sub(prev.at)
		sample.NetDownRate = rate(cur.recv, prev.recv, elapsed)
		sample.NetUpRate = rate(cur.sent, prev.sent, elapsed)
	}
	s.lastNet = cur

	return nil
}

// Identity failures are not warnings; the address simply reads "unknown".
func (s *Sampler) resolveIdentity(ctx context.Context, sample *Sample) {
	name, err := s.src.Hostname()
	if err != nil || name == "" {
		s.logger.Debug("hostname unavailable", "error", err)
		return
	}
	sample.Hostname = name

	lctx, cancel := context.WithTimeout(ctx, s.opts.LookupTimeout)
	defer cancel()

	ip, err := s.src.LookupIP(lctx, name)
	if err != nil || ip == "" {
		s.logger.Debug("host address lookup failed", "hostname", name, "error", err)
		return
	}
	sample.HostIP = ip
}

// rate converts a byte counter delta into KiB/s. A non-positive elapsed
// interval counts as one second and a counter that went backwards yields 0.
func rate(cur, prev uint64, elapsed time.Duration) float64 {
	if cur < prev {
		return 0
	}

	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 1
	}
	return float64(cur-prev) / 1024 / secs
}

// lookupIP resolves hostname and prefers an IPv4 address.
func lookupIP(ctx context.Context, hostname string) (string, error) {
	addrs, err := stdnet.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", hostname)
	}

	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}
