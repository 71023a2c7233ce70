package stats

import "time"

// UnknownHostIP is reported when the host's address cannot be resolved.
const UnknownHostIP = "unknown"

// Sample is one reading of host resource state.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`

	RAMUsedBytes  uint64  `json:"ram_used_bytes"`
	RAMTotalBytes uint64  `json:"ram_total_bytes"`
	RAMPercent    float64 `json:"ram_percent"`

	DiskUsedBytes  uint64  `json:"disk_used_bytes"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskPercent    float64 `json:"disk_percent"`

	Uptime   time.Duration `json:"uptime"`
	Hostname string        `json:"hostname"`
	HostIP   string        `json:"host_ip"`

	// Network throughput in KiB/s since the previous sample.
	NetDownRate float64 `json:"net_down_rate"`
	NetUpRate   float64 `json:"net_up_rate"`
}

// Options configures a Sampler.
type Options struct {
	// CPUInterval is how long the CPU reading blocks. Zero compares against
	// the previous reading instead of blocking.
	CPUInterval time.Duration
	// DiskPath is the mount point whose usage is reported.
	DiskPath string
	// LookupTimeout bounds the hostname to address resolution.
	LookupTimeout time.Duration
}

// DefaultOptions returns the built-in sampler settings.
func DefaultOptions() Options {
	return Options{
		CPUInterval:   0,
		DiskPath:      "/",
		LookupTimeout: time.Second,
	}
}

type netCounters struct {
	recv uint64
	sent uint64
	at   time.Time
}
