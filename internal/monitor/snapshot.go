// Package monitor runs refresh cycles and publishes the resulting snapshots.
package monitor

import (
	"time"

	"github.com/timfallmk/hostpulse/internal/advice"
	"github.com/timfallmk/hostpulse/internal/census"
	"github.com/timfallmk/hostpulse/internal/health"
	"github.com/timfallmk/hostpulse/internal/security"
	"github.com/timfallmk/hostpulse/internal/shellhistory"
	"github.com/timfallmk/hostpulse/internal/stats"
)

// Levels colours the headline figures of a snapshot.
type Levels struct {
	CPU    health.Level `json:"cpu"`
	RAM    health.Level `json:"ram"`
	Disk   health.Level `json:"disk"`
	Health health.Level `json:"health"`
}

// Snapshot is the result of one refresh cycle. It is never modified after
// it has been published.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`

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

	NetDownRate float64 `json:"net_down_rate"`
	NetUpRate   float64 `json:"net_up_rate"`

	FailedLogins    int             `json:"failed_logins"`
	SecurityStatus  security.Status `json:"security_status"`
	SecuritySource  security.Source `json:"security_source"`
	SecurityMessage string          `json:"security_message"`

	HealthScore int    `json:"health_score"`
	Levels      Levels `json:"levels"`

	HistoryStatus  shellhistory.Status         `json:"history_status"`
	SafetyMessage  string                      `json:"safety_message"`
	DangerousMatch *shellhistory.Finding       `json:"dangerous_match,omitempty"`
	TotalCommands  int                         `json:"total_commands"`
	TopCommands    []shellhistory.CommandCount `json:"top_commands"`

	Processes []census.ProcessInfo `json:"processes"`
	Advice    advice.Tip           `json:"advice"`

	Warnings []string `json:"warnings,omitempty"`
}

type parts struct {
	sample   stats.Sample
	scan     security.Result
	history  shellhistory.Report
	procs    []census.ProcessInfo
	tip      advice.Tip
	warnings []string
}

func assemble(seq uint64, p parts, thresholds health.Thresholds) *Snapshot {
	failed := p.scan.FailedLogins
	if p.scan.Status != security.StatusOK || failed < 0 {
		failed = 0
	}

	score := health.Score(health.Inputs{
		CPUPercent:   p.sample.CPUPercent,
		RAMPercent:   p.sample.RAMPercent,
		DiskPercent:  p.sample.DiskPercent,
		FailedLogins: failed,
	})

	procs := p.procs
	if procs == nil {
		procs = []census.ProcessInfo{}
	}
	top := p.history.TopCommands
	if top == nil {
		top = []shellhistory.CommandCount{}
	}

	return &Snapshot{
		Timestamp: p.sample.Timestamp,
		Sequence:  seq,

		CPUPercent: p.sample.CPUPercent,

		RAMUsedBytes:  p.sample.RAMUsedBytes,
		RAMTotalBytes: p.sample.RAMTotalBytes,
		RAMPercent:    p.sample.RAMPercent,

		DiskUsedBytes:  p.sample.DiskUsedBytes,
		DiskTotalBytes: p.sample.DiskTotalBytes,
		DiskPercent:    p.sample.DiskPercent,

		Uptime:   p.sample.Uptime,
		Hostname: p.sample.Hostname,
		HostIP:   p.sample.HostIP,

		NetDownRate: p.sample.NetDownRate,
		NetUpRate:   p.sample.NetUpRate,

		FailedLogins:    failed,
		SecurityStatus:  p.scan.Status,
		SecuritySource:  p.scan.Source,
		SecurityMessage: p.scan.Message,

		HealthScore: score,
		Levels: Levels{
			CPU:    thresholds.Classify(p.sample.CPUPercent),
			RAM:    thresholds.Classify(p.sample.RAMPercent),
			Disk:   thresholds.Classify(p.sample.DiskPercent),
			Health: thresholds.ClassifyScore(score),
		},

		HistoryStatus:  p.history.Status,
		SafetyMessage:  p.history.SafetyMessage,
		DangerousMatch: p.history.Finding,
		TotalCommands:  p.history.TotalCommands,
		TopCommands:    top,

		Processes: procs,
		Advice:    p.tip,

		Warnings: p.warnings,
	}
}
