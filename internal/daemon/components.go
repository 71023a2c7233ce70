package daemon

import (
	"math/rand/v2"

	"github.com/timfallmk/hostpulse/internal/advice"
	"github.com/timfallmk/hostpulse/internal/census"
	"github.com/timfallmk/hostpulse/internal/config"
	"github.com/timfallmk/hostpulse/internal/health"
	"github.com/timfallmk/hostpulse/internal/history"
	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/monitor"
	"github.com/timfallmk/hostpulse/internal/query"
	"github.com/timfallmk/hostpulse/internal/security"
	"github.com/timfallmk/hostpulse/internal/shellhistory"
	"github.com/timfallmk/hostpulse/internal/stats"
)

// BuildComponents wires the refresh pipeline from cfg. A nil runner runs
// queries as child processes.
func BuildComponents(cfg *config.Config, runner query.Runner, logger *logging.Logger) monitor.Components {
	if runner == nil {
		runner = query.NewExecRunner()
	}

	channels := history.NewChannels(cfg.Sampling.HistorySize)

	return monitor.Components{
		Sampler:  newSampler(cfg, channels, logger),
		Census:   census.New(nil, logger),
		Scanner:  newScanner(cfg, runner, logger),
		History:  newAnalyzer(cfg, logger),
		Advisor:  newAdvisor(cfg),
		Levels:   levels(cfg),
		Channels: channels,
	}
}

// reloadComponents rebuilds what changed between prev and next. The sampler
// and its history are only replaced when the sampling section changed, since
// a new sampler forgets its network counters.
func reloadComponents(prev, next *config.Config, runner query.Runner, logger *logging.Logger) monitor.Components {
	c := monitor.Components{
		Scanner: newScanner(next, runner, logger),
		History: newAnalyzer(next, logger),
		Advisor: newAdvisor(next),
		Levels:  levels(next),
	}

	if !samplingEqual(prev.Sampling, next.Sampling) {
		c.Channels = history.NewChannels(next.Sampling.HistorySize)
		c.Sampler = newSampler(next, c.Channels, logger)
	}

	return c
}

func samplingEqual(a, b config.SamplingConfig) bool {
	return a.HistorySize == b.HistorySize &&
		a.CPUInterval == b.CPUInterval &&
		a.DiskPath == b.DiskPath &&
		a.HostLookupTimeout == b.HostLookupTimeout
}

func newSampler(cfg *config.Config, channels *history.Channels, logger *logging.Logger) *stats.Sampler {
	return stats.NewSampler(stats.GopsutilSource(), stats.Options{
		CPUInterval:   cfg.Sampling.CPUInterval,
		DiskPath:      cfg.Sampling.DiskPath,
		LookupTimeout: cfg.Sampling.HostLookupTimeout,
	}, channels, logger)
}

func newScanner(cfg *config.Config, runner query.Runner, logger *logging.Logger) *security.Scanner {
	return security.NewScanner(runner, security.Options{
		AuthLogPaths:    cfg.Security.AuthLogPaths,
		Marker:          cfg.Security.Marker,
		JournalCommand:  cfg.Security.JournalCommand,
		JournalPriority: cfg.Security.JournalPriority,
		Timeout:         cfg.Security.QueryTimeout,
	}, logger)
}

func newAnalyzer(cfg *config.Config, logger *logging.Logger) *shellhistory.Analyzer {
	return shellhistory.NewAnalyzer(shellhistory.Options{
		Paths:       cfg.Shell.HistoryPaths,
		Window:      cfg.Shell.Window,
		TopCommands: cfg.Shell.TopCommands,
		Patterns:    cfg.Shell.DangerousPatterns,
		ReadTimeout: cfg.Shell.ReadTimeout,
	}, logger)
}

func newAdvisor(cfg *config.Config) *advice.Selector {
	var src rand.Source
	if cfg.Advice.Seed != 0 {
		src = rand.NewPCG(cfg.Advice.Seed, cfg.Advice.Seed^0x9e3779b97f4a7c15)
	}
	return advice.NewSelector(cfg.Advice.Tips, src)
}

func levels(cfg *config.Config) health.Thresholds {
	return health.Thresholds{
		Warning:  cfg.Thresholds.Warning,
		Critical: cfg.Thresholds.Critical,
	}
}
