package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/takama/daemon"

	"github.com/timfallmk/hostpulse/internal/config"
	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/monitor"
	"github.com/timfallmk/hostpulse/internal/observability"
	"github.com/timfallmk/hostpulse/internal/query"
	"github.com/timfallmk/hostpulse/internal/security"
)

type Service struct {
	daemon.Daemon
	config     *config.Config
	configPath string
	watchPath  string
	runner     query.Runner

	logger    *logging.Logger
	events    *logging.EventLogger
	collector *observability.MetricsCollector
	metrics   *observability.ApplicationMetrics
	health    *observability.HealthMonitor
	refresher *monitor.Refresher
	watcher   *config.Watcher

	mu         sync.RWMutex
	intervalCh chan time.Duration
	started    time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

// NewService creates the service. configPath is reloaded on SIGHUP and
// watched for changes; empty means the per-user default location.
func NewService(cfg *config.Config, configPath string, logger *logging.Logger) (*Service, error) {
	d, err := daemon.New(cfg.Daemon.Name, cfg.Daemon.Description, daemon.SystemDaemon)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon: %w", err)
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		Daemon:     d,
		config:     cfg,
		configPath: configPath,
		watchPath:  configPath,
		logger:     logger.WithComponent("daemon"),
		intervalCh: make(chan time.Duration, 1),
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
	service.events = logging.NewEventLogger(service.logger)

	return service, nil
}

// SetRunner replaces the query runner used by the security scanner. It must
// be called before Initialize.
func (s *Service) SetRunner(r query.Runner) {
	s.runner = r
}

// Refresher returns the refresh orchestrator once Initialize has run.
func (s *Service) Refresher() *monitor.Refresher {
	return s.refresher
}

// HealthMonitor returns the self-check monitor once Initialize has run.
func (s *Service) HealthMonitor() *observability.HealthMonitor {
	return s.health
}

// Config returns the configuration currently in effect.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Service) Initialize() error {
	s.logger.Info("initializing hostpulse daemon")

	cfg := s.Config()

	s.collector = observability.NewMetricsCollector(s.logger, cfg.Observability.MetricsFlushInterval)
	s.metrics = observability.NewApplicationMetrics(s.collector)

	refresher, err := monitor.New(BuildComponents(cfg, s.runner, s.logger), s.logger, s.metrics)
	if err != nil {
		s.collector.Close()
		return fmt.Errorf("failed to create refresher: %w", err)
	}
	s.refresher = refresher

	s.health = observability.NewHealthMonitor(s.logger, s.metrics, cfg.Observability.HealthCheckInterval)
	s.registerCheckers(cfg)

	s.logger.Info("daemon initialized")
	return nil
}

func (s *Service) registerCheckers(cfg *config.Config) {
	o := cfg.Observability

	if o.MaxSnapshotAge > 0 {
		s.health.RegisterChecker(observability.NewFreshnessChecker("snapshot", o.MaxSnapshotAge, s.refresher.LatestTimestamp))
	}
	if o.MinFreeDiskBytes > 0 {
		s.health.RegisterChecker(observability.NewDiskSpaceHealthChecker("disk_space", cfg.Sampling.DiskPath, o.MinFreeDiskBytes))
	}
	if o.MaxHeapBytes > 0 {
		s.health.RegisterChecker(observability.NewMemoryHealthChecker("memory", o.MaxHeapBytes))
	}

	s.health.RegisterChecker(observability.NewFuncChecker("auth_source", time.Second, func(ctx context.Context) error {
		snap := s.refresher.Latest()
		if snap == nil {
			return nil
		}
		switch snap.SecurityStatus {
		case security.StatusSourceUnavailable:
			return errors.New("no auth log or journal available")
		case security.StatusReadError:
			return fmt.Errorf("auth source %s unreadable", snap.SecuritySource)
		}
		return nil
	}))
}

func (s *Service) Start() error {
	s.logger.Info("starting hostpulse daemon")

	if err := s.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	s.started = time.Now()
	cfg := s.Config()

	if cfg.Daemon.WatchConfig {
		s.startWatcher()
	}

	s.health.Start()

	s.wg.Add(1)
	go s.runRefreshLoop(cfg.Sampling.Interval)

	s.wg.Add(1)
	go s.runRuntimeStats(cfg.Observability.HealthCheckInterval)

	s.wg.Add(1)
	go s.handleSignals()

	s.events.LogDaemon(logging.LevelInfo, "daemon started", "start", map[string]interface{}{
		"interval":    cfg.Sampling.Interval.String(),
		"config_path": s.configPath,
	})
	return nil
}

func (s *Service) startWatcher() {
	path := s.configPath
	if path == "" {
		found, err := config.FindConfig()
		if err != nil {
			s.logger.Info("no config file to watch")
			return
		}
		path = found
	}

	s.watchPath = path
	w, err := config.NewWatcher(path, config.DefaultDebounce, s.onConfigChange, s.logger)
	if err != nil {
		s.logger.Warn("config watcher unavailable", "path", path, "error", err)
		return
	}
	s.watcher = w
}

func (s *Service) onConfigChange(cfg *config.Config, err error) {
	if err != nil {
		s.metrics.RecordConfigReload(false, 0)
		s.events.LogConfig(logging.LevelWarn, "ignoring invalid config change", s.watchPath, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.applyConfig(cfg)
}

// signalStop asks Run to return. It is safe to call more than once.
func (s *Service) signalStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) Stop() error {
	s.doneOnce.Do(func() {
		s.logger.Info("stopping hostpulse daemon")

		s.signalStop()
		s.cancel()

		s.wg.Wait()

		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.logger.Warn("failed to close config watcher", "error", err)
			}
		}
		if s.health != nil {
			s.health.Stop()
		}
		if s.refresher != nil {
			s.refresher.Close()
		}
		if s.collector != nil {
			s.collector.Close()
		}

		s.events.LogDaemon(logging.LevelInfo, "daemon stopped", "stop", nil)
		s.events.Close()
	})
	return nil
}

func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	<-s.stopCh
	return s.Stop()
}

// runRefreshLoop refreshes once immediately and then on every tick.
func (s *Service) runRefreshLoop(interval time.Duration) {
	defer s.wg.Done()

	if interval <= 0 {
		interval = config.MinSamplingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refresh()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stopCh:
			return
		case d := <-s.intervalCh:
			ticker.Reset(d)
			s.logger.Info("sampling interval changed", "interval", d.String())
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Service) refresh() {
	if _, err := s.refresher.Refresh(s.ctx); err != nil {
		s.logger.Debug("refresh cycle not published", "error", err)
	}
}

func (s *Service) runRuntimeStats(interval time.Duration) {
	defer s.wg.Done()

	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			s.metrics.RecordMemoryUsage(ms.HeapAlloc, ms.HeapSys, ms.HeapInuse)
			s.metrics.RecordGoroutines(runtime.NumGoroutine())
			s.metrics.RecordDaemonUptime(time.Since(s.started))
		}
	}
}

func (s *Service) handleSignals() {
	defer s.wg.Done()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-s.ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				s.logger.Info("received signal, shutting down", "signal", sig.String())
				s.signalStop()
				return
			case syscall.SIGHUP:
				s.logger.Info("received SIGHUP, reloading configuration")
				if err := s.reloadConfig(); err != nil {
					s.events.LogError(err, "failed to reload config", map[string]interface{}{
						"config_path": s.configPath,
					})
				}
			}
		}
	}
}

func (s *Service) reloadConfig() error {
	start := time.Now()

	newConfig, err := config.LoadConfig(s.configPath)
	if err != nil {
		s.metrics.RecordConfigReload(false, time.Since(start))
		return fmt.Errorf("failed to load config: %w", err)
	}

	s.applyConfig(newConfig)
	return nil
}

// applyConfig swaps in cfg and rebuilds the components it affects. Logging
// and observability settings take effect on restart.
func (s *Service) applyConfig(cfg *config.Config) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.config
	s.config = cfg

	s.refresher.Reconfigure(reloadComponents(prev, cfg, s.runner, s.logger))

	if cfg.Sampling.Interval != prev.Sampling.Interval {
		select {
		case s.intervalCh <- cfg.Sampling.Interval:
		default:
			// Replace a pending change nobody has picked up yet.
			select {
			case <-s.intervalCh:
			default:
			}
			s.intervalCh <- cfg.Sampling.Interval
		}
	}

	s.metrics.RecordConfigReload(true, time.Since(start))
	s.events.LogConfig(logging.LevelInfo, "configuration reloaded", s.watchPath, map[string]interface{}{
		"interval":        cfg.Sampling.Interval.String(),
		"sampler_rebuilt": !samplingEqual(prev.Sampling, cfg.Sampling),
	})
}

// Install registers the service to run "run" with the current config file.
func (s *Service) Install() (string, error) {
	args := []string{"run"}
	if s.configPath != "" {
		args = append(args, "--config", s.configPath)
	}
	return s.Daemon.Install(args...)
}

func (s *Service) Remove() (string, error) {
	return s.Daemon.Remove()
}

func (s *Service) Status() (string, error) {
	return s.Daemon.Status()
}

func (s *Service) StartService() (string, error) {
	return s.Daemon.Start()
}

func (s *Service) StopService() (string, error) {
	return s.Daemon.Stop()
}
