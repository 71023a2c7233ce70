package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timfallmk/hostpulse/internal/advice"
	"github.com/timfallmk/hostpulse/internal/logging"
)

// AppName is used for config directories and the service name.
const AppName = "hostpulse"

type Config struct {
	Sampling      SamplingConfig      `yaml:"sampling"`
	Security      SecurityConfig      `yaml:"security"`
	Shell         ShellConfig         `yaml:"shell"`
	Thresholds    Thresholds          `yaml:"thresholds"`
	Advice        AdviceConfig        `yaml:"advice"`
	Observability ObservabilityConfig `yaml:"observability"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Logging       logging.Config      `yaml:"logging"`
}

type SamplingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	HistorySize int           `yaml:"history_size"`
	// CPUInterval of zero measures CPU since the previous cycle.
	CPUInterval       time.Duration `yaml:"cpu_interval"`
	DiskPath          string        `yaml:"disk_path"`
	HostLookupTimeout time.Duration `yaml:"host_lookup_timeout"`
}

type SecurityConfig struct {
	AuthLogPaths    []string      `yaml:"auth_log_paths"`
	Marker          string        `yaml:"marker"`
	JournalCommand  string        `yaml:"journal_command"`
	JournalPriority int           `yaml:"journal_priority"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

type ShellConfig struct {
	HistoryPaths      []string      `yaml:"history_paths"`
	Window            int           `yaml:"window"`
	TopCommands       int           `yaml:"top_commands"`
	DangerousPatterns []string      `yaml:"dangerous_patterns"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
}

// Thresholds are the usage percentages at which figures turn warning and
// critical.
type Thresholds struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

type AdviceConfig struct {
	Tips []advice.Tip `yaml:"tips"`
	// Seed of zero seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

type ObservabilityConfig struct {
	MetricsFlushInterval time.Duration `yaml:"metrics_flush_interval"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	MaxSnapshotAge       time.Duration `yaml:"max_snapshot_age"`
	MinFreeDiskBytes     uint64        `yaml:"min_free_disk_bytes"`
	MaxHeapBytes         uint64        `yaml:"max_heap_bytes"`
}

type DaemonConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	PidFile     string `yaml:"pid_file"`
	WatchConfig bool   `yaml:"watch_config"`
}

func DefaultConfig() *Config {
	return &Config{
		Sampling: SamplingConfig{
			Interval:          1500 * time.Millisecond,
			HistorySize:       60,
			CPUInterval:       0,
			DiskPath:          "/",
			HostLookupTimeout: time.Second,
		},
		Security: SecurityConfig{
			AuthLogPaths:    []string{"/var/log/auth.log", "/var/log/secure"},
			Marker:          "Failed password",
			JournalCommand:  "journalctl",
			JournalPriority: 3,
			QueryTimeout:    5 * time.Second,
		},
		Shell: ShellConfig{
			HistoryPaths: []string{"~/.bash_history", "~/.zsh_history"},
			Window:       80,
			TopCommands:  3,
			DangerousPatterns: []string{
				"rm -rf /",
				"mkfs",
				":(){ :|:& };:",
				"chmod 777",
				"dd if=",
			},
			ReadTimeout: 2 * time.Second,
		},
		Thresholds: Thresholds{
			Warning:  50.0,
			Critical: 80.0,
		},
		Advice: AdviceConfig{
			Tips: advice.DefaultCatalog(),
		},
		Observability: ObservabilityConfig{
			MetricsFlushInterval: 60 * time.Second,
			HealthCheckInterval:  30 * time.Second,
			MaxSnapshotAge:       15 * time.Second,
			MinFreeDiskBytes:     100 << 20,
			MaxHeapBytes:         256 << 20,
		},
		Daemon: DaemonConfig{
			Name:        AppName,
			Description: "Single-host health monitor",
			PidFile:     "/var/run/hostpulse.pid",
			WatchConfig: true,
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults; an empty path uses the per-user default location.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = getDefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) SaveConfig(path string) error {
	if path == "" {
		path = getDefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// MinSamplingInterval is the shortest accepted refresh cadence.
const MinSamplingInterval = 100 * time.Millisecond

// ValidateDetailed returns every problem with the configuration.
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	s := c.Sampling
	if s.Interval <= 0 {
		add("sampling.interval", s.Interval, "must be positive")
	}
	if s.Interval < MinSamplingInterval {
		add("sampling.interval", s.Interval, fmt.Sprintf("must be at least %s", MinSamplingInterval))
	}
	if s.HistorySize < 1 {
		add("sampling.history_size", s.HistorySize, "must be at least 1")
	}
	if s.CPUInterval < 0 || (s.Interval > 0 && s.CPUInterval >= s.Interval) {
		add("sampling.cpu_interval", s.CPUInterval, "must be between 0 and the sampling interval")
	}
	if s.DiskPath == "" {
		add("sampling.disk_path", s.DiskPath, "must not be empty")
	}

	if c.Security.QueryTimeout <= 0 {
		add("security.query_timeout", c.Security.QueryTimeout, "must be positive")
	}
	if p := c.Security.JournalPriority; p < 0 || p > 7 {
		add("security.journal_priority", p, "must be between 0 and 7")
	}
	if c.Security.Marker == "" {
		add("security.marker", c.Security.Marker, "must not be empty")
	}

	if c.Shell.Window < 1 {
		add("shell.window", c.Shell.Window, "must be at least 1")
	}
	if c.Shell.TopCommands < 1 {
		add("shell.top_commands", c.Shell.TopCommands, "must be at least 1")
	}
	if c.Shell.ReadTimeout <= 0 {
		add("shell.read_timeout", c.Shell.ReadTimeout, "must be positive")
	}
	for i, p := range c.Shell.DangerousPatterns {
		if p == "" {
			add(fmt.Sprintf("shell.dangerous_patterns[%d]", i), p, "must not be empty")
		}
	}

	t := c.Thresholds
	if t.Warning < 0 || t.Critical > 100 {
		add("thresholds", fmt.Sprintf("%v/%v", t.Warning, t.Critical), "must be within 0-100")
	}
	if t.Warning >= t.Critical {
		add("thresholds.warning", t.Warning, "must be less than thresholds.critical")
	}

	for i, tip := range c.Advice.Tips {
		if tip.Command == "" {
			add(fmt.Sprintf("advice.tips[%d].command", i), tip.Command, "must not be empty")
		}
	}

	o := c.Observability
	if o.HealthCheckInterval <= 0 {
		add("observability.health_check_interval", o.HealthCheckInterval, "must be positive")
	}
	if o.MaxSnapshotAge > 0 && o.MaxSnapshotAge < c.Sampling.Interval {
		add("observability.max_snapshot_age", o.MaxSnapshotAge, "must not be shorter than sampling.interval")
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		add("logging.level", c.Logging.Level, "must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		add("logging.format", c.Logging.Format, "must be one of: text, json")
	}

	if c.Daemon.Name == "" {
		add("daemon.name", c.Daemon.Name, "must not be empty")
	}

	return errs
}

// Validate joins every ValidationError into one error.
func (c *Config) Validate() error {
	detailed := c.ValidateDetailed()
	if len(detailed) == 0 {
		return nil
	}

	errs := make([]error, len(detailed))
	for i, e := range detailed {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func getDefaultConfigPath() string {
	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		return filepath.Join(configDir, AppName, "config.yaml")
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".config", AppName, "config.yaml")
	}

	return "./config.yaml"
}

// GetConfigPaths lists the locations FindConfig searches, in order.
func GetConfigPaths() []string {
	paths := []string{getDefaultConfigPath()}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		p := filepath.Join(homeDir, ".config", AppName, "config.yaml")
		if p != paths[0] {
			paths = append(paths, p)
		}
	}

	paths = append(paths, filepath.Join("/etc", AppName, "config.yaml"))
	paths = append(paths, "./configs/config.yaml")

	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists.
var ErrNoConfig = errors.New("no config file found in standard locations")

func FindConfig() (string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return absPath, nil
		}
	}
	return "", ErrNoConfig
}
