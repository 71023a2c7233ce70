package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/timfallmk/hostpulse/internal/census"
	"github.com/timfallmk/hostpulse/internal/config"
	"github.com/timfallmk/hostpulse/internal/daemon"
	"github.com/timfallmk/hostpulse/internal/history"
	"github.com/timfallmk/hostpulse/internal/logging"
	"github.com/timfallmk/hostpulse/internal/monitor"
)

var (
	// These are set by the build system via -ldflags.
	version   = "dev"     // Set via -X main.version=...
	buildTime = "unknown" // Set via -X main.buildTime=...
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Single-host health monitor",
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(flags),
		newSnapshotCmd(flags),
		newConfigCmd(flags),
		newKillCmd(flags),
	)
	for _, op := range serviceOps {
		root.AddCommand(newServiceCmd(flags, op))
	}

	return root
}

// loadConfiguration reads --config, or the first file on the search path, or
// the defaults. It returns the path that was used, if any.
func loadConfiguration(flags *globalFlags) (*config.Config, string, error) {
	path := flags.configPath
	if path == "" {
		found, err := config.FindConfig()
		if errors.Is(err, config.ErrNoConfig) {
			cfg := config.DefaultConfig()
			applyOverrides(cfg, flags)
			return cfg, "", nil
		}
		path = found
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	applyOverrides(cfg, flags)

	return cfg, path, nil
}

func applyOverrides(cfg *config.Config, flags *globalFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = logging.LogLevel(flags.logLevel)
	}
}

func setup(flags *globalFlags) (*config.Config, string, *logging.Logger, error) {
	cfg, path, err := loadConfiguration(flags)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, path, logger, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, logger, err := setup(flags)
			if err != nil {
				return err
			}
			defer logger.Close()

			service, err := daemon.NewService(cfg, path, logger)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			return service.Run()
		},
	}
}

type snapshotOutput struct {
	*monitor.Snapshot
	History *history.Window `json:"history,omitempty"`
}

func newSnapshotCmd(flags *globalFlags) *cobra.Command {
	var (
		cycles      int
		interval    time.Duration
		withHistory bool
		compact     bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take snapshots and print the last one as JSON",
		Long: "Runs the given number of refresh cycles and prints the final snapshot.\n" +
			"Network rates and process CPU need at least two cycles to be meaningful.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycles < 1 {
				return fmt.Errorf("--cycles must be at least 1, got %d", cycles)
			}

			cfg, _, logger, err := setup(flags)
			if err != nil {
				return err
			}
			defer logger.Close()

			if interval <= 0 {
				interval = cfg.Sampling.Interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := monitor.New(daemon.BuildComponents(cfg, nil, logger), logger, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			snap, err := takeSnapshots(ctx, r, cycles, interval)
			if err != nil {
				return err
			}

			out := snapshotOutput{Snapshot: snap}
			if withHistory {
				w := r.History()
				out.History = &w
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 2, "number of refresh cycles to run")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between cycles (default sampling.interval)")
	cmd.Flags().BoolVar(&withHistory, "history", false, "include the rolling metric history")
	cmd.Flags().BoolVar(&compact, "compact", false, "print JSON on one line")

	return cmd
}

func takeSnapshots(ctx context.Context, r *monitor.Refresher, cycles int, interval time.Duration) (*monitor.Snapshot, error) {
	var snap *monitor.Snapshot

	for i := 0; i < cycles; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}

		s, err := r.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh cycle %d: %w", i+1, err)
		}
		snap = s
	}

	return snap, nil
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfiguration(flags)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			w := cmd.OutOrStdout()
			if path != "" {
				fmt.Fprintf(w, "# loaded from %s\n", path)
			} else {
				fmt.Fprintln(w, "# built-in defaults")
			}
			_, err = w.Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetConfigPaths()[0]
			if len(args) == 1 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.DefaultConfig().SaveConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}
			if _, err := config.LoadConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(show, initCmd, validate)
	return cmd
}

func newKillCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <pid>",
		Short: "Send SIGTERM to a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}

			_, _, logger, err := setup(flags)
			if err != nil {
				return err
			}
			defer logger.Close()

			if err := census.New(nil, logger).Terminate(cmd.Context(), int32(pid)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to %d\n", pid)
			return nil
		},
	}
}

type serviceOp struct {
	use     string
	aliases []string
	short   string
	call    func(*daemon.Service) (string, error)
}

var serviceOps = []serviceOp{
	{"install", nil, "Install the monitor as a system service", (*daemon.Service).Install},
	{"remove", []string{"uninstall"}, "Remove the system service", (*daemon.Service).Remove},
	{"start", nil, "Start the installed service", (*daemon.Service).StartService},
	{"stop", nil, "Stop the running service", (*daemon.Service).StopService},
	{"status", nil, "Show the service status", (*daemon.Service).Status},
}

func newServiceCmd(flags *globalFlags, op serviceOp) *cobra.Command {
	return &cobra.Command{
		Use:     op.use,
		Aliases: op.aliases,
		Short:   op.short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, logger, err := setup(flags)
			if err != nil {
				return err
			}
			defer logger.Close()

			service, err := daemon.NewService(cfg, path, logger)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer service.Stop()

			status, err := op.call(service)
			if err != nil {
				return fmt.Errorf("%s failed: %w", op.use, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}
