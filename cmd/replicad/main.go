package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schaermu/replicad/internal/config"
	"github.com/schaermu/replicad/internal/daemon"
	"github.com/schaermu/replicad/internal/notify"
	"github.com/schaermu/replicad/internal/report"
	"github.com/schaermu/replicad/internal/sync"
	"github.com/schaermu/replicad/internal/trigger"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Engine flags (override the config file)
	sourceDir  string
	replicaDir string
	interval   int
	logFile    string
	onError    string
	watch      bool
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicad",
	Short: "One-way directory replication with audit logging",
	Long: `replicad keeps a replica directory structurally and byte-wise identical to
a source directory. Each cycle re-walks both trees, converges the replica,
and verifies every mirrored file with a content digest. Every change and
every verification result is written to an append-only audit log and echoed
to the console.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a single reconciliation cycle and exit",
	Long: `Sync snapshots the source and replica trees, applies the operations needed
to converge the replica, verifies the mirrored files, and exits. Suitable
for running from a systemd timer or cron.`,
	RunE: runSync,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run reconciliation cycles on a fixed interval",
	Long: `Run starts the periodic daemon: one cycle, then a sleep for the remainder
of the interval, repeated until SIGINT or SIGTERM. Cycles never overlap; a
cycle that outruns the interval rolls straight into the next one.

With --watch the source tree is monitored and changes trigger an early
cycle; the interval still acts as a backstop.`,
	RunE: runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon with an HTTP trigger endpoint",
	Long: `Serve runs the periodic daemon and additionally listens for HTTP requests:
POST /sync triggers an immediate cycle (HMAC-signed when a secret is
configured), GET /status returns the last cycle report as JSON, and
GET /healthz reports liveness. The listener supports systemd socket
activation.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("replicad %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/replicad/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Engine flags shared by sync, run and serve
	for _, cmd := range []*cobra.Command{syncCmd, runCmd, serveCmd} {
		cmd.Flags().StringVar(&sourceDir, "source", "", "source root (read-only)")
		cmd.Flags().StringVar(&replicaDir, "replica", "", "replica root to converge")
		cmd.Flags().IntVar(&interval, "interval", 0, "cycle interval in seconds")
		cmd.Flags().StringVar(&logFile, "log-file", "", "append-only audit log path")
		cmd.Flags().StringVar(&onError, "on-error", "", "per-entry failure policy (continue, abort)")
	}
	runCmd.Flags().BoolVar(&watch, "watch", false, "trigger early cycles on source changes")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "trigger early cycles on source changes")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	audit, engine, err := setupEngine(cfg, logger, dryRun)
	if err != nil {
		return err
	}
	defer func() {
		_ = audit.Close()
	}()

	if report, err := engine.RunCycle(ctx); err != nil {
		if report == nil {
			// The cycle never produced a report, so nothing reached the
			// audit stream yet.
			audit.CycleSkipped(err)
		}
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Sync.Watch = cfg.Sync.Watch || watch

	audit, engine, err := setupEngine(cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = audit.Close()
	}()

	d := daemon.New(cfg, engine, logger, notify.NewClient())
	return d.Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Sync.Watch = cfg.Sync.Watch || watch
	cfg.Serve.Enabled = true

	audit, engine, err := setupEngine(cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = audit.Close()
	}()

	d := daemon.New(cfg, engine, logger, notify.NewClient())
	srv, err := trigger.NewServer(cfg, d, logger)
	if err != nil {
		return fmt.Errorf("failed to create trigger server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- d.Run(ctx) }()
	go func() { errCh <- srv.Start(ctx) }()

	// First component to exit decides; the second follows the cancel.
	err = <-errCh
	cancel()
	if second := <-errCh; err == nil {
		err = second
	}
	return err
}

// setupEngine opens the audit sink, validates both roots (fatal before the
// first cycle) and records the run parameters.
func setupEngine(cfg *config.Config, logger *slog.Logger, dryRun bool) (*report.Audit, *sync.Engine, error) {
	audit, err := report.Open(cfg.Log.File, os.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	engine := sync.NewEngine(cfg, logger, audit, dryRun)

	if err := engine.ValidateRoots(); err != nil {
		// Recorded on both surfaces before the process stops.
		audit.Fatal(err)
		logger.Error("startup validation failed", "error", err)
		_ = audit.Close()
		return nil, nil, err
	}

	audit.Startup(cfg.Paths.Source, cfg.Paths.Replica, cfg.Interval())
	return audit, engine, nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format. Diagnostics go to stderr; stdout is
	// reserved for the audit stream.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the config file when one is present and layers explicit
// CLI flags on top, so the daemon is runnable with flags alone.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config

	configPath := cfgFile
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "replicad", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
			}
		}
	}

	if configPath != "" {
		logger.Info("loading configuration", "path", configPath)
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Paths.Source = sourceDir
	}
	if flags.Changed("replica") {
		cfg.Paths.Replica = replicaDir
	}
	if flags.Changed("interval") {
		cfg.Sync.IntervalSeconds = interval
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("on-error") {
		cfg.Sync.OnError = config.OnErrorPolicy(onError)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"replica", cfg.Paths.Replica,
		"interval", cfg.Interval(),
		"log_file", cfg.Log.File)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
