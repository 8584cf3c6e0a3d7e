package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stratumhq/mongorelay/pkg/api"
	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/health"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/monitor"
	"github.com/stratumhq/mongorelay/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// pingerFunc adapts a bare ping function to the metrics collector's
// Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mongorelay-monitor",
	Short: "MongoRelay monitor - live replication progress from checkpoint files",
	Long: `mongorelay-monitor watches a MongoRelay state directory and renders
per-collection progress: copied counts, polling watermarks, resume
token presence and throughput estimates from checkpoint history.

It reads checkpoint files only and never queries the replicated
collections, so it is free to run beside a live migration. The
clusters are pinged for the health endpoints when reachable; when
they are not, the table still renders.

Logs go to stderr; the table owns stdout.`,
	Version: Version,
	Args:    cobra.NoArgs,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"MongoRelay monitor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("collections", "collections.json", "Collection mappings file (JSON or YAML)")
	rootCmd.Flags().String("state-dir", "", "State directory root")
	rootCmd.Flags().Duration("interval", config.DefaultMonitorRefresh, "Refresh interval")
	rootCmd.Flags().String("listen", ":9216", "Address for /metrics, health and /progress endpoints")
	rootCmd.Flags().Duration("max-checkpoint-age", 15*time.Minute, "Age at which checkpoints count as stale in /health")
	rootCmd.Flags().String("engine-addr", "", "Metrics address of the engine process to probe (host:port)")
	rootCmd.Flags().Bool("once", false, "Print one snapshot and exit")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().String("log-file", "", "Also write JSON logs to this rotating file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	if v, _ := cmd.Flags().GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		cfg.LogFile = v
	}

	log.Init(log.Config{
		Level:  log.Level(cfg.LogLevel),
		Output: os.Stderr,
		File:   cfg.LogFile,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("monitor")

	mappingsPath, _ := cmd.Flags().GetString("collections")
	mappings, err := config.LoadMappings(mappingsPath)
	if err != nil {
		return fmt.Errorf("failed to load collections: %v", err)
	}

	store, err := checkpoint.Open(cfg.StateBackend, cfg.ProgressDir())
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %v", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		fmt.Print(monitor.Render(monitor.Snapshot(store, mappings)))
		return nil
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	listenAddr, _ := cmd.Flags().GetString("listen")
	maxAge, _ := cmd.Flags().GetDuration("max-checkpoint-age")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cluster pings feed /ready and the endpoint gauges. A monitor with no
	// reachable clusters still renders: the table comes from files.
	clients := client.NewManager(cfg)
	connected := true
	if err := clients.Connect(ctx); err != nil {
		connected = false
		logger.Warn().Err(err).Msg("Clusters unreachable, serving file state only")
	} else {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := clients.Close(closeCtx); err != nil {
				logger.Warn().Err(err).Msg("Failed to disconnect cleanly")
			}
		}()
	}

	collector := metrics.NewCollector(store, mappings)
	if connected {
		collector.AddPinger("source", pingerFunc(clients.PingSource))
		collector.AddPinger("target", pingerFunc(clients.PingTarget))
	}
	collector.Start()
	defer collector.Stop()

	// File-state checks run on the health runner. The grace period covers
	// the initial sync: a monitor attached before the first batch lands
	// would otherwise flap /ready on the missing checkpoint files.
	checkCfg := health.DefaultConfig()
	checkCfg.StartPeriod = maxAge
	runner := health.NewRunner(checkCfg)
	runner.Register("state", health.NewStateDirChecker(cfg.StateDir))
	runner.Register("checkpoint_age", health.NewCheckpointAgeChecker(cfg.ProgressDir(), maxAge))
	if engineAddr, _ := cmd.Flags().GetString("engine-addr"); engineAddr != "" {
		runner.Register("engine", health.NewEngineChecker(engineAddr))
	}
	go runner.Run(ctx)

	server := api.NewServer(store, mappings)
	go func() {
		if err := server.Start(listenAddr); err != nil {
			logger.Error().Err(err).Str("addr", listenAddr).Msg("Listener failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Listener shutdown failed")
		}
	}()

	logger.Info().
		Str("state_dir", cfg.StateDir).
		Str("listen", listenAddr).
		Dur("interval", interval).
		Int("collections", len(mappings)).
		Msg("Monitor started")

	fmt.Print("\033[2J") // clear once; each frame repaints from home
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		refresh(store, mappings, cfg, logger)

		select {
		case <-ctx.Done():
			fmt.Println("\nMonitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// refresh assembles one snapshot, persists history and the current view,
// and repaints the table.
func refresh(store checkpoint.Store, mappings []types.CollectionMapping, cfg *config.Config, logger zerolog.Logger) {
	statuses := monitor.Snapshot(store, mappings)

	if err := monitor.UpdateHistory(store, statuses); err != nil {
		logger.Warn().Err(err).Msg("Failed to update checkpoint history")
	}
	if err := monitor.SaveCurrent(cfg.ProgressDir(), statuses); err != nil {
		logger.Warn().Err(err).Msg("Failed to save monitor snapshot")
	}

	fmt.Print("\033[H")
	fmt.Println("=== MongoRelay Live Monitor ===")
	fmt.Printf("Time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Println("Press Ctrl+C to exit")
	fmt.Println()
	fmt.Print(monitor.Render(statuses))
}
