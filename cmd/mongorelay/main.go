package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/orchestrator"
	"github.com/stratumhq/mongorelay/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mongorelay [migrate|cdc|verify|update|status]",
	Short: "MongoRelay - MongoDB collection replication engine",
	Long: `MongoRelay replicates collections between MongoDB clusters:
a checkpointed bulk copy for the initial load, change streams with a
polling fallback for continuous capture, a delete reconciler, and a
verifier that proves the target matches the source.

The mode argument defaults to migrate. Endpoints and tunables come
from the environment (SOURCE_URI, TARGET_URI, ...), with a .env file
in the working directory honored; flags override both.`,
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"MongoRelay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("collections", "collections.json", "Collection mappings file (JSON or YAML)")
	rootCmd.Flags().String("threads", "", "CDC polling fan-out: 'auto' for one worker per collection, or a count")
	rootCmd.Flags().Int("batch-size", 0, "Documents per batch")
	rootCmd.Flags().Bool("force-refresh", false, "Ignore polling checkpoints and rescan from zero")
	rootCmd.Flags().String("state-dir", "", "State directory root")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().Bool("log-json", false, "Log JSON instead of console format")
	rootCmd.Flags().String("log-file", "", "Also write JSON logs to this rotating file")
	rootCmd.Flags().String("metrics-addr", "", "Serve /metrics and health endpoints on this address")
}

func run(cmd *cobra.Command, args []string) error {
	mode := types.ModeMigrate
	if len(args) > 0 {
		mode = types.Mode(strings.ToLower(args[0]))
	}
	switch mode {
	case types.ModeMigrate, types.ModeCDC, types.ModeVerify, types.ModeUpdate, types.ModeStatus:
	default:
		return fmt.Errorf("unknown mode %q (valid: migrate, cdc, verify, update, status)", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		File:       cfg.LogFile,
	})
	metrics.SetVersion(Version)

	mappingsPath, _ := cmd.Flags().GetString("collections")
	mappings, err := config.LoadMappings(mappingsPath)
	if err != nil {
		return fmt.Errorf("failed to load collections: %v", err)
	}

	o, err := orchestrator.New(cfg, mappings)
	if err != nil {
		return err
	}

	// Status reads checkpoint files only; no connections, no signals.
	if mode == types.ModeStatus {
		fmt.Print(o.Status())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return o.Run(ctx, mode)
}

// applyFlags layers explicit flag values over the environment-derived
// configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if v, _ := cmd.Flags().GetString("threads"); v != "" {
		if strings.EqualFold(v, "auto") {
			cfg.Threads = 0
		} else {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --threads %q: want 'auto' or a positive count", v)
			}
			cfg.Threads = n
		}
	}
	if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
		cfg.BatchSize = v
	}
	if v, _ := cmd.Flags().GetBool("force-refresh"); v {
		cfg.ForceRefresh = true
	}
	if v, _ := cmd.Flags().GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		cfg.LogFile = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}
