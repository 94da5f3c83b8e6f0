// Command relayq runs the relayq HTTP server, relay and pipeline workers.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BranchIntl/relayq/config"
	"github.com/spf13/cobra"
)

var cfg = config.DefaultConfig()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relayq",
	Short: "relayq - job pipeline and real-time state relay",
	Long: "Runs the video processing pipeline on a shared job queue and keeps a shared " +
		"checkbox state in sync across every server instance.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr))
		return cfg.Validate()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "Log format (text, json)")
	flags.StringVar(&cfg.Redis.URI, "redis-url", cfg.Redis.URI, "Redis URI of the shared store and job queue")
	flags.StringVar(&cfg.Redis.Namespace, "namespace", cfg.Redis.Namespace, "Key prefix of job queues")
	flags.BoolVar(&cfg.Memory, "memory", false, "Keep store and queues in process (single node)")
	flags.DurationVar(&cfg.Engine.PollInterval, "poll-interval", cfg.Engine.PollInterval, "Idle queue poll interval")
	flags.DurationVar(&cfg.Engine.ShutdownTimeout, "shutdown-timeout", cfg.Engine.ShutdownTimeout, "Time allowed for in-flight jobs on shutdown")
	flags.BoolVar(&cfg.Engine.DisableStatistics, "no-stats", cfg.Engine.DisableStatistics, "Do not keep processed/failed counters")
	flags.DurationVar(&cfg.Pipeline.TranscodeDelay, "transcode-delay", cfg.Pipeline.TranscodeDelay, "Simulated video processing time")
	flags.IntVar(&cfg.Pipeline.Attempts, "attempts", cfg.Pipeline.Attempts, "Attempts per job (1 disables retries)")
	flags.DurationVar(&cfg.Pipeline.Backoff, "backoff", cfg.Pipeline.Backoff, "Base delay between job attempts")

	rootCmd.AddCommand(serveCmd, workerCmd, enqueueCmd, queueCmd)
}

// newLogger builds the process logger
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
