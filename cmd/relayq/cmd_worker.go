package main

import (
	"log/slog"

	"github.com/BranchIntl/relayq/pipeline"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the video-processing and notification workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		if err := a.registerWorkers(); err != nil {
			return err
		}

		slog.Info("Starting workers",
			"queues", []string{pipeline.QueueVideoProcessing, pipeline.QueueNotification},
			"memory", cfg.Memory,
		)
		return a.engine.Run(cmd.Context())
	},
}

func init() {
	flags := workerCmd.Flags()
	flags.IntVar(&cfg.Pipeline.VideoConcurrency, "video-concurrency", cfg.Pipeline.VideoConcurrency, "Concurrent video-processing jobs")
	flags.IntVar(&cfg.Pipeline.NotificationConcurrency, "notification-concurrency", cfg.Pipeline.NotificationConcurrency, "Concurrent notification jobs")
	flags.Int64Var(&cfg.Pipeline.NotificationLimit, "notification-limit", cfg.Pipeline.NotificationLimit, "Notifications per window (0 disables)")
	flags.DurationVar(&cfg.Pipeline.NotificationWindow, "notification-window", cfg.Pipeline.NotificationWindow, "Notification rate limit window")
}
