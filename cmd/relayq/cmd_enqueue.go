package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <videoURL>",
	Short: "Submit a video for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		if err := a.engine.Start(cmd.Context()); err != nil {
			return err
		}
		defer a.engine.Stop()

		id, err := a.pipeline.SubmitVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s\n", id)
		return nil
	},
}
