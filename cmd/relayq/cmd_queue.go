package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/job"
	"github.com/spf13/cobra"
)

var outputJSON bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect job queues",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show job counts and counters of a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		if err := a.engine.Start(cmd.Context()); err != nil {
			return err
		}
		defer a.engine.Stop()

		counts, err := a.engine.Broker().Counts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		stats, err := a.engine.Statistics().GetQueueStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printQueueStats(cmd.OutOrStdout(), args[0], counts, stats, outputJSON)
	},
}

func init() {
	queueStatsCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")
	queueCmd.AddCommand(queueStatsCmd)
}

func printQueueStats(w io.Writer, name string, counts job.Counts, stats core.QueueStats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"queue":     name,
			"counts":    counts,
			"total":     counts.Total(),
			"processed": stats.Processed,
			"failed":    stats.Failed,
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tWAITING\tDELAYED\tACTIVE\tCOMPLETED\tFAILED\tPROCESSED")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
		name, counts.Waiting, counts.Delayed, counts.Active, counts.Completed, counts.Failed, stats.Processed)
	return tw.Flush()
}
