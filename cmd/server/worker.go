package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process pending collaboration tasks",
	Long: `Polls for pending collaboration tasks, answers them from the target
MindOp's data and records the outcome. With --once a single round is run
and its stats are printed as JSON.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if !workerOnce {
			return a.worker.Run(ctx)
		}
		stats, err := a.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run a single polling round and exit")
}
