package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulseq/cmd/pulseq/commands"
	"github.com/teranos/pulseq/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pulseq",
	Short: "pulseq - persistent database-backed job queue",
	Long: `pulseq - persistent database-backed job queue.

Jobs are stored in SQLite (default) or Postgres, claimed by workers one at a
time, retried on failure up to their attempt budget, and kept as failed
records until an operator retries them.

Available commands:
  worker        - Process jobs from a queue until interrupted
  dispatch      - Enqueue jobs
  retry-failed  - Reset failed jobs to pending
  stats         - Show job counts by status
  ls            - List jobs
  prune         - Delete old completed and failed jobs
  db            - Database operations
  am            - Show configuration ("I am")

Examples:
  pulseq worker --queue email          # Work the email queue
  pulseq dispatch mail --to a@b.c      # Enqueue an email
  pulseq stats                         # Counts by status
  pulseq am show                       # Effective configuration`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: commands.Setup,
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: merged system, user and project pulseq.toml)")

	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.DispatchCmd)
	rootCmd.AddCommand(commands.RetryFailedCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.PruneCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
