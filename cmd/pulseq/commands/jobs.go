package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulseq/pulse/async"
	"github.com/teranos/pulseq/sym"
)

// RetryFailedCmd resets every failed job to pending
var RetryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: sym.Pulse + " Reset failed jobs to pending with a fresh attempt budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, config)
		if err != nil {
			return err
		}
		defer closeStore()

		count, err := newService(store, config).RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s Reset %d failed job(s) to pending\n", sym.Pulse, count)
		return nil
	},
}

// StatsCmd shows job counts by status
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: sym.Pulse + " Show job counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, config)
		if err != nil {
			return err
		}
		defer closeStore()

		stats, err := newService(store, config).Stats(ctx)
		if err != nil {
			return err
		}

		return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
			{"Status", "Jobs"},
			{string(async.JobStatusPending), strconv.Itoa(stats.Pending)},
			{string(async.JobStatusProcessing), strconv.Itoa(stats.Processing)},
			{string(async.JobStatusCompleted), strconv.Itoa(stats.Completed)},
			{string(async.JobStatusFailed), strconv.Itoa(stats.Failed)},
			{"total", strconv.Itoa(stats.Total)},
		}).Render()
	},
}

// LsCmd lists jobs, newest first
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: sym.Pulse + " List jobs",
	Long: `List jobs, newest first, optionally filtered by status.

Examples:
  pulseq ls                     # Last 20 jobs
  pulseq ls --status failed     # Failed jobs with their errors
  pulseq ls --limit 100`,
	RunE: runLs,
}

// PruneCmd deletes old terminal jobs
var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: sym.Pulse + " Delete completed and failed jobs older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		ctx := cmd.Context()
		store, closeStore, err := openStore(ctx, config)
		if err != nil {
			return err
		}
		defer closeStore()

		removed, err := store.CleanupOldJobs(ctx, olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("%s Pruned %d job(s) older than %s\n", sym.Pulse, removed, olderThan)
		return nil
	},
}

func init() {
	LsCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed)")
	LsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	PruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Age cutoff for completed and failed jobs")
}

func runLs(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	var status *async.JobStatus
	if statusFlag != "" {
		s, err := async.ParseStatus(statusFlag)
		if err != nil {
			return err
		}
		status = &s
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	jobs, err := store.ListJobs(ctx, status, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	return pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render()
}

// jobTable renders jobs as table rows with a header.
func jobTable(jobs []*async.Job) pterm.TableData {
	data := pterm.TableData{{"ID", "Queue", "Type", "Status", "Attempts", "Created", "Error"}}
	for _, job := range jobs {
		data = append(data, []string{
			strconv.FormatInt(job.ID, 10),
			job.Queue,
			job.JobType,
			string(job.Status),
			fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(job.Error, 60),
		})
	}
	return data
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
