package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List tracked transcription jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Jobs)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(stdout, "No jobs tracked")
					return nil
				}
				fmt.Fprintln(stdout, renderJobTable(resp.Jobs, time.Now()))
				return nil
			})
		},
	}
	jobsCmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (queued, processing, completed, failed)")
	jobsCmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")

	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show details for a tracked job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				stdout := cmd.OutOrStdout()
				job := resp.Job
				fmt.Fprintf(stdout, "Job:         %s\n", job.ID)
				fmt.Fprintf(stdout, "Status:      %s\n", job.Status)
				fmt.Fprintf(stdout, "Progress:    %s\n", formatProgress(job.Progress))
				fmt.Fprintf(stdout, "Last update: %s (%s ago)\n",
					job.LastUpdate.Format(time.RFC3339), formatAge(time.Since(job.LastUpdate)))
				fmt.Fprintf(stdout, "Corrections: %d attempted, in flight: %s\n",
					job.CorrectionAttempts, yesNo(job.CorrectionInFlight))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newTrackCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "track <job-id>",
		Short: "Register a job for status tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Track(args[0], status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s (%s)\n", resp.Job.ID, resp.Job.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Initial job status (defaults to processing)")
	return cmd
}

func newUntrackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <job-id>",
		Short: "Stop tracking a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Untrack(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s\n", args[0])
				return nil
			})
		},
	}
}

func renderJobTable(jobs []ipc.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Status,
			formatProgress(job.Progress),
			formatAge(now.Sub(job.LastUpdate)),
			fmt.Sprintf("%d", job.CorrectionAttempts),
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Progress", "Updated", "Corrections"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func formatProgress(progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return fmt.Sprintf("%.0f%%", progress*100)
}

func formatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	default:
		return strings.TrimSuffix(age.Round(time.Minute).String(), "0s") + " ago"
	}
}
