package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start tracking on the quill daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				if resp.Started {
					fmt.Fprintln(stdout, "Daemon started")
					return nil
				}
				if strings.TrimSpace(resp.Message) != "" {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
				return nil
			})
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop tracking on the quill daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopped {
					fmt.Fprintln(stdout, "Daemon stopped")
				} else {
					fmt.Fprintln(stdout, "Stop request sent")
				}
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Daemon Status", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range buildStatusLines(status, colorize) {
					fmt.Fprintln(stdout, line)
				}

				jobs, err := client.JobList(nil)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Tracked Jobs", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if len(jobs.Jobs) == 0 {
					fmt.Fprintln(stdout, "No jobs tracked")
					return nil
				}
				fmt.Fprintln(stdout, renderJobTable(jobs.Jobs, time.Now()))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func buildStatusLines(status *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 8)

	runningKind := statusWarn
	runningText := "stopped"
	if status.Running {
		runningKind = statusOK
		runningText = fmt.Sprintf("pid %d", status.PID)
	}
	lines = append(lines, renderStatusLine("Tracking", runningKind, runningText, colorize))

	if status.Healthy {
		lines = append(lines, renderStatusLine("Backend", statusOK, "reachable", colorize))
	} else {
		detail := fmt.Sprintf("unreachable (%d consecutive failures)", status.ConsecutiveFailures)
		if status.NextHealthCheck > 0 {
			detail = fmt.Sprintf("%s, next check in %s", detail, status.NextHealthCheck.Round(time.Second))
		}
		lines = append(lines, renderStatusLine("Backend", statusError, detail, colorize))
	}

	lines = append(lines,
		renderStatusLine("Polling", statusInfo, yesNo(status.PollingEnabled), colorize),
		renderStatusLine("Push events", statusInfo, yesNo(status.PushEnabled), colorize),
		renderStatusLine("Tracked jobs", statusInfo, fmt.Sprintf("%d", status.TrackedJobs), colorize),
		renderStatusLine("Corrections", statusInfo, fmt.Sprintf("%d in flight", status.InFlightCorrections), colorize),
		renderStatusLine("Socket", statusInfo, status.SocketPath, colorize),
	)
	return lines
}
