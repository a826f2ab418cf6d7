package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/ipc"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				if status.Healthy {
					fmt.Fprintln(stdout, renderStatusLine("Backend", statusOK, "reachable", colorize))
					return nil
				}
				detail := fmt.Sprintf("unreachable after %d consecutive failures", status.ConsecutiveFailures)
				fmt.Fprintln(stdout, renderStatusLine("Backend", statusError, detail, colorize))
				if status.NextHealthCheck > 0 {
					fmt.Fprintf(stdout, "Next check in %s (run `quill health retry` to probe now)\n",
						status.NextHealthCheck.Round(time.Second))
				}
				return nil
			})
		},
	}

	healthCmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Probe the backend immediately, skipping the backoff wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.RetryHealth(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Health probe requested")
				return nil
			})
		},
	})

	return healthCmd
}
