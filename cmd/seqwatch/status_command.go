package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"seqwatch/internal/api"
	"seqwatch/internal/pipeline"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, data and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				for _, line := range renderStatus(status, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func renderStatus(status api.DaemonStatus, colorize bool) []string {
	lines := renderSectionHeader("seqwatch", colorize)

	daemonKind, daemonMsg := statusOK, fmt.Sprintf("running (pid %d)", status.PID)
	if !status.Running {
		daemonKind, daemonMsg = statusWarn, "stopped"
	}
	lines = append(lines, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))
	if status.StartedAt != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
	}

	watchKind, watchMode := statusOK, "fsnotify"
	if status.Polling {
		watchKind, watchMode = statusWarn, "polling"
	}
	lines = append(lines, renderStatusLine("Watching", watchKind, fmt.Sprintf("%s (%s)", status.WatchDir, watchMode), colorize))

	ledger := "disabled"
	if status.LedgerPath != "" {
		ledger = status.LedgerPath
	}
	lines = append(lines, renderStatusLine("Ledger", statusInfo, ledger, colorize))
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Data", colorize)...)
	if status.Title != "" {
		lines = append(lines, renderStatusLine("Title", statusInfo, status.Title, colorize))
	}
	lines = append(lines, renderStatusLine("Records", statusInfo, fmt.Sprintf("%d (version %d)", status.Records, status.DataVersion), colorize))
	samples := "none assigned"
	if len(status.Samples) > 0 {
		samples = strings.Join(status.Samples, ", ")
	}
	lines = append(lines, renderStatusLine("Samples", statusInfo, samples, colorize))
	lines = append(lines, renderStatusLine("References", statusInfo, fmt.Sprintf("%d", status.References), colorize))
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Runs", colorize)...)
	for _, st := range []pipeline.Status{pipeline.StatusIdle, pipeline.StatusRunning, pipeline.StatusSuccess, pipeline.StatusError, pipeline.StatusClosed} {
		count := status.Runs[string(st)]
		kind := statusInfo
		if st == pipeline.StatusError && count > 0 {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(statusLabel(string(st)), kind, fmt.Sprintf("%d", count), colorize))
	}
	return lines
}
