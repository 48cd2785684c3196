package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"seqwatch/internal/api"
	"seqwatch/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List annotation runs",
		Long: "List the runs held by the daemon. With --history, read the run ledger " +
			"directly; this works while the daemon is stopped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if history > 0 {
				return listHistory(cmd, ctx, history)
			}
			return ctx.withClient(func(client *api.Client) error {
				runs, err := client.Runs(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.RunListResponse{Runs: runs})
				}
				printRuns(cmd, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "Show the newest N runs from the ledger")
	cmd.AddCommand(newRunShowCommand(ctx))
	return cmd
}

func listHistory(cmd *cobra.Command, ctx *commandContext, limit int) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("run ledger is disabled (ledger.enabled = false)")
	}
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	runs := make([]api.Run, 0, len(entries))
	for _, entry := range entries {
		runs = append(runs, api.FromEntry(entry))
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.RunListResponse{Runs: runs})
	}
	printRuns(cmd, runs)
	return nil
}

func printRuns(cmd *cobra.Command, runs []api.Run) {
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Name,
			statusLabel(run.Status),
			run.CreatedAt,
			run.FinishedAt,
			truncate(run.Error, 48),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Batch file", "Status", "Created", "Finished", "Error"},
		rows,
		nil,
	))
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run and its message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				run, err := client.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.RunResponse{Run: run})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s: %s\n", run.ID, statusLabel(run.Status))
				fmt.Fprintf(out, "  Input:  %s\n  Output: %s\n", run.Input, run.Output)
				if run.Error != "" {
					fmt.Fprintf(out, "  Error:  %s\n", run.Error)
				}
				if len(run.Messages) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(run.Messages))
				for _, msg := range run.Messages {
					rows = append(rows, []string{msg.Timestamp, statusLabel(msg.Kind), msg.Content})
				}
				fmt.Fprintln(out, renderTable([]string{"Time", "Kind", "Message"}, rows, nil))
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running annotation run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				run, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.RunResponse{Run: run})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s (%s)\n", run.Name, statusLabel(run.Status))
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id>...",
		Short: "Remove finished runs from the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				for _, id := range args {
					if err := client.Clear(cmd.Context(), id); err != nil {
						return fmt.Errorf("clear %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", id)
				}
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
