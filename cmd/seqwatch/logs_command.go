package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seqwatch/internal/api"
	"seqwatch/internal/logging"
)

const followWait = 20 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var limit int
	var component string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				runCtx := cmd.Context()
				if follow {
					var stop context.CancelFunc
					runCtx, stop = signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
					defer stop()
				}
				out := cmd.OutOrStdout()
				var since uint64
				wait := time.Duration(0)
				for {
					page, err := client.WaitLogs(runCtx, since, limit, wait)
					if err != nil {
						if follow && runCtx.Err() != nil {
							return nil
						}
						return err
					}
					for _, evt := range page.Events {
						if component != "" && !strings.EqualFold(evt.Component, component) {
							continue
						}
						printLogEvent(out, evt, ctx.jsonOutput())
					}
					if n := len(page.Events); n > 0 {
						since = page.Events[n-1].Sequence
					} else {
						since = max(since, page.Next)
					}
					if !follow {
						return nil
					}
					wait = followWait
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum events per page")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	return cmd
}

func printLogEvent(out io.Writer, evt logging.LogEvent, jsonOut bool) {
	if jsonOut {
		if err := writeJSONLine(out, evt); err != nil {
			fmt.Fprintln(out, err)
		}
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", evt.Timestamp.Local().Format("15:04:05.000"), strings.ToUpper(evt.Level))
	if evt.Component != "" {
		fmt.Fprintf(&b, " [%s]", evt.Component)
	}
	b.WriteString(" ")
	b.WriteString(evt.Message)
	if evt.Batch != "" {
		fmt.Fprintf(&b, " batch=%s", evt.Batch)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
	}
	fmt.Fprintln(out, b.String())
}
