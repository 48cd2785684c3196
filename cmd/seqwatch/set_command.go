package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"seqwatch/internal/api"
	"seqwatch/internal/changes"
)

func newSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <kind> key=value...",
		Short: "Change filters, barcode mapping, title or reference visibility",
		Long: `Apply a configuration change to the running daemon.

Kinds and keys:
  filters          min_read_length, max_read_length, min_mapped_length
  mapping          <barcode>=<sample> (empty sample unassigns)
  mapping_replace  <barcode>=<sample> (the complete mapping)
  title            title
  reference        name, visible`,
		Example: `  seqwatch set filters min_read_length=500
  seqwatch set mapping NB01=SampleX NB02=
  seqwatch set reference name=chrM visible=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseKeyValues(args[1:])
			if err != nil {
				return err
			}
			req := api.ChangeRequest{Kind: args[0], Values: values}
			// Reject malformed change-sets before contacting the daemon.
			if _, err := changes.FromKeyValues(req.Kind, req.Values); err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Change(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s change\n", resp.Kind)
				return nil
			})
		},
	}
}

func parseKeyValues(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", arg)
		}
		if _, dup := values[key]; dup {
			return nil, fmt.Errorf("key %q given more than once", key)
		}
		values[key] = value
	}
	return values, nil
}
