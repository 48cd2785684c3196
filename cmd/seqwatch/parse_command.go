package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"seqwatch/internal/ingest"
	"seqwatch/internal/reads"
)

type parseSummary struct {
	Path     string                `json:"path"`
	Records  int                   `json:"records"`
	Mapped   int                   `json:"mapped"`
	Barcodes map[string]int        `json:"barcodes"`
	Warnings []ingest.ParseWarning `json:"warnings,omitempty"`
}

func newParseCommand(ctx *commandContext) *cobra.Command {
	var showWarnings int

	cmd := &cobra.Command{
		Use:         "parse <file>...",
		Short:       "Parse annotation files offline and summarize them",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries := make([]parseSummary, 0, len(args))
			for _, path := range args {
				result, err := ingest.ParseFile(path)
				if err != nil {
					return err
				}
				summaries = append(summaries, summarize(path, result))
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, summaries)
			}
			out := cmd.OutOrStdout()
			for _, summary := range summaries {
				printSummary(cmd, summary, showWarnings)
			}
			if len(summaries) > 1 {
				total := 0
				for _, summary := range summaries {
					total += summary.Records
				}
				fmt.Fprintf(out, "%d files, %d records\n", len(summaries), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&showWarnings, "warnings", 5, "Number of skipped rows to print per file")
	return cmd
}

func summarize(path string, result ingest.Result) parseSummary {
	summary := parseSummary{
		Path:     path,
		Records:  len(result.Records),
		Barcodes: make(map[string]int),
		Warnings: result.Warnings,
	}
	for _, rec := range result.Records {
		if rec.Mapped() {
			summary.Mapped++
		}
		barcode := rec.Barcode
		if barcode == "" {
			barcode = reads.UnassignedSample
		}
		summary.Barcodes[barcode]++
	}
	return summary
}

func printSummary(cmd *cobra.Command, summary parseSummary, showWarnings int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d records, %d mapped, %d skipped rows\n",
		summary.Path, summary.Records, summary.Mapped, len(summary.Warnings))

	barcodes := slices.Sorted(maps.Keys(summary.Barcodes))
	rows := make([][]string, 0, len(barcodes))
	for _, barcode := range barcodes {
		rows = append(rows, []string{barcode, strconv.Itoa(summary.Barcodes[barcode])})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Barcode", "Reads"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	for i, warning := range summary.Warnings {
		if i == showWarnings {
			fmt.Fprintf(out, "  ... %d more\n", len(summary.Warnings)-showWarnings)
			break
		}
		fmt.Fprintf(out, "  line %d: %s\n", warning.Line, warning.Reason)
	}
}
