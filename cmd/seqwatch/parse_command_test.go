package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"seqwatch/internal/reads"
	"seqwatch/internal/testsupport"
)

func writeBatch(t *testing.T) string {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	path := filepath.Join(t.TempDir(), "batch.tsv")
	testsupport.WriteAnnotation(t, path, []reads.Record{
		{ReadID: "r1", Barcode: "NB01", Reference: "chr1", Start: 10, MappedLength: 100, ReadLength: 120, Time: now},
		{ReadID: "r2", Barcode: "NB01", Reference: reads.Unmapped, ReadLength: 80, Time: now},
		{ReadID: "r3", Barcode: "NB02", Reference: "chr2", Start: 0, MappedLength: 50, ReadLength: 50, Time: now},
	})
	testsupport.AppendFile(t, path, "broken\trow\n")
	return path
}

func TestParseCommandSummarizes(t *testing.T) {
	path := writeBatch(t)

	// No configuration exists in the environment; parse must not need one.
	t.Setenv("HOME", t.TempDir())
	out, _, err := runCLI(t, "parse", path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	requireContains(t, out, path+": 3 records, 2 mapped, 1 skipped rows")
	requireContains(t, out, "NB01")
	requireContains(t, out, "NB02")
	requireContains(t, out, "line 4:")
}

func TestParseCommandJSON(t *testing.T) {
	path := writeBatch(t)
	t.Setenv("HOME", t.TempDir())

	out, _, err := runCLI(t, "--json", "parse", path)
	if err != nil {
		t.Fatalf("parse --json: %v", err)
	}
	var summaries []parseSummary
	if err := json.Unmarshal([]byte(out), &summaries); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	got := summaries[0]
	if got.Records != 3 || got.Mapped != 2 || got.Barcodes["NB01"] != 2 || got.Barcodes["NB02"] != 1 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if len(got.Warnings) != 1 || got.Warnings[0].Line != 4 {
		t.Fatalf("unexpected warnings %+v", got.Warnings)
	}
}

func TestParseCommandMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, _, err := runCLI(t, "parse", filepath.Join(t.TempDir(), "missing.tsv"))
	if err == nil || !strings.Contains(err.Error(), "missing.tsv") {
		t.Fatalf("expected open error, got %v", err)
	}
}
