package samplesheet_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"seqwatch/internal/samplesheet"
	"seqwatch/internal/services"
	"seqwatch/internal/testsupport"
)

const sheetYAML = `title: Flowcell 7
samples:
  SampleX: [NB01, NB02]
  SampleY:
    - NB03
`

func TestParseAndMapping(t *testing.T) {
	sheet, err := samplesheet.Parse(strings.NewReader(sheetYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sheet.Title != "Flowcell 7" {
		t.Fatalf("unexpected title %q", sheet.Title)
	}
	mapping, err := sheet.Mapping()
	if err != nil {
		t.Fatalf("Mapping: %v", err)
	}
	want := map[string]string{"NB01": "SampleX", "NB02": "SampleX", "NB03": "SampleY"}
	if got := mapping.Pairs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMappingRejectsBadSheets(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate barcode", "samples:\n  A: [NB01]\n  B: [NB01]\n"},
		{"invalid barcode", "samples:\n  A: [\"NB 01\"]\n"},
		{"empty sample name", "samples:\n  \"\": [NB01]\n"},
		{"reserved sample name", "samples:\n  unassigned: [NB01]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sheet, err := samplesheet.Parse(strings.NewReader(tc.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, err := sheet.Mapping(); !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := samplesheet.Parse(strings.NewReader("title: x\nbarcodes: {}\n"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveSheetWinsOverTable(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBarcodes(map[string]string{"NB01": "Old", "NB09": "Control"}))
	path := filepath.Join(testsupport.BaseDir(cfg), "samples.yaml")
	if err := os.WriteFile(path, []byte(sheetYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Samples.Sheet = path

	title, mapping, err := samplesheet.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if title != "Flowcell 7" {
		t.Fatalf("unexpected title %q", title)
	}
	want := map[string]string{"NB01": "SampleX", "NB02": "SampleX", "NB03": "SampleY", "NB09": "Control"}
	if got := mapping.Pairs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolveWithoutSheet(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBarcodes(map[string]string{"NB01": "SampleX"}))
	title, mapping, err := samplesheet.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if title != cfg.Samples.Title || mapping.SampleFor("NB01") != "SampleX" {
		t.Fatalf("unexpected result %q %v", title, mapping.Pairs())
	}
}

func TestResolveMissingSheet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Samples.Sheet = filepath.Join(testsupport.BaseDir(cfg), "missing.yaml")
	if _, _, err := samplesheet.Resolve(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
