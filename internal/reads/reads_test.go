package reads_test

import (
	"math"
	"slices"
	"testing"

	"seqwatch/internal/reads"
)

func TestFilterSpecAccept(t *testing.T) {
	mapped := reads.Record{Reference: "genomeA", Start: 10, MappedLength: 80, ReadLength: 200}
	unmapped := reads.Record{Reference: reads.Unmapped, ReadLength: 200}

	tests := []struct {
		name   string
		filter reads.FilterSpec
		rec    reads.Record
		want   bool
	}{
		{"zero accepts", reads.FilterSpec{}, mapped, true},
		{"min read length rejects", reads.FilterSpec{MinReadLength: 500}, mapped, false},
		{"max read length rejects", reads.FilterSpec{MaxReadLength: 100}, mapped, false},
		{"max read length inclusive", reads.FilterSpec{MaxReadLength: 200}, mapped, true},
		{"min mapped rejects mapped", reads.FilterSpec{MinMappedLength: 100}, mapped, false},
		{"min mapped ignores unmapped", reads.FilterSpec{MinMappedLength: 100}, unmapped, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Accept(tc.rec); got != tc.want {
				t.Fatalf("Accept = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterSpecValidate(t *testing.T) {
	if err := (reads.FilterSpec{MinReadLength: -1}).Validate(); err == nil {
		t.Fatal("expected negative bound error")
	}
	if err := (reads.FilterSpec{MinReadLength: 300, MaxReadLength: 200}).Validate(); err == nil {
		t.Fatal("expected inverted range error")
	}
	if err := (reads.FilterSpec{MinReadLength: 300}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMappingEditsAndPruning(t *testing.T) {
	m := reads.NewMapping(map[string]string{"NB01": "SampleX", "NB02": "SampleX", "NB03": "SampleY", " ": "Z"})

	if got := m.SampleFor("NB01"); got != "SampleX" {
		t.Fatalf("NB01 -> %q", got)
	}
	if got := m.SampleFor("NB99"); got != reads.UnassignedSample {
		t.Fatalf("unknown barcode -> %q", got)
	}
	if got := m.Samples(); !slices.Equal(got, []string{"SampleX", "SampleY"}) {
		t.Fatalf("samples = %v", got)
	}

	next := m.With(map[string]string{"NB03": "", "NB02": "SampleZ"})
	if got := next.Samples(); !slices.Equal(got, []string{"SampleX", "SampleZ"}) {
		t.Fatalf("samples after edit = %v", got)
	}
	if got := next.SampleFor("NB03"); got != reads.UnassignedSample {
		t.Fatalf("removed barcode -> %q", got)
	}
	if got := m.SampleFor("NB03"); got != "SampleY" {
		t.Fatal("With must not mutate the receiver")
	}
	if got := next.Barcodes("SampleX"); !slices.Equal(got, []string{"NB01"}) {
		t.Fatalf("barcodes = %v", got)
	}
}

func TestZeroMappingIsUsable(t *testing.T) {
	var m reads.Mapping
	if m.SampleFor("NB01") != reads.UnassignedSample || m.Len() != 0 {
		t.Fatal("zero mapping should assign nothing")
	}
	if m.With(map[string]string{"NB01": "S"}).SampleFor("NB01") != "S" {
		t.Fatal("With on zero mapping should work")
	}
}

func TestRecordHelpers(t *testing.T) {
	rec := reads.Record{Reference: "genomeA", Start: 100, MappedLength: 50}
	if !rec.Mapped() || rec.End() != 150 {
		t.Fatalf("unexpected helpers: mapped=%v end=%d", rec.Mapped(), rec.End())
	}
}

func TestRecordUnmappedAndSaturatingEnd(t *testing.T) {
	for _, ref := range []string{"", reads.Unmapped} {
		if (reads.Record{Reference: ref}).Mapped() {
			t.Fatalf("reference %q should be unmapped", ref)
		}
	}
	rec := reads.Record{Reference: "genomeA", Start: math.MaxInt64 - 5, MappedLength: 100}
	if rec.End() != math.MaxInt64 {
		t.Fatalf("End = %d, want saturation", rec.End())
	}
}
