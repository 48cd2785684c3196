package datastore_test

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"seqwatch/internal/datastore"
	"seqwatch/internal/reads"
	"seqwatch/internal/services"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rec(id, barcode, ref string, start, mapped, length int64, offset time.Duration) reads.Record {
	if ref == "" {
		ref = reads.Unmapped
		start, mapped = 0, 0
	}
	return reads.Record{ReadID: id, Barcode: barcode, Reference: ref, Start: start, MappedLength: mapped, ReadLength: length, Time: t0.Add(offset)}
}

func mustSnapshot(t *testing.T, s *datastore.Store) *datastore.Snapshot {
	t.Helper()
	snap, ok := s.Snapshot()
	if !ok {
		t.Fatal("expected snapshot")
	}
	return snap
}

func TestSnapshotAbsentBeforeData(t *testing.T) {
	s := datastore.New(datastore.Options{})
	if _, ok := s.Snapshot(); ok {
		t.Fatal("expected no snapshot before ingest")
	}
	s.SetTitle("run 42")
	if _, ok := s.Snapshot(); ok {
		t.Fatal("title change must not produce data")
	}
}

func TestIngestSampleScenario(t *testing.T) {
	s := datastore.New(datastore.Options{Mapping: reads.NewMapping(map[string]string{"NB01": "SampleX"})})
	s.Ingest(
		reads.Record{ReadID: "r1", Barcode: "NB01", Reference: "genomeA", Start: 100, MappedLength: 50, ReadLength: 200, Time: time.Unix(5, 0)},
		reads.Record{ReadID: "r2", Barcode: "NB01", Reference: reads.Unmapped, ReadLength: 200, Time: time.Unix(7, 0)},
	)

	snap := mustSnapshot(t, s)
	x := snap.Sample("SampleX")
	if x == nil {
		t.Fatal("expected SampleX aggregate")
	}
	if x.Mapped != 1 || x.Processed != 2 || x.Unmapped != 1 {
		t.Fatalf("unexpected SampleX counts: %+v", x)
	}
	if snap.Combined.Mapped != 1 || snap.Combined.Processed != 2 {
		t.Fatalf("unexpected combined counts: %+v", snap.Combined)
	}
	if x.PerReference["genomeA"] != 1 {
		t.Fatalf("expected one genomeA read, got %v", x.PerReference)
	}
	if _, ok := snap.Reference("genomeA"); !ok {
		t.Fatal("expected genomeA in reference panel")
	}
	if _, ok := snap.Reference(reads.Unmapped); ok {
		t.Fatal("unmapped must not enter the reference panel")
	}
}

func TestUnassignedMovesAfterRemap(t *testing.T) {
	s := datastore.New(datastore.Options{})
	s.Ingest(rec("a", "NB07", "genomeA", 0, 100, 300, 0), rec("b", "NB07", "", 0, 0, 100, time.Second))

	snap := mustSnapshot(t, s)
	if u := snap.Sample(reads.UnassignedSample); u == nil || u.Processed != 2 {
		t.Fatalf("expected both reads unassigned, got %+v", u)
	}

	s.SetBarcodeMapping(reads.NewMapping(map[string]string{"NB07": "Patient7"}))
	snap = mustSnapshot(t, s)
	if snap.Sample(reads.UnassignedSample) != nil {
		t.Fatal("unassigned bucket should be empty after remap")
	}
	if p := snap.Sample("Patient7"); p == nil || p.Processed != 2 || p.Mapped != 1 {
		t.Fatalf("expected reads under Patient7, got %+v", p)
	}
	if got := snap.Samples["Patient7"]; !slices.Equal(got, []string{"NB07"}) {
		t.Fatalf("unexpected sample barcodes: %v", got)
	}
}

func TestEditBarcodeMappingKeepsOtherAssignments(t *testing.T) {
	s := datastore.New(datastore.Options{Mapping: reads.NewMapping(map[string]string{"NB01": "A", "NB02": "B"})})
	s.Ingest(rec("1", "NB01", "", 0, 0, 10, 0), rec("2", "NB02", "", 0, 0, 10, 0))

	mapping := s.EditBarcodeMapping(map[string]string{"NB02": "A"})
	if mapping.SampleFor("NB01") != "A" || mapping.SampleFor("NB02") != "A" {
		t.Fatalf("unexpected mapping %v", mapping.Pairs())
	}
	snap := mustSnapshot(t, s)
	if snap.Sample("B") != nil || snap.Sample("A").Processed != 2 {
		t.Fatalf("expected both reads in A, got %+v", snap.PerSample)
	}
}

func TestFiltersRecompute(t *testing.T) {
	s := datastore.New(datastore.Options{})
	s.Ingest(rec("short", "NB01", "genomeA", 0, 50, 80, 0), rec("long", "NB01", "genomeA", 0, 900, 1000, 0))

	if err := s.SetFilters(reads.FilterSpec{MinReadLength: 500}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	snap := mustSnapshot(t, s)
	if snap.Combined.Processed != 1 || snap.Records != 2 {
		t.Fatalf("expected one accepted of two retained, got processed=%d records=%d", snap.Combined.Processed, snap.Records)
	}

	if err := s.SetFilters(reads.FilterSpec{}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	if snap := mustSnapshot(t, s); snap.Combined.Processed != 2 {
		t.Fatalf("clearing filters should restore all reads, got %d", snap.Combined.Processed)
	}

	err := s.SetFilters(reads.FilterSpec{MinReadLength: 10, MaxReadLength: 5})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCoverageBinsIntersectingSpan(t *testing.T) {
	s := datastore.New(datastore.Options{
		CoverageBins:     10,
		ReferenceLengths: map[string]int64{"genomeA": 1000},
	})
	s.Ingest(
		rec("a", "NB01", "genomeA", 150, 200, 200, 0), // [150,350) -> bins 1..3
		rec("b", "NB01", "genomeA", 900, 500, 500, 0), // clamps to bin 9
		rec("c", "NB01", "genomeA", 400, 0, 50, 0),    // empty span
	)
	got := mustSnapshot(t, s).Combined.Coverage["genomeA"]
	want := []int64{0, 1, 1, 1, 0, 0, 0, 0, 0, 1}
	if !slices.Equal(got, want) {
		t.Fatalf("coverage = %v, want %v", got, want)
	}
	entry, _ := mustSnapshot(t, s).Reference("genomeA")
	if !entry.Known || entry.Length != 1000 {
		t.Fatalf("unexpected reference entry %+v", entry)
	}
}

func TestProvisionalLengthDoublesAndRebuilds(t *testing.T) {
	s := datastore.New(datastore.Options{CoverageBins: 10, DefaultReferenceLength: 1000})
	s.Ingest(rec("a", "NB01", "genomeB", 0, 500, 500, 0))
	if got := mustSnapshot(t, s).Combined.Coverage["genomeB"]; !slices.Equal(got, []int64{1, 1, 1, 1, 1, 0, 0, 0, 0, 0}) {
		t.Fatalf("initial coverage = %v", got)
	}

	s.Ingest(rec("b", "NB01", "genomeB", 1500, 100, 100, 0))
	snap := mustSnapshot(t, s)
	entry, _ := snap.Reference("genomeB")
	if entry.Known || entry.Length != 2000 {
		t.Fatalf("expected provisional length 2000, got %+v", entry)
	}
	want := []int64{1, 1, 1, 0, 0, 0, 0, 1, 0, 0}
	if got := snap.Combined.Coverage["genomeB"]; !slices.Equal(got, want) {
		t.Fatalf("rebuilt coverage = %v, want %v", got, want)
	}
	if got := snap.Sample(reads.UnassignedSample).Coverage["genomeB"]; !slices.Equal(got, want) {
		t.Fatalf("sample coverage = %v, want %v", got, want)
	}
}

func TestHiddenReferenceOmittedButCounted(t *testing.T) {
	s := datastore.New(datastore.Options{CoverageBins: 4})
	s.Ingest(rec("a", "NB01", "genomeA", 0, 10, 10, 0), rec("b", "NB01", "phiX", 0, 10, 10, 0))

	if err := s.SetReferenceVisible("phiX", false); err != nil {
		t.Fatalf("SetReferenceVisible: %v", err)
	}
	snap := mustSnapshot(t, s)
	if _, ok := snap.Combined.Coverage["phiX"]; ok {
		t.Fatal("hidden reference should be omitted from coverage")
	}
	if _, ok := snap.Combined.PerReference["phiX"]; ok {
		t.Fatal("hidden reference should be omitted from per-reference counts")
	}
	if snap.Combined.Mapped != 2 {
		t.Fatalf("hidden reference must still count as mapped, got %d", snap.Combined.Mapped)
	}
	entry, _ := snap.Reference("phiX")
	if entry.Visible {
		t.Fatal("expected phiX hidden in panel")
	}

	if err := s.SetReferenceVisible("nope", true); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SetReferenceVisible("phiX", true); err != nil {
		t.Fatalf("SetReferenceVisible: %v", err)
	}
	if _, ok := mustSnapshot(t, s).Combined.Coverage["phiX"]; !ok {
		t.Fatal("expected phiX coverage after re-enabling")
	}
}

func TestMarkReferenceSeenIdempotent(t *testing.T) {
	s := datastore.New(datastore.Options{})
	s.MarkReferenceSeen("genomeA")
	s.MarkReferenceSeen("genomeA")
	s.MarkReferenceSeen(reads.Unmapped)
	refs := s.References()
	if len(refs) != 1 || refs[0].Name != "genomeA" {
		t.Fatalf("unexpected panel: %+v", refs)
	}
}

func TestTemporalSeriesCumulative(t *testing.T) {
	s := datastore.New(datastore.Options{TimeBin: time.Minute})
	s.Ingest(
		rec("a", "NB01", "genomeA", 0, 10, 10, 0),
		rec("b", "NB01", "", 0, 0, 10, 30*time.Second),
		rec("c", "NB01", "genomeA", 0, 10, 10, 150*time.Second),
		rec("early", "NB01", "genomeA", 0, 10, 10, -time.Hour),
	)
	series := mustSnapshot(t, s).Combined.Temporal
	if !slices.Equal(series.Processed, []int64{3, 3, 4}) {
		t.Fatalf("processed = %v", series.Processed)
	}
	if !slices.Equal(series.Mapped, []int64{2, 2, 3}) {
		t.Fatalf("mapped = %v", series.Mapped)
	}
	if p, m := series.At(10); p != 4 || m != 3 {
		t.Fatalf("At past end = %d/%d", p, m)
	}
}

func TestLengthSummaryFromHistogram(t *testing.T) {
	s := datastore.New(datastore.Options{LengthBinWidth: 100})
	s.Ingest(
		rec("a", "NB01", "", 0, 0, 120, 0),  // bucket 1, midpoint 150
		rec("b", "NB01", "", 0, 0, 130, 0),  // bucket 1
		rec("c", "NB01", "", 0, 0, 950, 0),  // bucket 9, midpoint 950
	)
	agg := mustSnapshot(t, s).Combined
	if len(agg.ReadLengths) != 10 || agg.ReadLengths[1] != 2 || agg.ReadLengths[9] != 1 {
		t.Fatalf("unexpected histogram %v", agg.ReadLengths)
	}
	if want := (150.0*2 + 950) / 3; agg.LengthSummary.Mean != want {
		t.Fatalf("mean = %v, want %v", agg.LengthSummary.Mean, want)
	}
	if agg.LengthSummary.Median != 150 {
		t.Fatalf("median = %v", agg.LengthSummary.Median)
	}
	if agg.LengthSummary.N50 != 950 {
		t.Fatalf("n50 = %d", agg.LengthSummary.N50)
	}
}

func TestIngestBatchOnce(t *testing.T) {
	s := datastore.New(datastore.Options{})
	batch := []reads.Record{rec("a", "NB01", "genomeA", 0, 10, 10, 0)}
	if !s.IngestBatch("run1.annotated.tsv", batch) {
		t.Fatal("first ingest should be accepted")
	}
	if s.IngestBatch("run1.annotated.tsv", batch) {
		t.Fatal("second ingest of the same batch should be rejected")
	}
	if !s.HasBatch("run1.annotated.tsv") {
		t.Fatal("expected batch recorded")
	}
	if got := mustSnapshot(t, s).Records; got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestDebouncedRecomputeCoalesces(t *testing.T) {
	s := datastore.New(datastore.Options{RecomputeDebounce: time.Hour})
	defer s.Close()
	s.Ingest(rec("a", "NB01", "genomeA", 0, 10, 100, 0))
	before := mustSnapshot(t, s)

	if err := s.SetFilters(reads.FilterSpec{MinReadLength: 150}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	s.Ingest(rec("b", "NB01", "genomeA", 0, 10, 200, time.Second))
	s.SetBarcodeMapping(reads.NewMapping(map[string]string{"NB01": "S1"}))

	if !s.Pending() {
		t.Fatal("expected pending recompute")
	}
	if now := mustSnapshot(t, s); now.Version != before.Version {
		t.Fatal("no snapshot may be published while a recompute is pending")
	}

	s.Flush()
	if s.Pending() {
		t.Fatal("flush should clear pending state")
	}
	after := mustSnapshot(t, s)
	if after.Version != before.Version+1 {
		t.Fatalf("expected exactly one publish, versions %d -> %d", before.Version, after.Version)
	}
	if after.Records != 2 || after.Combined.Processed != 1 || after.Sample("S1") == nil {
		t.Fatalf("expected latest filter and mapping applied: %+v", after.Combined)
	}
}

func TestDebounceTimerPublishes(t *testing.T) {
	s := datastore.New(datastore.Options{RecomputeDebounce: 10 * time.Millisecond})
	defer s.Close()
	s.Ingest(rec("a", "NB01", "genomeA", 0, 10, 100, 0))
	<-s.Changed()

	if err := s.SetFilters(reads.FilterSpec{MinReadLength: 500}); err != nil {
		t.Fatalf("SetFilters: %v", err)
	}
	select {
	case <-s.Changed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced recompute")
	}
	if got := mustSnapshot(t, s).Combined.Processed; got != 0 {
		t.Fatalf("expected filter applied, processed=%d", got)
	}
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	s := datastore.New(datastore.Options{Mapping: reads.NewMapping(map[string]string{"NB01": "A", "NB02": "B"})})
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := s.Snapshot()
				if !ok {
					continue
				}
				var processed, mapped int64
				for _, agg := range snap.PerSample {
					processed += agg.Processed
					mapped += agg.Mapped
				}
				if processed != snap.Combined.Processed || mapped != snap.Combined.Mapped {
					t.Errorf("torn snapshot v%d: %d/%d vs %d/%d", snap.Version, processed, mapped, snap.Combined.Processed, snap.Combined.Mapped)
					return
				}
			}
		}()
	}

	barcodes := []string{"NB01", "NB02", "NB03"}
	for i := 0; i < 200; i++ {
		s.Ingest(rec("r", barcodes[i%3], "genomeA", int64(i), 10, 50, time.Duration(i)*time.Second))
		if i%50 == 0 {
			_ = s.SetFilters(reads.FilterSpec{MinReadLength: int64(i % 2)})
		}
	}
	close(stop)
	wg.Wait()
}
