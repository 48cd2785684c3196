package datastore

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"seqwatch/internal/reads"
)

// Aggregate is the immutable per-sample (or combined) view inside a Snapshot.
type Aggregate struct {
	Processed     int64              `json:"processed"`
	Mapped        int64              `json:"mapped"`
	Unmapped      int64              `json:"unmapped"`
	PerReference  map[string]int64   `json:"per_reference"`
	Coverage      map[string][]int64 `json:"coverage"`
	Temporal      TemporalSeries     `json:"temporal"`
	ReadLengths   []int64            `json:"read_lengths"`
	LengthSummary LengthSummary      `json:"length_summary"`
}

// TemporalSeries holds cumulative counts as of each time bin's upper edge.
// Series from different aggregates may differ in length; a shorter series
// holds its last value for the remaining bins.
type TemporalSeries struct {
	Processed []int64 `json:"processed"`
	Mapped    []int64 `json:"mapped"`
}

// LengthSummary is estimated from the read-length histogram bucket midpoints.
type LengthSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	N50    int64   `json:"n50"`
}

// At returns the cumulative processed and mapped counts at bin i.
func (s TemporalSeries) At(i int) (processed, mapped int64) {
	if len(s.Processed) == 0 || i < 0 {
		return 0, 0
	}
	if i >= len(s.Processed) {
		i = len(s.Processed) - 1
	}
	return s.Processed[i], s.Mapped[i]
}

// aggregate is the mutable working state behind an Aggregate. Temporal and
// length arrays hold per-bin counts; cumulative sums are built when frozen.
type aggregate struct {
	processed int64
	mapped    int64
	unmapped  int64
	perRef    map[string]int64
	coverage  map[string][]int64
	timeBins  []int64
	timeMaps  []int64
	lengths   []int64
}

func newAggregate() *aggregate {
	return &aggregate{
		perRef:   make(map[string]int64),
		coverage: make(map[string][]int64),
	}
}

// binner maps record fields onto histogram bins.
type binner interface {
	coverageSpan(ref string, start, end int64) (int, int, bool)
	timeBin(rec reads.Record) int
	lengthBin(rec reads.Record) int
	coverageBins() int
}

func (a *aggregate) add(rec reads.Record, b binner) {
	a.processed++
	tb := b.timeBin(rec)
	a.timeBins = growTo(a.timeBins, tb+1)
	a.timeMaps = growTo(a.timeMaps, tb+1)
	a.timeBins[tb]++

	lb := b.lengthBin(rec)
	a.lengths = growTo(a.lengths, lb+1)
	a.lengths[lb]++

	if !rec.Mapped() {
		a.unmapped++
		return
	}
	a.mapped++
	a.timeMaps[tb]++
	a.perRef[rec.Reference]++
	a.addCoverage(rec, b)
}

func (a *aggregate) addCoverage(rec reads.Record, b binner) {
	first, last, ok := b.coverageSpan(rec.Reference, rec.Start, rec.End())
	if !ok {
		return
	}
	bins, exists := a.coverage[rec.Reference]
	if !exists {
		bins = make([]int64, b.coverageBins())
		a.coverage[rec.Reference] = bins
	}
	for i := first; i <= last; i++ {
		bins[i]++
	}
}

func (a *aggregate) resetCoverage(ref string) {
	if bins, ok := a.coverage[ref]; ok {
		clear(bins)
	}
}

func growTo(s []int64, n int) []int64 {
	if len(s) >= n {
		return s
	}
	return append(s, make([]int64, n-len(s))...)
}

// freeze copies the working state into an immutable Aggregate, omitting
// hidden references from the per-reference and coverage maps.
func (a *aggregate) freeze(hidden map[string]bool, lengthWidth int64) *Aggregate {
	out := &Aggregate{
		Processed:    a.processed,
		Mapped:       a.mapped,
		Unmapped:     a.unmapped,
		PerReference: make(map[string]int64, len(a.perRef)),
		Coverage:     make(map[string][]int64, len(a.coverage)),
		Temporal: TemporalSeries{
			Processed: cumulative(a.timeBins),
			Mapped:    cumulative(a.timeMaps),
		},
		ReadLengths: slices.Clone(a.lengths),
	}
	if out.ReadLengths == nil {
		out.ReadLengths = []int64{}
	}
	for ref, count := range a.perRef {
		if hidden[ref] {
			continue
		}
		out.PerReference[ref] = count
	}
	for ref, bins := range a.coverage {
		if hidden[ref] {
			continue
		}
		out.Coverage[ref] = slices.Clone(bins)
	}
	out.LengthSummary = summarize(a.lengths, lengthWidth)
	return out
}

func cumulative(counts []int64) []int64 {
	out := make([]int64, len(counts))
	var total int64
	for i, c := range counts {
		total += c
		out[i] = total
	}
	return out
}

// summarize estimates mean, median and N50 from bucket midpoints.
func summarize(lengths []int64, width int64) LengthSummary {
	var (
		mids    []float64
		weights []float64
		bases   float64
	)
	for bucket, count := range lengths {
		if count == 0 {
			continue
		}
		mid := float64(int64(bucket)*width) + float64(width)/2
		mids = append(mids, mid)
		weights = append(weights, float64(count))
		bases += mid * float64(count)
	}
	if len(mids) == 0 {
		return LengthSummary{}
	}

	summary := LengthSummary{
		Mean:   stat.Mean(mids, weights),
		Median: stat.Quantile(0.5, stat.Empirical, mids, weights),
	}

	order := make([]int, len(mids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return mids[order[i]] > mids[order[j]] })
	var running float64
	for _, idx := range order {
		running += mids[idx] * weights[idx]
		if running >= bases/2 {
			summary.N50 = int64(mids[idx])
			break
		}
	}
	return summary
}
