package datastore

import (
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"seqwatch/internal/logging"
	"seqwatch/internal/reads"
	"seqwatch/internal/services"
)

// Store owns read records, the reference panel and all aggregates.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	records  []reads.Record
	batches  map[string]struct{}
	filters  reads.FilterSpec
	mapping  reads.Mapping
	title    string
	refs     map[string]*reference
	refOrder []string

	origin     time.Time
	haveOrigin bool

	samples  map[string]*aggregate
	combined *aggregate
	frozen   map[string]*Aggregate
	dirty    map[string]struct{}
	allDirty bool

	pending bool
	timer   *time.Timer
	closed  bool
	version uint64

	snap    atomic.Pointer[Snapshot]
	changed chan struct{}
}

// New constructs an empty store.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "datastore"),
		batches:  make(map[string]struct{}),
		filters:  opts.Filters,
		mapping:  opts.Mapping,
		title:    opts.Title,
		refs:     make(map[string]*reference),
		samples:  make(map[string]*aggregate),
		combined: newAggregate(),
		dirty:    make(map[string]struct{}),
		changed:  make(chan struct{}, 1),
	}
	return s
}

// Ingest appends records and extends the aggregates under the active filters
// and mapping.
func (s *Store) Ingest(records ...reads.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestLocked(records)
}

// IngestBatch ingests records once per batch key. It reports false when the
// batch was already ingested.
func (s *Store) IngestBatch(batch string, records []reads.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch != "" {
		if _, seen := s.batches[batch]; seen {
			return false
		}
		s.batches[batch] = struct{}{}
	}
	s.ingestLocked(records)
	return true
}

// HasBatch reports whether batch was ingested through IngestBatch.
func (s *Store) HasBatch(batch string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[batch]
	return ok
}

func (s *Store) ingestLocked(records []reads.Record) {
	if len(records) == 0 {
		return
	}
	records = normalizeRecords(records)
	if !s.haveOrigin {
		s.origin = records[0].Time
		s.haveOrigin = true
	}

	previous := len(s.records)
	var grown []string
	for _, rec := range records {
		if !rec.Mapped() {
			continue
		}
		ref := s.seeReference(rec.Reference, rec.Time)
		if ref.grow(rec.End()) {
			grown = append(grown, rec.Reference)
		}
	}
	s.records = append(s.records, records...)

	if s.pending {
		return
	}
	for _, name := range grown {
		s.rebuildCoverage(name, s.records[:previous])
	}
	for _, rec := range records {
		s.accumulate(rec)
	}
	s.publishLocked()
}

// normalizeRecords returns copies with an empty reference marked unmapped,
// unmapped spans zeroed and coordinates clamped to [0, reads.MaxCoordinate].
func normalizeRecords(records []reads.Record) []reads.Record {
	out := make([]reads.Record, len(records))
	for i, rec := range records {
		if !rec.Mapped() {
			rec.Reference = reads.Unmapped
			rec.Start, rec.MappedLength = 0, 0
		}
		rec.Start = clampCoordinate(rec.Start)
		rec.MappedLength = clampCoordinate(rec.MappedLength)
		rec.ReadLength = clampCoordinate(rec.ReadLength)
		out[i] = rec
	}
	return out
}

func clampCoordinate(v int64) int64 {
	return min(max(v, 0), reads.MaxCoordinate)
}

func (s *Store) accumulate(rec reads.Record) {
	sample := s.mapping.SampleFor(rec.Barcode)
	agg, ok := s.samples[sample]
	if !ok {
		agg = newAggregate()
		s.samples[sample] = agg
	}
	s.dirty[sample] = struct{}{}
	if !s.filters.Accept(rec) {
		return
	}
	agg.add(rec, s)
	s.combined.add(rec, s)
}

// rebuildCoverage recounts one reference's coverage after its provisional
// length changed.
func (s *Store) rebuildCoverage(name string, records []reads.Record) {
	s.combined.resetCoverage(name)
	for sample, agg := range s.samples {
		if _, ok := agg.coverage[name]; ok {
			agg.resetCoverage(name)
			s.dirty[sample] = struct{}{}
		}
	}
	for _, rec := range records {
		if rec.Reference != name || !s.filters.Accept(rec) {
			continue
		}
		if agg, ok := s.samples[s.mapping.SampleFor(rec.Barcode)]; ok {
			agg.addCoverage(rec, s)
		}
		s.combined.addCoverage(rec, s)
	}
}

// recomputeLocked rebuilds every aggregate from the retained records in one
// traversal.
func (s *Store) recomputeLocked() {
	started := time.Now()
	s.samples = make(map[string]*aggregate)
	s.combined = newAggregate()
	for _, rec := range s.records {
		s.accumulate(rec)
	}
	s.allDirty = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.logger.Debug("aggregates recomputed",
		logging.String(logging.FieldEventType, "recompute_complete"),
		logging.Int("records", len(s.records)),
		logging.Int("samples", len(s.samples)),
		logging.Duration("elapsed", time.Since(started)),
	)
}

// SetFilters replaces the filter spec and requests a full recompute.
func (s *Store) SetFilters(spec reads.FilterSpec) error {
	if err := spec.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "datastore", "set filters", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = spec
	s.requestRecomputeLocked()
	return nil
}

// SetBarcodeMapping replaces the barcode mapping and requests a full recompute.
func (s *Store) SetBarcodeMapping(mapping reads.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapping = mapping
	s.requestRecomputeLocked()
}

// EditBarcodeMapping applies barcode assignments to the current mapping
// atomically and requests a full recompute. An empty sample unassigns.
func (s *Store) EditBarcodeMapping(assign map[string]string) reads.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapping = s.mapping.With(assign)
	s.requestRecomputeLocked()
	return s.mapping
}

func (s *Store) requestRecomputeLocked() {
	if s.closed {
		return
	}
	if s.opts.RecomputeDebounce <= 0 {
		s.recomputeLocked()
		s.publishLocked()
		return
	}
	s.pending = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.RecomputeDebounce, s.runPendingRecompute)
	}
}

func (s *Store) runPendingRecompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if !s.pending || s.closed {
		return
	}
	s.recomputeLocked()
	s.publishLocked()
}

// Flush runs a pending recompute immediately. It is a no-op when none is pending.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return
	}
	s.recomputeLocked()
	s.publishLocked()
}

// Pending reports whether a recompute is queued.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// MarkReferenceSeen adds name to the reference panel if it is new.
func (s *Store) MarkReferenceSeen(name string) {
	if name == "" || name == reads.Unmapped {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[name]; ok {
		return
	}
	s.seeReference(name, time.Now().UTC())
	if !s.pending {
		s.publishLocked()
	}
}

func (s *Store) seeReference(name string, seen time.Time) *reference {
	if ref, ok := s.refs[name]; ok {
		return ref
	}
	ref := &reference{ReferenceEntry: ReferenceEntry{Name: name, Visible: true, FirstSeen: seen}}
	if length, ok := s.opts.ReferenceLengths[name]; ok && length > 0 {
		ref.Length = length
		ref.Known = true
	} else {
		ref.Length = s.opts.DefaultReferenceLength
	}
	s.refs[name] = ref
	s.refOrder = append(s.refOrder, name)
	return ref
}

// SetReferenceVisible toggles whether a reference appears in snapshot
// coverage and per-reference maps. Counts are unaffected.
func (s *Store) SetReferenceVisible(name string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[name]
	if !ok {
		return services.Wrap(services.ErrNotFound, "datastore", "toggle reference", name, nil)
	}
	if ref.Visible == visible {
		return nil
	}
	ref.Visible = visible
	s.allDirty = true
	if !s.pending {
		s.publishLocked()
	}
	return nil
}

// SetTitle updates the dashboard title.
func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	if !s.pending {
		s.publishLocked()
	}
}

// State returns the current filters, mapping and title.
func (s *Store) State() (reads.FilterSpec, reads.Mapping, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters, s.mapping, s.title
}

// References returns the reference panel in first-seen order.
func (s *Store) References() []ReferenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referenceEntriesLocked()
}

func (s *Store) referenceEntriesLocked() []ReferenceEntry {
	out := make([]ReferenceEntry, 0, len(s.refOrder))
	for _, name := range s.refOrder {
		out = append(out, s.refs[name].ReferenceEntry)
	}
	return out
}

// Snapshot returns the latest published snapshot without locking. It reports
// false until at least one record has been ingested.
func (s *Store) Snapshot() (*Snapshot, bool) {
	snap := s.snap.Load()
	if snap == nil || snap.Records == 0 {
		return nil, false
	}
	return snap, true
}

// Changed signals after each publish. Signals coalesce; receivers should read
// the latest snapshot rather than count signals.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// Close stops any pending recompute timer. Later requests recompute nothing.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) publishLocked() {
	s.version++
	hidden := make(map[string]bool)
	for name, ref := range s.refs {
		if !ref.Visible {
			hidden[name] = true
		}
	}

	perSample := make(map[string]*Aggregate, len(s.samples))
	for name, agg := range s.samples {
		if !s.allDirty {
			if _, dirty := s.dirty[name]; !dirty {
				if prev, ok := s.frozen[name]; ok {
					perSample[name] = prev
					continue
				}
			}
		}
		perSample[name] = agg.freeze(hidden, s.opts.LengthBinWidth)
	}
	s.frozen = perSample
	clear(s.dirty)
	s.allDirty = false

	samples := make(map[string][]string)
	for _, name := range s.mapping.Samples() {
		samples[name] = s.mapping.Barcodes(name)
	}

	snap := &Snapshot{
		Version:        s.version,
		GeneratedAt:    time.Now().UTC(),
		Title:          s.title,
		Records:        len(s.records),
		Filters:        s.filters,
		Samples:        samples,
		Combined:       s.combined.freeze(hidden, s.opts.LengthBinWidth),
		PerSample:      perSample,
		References:     s.referenceEntriesLocked(),
		TemporalOrigin: s.origin,
		TimeBinSeconds: s.opts.TimeBin.Seconds(),
		CoverageBins:   s.opts.CoverageBins,
		LengthBinWidth: s.opts.LengthBinWidth,
	}
	s.snap.Store(snap)

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Store) coverageBins() int {
	return s.opts.CoverageBins
}

// coverageSpan returns the inclusive bin range intersecting [start, end).
func (s *Store) coverageSpan(name string, start, end int64) (int, int, bool) {
	ref, ok := s.refs[name]
	if !ok || end <= start || ref.Length <= 0 {
		return 0, 0, false
	}
	length := ref.Length
	if start >= length {
		start = length - 1
	}
	if end > length {
		end = length
	}
	if end <= start {
		end = start + 1
	}
	n := uint64(s.opts.CoverageBins)
	first := mulDiv(uint64(start), n, 0, uint64(length))
	last := mulDiv(uint64(end), n, uint64(length-1), uint64(length))
	if last > 0 {
		last--
	}
	if last >= n {
		last = n - 1
	}
	if last < first {
		last = first
	}
	return int(first), int(last), true
}

// mulDiv returns (a*b + add) / d using 128-bit intermediates. Callers keep
// the quotient within 64 bits (a <= d).
func mulDiv(a, b, add, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	lo, carry := bits.Add64(lo, add, 0)
	hi += carry
	q, _ := bits.Div64(hi, lo, d)
	return q
}

// timeBin maps a record onto the temporal series. The origin is the time of
// the first record ever ingested and stays fixed, so bin 0 holds every record
// at or before the origin, including earlier-stamped reads that arrive later.
// Far-future timestamps clamp to the last bin.
func (s *Store) timeBin(rec reads.Record) int {
	if !s.haveOrigin || !rec.Time.After(s.origin) {
		return 0
	}
	return int(min(int64(rec.Time.Sub(s.origin)/s.opts.TimeBin), maxTimeBins-1))
}

// lengthBin puts reads beyond the histogram range in the last bucket.
func (s *Store) lengthBin(rec reads.Record) int {
	return int(min(rec.ReadLength/s.opts.LengthBinWidth, maxLengthBins-1))
}
