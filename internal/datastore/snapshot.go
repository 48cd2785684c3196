package datastore

import (
	"time"

	"seqwatch/internal/reads"
)

// Snapshot is an immutable point-in-time view of the store. Callers must not
// modify any map or slice reachable from it.
type Snapshot struct {
	Version        uint64                `json:"version"`
	GeneratedAt    time.Time             `json:"generated_at"`
	Title          string                `json:"title"`
	Records        int                   `json:"records"`
	Filters        reads.FilterSpec      `json:"filters"`
	Samples        map[string][]string   `json:"samples"`
	Combined       *Aggregate            `json:"combined"`
	PerSample      map[string]*Aggregate `json:"per_sample"`
	References     []ReferenceEntry      `json:"references"`
	TemporalOrigin time.Time             `json:"temporal_origin"`
	TimeBinSeconds float64               `json:"time_bin_seconds"`
	CoverageBins   int                   `json:"coverage_bins"`
	LengthBinWidth int64                 `json:"length_bin_width"`
}

// Sample returns the aggregate for name, or nil.
func (s *Snapshot) Sample(name string) *Aggregate {
	if s == nil {
		return nil
	}
	return s.PerSample[name]
}

// Reference returns the panel entry for name.
func (s *Snapshot) Reference(name string) (ReferenceEntry, bool) {
	if s == nil {
		return ReferenceEntry{}, false
	}
	for _, entry := range s.References {
		if entry.Name == name {
			return entry, true
		}
	}
	return ReferenceEntry{}, false
}
