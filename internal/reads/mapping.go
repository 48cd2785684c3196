package reads

import (
	"maps"
	"slices"
	"strings"
)

// Mapping assigns barcodes to samples. A barcode belongs to exactly one sample
// and a sample exists only while at least one barcode maps to it. The zero
// value is an empty mapping. Mappings are immutable; edits return a new value.
type Mapping struct {
	byBarcode map[string]string
}

// NewMapping builds a mapping from barcode→sample pairs. Blank keys or values
// are dropped.
func NewMapping(pairs map[string]string) Mapping {
	m := Mapping{byBarcode: make(map[string]string, len(pairs))}
	for barcode, sample := range pairs {
		barcode = strings.TrimSpace(barcode)
		sample = strings.TrimSpace(sample)
		if barcode == "" || sample == "" {
			continue
		}
		m.byBarcode[barcode] = sample
	}
	return m
}

// SampleFor returns the sample for barcode, or UnassignedSample.
func (m Mapping) SampleFor(barcode string) string {
	if sample, ok := m.byBarcode[barcode]; ok {
		return sample
	}
	return UnassignedSample
}

// With returns a copy with the given barcode assignments applied. An empty
// sample removes the barcode.
func (m Mapping) With(assign map[string]string) Mapping {
	next := Mapping{byBarcode: maps.Clone(m.byBarcode)}
	if next.byBarcode == nil {
		next.byBarcode = make(map[string]string, len(assign))
	}
	for barcode, sample := range assign {
		barcode = strings.TrimSpace(barcode)
		sample = strings.TrimSpace(sample)
		if barcode == "" {
			continue
		}
		if sample == "" {
			delete(next.byBarcode, barcode)
			continue
		}
		next.byBarcode[barcode] = sample
	}
	return next
}

// Samples returns the sorted set of samples with at least one barcode.
func (m Mapping) Samples() []string {
	seen := make(map[string]struct{}, len(m.byBarcode))
	for _, sample := range m.byBarcode {
		seen[sample] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Barcodes returns the sorted barcodes assigned to sample.
func (m Mapping) Barcodes(sample string) []string {
	var out []string
	for barcode, s := range m.byBarcode {
		if s == sample {
			out = append(out, barcode)
		}
	}
	slices.Sort(out)
	return out
}

// Pairs returns a copy of the barcode→sample table.
func (m Mapping) Pairs() map[string]string {
	return maps.Clone(m.byBarcode)
}

// Len returns the number of mapped barcodes.
func (m Mapping) Len() int {
	return len(m.byBarcode)
}
