package reads

import (
	"math"
	"regexp"
	"time"
)

const (
	// Unmapped is the reference name carried by reads that did not map.
	Unmapped = "unmapped"
	// UnassignedSample collects reads whose barcode has no sample mapping.
	UnassignedSample = "unassigned"
	// MaxCoordinate bounds start, mapped length and read length. It is far
	// beyond any real reference and keeps coordinate arithmetic in range.
	MaxCoordinate int64 = 1 << 40
)

// Record is one annotated read. Records are never mutated after ingestion.
type Record struct {
	ReadID       string    `json:"read_id"`
	Barcode      string    `json:"barcode"`
	Reference    string    `json:"reference"`
	Start        int64     `json:"start"`
	MappedLength int64     `json:"mapped_length"`
	ReadLength   int64     `json:"read_length"`
	Time         time.Time `json:"time"`
}

// Mapped reports whether the read was assigned to a reference. An empty
// reference counts as unmapped.
func (r Record) Mapped() bool {
	return r.Reference != Unmapped && r.Reference != ""
}

// End returns the exclusive end coordinate of the mapped span, saturating at
// math.MaxInt64.
func (r Record) End() int64 {
	if r.MappedLength > math.MaxInt64-r.Start {
		return math.MaxInt64
	}
	return r.Start + r.MappedLength
}

var barcodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidBarcode reports whether s is an acceptable barcode token.
func ValidBarcode(s string) bool {
	return barcodePattern.MatchString(s)
}
