package reads

import (
	"errors"
	"fmt"
)

// FilterSpec holds the read predicates applied at aggregation time. A zero
// bound is disabled. Specs are replaced wholesale.
type FilterSpec struct {
	MinReadLength   int64 `json:"min_read_length"`
	MaxReadLength   int64 `json:"max_read_length"`
	MinMappedLength int64 `json:"min_mapped_length"`
}

// Validate rejects negative bounds and inverted read length ranges.
func (f FilterSpec) Validate() error {
	if f.MinReadLength < 0 || f.MaxReadLength < 0 || f.MinMappedLength < 0 {
		return errors.New("filter bounds must be >= 0")
	}
	if f.MaxReadLength > 0 && f.MaxReadLength < f.MinReadLength {
		return fmt.Errorf("max read length %d is below min read length %d", f.MaxReadLength, f.MinReadLength)
	}
	return nil
}

// Accept reports whether rec passes every active predicate. The mapped length
// bound only constrains mapped reads.
func (f FilterSpec) Accept(rec Record) bool {
	if f.MinReadLength > 0 && rec.ReadLength < f.MinReadLength {
		return false
	}
	if f.MaxReadLength > 0 && rec.ReadLength > f.MaxReadLength {
		return false
	}
	if f.MinMappedLength > 0 && rec.Mapped() && rec.MappedLength < f.MinMappedLength {
		return false
	}
	return true
}

// IsZero reports whether no predicate is active.
func (f FilterSpec) IsZero() bool {
	return f == FilterSpec{}
}
