package datastore

import (
	"math"
	"time"
)

// ReferenceEntry describes one reference in the panel. Entries are never
// removed once seen.
type ReferenceEntry struct {
	Name      string    `json:"name"`
	Length    int64     `json:"length"`
	Known     bool      `json:"known"`
	Visible   bool      `json:"visible"`
	FirstSeen time.Time `json:"first_seen"`
}

type reference struct {
	ReferenceEntry
	maxEnd int64
}

// grow doubles a provisional length until it covers end and reports whether
// the length changed. Known lengths never change.
func (r *reference) grow(end int64) bool {
	if end > r.maxEnd {
		r.maxEnd = end
	}
	if r.Known || end <= r.Length {
		return false
	}
	if r.Length <= 0 {
		r.Length = 1
	}
	for r.Length < end {
		if r.Length > math.MaxInt64/2 {
			r.Length = math.MaxInt64
			break
		}
		r.Length *= 2
	}
	return true
}
