package datastore

import (
	"log/slog"
	"maps"
	"time"

	"seqwatch/internal/config"
	"seqwatch/internal/reads"
)

const (
	defaultCoverageBins    = 1000
	defaultTimeBin         = time.Minute
	defaultLengthBinWidth  = 100
	defaultReferenceLength = 1_000_000

	maxTimeBins   = 1 << 16
	maxLengthBins = 1 << 16
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	CoverageBins           int
	TimeBin                time.Duration
	LengthBinWidth         int64
	RecomputeDebounce      time.Duration
	ReferenceLengths       map[string]int64
	DefaultReferenceLength int64
	Filters                reads.FilterSpec
	Mapping                reads.Mapping
	Title                  string
	Logger                 *slog.Logger
}

// OptionsFromConfig builds store options from the aggregation, filters and
// samples sections. Reference lengths and the initial mapping are resolved by
// the caller because they may come from files.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CoverageBins:           cfg.Aggregation.CoverageBins,
		TimeBin:                cfg.TimeBin(),
		LengthBinWidth:         int64(cfg.Aggregation.LengthBinWidth),
		RecomputeDebounce:      cfg.RecomputeDebounce(),
		DefaultReferenceLength: cfg.Aggregation.DefaultReferenceLength,
		Filters: reads.FilterSpec{
			MinReadLength:   cfg.Filters.MinReadLength,
			MaxReadLength:   cfg.Filters.MaxReadLength,
			MinMappedLength: cfg.Filters.MinMappedLength,
		},
		Title: cfg.Samples.Title,
	}
}

func (o Options) withDefaults() Options {
	if o.CoverageBins <= 0 {
		o.CoverageBins = defaultCoverageBins
	}
	if o.TimeBin <= 0 {
		o.TimeBin = defaultTimeBin
	}
	if o.LengthBinWidth <= 0 {
		o.LengthBinWidth = defaultLengthBinWidth
	}
	if o.DefaultReferenceLength <= 0 {
		o.DefaultReferenceLength = defaultReferenceLength
	}
	if o.RecomputeDebounce < 0 {
		o.RecomputeDebounce = 0
	}
	o.ReferenceLengths = maps.Clone(o.ReferenceLengths)
	return o
}
