// Package samplesheet loads YAML sample sheets that group barcodes into
// samples:
//
//	title: Flowcell 7
//	samples:
//	  SampleX: [NB01, NB02]
//	  SampleY: [NB03]
package samplesheet

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"seqwatch/internal/config"
	"seqwatch/internal/reads"
	"seqwatch/internal/services"
)

// Sheet is a parsed sample sheet.
type Sheet struct {
	Title   string              `yaml:"title"`
	Samples map[string][]string `yaml:"samples"`
}

// Load reads and parses the sheet at path.
func Load(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "samplesheet", "open", path, err)
	}
	defer f.Close()
	sheet, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sheet, nil
}

// Parse decodes a sheet. Unknown top-level keys are rejected.
func Parse(r io.Reader) (*Sheet, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var sheet Sheet
	if err := decoder.Decode(&sheet); err != nil && !errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrConfiguration, "samplesheet", "parse", "", err)
	}
	sheet.Title = strings.TrimSpace(sheet.Title)
	return &sheet, nil
}

// Mapping converts the sheet into a barcode mapping. A barcode listed under
// two samples, or an invalid barcode, is an error.
func (s *Sheet) Mapping() (reads.Mapping, error) {
	owner := make(map[string]string)
	for _, sample := range slices.Sorted(maps.Keys(s.Samples)) {
		name := strings.TrimSpace(sample)
		if name == "" {
			return reads.Mapping{}, invalid("sample with empty name")
		}
		if name == reads.UnassignedSample {
			return reads.Mapping{}, invalid(fmt.Sprintf("sample name %q is reserved", name))
		}
		for _, barcode := range s.Samples[sample] {
			barcode = strings.TrimSpace(barcode)
			if !reads.ValidBarcode(barcode) {
				return reads.Mapping{}, invalid(fmt.Sprintf("sample %s: invalid barcode %q", name, barcode))
			}
			if prev, ok := owner[barcode]; ok && prev != name {
				return reads.Mapping{}, invalid(fmt.Sprintf("barcode %s listed under %s and %s", barcode, prev, name))
			}
			owner[barcode] = name
		}
	}
	return reads.NewMapping(owner), nil
}

// Merge overlays sheet assignments on the config barcode table.
func Merge(table map[string]string, sheet reads.Mapping) reads.Mapping {
	return reads.NewMapping(table).With(sheet.Pairs())
}

// Resolve returns the run title and the barcode mapping described by cfg: the
// [samples.barcodes] table overlaid with samples.sheet when one is set. A
// non-empty sheet title replaces samples.title.
func Resolve(cfg *config.Config) (string, reads.Mapping, error) {
	title := cfg.Samples.Title
	if strings.TrimSpace(cfg.Samples.Sheet) == "" {
		return title, reads.NewMapping(cfg.Samples.Barcodes), nil
	}
	sheet, err := Load(cfg.Samples.Sheet)
	if err != nil {
		return "", reads.Mapping{}, err
	}
	mapping, err := sheet.Mapping()
	if err != nil {
		return "", reads.Mapping{}, fmt.Errorf("%s: %w", cfg.Samples.Sheet, err)
	}
	if sheet.Title != "" {
		title = sheet.Title
	}
	return title, Merge(cfg.Samples.Barcodes, mapping), nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrConfiguration, "samplesheet", "validate", message, nil)
}
