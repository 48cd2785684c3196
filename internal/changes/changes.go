package changes

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"seqwatch/internal/reads"
	"seqwatch/internal/services"
)

// Change kinds accepted by FromKeyValues.
const (
	KindFilters        = "filters"
	KindMapping        = "mapping"
	KindMappingReplace = "mapping_replace"
	KindTitle          = "title"
	KindReference      = "reference"
)

// Change is one typed configuration change.
type Change interface {
	Kind() string
	isChange()
}

// FilterUpdate replaces the active filters wholesale.
type FilterUpdate struct {
	Filters reads.FilterSpec
}

// MappingUpdate edits barcode assignments. With Replace set the assignments
// become the whole mapping; otherwise they are applied on top of the current
// one and an empty sample unassigns the barcode.
type MappingUpdate struct {
	Assign  map[string]string
	Replace bool
}

// TitleUpdate renames the run.
type TitleUpdate struct {
	Title string
}

// ReferenceToggle shows or hides a reference in snapshots.
type ReferenceToggle struct {
	Reference string
	Visible   bool
}

func (FilterUpdate) Kind() string { return KindFilters }
func (u MappingUpdate) Kind() string {
	if u.Replace {
		return KindMappingReplace
	}
	return KindMapping
}
func (TitleUpdate) Kind() string     { return KindTitle }
func (ReferenceToggle) Kind() string { return KindReference }

func (FilterUpdate) isChange()    {}
func (MappingUpdate) isChange()   {}
func (TitleUpdate) isChange()     {}
func (ReferenceToggle) isChange() {}

// Target is the state a change applies to.
type Target interface {
	SetFilters(reads.FilterSpec) error
	SetBarcodeMapping(reads.Mapping)
	EditBarcodeMapping(assign map[string]string) reads.Mapping
	SetTitle(string)
	SetReferenceVisible(name string, visible bool) error
}

// Apply applies change to target.
func Apply(target Target, change Change) error {
	switch c := change.(type) {
	case FilterUpdate:
		return target.SetFilters(c.Filters)
	case MappingUpdate:
		if err := validateAssignments(c.Assign, c.Replace); err != nil {
			return err
		}
		if c.Replace {
			target.SetBarcodeMapping(reads.NewMapping(c.Assign))
		} else {
			target.EditBarcodeMapping(c.Assign)
		}
		return nil
	case TitleUpdate:
		target.SetTitle(strings.TrimSpace(c.Title))
		return nil
	case ReferenceToggle:
		return target.SetReferenceVisible(c.Reference, c.Visible)
	case nil:
		return invalid("apply", "no change given")
	default:
		return invalid("apply", fmt.Sprintf("unsupported change %T", change))
	}
}

// FromKeyValues converts a plain key/value change-set into a typed change.
//
//	filters          min_read_length, max_read_length, min_mapped_length
//	mapping          <barcode>=<sample>, empty sample unassigns
//	mapping_replace  <barcode>=<sample>, the complete mapping
//	title            title
//	reference        name, visible
func FromKeyValues(kind string, values map[string]string) (Change, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindFilters:
		return filtersFrom(values)
	case KindMapping, KindMappingReplace:
		replace := strings.EqualFold(strings.TrimSpace(kind), KindMappingReplace)
		assign := make(map[string]string, len(values))
		for barcode, sample := range values {
			assign[strings.TrimSpace(barcode)] = strings.TrimSpace(sample)
		}
		if err := validateAssignments(assign, replace); err != nil {
			return nil, err
		}
		return MappingUpdate{Assign: assign, Replace: replace}, nil
	case KindTitle:
		if err := onlyKeys(values, "title"); err != nil {
			return nil, err
		}
		title, ok := values["title"]
		if !ok {
			return nil, invalid("title", "missing key title")
		}
		return TitleUpdate{Title: title}, nil
	case KindReference:
		if err := onlyKeys(values, "name", "visible"); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(values["name"])
		if name == "" {
			return nil, invalid("reference", "missing key name")
		}
		visible, err := strconv.ParseBool(strings.TrimSpace(values["visible"]))
		if err != nil {
			return nil, invalid("reference", fmt.Sprintf("visible: %q is not a boolean", values["visible"]))
		}
		return ReferenceToggle{Reference: name, Visible: visible}, nil
	default:
		return nil, invalid("parse", fmt.Sprintf("unknown change kind %q", kind))
	}
}

func filtersFrom(values map[string]string) (Change, error) {
	if err := onlyKeys(values, "min_read_length", "max_read_length", "min_mapped_length"); err != nil {
		return nil, err
	}
	var spec reads.FilterSpec
	fields := map[string]*int64{
		"min_read_length":   &spec.MinReadLength,
		"max_read_length":   &spec.MaxReadLength,
		"min_mapped_length": &spec.MinMappedLength,
	}
	for key, dst := range fields {
		raw := strings.TrimSpace(values[key])
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalid("filters", fmt.Sprintf("%s: %q is not an integer", key, raw))
		}
		*dst = n
	}
	if err := spec.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "changes", "filters", "", err)
	}
	return FilterUpdate{Filters: spec}, nil
}

func validateAssignments(assign map[string]string, replace bool) error {
	if len(assign) == 0 && !replace {
		return invalid("mapping", "no barcode assignments given")
	}
	for _, barcode := range slices.Sorted(maps.Keys(assign)) {
		if !reads.ValidBarcode(barcode) {
			return invalid("mapping", fmt.Sprintf("invalid barcode %q", barcode))
		}
		sample := strings.TrimSpace(assign[barcode])
		if replace && sample == "" {
			return invalid("mapping", fmt.Sprintf("barcode %q has no sample", barcode))
		}
		if sample == reads.UnassignedSample {
			return invalid("mapping", fmt.Sprintf("sample name %q is reserved", sample))
		}
	}
	return nil
}

func onlyKeys(values map[string]string, allowed ...string) error {
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if !slices.Contains(allowed, key) {
			return invalid("parse", fmt.Sprintf("unknown key %q (allowed: %s)", key, strings.Join(allowed, ", ")))
		}
	}
	return nil
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrValidation, "changes", operation, message, nil)
}
