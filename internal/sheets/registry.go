// =============================================================================
// Excel Workflow - Sheet Registry
// =============================================================================
//
// This module defines the fixed set of sheets the workflow knows about and
// how each one is produced.
//
// SHEET KINDS:
//   1. Categories: the six source sheet types expected in every source
//      workbook (outpatient, inpatient, medication orders, oxygen therapy,
//      examinations, statistics). Each is read, normalised and written back
//      under its own name.
//   2. Listings: seven derived sheets (Lis01 .. LisA1) built from one or more
//      categories, e.g. the COVID test listing or the unique patient list.
//
// SELECTION:
//   A sheet can be referenced by key ("oxygen"), by sheet name ("氧疗信息")
//   or, for listings, by number (1 .. 7).
//
// =============================================================================

package sheets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ginjaninja78/excelflow/internal/types"
)

// ErrUnknownSheet is returned when a sheet reference matches no definition.
var ErrUnknownSheet = errors.New("unknown sheet")

// =============================================================================
// DEFINITION
// =============================================================================

// Kind distinguishes source categories from derived listings.
type Kind int

const (
	KindCategory Kind = iota
	KindListing
)

func (k Kind) String() string {
	if k == KindListing {
		return "listing"
	}
	return "category"
}

// Inputs holds the normalised source tables, keyed by category key.
type Inputs map[string]*types.Table

// TransformFunc builds one output sheet from its source tables.
type TransformFunc func(in Inputs) (*types.Table, error)

// Definition describes one output sheet.
type Definition struct {
	// Key is the stable identifier used in config files and on the CLI.
	Key string

	// Number is the listing number (1..7). Zero for categories.
	Number int

	// Name is the sheet name in source (categories) and output workbooks.
	Name string

	Kind Kind

	// Sources are the category keys whose sheets must be present.
	Sources []string

	// Columns is the fixed output header of a listing, or the expected
	// columns of a category (absence is a validation warning).
	Columns []string

	// Transform builds the output sheet.
	Transform TransformFunc
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is an ordered, immutable set of sheet definitions.
type Registry struct {
	defs  []*Definition
	byKey map[string]*Definition
}

// NewRegistry validates and indexes the given definitions. Keys and names
// must be unique and every source must name a category in the registry.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Definition, len(defs))}
	names := make(map[string]bool, len(defs))

	for _, d := range defs {
		if d.Key == "" || d.Name == "" || d.Transform == nil {
			return nil, fmt.Errorf("sheet definition %q is incomplete", d.Key)
		}
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate sheet key %q", d.Key)
		}
		if names[d.Name] {
			return nil, fmt.Errorf("duplicate sheet name %q", d.Name)
		}
		r.byKey[d.Key] = d
		names[d.Name] = true
		r.defs = append(r.defs, d)
	}

	for _, d := range r.defs {
		for _, src := range d.Sources {
			s, ok := r.byKey[src]
			if !ok || s.Kind != KindCategory {
				return nil, fmt.Errorf("sheet %q depends on unknown category %q", d.Key, src)
			}
		}
	}
	return r, nil
}

// DefaultRegistry returns the six source categories followed by the seven
// derived listings.
func DefaultRegistry() *Registry {
	defs := append(categoryDefinitions(), listingDefinitions()...)
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns every definition in registry order.
func (r *Registry) All() []*Definition {
	return append([]*Definition(nil), r.defs...)
}

// Get returns the definition with the given key.
func (r *Registry) Get(key string) (*Definition, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// Lookup resolves a key, sheet name or listing number. Keys are matched
// case-insensitively and names ignoring surrounding whitespace.
func (r *Registry) Lookup(ref string) (*Definition, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if n, err := strconv.Atoi(ref); err == nil {
		for _, d := range r.defs {
			if d.Kind == KindListing && d.Number == n {
				return d, true
			}
		}
		return nil, false
	}
	for _, d := range r.defs {
		if strings.EqualFold(d.Key, ref) || d.Name == ref {
			return d, true
		}
	}
	return nil, false
}

// Select resolves sheet references into definitions in registry order,
// without duplicates. An empty selection selects everything.
func (r *Registry) Select(refs []string) ([]*Definition, error) {
	if len(refs) == 0 {
		return r.All(), nil
	}

	wanted := make(map[string]bool, len(refs))
	for _, ref := range refs {
		d, ok := r.Lookup(ref)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSheet, ref)
		}
		wanted[d.Key] = true
	}

	var out []*Definition
	for _, d := range r.defs {
		if wanted[d.Key] {
			out = append(out, d)
		}
	}
	return out, nil
}

// SourceName returns the sheet name of a category key.
func (r *Registry) SourceName(key string) string {
	if d, ok := r.byKey[key]; ok {
		return d.Name
	}
	return key
}
