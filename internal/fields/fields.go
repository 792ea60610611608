// Package fields turns the configured field mappings into the typed, read-only
// lookup tables the write pipeline consults for every record.
//
// Tables are built once before the first record and never mutated, so they
// are shared by all write tasks without locking.
package fields

import (
	"fmt"
	"sort"
	"strings"

	"github.com/observablehq/airbyte/internal/commonroom"
)

// Mapping pairs a source record key with a remote field.
// For identity fields Remote is the member attribute id; for custom fields it
// is the custom field name as shown in the remote catalog.
type Mapping struct {
	Source string
	Remote string
}

// Mappings is an ordered list of Mapping.
type Mappings []Mapping

// Remotes returns the remote names in configured order.
func (m Mappings) Remotes() []string {
	out := make([]string, len(m))
	for i, mp := range m {
		out[i] = mp.Remote
	}
	return out
}

// CustomFieldSpec is a configured custom field resolved against the catalog.
type CustomFieldSpec struct {
	Source string
	Name   string
	ID     int64
	Type   string
}

// Table is the resolved custom field lookup table.
type Table struct {
	specs  []CustomFieldSpec
	byName map[string]CustomFieldSpec
}

// Custom returns the resolved specs in configured order.
// The returned slice must not be modified.
func (t *Table) Custom() []CustomFieldSpec {
	if t == nil {
		return nil
	}
	return t.specs
}

// Lookup returns the spec for a custom field name.
func (t *Table) Lookup(name string) (CustomFieldSpec, bool) {
	if t == nil {
		return CustomFieldSpec{}, false
	}
	s, ok := t.byName[name]
	return s, ok
}

// Len returns the number of resolved fields.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.specs)
}

// MissingFieldsError reports configured custom fields absent from the catalog.
type MissingFieldsError struct {
	// Missing is sorted and de-duplicated.
	Missing []string

	// Available is the sorted catalog name set.
	Available []string
}

// Error implements the error interface.
func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("Misconfigured fields [%s] not present in [%s]",
		strings.Join(e.Missing, " "), strings.Join(e.Available, " "))
}

// Resolve cross-references configured custom fields with the remote catalog.
// Every configured name must exist in the catalog; otherwise a
// *MissingFieldsError lists all of the missing names at once.
func Resolve(catalog []commonroom.CustomField, configured Mappings) (*Table, error) {
	byCatalogName := make(map[string]commonroom.CustomField, len(catalog))
	for _, f := range catalog {
		if _, dup := byCatalogName[f.Name]; !dup {
			byCatalogName[f.Name] = f
		}
	}

	t := &Table{
		specs:  make([]CustomFieldSpec, 0, len(configured)),
		byName: make(map[string]CustomFieldSpec, len(configured)),
	}
	missing := make(map[string]bool)

	for _, m := range configured {
		f, ok := byCatalogName[m.Remote]
		if !ok {
			missing[m.Remote] = true
			continue
		}
		spec := CustomFieldSpec{Source: m.Source, Name: f.Name, ID: f.ID, Type: f.Type}
		t.specs = append(t.specs, spec)
		if _, seen := t.byName[spec.Name]; !seen {
			t.byName[spec.Name] = spec
		}
	}

	if len(missing) > 0 {
		return nil, &MissingFieldsError{
			Missing:   sortedKeys(missing),
			Available: catalogNames(catalog),
		}
	}
	return t, nil
}

func catalogNames(catalog []commonroom.CustomField) []string {
	set := make(map[string]bool, len(catalog))
	for _, f := range catalog {
		set[f.Name] = true
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
