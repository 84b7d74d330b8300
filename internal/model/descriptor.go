package model

import (
	"encoding/json"
	"slices"
	"strings"
)

// Descriptor describes one filter scope: the mandatory Scope plus optional
// month, country, cell and metric filters.
//
// A Descriptor is immutable. Every With* method returns a new value and
// accessors return copies, so a descriptor handed to an in-flight request
// can never be observed half-updated.
type Descriptor struct {
	scope   Scope
	months  []ID
	country ID
	cells   []ID
	metrics []string
}

// NewDescriptor returns a descriptor for scope with no filters.
func NewDescriptor(scope Scope) Descriptor {
	return Descriptor{scope: scope}
}

// Scope returns the descriptor's scope.
func (d Descriptor) Scope() Scope { return d.scope }

// Months returns the selected month IDs in display order.
func (d Descriptor) Months() []ID { return slices.Clone(d.months) }

// Country returns the selected country and whether one is set.
func (d Descriptor) Country() (ID, bool) { return d.country, d.country != "" }

// Cells returns the selected priogrid cell IDs in display order.
func (d Descriptor) Cells() []ID { return slices.Clone(d.cells) }

// Metrics returns the selected metric names in display order.
func (d Descriptor) Metrics() []string { return slices.Clone(d.metrics) }

// WithScope returns a descriptor for the new scope. All dependent
// selections are cleared because they were chosen from option lists that
// belong to the old scope.
func (d Descriptor) WithScope(scope Scope) Descriptor {
	return Descriptor{scope: scope}
}

// WithMonths replaces the month selection. Duplicates are removed and
// first-seen order is kept.
func (d Descriptor) WithMonths(months ...ID) Descriptor {
	d.months = uniqueIDs(months)
	return d
}

// WithCountry replaces the country. Changing the country clears the cell
// selection since cells are scoped to a country.
func (d Descriptor) WithCountry(country ID) Descriptor {
	country = ID(strings.TrimSpace(string(country)))
	if country == "" {
		return d.WithoutCountry()
	}
	if country != d.country {
		d.cells = nil
	}
	d.country = country
	return d
}

// WithoutCountry clears the country and, with it, the cell selection.
func (d Descriptor) WithoutCountry() Descriptor {
	d.country = ""
	d.cells = nil
	return d
}

// WithCells replaces the cell selection. Duplicates are removed and
// first-seen order is kept. The result may be invalid if no country is set;
// see Validate.
func (d Descriptor) WithCells(cells ...ID) Descriptor {
	d.cells = uniqueIDs(cells)
	return d
}

// WithMetrics replaces the metric selection. Names are trimmed, blanks and
// duplicates dropped, order preserved.
func (d Descriptor) WithMetrics(metrics ...string) Descriptor {
	seen := make(map[string]bool, len(metrics))
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		out = nil
	}
	d.metrics = out
	return d
}

// Validate checks the descriptor can be submitted: the scope must be
// complete and cells may only be selected together with a country.
func (d Descriptor) Validate() error {
	if err := d.scope.Validate(); err != nil {
		return err
	}
	if len(d.cells) > 0 && d.country == "" {
		return &ValidationError{Field: FieldCells, Reason: "grid cells require a country"}
	}
	return nil
}

// Equal reports whether two descriptors select the same data. Months and
// cells compare as sets; metrics compare in order.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.scope == o.scope &&
		d.country == o.country &&
		sameIDSet(d.months, o.months) &&
		sameIDSet(d.cells, o.cells) &&
		slices.Equal(d.metrics, o.metrics)
}

// IsEmpty reports whether no optional filters are set.
func (d Descriptor) IsEmpty() bool {
	return len(d.months) == 0 && d.country == "" && len(d.cells) == 0 && len(d.metrics) == 0
}

type descriptorJSON struct {
	Scope
	Months  []ID     `json:"month_ids,omitempty"`
	Country ID       `json:"country_id,omitempty"`
	Cells   []ID     `json:"priogrid_ids,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
}

// MarshalJSON renders the descriptor for snapshots and exports.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{
		Scope:   d.scope,
		Months:  d.months,
		Country: d.country,
		Cells:   d.cells,
		Metrics: d.metrics,
	})
}

// UnmarshalJSON restores a descriptor written by MarshalJSON.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw descriptorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = NewDescriptor(raw.Scope).
		WithMonths(raw.Months...).
		WithCountry(raw.Country).
		WithCells(raw.Cells...).
		WithMetrics(raw.Metrics...)
	return nil
}

func uniqueIDs(ids []ID) []ID {
	seen := make(map[ID]bool, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		id = ID(strings.TrimSpace(string(id)))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sameIDSet(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[ID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
