package model

import "slices"

// Option is one selectable value for a dependent field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OptionSet is the list of valid values for one dependent field, tagged with
// the scope (and, for cells, the country) that produced it. A set whose tag
// no longer matches the live selection is stale and must be discarded.
type OptionSet struct {
	Field   Field    `json:"field"`
	Scope   Scope    `json:"scope"`
	Country ID       `json:"country_id,omitempty"`
	Options []Option `json:"options"`
}

// Matches reports whether the set is valid for scope and country. The
// country only matters for cell sets.
func (s OptionSet) Matches(scope Scope, country ID) bool {
	if s.Scope != scope {
		return false
	}
	if s.Field == FieldCells {
		return s.Country == country
	}
	return true
}

// Contains reports whether value is one of the set's options.
func (s OptionSet) Contains(value string) bool {
	return slices.ContainsFunc(s.Options, func(o Option) bool { return o.Value == value })
}

// Values returns the option values in order.
func (s OptionSet) Values() []string {
	out := make([]string, len(s.Options))
	for i, o := range s.Options {
		out[i] = o.Value
	}
	return out
}

// Len returns the number of options.
func (s OptionSet) Len() int { return len(s.Options) }

// Clone returns a deep copy.
func (s OptionSet) Clone() OptionSet {
	s.Options = slices.Clone(s.Options)
	return s
}

// ScopedOptions groups the three option sets that depend only on the scope.
type ScopedOptions struct {
	Months    OptionSet `json:"months"`
	Countries OptionSet `json:"countries"`
	Metrics   OptionSet `json:"metrics"`
}

// Scope returns the scope the sets were resolved for.
func (o ScopedOptions) Scope() Scope { return o.Months.Scope }

// Clone returns a deep copy.
func (o ScopedOptions) Clone() ScopedOptions {
	return ScopedOptions{
		Months:    o.Months.Clone(),
		Countries: o.Countries.Clone(),
		Metrics:   o.Metrics.Clone(),
	}
}
