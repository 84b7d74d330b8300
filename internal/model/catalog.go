package model

import (
	"fmt"
	"slices"
)

// DefaultScope is the scope selected when nothing else is configured.
var DefaultScope = Scope{Run: "v1", LoA: "standard", ViolenceType: "armed_conflict"}

// Catalog lists the accepted values for each scope field. An empty list
// accepts any non-blank value.
type Catalog struct {
	Runs          []string `json:"runs,omitempty" yaml:"runs"`
	LoAs          []string `json:"loas,omitempty" yaml:"loas"`
	ViolenceTypes []string `json:"violence_types,omitempty" yaml:"violence_types"`
	Default       *Scope   `json:"default,omitempty" yaml:"default"`
}

// Choices returns the configured values for a scope field.
func (c Catalog) Choices(field Field) []string {
	switch field {
	case FieldRun:
		return slices.Clone(c.Runs)
	case FieldLoA:
		return slices.Clone(c.LoAs)
	case FieldViolenceType:
		return slices.Clone(c.ViolenceTypes)
	default:
		return nil
	}
}

// Allows reports whether value is acceptable for field.
func (c Catalog) Allows(field Field, value string) bool {
	choices := c.Choices(field)
	return len(choices) == 0 || slices.Contains(choices, value)
}

// Check validates scope and its membership in the catalogue.
func (c Catalog) Check(scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	for _, f := range []struct {
		field Field
		value string
	}{
		{FieldRun, scope.Run},
		{FieldLoA, scope.LoA},
		{FieldViolenceType, scope.ViolenceType},
	} {
		if !c.Allows(f.field, f.value) {
			return &ValidationError{
				Field:  f.field,
				Reason: fmt.Sprintf("%q is not one of %v", f.value, c.Choices(f.field)),
			}
		}
	}
	return nil
}

// DefaultScope returns the catalogue default, or DefaultScope.
func (c Catalog) DefaultScope() Scope {
	if c.Default != nil {
		return *c.Default
	}
	return DefaultScope
}

// Validate checks that the catalogue has no blank or duplicate choices and
// that its default, when set, is one of its own choices.
func (c Catalog) Validate() error {
	for _, field := range []Field{FieldRun, FieldLoA, FieldViolenceType} {
		seen := make(map[string]bool)
		for _, v := range c.Choices(field) {
			if v == "" {
				return &ValidationError{Field: field, Reason: "catalogue contains a blank choice"}
			}
			if seen[v] {
				return &ValidationError{Field: field, Reason: fmt.Sprintf("catalogue lists %q twice", v)}
			}
			seen[v] = true
		}
	}
	if c.Default != nil {
		return c.Check(*c.Default)
	}
	return nil
}
