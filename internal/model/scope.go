package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ID is an opaque identifier for a month, country or priogrid cell.
// The backend emits these as JSON numbers while some consumers emit strings;
// both decode to the same decimal text form.
type ID string

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: expected string or number, got %s", raw)
	}
	// Integral floats like 840.0 normalise to "840".
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) && strings.ContainsAny(n.String(), ".eE") {
		*id = ID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// IDs converts strings to identifiers, trimming whitespace and dropping blanks.
func IDs(values ...string) []ID {
	out := make([]ID, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, ID(v))
		}
	}
	return out
}

// Scope is the {run, loa, violence type} triple that selects a backend
// dataset partition. Every dependent option list and forecast is only valid
// for the scope it was computed under.
type Scope struct {
	Run          string `json:"run" yaml:"run"`
	LoA          string `json:"loa" yaml:"loa"`
	ViolenceType string `json:"violence_type" yaml:"violence_type"`
}

// Validate checks that all three scope fields are non-blank.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.Run) == "" {
		return &ValidationError{Field: FieldRun, Reason: "run is required"}
	}
	if strings.TrimSpace(s.LoA) == "" {
		return &ValidationError{Field: FieldLoA, Reason: "loa is required"}
	}
	if strings.TrimSpace(s.ViolenceType) == "" {
		return &ValidationError{Field: FieldViolenceType, Reason: "violence type is required"}
	}
	return nil
}

// Path returns the escaped "/{run}/{loa}/{violenceType}" request prefix.
func (s Scope) Path() string {
	return "/" + url.PathEscape(s.Run) + "/" + url.PathEscape(s.LoA) + "/" + url.PathEscape(s.ViolenceType)
}

// String renders the scope for logs.
func (s Scope) String() string {
	return s.Run + "/" + s.LoA + "/" + s.ViolenceType
}

// With returns a copy of s with one scope field replaced. Non-scope fields
// are rejected.
func (s Scope) With(field Field, value string) (Scope, error) {
	value = strings.TrimSpace(value)
	switch field {
	case FieldRun:
		s.Run = value
	case FieldLoA:
		s.LoA = value
	case FieldViolenceType:
		s.ViolenceType = value
	default:
		return s, fmt.Errorf("model: %s is not a scope field", field)
	}
	return s, nil
}
