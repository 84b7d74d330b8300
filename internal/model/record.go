package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one forecast row decoded from a line of the NDJSON response.
// Metric values are passed through untouched; a nil value is a JSON null.
type Record struct {
	PriogridID ID                  `json:"priogrid_id"`
	CountryID  ID                  `json:"country_id"`
	MonthID    ID                  `json:"month_id"`
	Lat        float64             `json:"lat"`
	Lon        float64             `json:"lon"`
	Metrics    map[string]*float64 `json:"metrics"`
}

// UnmarshalJSON decodes a record. Older backends name the metric map
// "values"; it is used when "metrics" is absent. Anything but a JSON object,
// null included, is an error.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("record: expected a JSON object, got %s", jsonKind(trimmed))
	}

	type plain Record
	var raw struct {
		plain
		Values map[string]*float64 `json:"values"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("record: field %q: cannot use a JSON %s", strings.TrimPrefix(typeErr.Field, "plain."), typeErr.Value)
		}
		return fmt.Errorf("record: %w", err)
	}
	*r = Record(raw.plain)
	if r.Metrics == nil && raw.Values != nil {
		r.Metrics = raw.Values
	}
	return nil
}

// Clone returns a copy of r that shares no metric map with it.
func (r Record) Clone() Record {
	r.Metrics = maps.Clone(r.Metrics)
	return r
}

// jsonKind names the JSON value type that data starts with.
func jsonKind(data []byte) string {
	if len(data) == 0 {
		return "empty value"
	}
	switch data[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

// MetricNames returns the sorted metric names present in the record.
func (r Record) MetricNames() []string {
	return slices.Sorted(maps.Keys(r.Metrics))
}

// Result is a successful retrieval: the records returned for a descriptor,
// in response order. A Result is replaced wholesale by the next retrieval.
type Result struct {
	ID          uuid.UUID  `json:"id"`
	Descriptor  Descriptor `json:"descriptor"`
	Records     []Record   `json:"records"`
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// NewResult stamps a retrieval with a fresh ID and the current time.
func NewResult(d Descriptor, records []Record) Result {
	return Result{
		ID:          uuid.New(),
		Descriptor:  d,
		Records:     records,
		RetrievedAt: time.Now().UTC(),
	}
}

// MetricColumns returns the metric names to display for the result: the
// descriptor's metric order when metrics were selected, otherwise the
// sorted union of names present in the records.
func (r Result) MetricColumns() []string {
	if m := r.Descriptor.Metrics(); len(m) > 0 {
		return m
	}
	set := make(map[string]struct{})
	for _, rec := range r.Records {
		for name := range rec.Metrics {
			set[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}
