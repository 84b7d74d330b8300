package mcp

import (
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/selection"
)

// dependentFields are the fields whose option lists come from the backend.
var dependentFields = []model.Field{
	model.FieldMonths, model.FieldCountry, model.FieldCells, model.FieldMetrics,
}

// compactState returns a minimal representation of a snapshot for MCP
// responses. Option lists are reduced to counts and the result to a
// summary; agents read the resources for the full data.
func compactState(snap selection.Snapshot) map[string]any {
	m := map[string]any{
		"status":    snap.Status,
		"version":   snap.Version,
		"selection": snap.Descriptor,
		"options":   optionSummary(snap),
	}
	if snap.Failure != nil {
		m["failure"] = snap.Failure
	}
	if snap.Result != nil {
		m["result"] = resultSummary(*snap.Result)
	}
	return m
}

// optionSummary reports, per dependent field, whether its option list is
// loaded and how many values it offers. Cells are omitted while no country
// is selected.
func optionSummary(snap selection.Snapshot) map[string]any {
	out := make(map[string]any, len(dependentFields))
	_, hasCountry := snap.Descriptor.Country()
	for _, f := range dependentFields {
		if f == model.FieldCells && !hasCountry {
			continue
		}
		set, ok := snap.OptionSet(f)
		if !ok {
			out[string(f)] = map[string]any{"loaded": false}
			continue
		}
		out[string(f)] = map[string]any{"loaded": true, "count": set.Len()}
	}
	return out
}

func resultSummary(r model.Result) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"record_count": len(r.Records),
		"retrieved_at": r.RetrievedAt,
		"metrics":      r.MetricColumns(),
		"descriptor":   r.Descriptor,
	}
}

// compactRecords returns at most limit records and whether any were cut.
func compactRecords(records []model.Record, limit int) map[string]any {
	limit = max(0, limit)
	truncated := len(records) > limit
	if truncated {
		records = records[:limit]
	}
	if records == nil {
		records = []model.Record{}
	}
	return map[string]any{
		"items":     records,
		"truncated": truncated,
	}
}
