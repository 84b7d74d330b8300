package model

import (
	"fmt"
	"strings"
)

// Field names one selectable filter dimension.
type Field string

const (
	FieldRun          Field = "run"
	FieldLoA          Field = "loa"
	FieldViolenceType Field = "violence_type"
	FieldMonths       Field = "months"
	FieldCountry      Field = "country"
	FieldCells        Field = "cells"
	FieldMetrics      Field = "metrics"
)

// Fields lists every selectable field in hierarchy order.
var Fields = []Field{
	FieldRun, FieldLoA, FieldViolenceType,
	FieldMonths, FieldCountry, FieldCells, FieldMetrics,
}

// IsScope reports whether changing the field changes the dataset partition.
func (f Field) IsScope() bool {
	return f == FieldRun || f == FieldLoA || f == FieldViolenceType
}

// QueryKey returns the forecast query parameter that carries this field,
// or "" for scope fields (which travel in the path).
func (f Field) QueryKey() string {
	switch f {
	case FieldMonths:
		return "month_id"
	case FieldCountry:
		return "country_id"
	case FieldCells:
		return "priogrid_id"
	case FieldMetrics:
		return "metrics"
	default:
		return ""
	}
}

var fieldAliases = map[string]Field{
	"run":              FieldRun,
	"loa":              FieldLoA,
	"violence_type":    FieldViolenceType,
	"violence":         FieldViolenceType,
	"type_of_violence": FieldViolenceType,
	"months":           FieldMonths,
	"month":            FieldMonths,
	"month_id":         FieldMonths,
	"country":          FieldCountry,
	"countries":        FieldCountry,
	"country_id":       FieldCountry,
	"cells":            FieldCells,
	"cell":             FieldCells,
	"priogrid":         FieldCells,
	"priogrid_id":      FieldCells,
	"metrics":          FieldMetrics,
	"metric":           FieldMetrics,
}

// ParseField resolves a user-supplied field name. Matching is
// case-insensitive and treats '-' and '_' alike.
func ParseField(name string) (Field, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if f, ok := fieldAliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("model: unknown field %q", name)
}
