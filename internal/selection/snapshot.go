package selection

import (
	"github.com/ashita-ai/yoho/internal/model"
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusOptionsLoading Status = "options_loading"
	StatusCellsLoading   Status = "cells_loading"
	StatusReady          Status = "ready"
	StatusFetching       Status = "fetching"
	StatusFailed         Status = "failed"
)

// Settled reports whether no work is in flight.
func (s Status) Settled() bool {
	return s != StatusOptionsLoading && s != StatusCellsLoading && s != StatusFetching
}

// Operation names the class of work a failure came from; Retry re-issues it.
type Operation string

const (
	OpOptions Operation = "options"
	OpCells   Operation = "cells"
	OpFetch   Operation = "fetch"
)

// Failure describes why the engine is in StatusFailed.
type Failure struct {
	Kind       model.ErrorKind `json:"kind"`
	Operation  Operation       `json:"operation"`
	Field      model.Field     `json:"field,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Line       int             `json:"line,omitempty"`
	Message    string          `json:"message"`
	Err        error           `json:"-"`
}

// Generations are the per-operation round counters. Issuing or
// superseding a round advances its counter; a completion is applied only
// while its counter value is current.
type Generations struct {
	Options uint64 `json:"options"`
	Cells   uint64 `json:"cells"`
	Fetch   uint64 `json:"fetch"`
}

// Snapshot is an immutable copy of the engine state. Option sets are nil
// while invalidated or loading.
type Snapshot struct {
	Status      Status           `json:"status"`
	Descriptor  model.Descriptor `json:"descriptor"`
	Catalog     model.Catalog    `json:"catalog"`
	Months      *model.OptionSet `json:"months,omitempty"`
	Countries   *model.OptionSet `json:"countries,omitempty"`
	Metrics     *model.OptionSet `json:"metrics,omitempty"`
	Cells       *model.OptionSet `json:"cells,omitempty"`
	Result      *model.Result    `json:"result,omitempty"`
	Failure     *Failure         `json:"failure,omitempty"`
	Generations Generations      `json:"generations"`
	Version     uint64           `json:"version"`
}

// OptionSet returns the loaded option set for a dependent field. Scope
// fields are answered from the catalogue.
func (s Snapshot) OptionSet(field model.Field) (model.OptionSet, bool) {
	var set *model.OptionSet
	switch field {
	case model.FieldMonths:
		set = s.Months
	case model.FieldCountry:
		set = s.Countries
	case model.FieldMetrics:
		set = s.Metrics
	case model.FieldCells:
		set = s.Cells
	case model.FieldRun, model.FieldLoA, model.FieldViolenceType:
		choices := s.Catalog.Choices(field)
		if len(choices) == 0 {
			return model.OptionSet{}, false
		}
		out := model.OptionSet{Field: field, Scope: s.Descriptor.Scope()}
		for _, c := range choices {
			out.Options = append(out.Options, model.Option{Value: c, Label: c})
		}
		return out, true
	}
	if set == nil {
		return model.OptionSet{}, false
	}
	return set.Clone(), true
}
