package yoho

import (
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/selection"
	"github.com/ashita-ai/yoho/internal/storage"
)

// Core value types, shared with the engine.
type (
	ID            = model.ID
	Scope         = model.Scope
	Field         = model.Field
	Descriptor    = model.Descriptor
	Option        = model.Option
	OptionSet     = model.OptionSet
	ScopedOptions = model.ScopedOptions
	Record        = model.Record
	Result        = model.Result
	Catalog       = model.Catalog
	ExportReceipt = storage.ExportReceipt
)

// Engine state as seen by presentation layers.
type (
	Snapshot = selection.Snapshot
	Status   = selection.Status
	Failure  = selection.Failure
)

// Error taxonomy. Use errors.As to inspect.
type (
	ResolutionError = model.ResolutionError
	FetchError      = model.FetchError
	ValidationError = model.ValidationError
)

// Request is one complete query for App.Query. A zero Scope keeps the
// engine's current scope; every other empty field means "no filter".
type Request struct {
	Scope   Scope
	Months  []ID
	Country ID
	Cells   []ID
	Metrics []string
}
