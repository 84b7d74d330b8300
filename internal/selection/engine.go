// Package selection holds the filter selection state machine. It owns the
// live query descriptor and the option sets valid for it, decides when
// option lists must be re-resolved, and runs forecast retrievals.
//
// All state lives behind one mutex. Network calls run in goroutines that
// never touch state directly: each completion carries the generation it was
// issued under and is applied only if that generation is still current and
// its scope (and country, for cells) still matches the live descriptor.
// Anything else is a superseded round and is discarded.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/service/forecasts"
	"github.com/ashita-ai/yoho/internal/service/options"
)

var (
	// ErrNotStarted is returned by intents that need resolved options
	// before Start has been called.
	ErrNotStarted = errors.New("selection: engine not started")

	// ErrClosed is returned by every intent after Close.
	ErrClosed = errors.New("selection: engine closed")
)

// Config wires an Engine.
type Config struct {
	Resolver options.Resolver
	Fetcher  forecasts.Fetcher
	Logger   *slog.Logger

	// Defaults is the initial scope. Zero means Catalog's default.
	Defaults model.Scope

	// Catalog restricts scope values. The zero value accepts anything.
	Catalog model.Catalog
}

// Engine is the selection state machine. All methods are safe for
// concurrent use.
type Engine struct {
	resolver options.Resolver
	fetcher  forecasts.Fetcher
	logger   *slog.Logger
	catalog  model.Catalog

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool

	desc    model.Descriptor
	scoped  *model.ScopedOptions
	cells   *model.OptionSet
	result  *model.Result
	failure *Failure

	gens          Generations
	optionsCancel context.CancelFunc
	cellsCancel   context.CancelFunc
	fetchCancel   context.CancelFunc

	version uint64
	changed chan struct{}
	wg      sync.WaitGroup
}

// New creates an idle engine. Call Start to resolve the first options.
func New(cfg Config) (*Engine, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("selection: resolver is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("selection: fetcher is required")
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("selection: catalogue: %w", err)
	}
	scope := cfg.Defaults
	if scope == (model.Scope{}) {
		scope = cfg.Catalog.DefaultScope()
	}
	if err := cfg.Catalog.Check(scope); err != nil {
		return nil, fmt.Errorf("selection: default scope: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		logger:   logger,
		catalog:  cfg.Catalog,
		desc:     model.NewDescriptor(scope),
		changed:  make(chan struct{}),
	}, nil
}

// Start begins the first options round for the live scope. ctx bounds the
// lifetime of every request the engine issues.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return fmt.Errorf("selection: engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true
	e.startOptionsRound()
	e.notify()
	return nil
}

// Close cancels in-flight work and waits for its goroutines to exit.
// Snapshot keeps working after Close and reports the last settled state.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	// Completions are dropped once closed, so nothing is in flight any more.
	e.optionsCancel, e.cellsCancel, e.fetchCancel = nil, nil, nil
	e.notify()
	e.mu.Unlock()
	e.wg.Wait()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Changes returns a channel that is closed at the next state change.
func (e *Engine) Changes() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// Wait blocks until no options round, cells round or fetch is in flight,
// then returns the snapshot.
func (e *Engine) Wait(ctx context.Context) (Snapshot, error) {
	for {
		e.mu.Lock()
		snap := e.snapshotLocked()
		ch := e.changed
		closed := e.closed
		e.mu.Unlock()

		if snap.Status.Settled() || closed {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// SetSelection applies a string-typed selection, the form presentation
// adapters receive from users. An empty values list clears the field
// where clearing is meaningful.
func (e *Engine) SetSelection(field model.Field, values ...string) error {
	switch {
	case field.IsScope():
		if len(values) != 1 {
			return &model.ValidationError{Field: field, Reason: "exactly one value is required"}
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		next, err := e.desc.Scope().With(field, values[0])
		if err != nil {
			return err
		}
		return e.setScopeLocked(next)
	case field == model.FieldMonths:
		return e.SetMonths(model.IDs(values...)...)
	case field == model.FieldCountry:
		ids := model.IDs(values...)
		switch len(ids) {
		case 0:
			return e.ClearCountry()
		case 1:
			return e.SetCountry(ids[0])
		default:
			return &model.ValidationError{Field: field, Reason: "at most one country can be selected"}
		}
	case field == model.FieldCells:
		return e.SetCells(model.IDs(values...)...)
	case field == model.FieldMetrics:
		return e.SetMetrics(values...)
	default:
		return &model.ValidationError{Field: field, Reason: "unknown field"}
	}
}

// SetRun changes the run.
func (e *Engine) SetRun(run string) error { return e.SetSelection(model.FieldRun, run) }

// SetLoA changes the level of analysis.
func (e *Engine) SetLoA(loa string) error { return e.SetSelection(model.FieldLoA, loa) }

// SetViolenceType changes the violence type.
func (e *Engine) SetViolenceType(vt string) error {
	return e.SetSelection(model.FieldViolenceType, vt)
}

// SetScope replaces the whole scope. Every dependent selection and option
// set is dropped, in-flight work is superseded and a new options round
// starts. Setting the live scope again is a no-op.
func (e *Engine) SetScope(scope model.Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setScopeLocked(scope)
}

func (e *Engine) setScopeLocked(scope model.Scope) error {
	if err := e.catalog.Check(scope); err != nil {
		return err
	}
	if e.closed {
		return ErrClosed
	}
	if scope == e.desc.Scope() {
		return nil
	}

	e.logger.Debug("selection: scope changed", "from", e.desc.Scope().String(), "to", scope.String())
	e.desc = e.desc.WithScope(scope)
	e.scoped = nil
	e.cells = nil
	e.failure = nil
	e.supersedeCells()
	e.supersedeFetch()
	if e.started {
		e.startOptionsRound()
	}
	e.notify()
	return nil
}

// SetMonths replaces the month selection. Every month must be one of the
// resolved month options.
func (e *Engine) SetMonths(months ...model.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkMembers(model.FieldMonths, idStrings(months)); err != nil {
		return err
	}
	next := e.desc.WithMonths(months...)
	e.applySelection(next)
	return nil
}

// SetCountry selects a country. Cells are cleared and their option set
// dropped before the new cells round is issued.
func (e *Engine) SetCountry(country model.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if country.IsZero() {
		return e.clearCountryLocked()
	}
	if err := e.checkMembers(model.FieldCountry, []string{country.String()}); err != nil {
		return err
	}
	if current, ok := e.desc.Country(); ok && current == country && (e.cells != nil || e.cellsCancel != nil) {
		return nil
	}

	e.desc = e.desc.WithCountry(country)
	e.cells = nil
	e.failure = nil
	e.supersedeFetch()
	e.startCellsRound()
	e.notify()
	return nil
}

// ClearCountry removes the country and, with it, the cell selection and
// any cells round. The resolver is not called.
func (e *Engine) ClearCountry() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clearCountryLocked()
}

func (e *Engine) clearCountryLocked() error {
	if e.closed {
		return ErrClosed
	}
	if _, ok := e.desc.Country(); !ok && e.cells == nil && e.cellsCancel == nil {
		return nil
	}
	e.desc = e.desc.WithoutCountry()
	e.cells = nil
	e.failure = nil
	e.supersedeCells()
	e.supersedeFetch()
	e.notify()
	return nil
}

// SetCells replaces the cell selection. A country must be selected and
// every cell must belong to its resolved cells.
func (e *Engine) SetCells(cells ...model.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(cells) > 0 {
		if _, ok := e.desc.Country(); !ok {
			return &model.ValidationError{Field: model.FieldCells, Reason: "grid cells require a country"}
		}
	}
	if err := e.checkMembers(model.FieldCells, idStrings(cells)); err != nil {
		return err
	}
	e.applySelection(e.desc.WithCells(cells...))
	return nil
}

// SetMetrics replaces the metric selection.
func (e *Engine) SetMetrics(metrics ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.desc.WithMetrics(metrics...)
	if err := e.checkMembers(model.FieldMetrics, next.Metrics()); err != nil {
		return err
	}
	e.applySelection(next)
	return nil
}

// Submit starts a forecast retrieval for the live descriptor. It is only
// accepted when the engine is ready; an invalid descriptor is rejected
// without changing state.
func (e *Engine) Submit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if status := e.statusLocked(); status != StatusReady {
		return &model.ValidationError{Reason: fmt.Sprintf("cannot submit while %s", status)}
	}
	if err := e.desc.Validate(); err != nil {
		return err
	}
	e.startFetch()
	e.notify()
	return nil
}

// Retry re-issues the operation that failed, using the live descriptor.
func (e *Engine) Retry() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.failure == nil {
		return &model.ValidationError{Reason: fmt.Sprintf("nothing to retry while %s", e.statusLocked())}
	}

	op := e.failure.Operation
	switch op {
	case OpOptions:
		e.failure = nil
		e.startOptionsRound()
	case OpCells:
		e.failure = nil
		if _, ok := e.desc.Country(); ok {
			e.startCellsRound()
		}
	case OpFetch:
		if err := e.desc.Validate(); err != nil {
			return err
		}
		e.failure = nil
		e.startFetch()
	}
	e.logger.Debug("selection: retry", "operation", op)
	e.notify()
	return nil
}

// applySelection installs a descriptor that differs from the live one only
// in months, cells or metrics. Mutex must be held.
func (e *Engine) applySelection(next model.Descriptor) {
	if next.Equal(e.desc) {
		return
	}
	e.desc = next
	e.failure = nil
	e.supersedeFetch()
	e.notify()
}

// checkMembers rejects values that are not in the live option set for
// field. Clearing (no values) is always allowed. Mutex must be held.
func (e *Engine) checkMembers(field model.Field, values []string) error {
	if e.closed {
		return ErrClosed
	}
	if len(values) == 0 {
		return nil
	}
	if !e.started {
		return ErrNotStarted
	}
	set := e.optionSetLocked(field)
	if set == nil {
		return &model.ValidationError{Field: field, Reason: "options are not loaded"}
	}
	for _, v := range values {
		if !set.Contains(v) {
			return &model.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an available option", v)}
		}
	}
	return nil
}

func (e *Engine) optionSetLocked(field model.Field) *model.OptionSet {
	if field == model.FieldCells {
		return e.cells
	}
	if e.scoped == nil {
		return nil
	}
	switch field {
	case model.FieldMonths:
		return &e.scoped.Months
	case model.FieldCountry:
		return &e.scoped.Countries
	case model.FieldMetrics:
		return &e.scoped.Metrics
	}
	return nil
}

func (e *Engine) statusLocked() Status {
	switch {
	case !e.started:
		return StatusIdle
	case e.failure != nil:
		return StatusFailed
	case e.fetchCancel != nil:
		return StatusFetching
	case e.optionsCancel != nil:
		return StatusOptionsLoading
	case e.cellsCancel != nil:
		return StatusCellsLoading
	default:
		return StatusReady
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:      e.statusLocked(),
		Descriptor:  e.desc,
		Catalog:     e.catalog,
		Generations: e.gens,
		Version:     e.version,
	}
	snap.Catalog.Runs = slices.Clone(e.catalog.Runs)
	snap.Catalog.LoAs = slices.Clone(e.catalog.LoAs)
	snap.Catalog.ViolenceTypes = slices.Clone(e.catalog.ViolenceTypes)
	if e.scoped != nil {
		scoped := e.scoped.Clone()
		snap.Months, snap.Countries, snap.Metrics = &scoped.Months, &scoped.Countries, &scoped.Metrics
	}
	if e.cells != nil {
		cells := e.cells.Clone()
		snap.Cells = &cells
	}
	if e.result != nil {
		result := *e.result
		result.Records = make([]model.Record, len(e.result.Records))
		for i, rec := range e.result.Records {
			result.Records[i] = rec.Clone()
		}
		snap.Result = &result
	}
	if e.failure != nil {
		f := *e.failure
		snap.Failure = &f
	}
	return snap
}

// notify wakes every waiter. Mutex must be held.
func (e *Engine) notify() {
	e.version++
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) fail(op Operation, err error) {
	f := &Failure{
		Kind:      model.Kind(err),
		Operation: op,
		Message:   err.Error(),
		Err:       err,
	}
	var re *model.ResolutionError
	var fe *model.FetchError
	switch {
	case errors.As(err, &re):
		f.Field, f.StatusCode = re.Field, re.StatusCode
	case errors.As(err, &fe):
		f.StatusCode, f.Line = fe.StatusCode, fe.Line
	}
	e.failure = f
	e.logger.Warn("selection: operation failed", "operation", op, "kind", f.Kind, "error", err)
}
