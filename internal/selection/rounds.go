package selection

import (
	"context"
	"slices"

	"github.com/ashita-ai/yoho/internal/model"
)

// startOptionsRound supersedes any options round and resolves the scoped
// option sets for the live scope. Mutex must be held.
func (e *Engine) startOptionsRound() {
	if e.optionsCancel != nil {
		e.optionsCancel()
	}
	e.gens.Options++
	gen := e.gens.Options
	scope := e.desc.Scope()
	ctx, cancel := context.WithCancel(e.ctx)
	e.optionsCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		opts, err := e.resolver.ResolveScopedOptions(ctx, scope)
		e.finishOptions(gen, scope, opts, err)
	}()
}

func (e *Engine) finishOptions(gen uint64, scope model.Scope, opts model.ScopedOptions, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gens.Options || scope != e.desc.Scope() {
		e.logger.Debug("selection: discarded stale options round", "generation", gen, "scope", scope.String())
		return
	}
	e.optionsCancel = nil
	if err != nil {
		e.fail(OpOptions, err)
	} else {
		e.scoped = &opts
		e.logger.Debug("selection: options ready", "scope", scope.String(),
			"months", opts.Months.Len(), "countries", opts.Countries.Len(), "metrics", opts.Metrics.Len())
	}
	e.notify()
}

// startCellsRound supersedes any cells round and resolves the cells of the
// live country. Mutex must be held.
func (e *Engine) startCellsRound() {
	e.supersedeCells()
	e.gens.Cells++
	gen := e.gens.Cells
	scope := e.desc.Scope()
	country, _ := e.desc.Country()
	ctx, cancel := context.WithCancel(e.ctx)
	e.cellsCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		set, err := e.resolver.ResolveCells(ctx, scope, country)
		e.finishCells(gen, scope, country, set, err)
	}()
}

func (e *Engine) finishCells(gen uint64, scope model.Scope, country model.ID, set model.OptionSet, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live, _ := e.desc.Country()
	if e.closed || gen != e.gens.Cells || scope != e.desc.Scope() || country != live {
		e.logger.Debug("selection: discarded stale cells round", "generation", gen, "country", country)
		return
	}
	e.cellsCancel = nil
	if err != nil {
		e.fail(OpCells, err)
	} else {
		e.cells = &set
	}
	e.notify()
}

// supersedeCells cancels the in-flight cells round, if any, so that its
// completion is discarded. Mutex must be held.
func (e *Engine) supersedeCells() {
	if e.cellsCancel == nil {
		return
	}
	e.cellsCancel()
	e.cellsCancel = nil
	e.gens.Cells++
}

// startFetch retrieves forecasts for the live descriptor. Mutex must be held.
func (e *Engine) startFetch() {
	e.supersedeFetch()
	e.gens.Fetch++
	gen := e.gens.Fetch
	d := e.desc
	ctx, cancel := context.WithCancel(e.ctx)
	e.fetchCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		records, err := e.fetcher.FetchForecasts(ctx, d)
		e.finishFetch(gen, d, records, err)
	}()
}

func (e *Engine) finishFetch(gen uint64, d model.Descriptor, records []model.Record, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gens.Fetch || d.Scope() != e.desc.Scope() {
		e.logger.Debug("selection: discarded stale fetch", "generation", gen, "scope", d.Scope().String())
		return
	}
	e.fetchCancel = nil
	if err != nil {
		e.fail(OpFetch, err)
	} else {
		result := model.NewResult(d, slices.Clip(records))
		e.result = &result
		e.logger.Debug("selection: result ready", "result_id", result.ID, "records", len(records))
	}
	e.notify()
}

// supersedeFetch cancels the in-flight fetch, if any. Mutex must be held.
func (e *Engine) supersedeFetch() {
	if e.fetchCancel == nil {
		return
	}
	e.fetchCancel()
	e.fetchCancel = nil
	e.gens.Fetch++
}

func idStrings(ids []model.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
