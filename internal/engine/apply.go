package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/logging"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/state"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Addr     ir.Identity
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// FailedAction describes one action that failed, with enough context
// for a manual re-run.
type FailedAction struct {
	Addr   ir.Identity
	Action ir.Action
	Err    error
}

// ApplyResult is the final apply summary. Every failed action is
// reported; Skipped lists actions not attempted because a dependency
// failed or the run was cancelled.
type ApplyResult struct {
	Completed []ir.Identity
	Failed    []FailedAction
	Skipped   []ir.Identity
}

// Err folds the failures into a single error, or nil on full success.
func (r *ApplyResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return fmt.Errorf("%d action(s) failed: %w", len(r.Failed), errors.Join(errs...))
}

// Apply executes the plan: creates and updates in dependency order,
// destroys of removed resources after them in reverse dependency
// order, and deferred create-before-destroy deletions last. Actions on
// unrelated resources run concurrently up to e.Parallelism. The state
// store is updated per resource, only after the provider confirmed
// success.
func (e *Engine) Apply(ctx context.Context, doc *config.Document, plan *ir.Plan, store state.Store, varOverrides map[string]string, callback ApplyCallback) (*ApplyResult, error) {
	if doc == nil {
		doc = &config.Document{}
	}
	vals, err := config.ResolveVariables(doc, varOverrides)
	if err != nil {
		return nil, err
	}
	var graph *Graph
	if len(doc.Resources) > 0 {
		graph, err = BuildGraph(doc)
		if err != nil {
			return nil, err
		}
	}

	run := &applyRun{
		engine:   e,
		doc:      doc,
		graph:    graph,
		store:    store,
		scope:    config.NewScope(vals),
		result:   &ApplyResult{},
		callback: callback,
	}

	var main, removed, deferred []*ir.Change
	for _, change := range plan.Changes {
		switch {
		case change.Action == ir.ActionDelete && change.Replacing:
			deferred = append(deferred, change)
		case change.Action == ir.ActionDelete:
			removed = append(removed, change)
		default:
			main = append(main, change)
		}
	}

	// Phase 1: creates, updates, replacements.
	run.runPhase(ctx, main, run.configDeps(main))

	// Phase 2: destroys of removed resources, dependents first.
	run.runPhase(ctx, removed, destroyDeps(removed))

	// Phase 3: deferred destroys of replaced originals.
	run.runPhase(ctx, deferred, map[string][]string{})

	return run.result, run.result.Err()
}

// applyRun carries the shared mutable state of one apply execution.
type applyRun struct {
	engine *Engine
	doc    *config.Document
	graph  *Graph
	store  state.Store

	scopeMu sync.Mutex
	scope   *config.Scope

	resultMu sync.Mutex
	result   *ApplyResult

	callback ApplyCallback

	// halted flips once a failure occurred under FailFast; later
	// phases still run their bookkeeping but schedule nothing.
	halted bool
}

func (r *applyRun) emit(ev ApplyEvent) {
	if r.callback != nil {
		r.callback(ev)
	}
}

// configDeps maps each main change to the other main changes it must
// wait for. Dependencies routed through nodes that have no change of
// their own (data sources, no-op resources) still order the changes on
// either side, so the walk continues through them.
func (r *applyRun) configDeps(changes []*ir.Change) map[string][]string {
	inPhase := make(map[string]bool, len(changes))
	for _, c := range changes {
		inPhase[c.Addr.String()] = true
	}

	var collect func(addr ir.Identity, seen map[string]bool, waits *[]string)
	collect = func(addr ir.Identity, seen map[string]bool, waits *[]string) {
		for _, dep := range r.graph.Dependencies(addr) {
			key := dep.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			if inPhase[key] {
				*waits = append(*waits, key)
				continue
			}
			collect(dep, seen, waits)
		}
	}

	deps := make(map[string][]string, len(changes))
	for _, c := range changes {
		var waits []string
		if r.graph != nil {
			collect(c.Addr, map[string]bool{c.Addr.String(): true}, &waits)
		}
		deps[c.Addr.String()] = waits
	}
	return deps
}

// destroyDeps orders removed-resource destroys dependents-first using
// the dependencies recorded in state.
func destroyDeps(changes []*ir.Change) map[string][]string {
	inPhase := make(map[string]*ir.Change, len(changes))
	for _, c := range changes {
		inPhase[c.Addr.String()] = c
	}
	deps := make(map[string][]string, len(changes))
	for _, c := range changes {
		deps[c.Addr.String()] = nil
	}
	for _, c := range changes {
		if c.Prior == nil {
			continue
		}
		for _, dep := range c.Prior.Dependencies {
			if _, ok := inPhase[dep]; ok {
				// c depends on dep, so dep's destroy waits for c.
				deps[dep] = append(deps[dep], c.Addr.String())
			}
		}
	}
	return deps
}

// runPhase executes one group of changes concurrently, respecting the
// given waits-for map. A failure skips only the transitive dependents
// of the failed change; changes in unrelated branches run to
// completion. A cancelled context stops scheduling new changes while
// letting dispatched provider calls finish and record their outcome.
func (r *applyRun) runPhase(ctx context.Context, changes []*ir.Change, deps map[string][]string) {
	if len(changes) == 0 {
		return
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	mu := sync.Mutex{}
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, r.engine.parallelism())

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.Change) {
			defer wg.Done()
			key := c.Addr.String()

			mu.Lock()
			for {
				if r.halted || ctx.Err() != nil {
					mu.Unlock()
					r.recordSkip(c)
					cond.Broadcast()
					return
				}
				depFailed := false
				allReady := true
				for _, dep := range deps[key] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allReady = false
						break
					}
				}
				if depFailed {
					failed[key] = true
					mu.Unlock()
					r.recordSkip(c)
					cond.Broadcast()
					return
				}
				if allReady {
					break
				}
				cond.Wait()
			}
			mu.Unlock()

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			r.emit(ApplyEvent{Addr: c.Addr, Action: c.Action, Status: "started"})

			err := r.applyChange(ctx, c)

			mu.Lock()
			if err != nil {
				failed[key] = true
				if r.engine.FailFast {
					r.halted = true
				}
			} else {
				completed[key] = true
			}
			mu.Unlock()
			cond.Broadcast()

			if err != nil {
				r.emit(ApplyEvent{Addr: c.Addr, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				r.recordFailure(c, err)
				return
			}
			r.emit(ApplyEvent{Addr: c.Addr, Action: c.Action, Status: "completed", Duration: time.Since(start)})
			r.recordSuccess(c)
		}(change)
	}
	wg.Wait()
}

func (r *applyRun) recordSuccess(c *ir.Change) {
	r.resultMu.Lock()
	defer r.resultMu.Unlock()
	r.result.Completed = append(r.result.Completed, c.Addr)
}

func (r *applyRun) recordFailure(c *ir.Change, err error) {
	r.resultMu.Lock()
	defer r.resultMu.Unlock()
	r.result.Failed = append(r.result.Failed, FailedAction{Addr: c.Addr, Action: c.Action, Err: err})
}

func (r *applyRun) recordSkip(c *ir.Change) {
	r.resultMu.Lock()
	defer r.resultMu.Unlock()
	r.result.Skipped = append(r.result.Skipped, c.Addr)
	r.emit(ApplyEvent{Addr: c.Addr, Action: c.Action, Status: "skipped"})
}

// applyChange executes one action against the provider and commits the
// outcome to the state store. The action context is detached from the
// run's cancellation so a dispatched call can finish and record its
// result, but stays bounded by the per-action timeout.
func (r *applyRun) applyChange(ctx context.Context, change *ir.Change) error {
	addr := change.Addr
	logging.Debug("applying change", "address", addr.String(), "action", string(change.Action))

	actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.engine.timeout())
	defer cancel()

	prov, err := r.engine.registry.Get(change.Provider)
	if err != nil {
		return &ir.ProviderError{Addr: addr, Action: change.Action, Err: err}
	}

	rec, err := r.store.Get(actionCtx, addr)
	if err != nil {
		return err
	}

	policy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate:
		args, depAddrs, err := r.resolveArgs(actionCtx, addr)
		if err != nil {
			return err
		}
		if rec != nil && !change.Replacing && rec.ID != "" {
			// A previous run already created this resource; reconcile
			// against the store instead of double-creating.
			return r.doUpdate(actionCtx, prov, change, rec, args, policy)
		}
		var serial int64
		if rec != nil {
			serial = rec.Serial
		}
		return r.doCreate(actionCtx, prov, change, args, depAddrs, serial, policy)

	case ir.ActionUpdate:
		args, _, err := r.resolveArgs(actionCtx, addr)
		if err != nil {
			return err
		}
		if rec == nil {
			return &ir.ProviderError{Addr: addr, Action: change.Action,
				Err: fmt.Errorf("no state record; run plan again")}
		}
		return r.doUpdate(actionCtx, prov, change, rec, args, policy)

	case ir.ActionReplace:
		// Default ordering: destroy the original, then create the
		// replacement.
		args, depAddrs, err := r.resolveArgs(actionCtx, addr)
		if err != nil {
			return err
		}
		if rec != nil && rec.ID != "" {
			if err := RetryWithBackoff(actionCtx, policy, func() error {
				return prov.Delete(actionCtx, addr.Type, rec.ID)
			}, IsTransientError); err != nil {
				return &ir.ProviderError{Addr: addr, Action: ir.ActionDelete, Err: err}
			}
			if err := r.store.Delete(actionCtx, addr); err != nil {
				return err
			}
		}
		return r.doCreate(actionCtx, prov, change, args, depAddrs, 0, policy)

	case ir.ActionDelete:
		id := change.DeposedID
		if id == "" && rec != nil {
			id = rec.ID
		}
		if id == "" && change.Prior != nil {
			id = change.Prior.ID
		}
		if err := RetryWithBackoff(actionCtx, policy, func() error {
			return prov.Delete(actionCtx, addr.Type, id)
		}, IsTransientError); err != nil {
			return &ir.ProviderError{Addr: addr, Action: ir.ActionDelete, Err: err}
		}
		if change.Replacing {
			// The record already points at the replacement; only the
			// deposed object was deleted.
			return nil
		}
		return r.store.Delete(actionCtx, addr)

	default:
		return nil
	}
}

func (r *applyRun) doCreate(ctx context.Context, prov provider.Interface, change *ir.Change, args map[string]any, depAddrs []string, serial int64, policy *RetryPolicy) error {
	addr := change.Addr
	var id string
	var attrs map[string]any
	err := RetryWithBackoff(ctx, policy, func() error {
		var callErr error
		id, attrs, callErr = prov.Create(ctx, addr.Type, args)
		return callErr
	}, IsTransientError)
	if err != nil {
		return &ir.ProviderError{Addr: addr, Action: ir.ActionCreate, Err: err}
	}

	rec := &ir.Record{
		Identity:     addr,
		Provider:     change.Provider,
		ID:           id,
		Args:         args,
		Attrs:        attrs,
		Dependencies: depAddrs,
		Serial:       serial,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	r.publish(addr, args, attrs)
	return nil
}

func (r *applyRun) doUpdate(ctx context.Context, prov provider.Interface, change *ir.Change, rec *ir.Record, args map[string]any, policy *RetryPolicy) error {
	addr := change.Addr
	var attrs map[string]any
	err := RetryWithBackoff(ctx, policy, func() error {
		var callErr error
		attrs, callErr = prov.Update(ctx, addr.Type, rec.ID, args)
		return callErr
	}, IsTransientError)
	if err != nil {
		return &ir.ProviderError{Addr: addr, Action: ir.ActionUpdate, Err: err}
	}

	next := &ir.Record{
		Identity:     addr,
		Provider:     change.Provider,
		ID:           rec.ID,
		Args:         args,
		Attrs:        attrs,
		Dependencies: rec.Dependencies,
		Serial:       rec.Serial,
	}
	if err := r.store.Put(ctx, next); err != nil {
		return err
	}
	r.publish(addr, args, attrs)
	return nil
}

// publish re-points the shared scope at the resource's fresh values so
// dependents evaluating afterwards see the new identifier.
func (r *applyRun) publish(addr ir.Identity, args, attrs map[string]any) {
	merged := make(map[string]any, len(args)+len(attrs))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	r.scopeMu.Lock()
	r.scope.SetObject(addr, config.ObjectFromAttrs(merged))
	r.scopeMu.Unlock()
}

// resolveArgs re-evaluates the resource body now that its dependencies
// have concrete values, materializing any scope object not yet bound
// (records of no-op resources, data source reads deferred past
// planning). It also returns the dependency addresses for the state
// record.
func (r *applyRun) resolveArgs(ctx context.Context, addr ir.Identity) (map[string]any, []string, error) {
	block := r.doc.Resource(addr)
	if block == nil {
		return nil, nil, fmt.Errorf("%s: not in configuration", addr)
	}

	r.scopeMu.Lock()
	defer r.scopeMu.Unlock()

	deps := r.graph.Dependencies(addr)
	depAddrs := make([]string, 0, len(deps))
	for _, dep := range deps {
		depAddrs = append(depAddrs, dep.String())
		if err := r.materializeLocked(ctx, dep, make(map[ir.Identity]bool)); err != nil {
			return nil, nil, err
		}
	}
	sort.Strings(depAddrs)

	args, err := config.EvalBody(block.Body, r.scope)
	if err != nil {
		return nil, nil, err
	}
	if ir.ContainsUnknown(args) {
		return nil, nil, fmt.Errorf("%s: arguments still unknown after dependencies applied", addr)
	}
	return args, depAddrs, nil
}

// materializeLocked ensures the scope has a concrete object for addr:
// no-op resources load their state record, data sources are read
// through the provider. Callers hold scopeMu.
func (r *applyRun) materializeLocked(ctx context.Context, addr ir.Identity, visiting map[ir.Identity]bool) error {
	if v, ok := r.scope.Objects[addr]; ok && v.IsWhollyKnown() {
		return nil
	}
	if visiting[addr] {
		return &ir.CycleError{Nodes: []string{addr.String()}}
	}
	visiting[addr] = true

	if addr.Mode == ir.ModeData {
		block := r.doc.Resource(addr)
		if block == nil {
			return fmt.Errorf("%s: not in configuration", addr)
		}
		for _, dep := range r.graph.Dependencies(addr) {
			if err := r.materializeLocked(ctx, dep, visiting); err != nil {
				return err
			}
		}
		args, err := config.EvalBody(block.Body, r.scope)
		if err != nil {
			return err
		}
		prov, err := r.engine.registry.Get(block.Provider)
		if err != nil {
			return err
		}
		attrs, err := prov.ReadDataSource(ctx, addr.Type, args)
		if err != nil {
			return &ir.ProviderError{Addr: addr, Action: ir.ActionNoop, Err: err}
		}
		r.scope.SetObject(addr, config.ObjectFromAttrs(attrs))
		return nil
	}

	rec, err := r.store.Get(ctx, addr)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%s: referenced resource has no state record", addr)
	}
	r.scope.SetObject(addr, config.ObjectFromRecord(rec))
	return nil
}

func (e *Engine) parallelism() int {
	if e.Parallelism > 0 {
		return e.Parallelism
	}
	return defaultParallelism
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}
