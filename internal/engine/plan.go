package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/logging"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/state"
)

// Engine orchestrates the lifecycle of resources: planning diffs and
// executing the resulting actions.
type Engine struct {
	registry *provider.Registry

	// FailFast stops scheduling new actions after the first failure.
	// By default a failure skips only the failed resource's transitive
	// dependents; actions in unaffected branches still complete.
	FailFast bool

	// Refresh makes plan read live attributes for existing records
	// before diffing, surfacing drift at the cost of API calls.
	Refresh bool

	// Parallelism bounds concurrent provider actions during apply.
	Parallelism int

	// Timeout bounds each provider API action.
	Timeout time.Duration
}

func New(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: defaultParallelism,
	}
}

// Plan compares the desired document against the state store and
// produces the ordered action list. Parse, reference, cycle, and
// validation problems abort planning before any mutation.
func (e *Engine) Plan(ctx context.Context, doc *config.Document, store state.Store, varOverrides map[string]string) (*ir.Plan, error) {
	vals, err := config.ResolveVariables(doc, varOverrides)
	if err != nil {
		return nil, err
	}

	graph, err := BuildGraph(doc)
	if err != nil {
		return nil, err
	}
	logging.Debug("planning", "resources", len(doc.Resources))

	records, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	scope := config.NewScope(vals)
	if err := e.configureProviders(ctx, doc, scope, records); err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		CreatedAt: time.Now().UTC(),
		Outputs:   make(map[string]any),
	}
	var deferred []*ir.Change

	for _, addr := range graph.Order() {
		block := graph.Block(addr)
		prov, err := e.registry.Get(block.Provider)
		if err != nil {
			return nil, err
		}

		args, err := config.EvalBody(block.Body, scope)
		if err != nil {
			return nil, err
		}

		if addr.Mode == ir.ModeData {
			if err := e.planDataSource(ctx, prov, addr, args, scope); err != nil {
				return nil, err
			}
			continue
		}

		change, err := e.planResource(ctx, prov, store, block, args)
		if err != nil {
			return nil, err
		}

		if change == nil {
			rec, err := store.Get(ctx, addr)
			if err != nil {
				return nil, err
			}
			scope.SetObject(addr, config.ObjectFromRecord(rec))
			plan.Summary.NoOp++
			continue
		}

		scope.SetUnknown(addr)
		switch {
		case change.Action == ir.ActionCreate && change.Replacing:
			// Create-before-destroy: the successor's create takes the
			// normal slot, the original's destroy is deferred to the
			// very end.
			plan.Changes = append(plan.Changes, change)
			deferred = append(deferred, &ir.Change{
				Addr:      addr,
				Action:    ir.ActionDelete,
				Provider:  change.Provider,
				Prior:     change.Prior,
				Replacing: true,
				DeposedID: change.Prior.ID,
			})
			plan.Summary.Replace++
		case change.Action == ir.ActionReplace:
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Replace++
		case change.Action == ir.ActionCreate:
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Create++
		case change.Action == ir.ActionUpdate:
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Update++
		}
	}

	removed, err := e.planRemoved(ctx, doc, store)
	if err != nil {
		return nil, err
	}
	plan.Changes = append(plan.Changes, removed...)
	plan.Summary.Delete += len(removed)

	plan.Changes = append(plan.Changes, deferred...)
	plan.Summary.Delete += len(deferred)

	for _, out := range doc.Outputs {
		v, err := config.EvalOutput(out, scope)
		if err != nil {
			return nil, err
		}
		plan.Outputs[out.Name] = v
	}

	return plan, nil
}

// planDataSource resolves a data source during planning when its
// arguments are fully known; otherwise it stays unknown and the apply
// executor reads it on demand.
func (e *Engine) planDataSource(ctx context.Context, prov provider.Interface, addr ir.Identity, args map[string]any, scope *config.Scope) error {
	if ir.ContainsUnknown(args) {
		scope.SetUnknown(addr)
		return nil
	}
	if err := prov.Validate(ctx, addr.Type, args); err != nil {
		return &ir.ValidationError{Addr: addr, Detail: err.Error()}
	}
	attrs, err := prov.ReadDataSource(ctx, addr.Type, args)
	if err != nil {
		return &ir.ProviderError{Addr: addr, Action: ir.ActionNoop, Err: err}
	}
	scope.SetObject(addr, config.ObjectFromAttrs(attrs))
	return nil
}

// planResource diffs one managed resource against its state record and
// returns the change, or nil for a no-op.
func (e *Engine) planResource(ctx context.Context, prov provider.Interface, store state.Store, block *config.ResourceBlock, args map[string]any) (*ir.Change, error) {
	addr := block.Addr

	if err := prov.Validate(ctx, addr.Type, ir.StripUnknown(args)); err != nil {
		return nil, &ir.ValidationError{Addr: addr, Detail: err.Error()}
	}

	rec, err := store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return &ir.Change{
			Addr:     addr,
			Action:   ir.ActionCreate,
			Provider: block.Provider,
			Desired:  args,
			Diff:     createDiff(args),
		}, nil
	}

	if e.Refresh {
		attrs, exists, err := prov.Read(ctx, addr.Type, rec.ID)
		if err != nil {
			return nil, &ir.ProviderError{Addr: addr, Action: ir.ActionNoop, Err: err}
		}
		if !exists {
			// Remote object is gone; plan recreates it.
			return &ir.Change{
				Addr:     addr,
				Action:   ir.ActionCreate,
				Provider: block.Provider,
				Desired:  args,
				Diff:     createDiff(args),
			}, nil
		}
		rec.Attrs = attrs
	}

	schema, err := prov.Schema(addr.Type)
	if err != nil {
		return nil, &ir.ValidationError{Addr: addr, Detail: err.Error()}
	}

	diff := diffArgs(rec.Args, args, schema, block.Lifecycle.IgnoreChanges)
	if len(diff) == 0 {
		return nil, nil
	}

	var replacePaths []string
	for key, d := range diff {
		if d.ForcesReplacement {
			replacePaths = append(replacePaths, key)
		}
	}
	sort.Strings(replacePaths)

	if len(replacePaths) > 0 {
		if block.Lifecycle.PreventDestroy {
			return nil, fmt.Errorf("%s: changing %v requires replacement, but prevent_destroy is set",
				addr, replacePaths)
		}
		change := &ir.Change{
			Addr:         addr,
			Action:       ir.ActionReplace,
			Provider:     block.Provider,
			Desired:      args,
			Prior:        rec,
			ReplacePaths: replacePaths,
			Diff:         diff,
		}
		if block.Lifecycle.CreateBeforeDestroy {
			change.Action = ir.ActionCreate
			change.Replacing = true
		}
		return change, nil
	}

	return &ir.Change{
		Addr:     addr,
		Action:   ir.ActionUpdate,
		Provider: block.Provider,
		Desired:  args,
		Prior:    rec,
		Diff:     diff,
	}, nil
}

// planRemoved emits destroy actions for records whose resources left
// the configuration, ordered so each destroy runs after the destroys
// of everything that depended on it (reverse of creation order).
func (e *Engine) planRemoved(ctx context.Context, doc *config.Document, store state.Store) ([]*ir.Change, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	var removed []*ir.Record
	for _, rec := range records {
		if doc.Resource(rec.Identity) == nil {
			removed = append(removed, rec)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	ordered, err := orderForDestroy(removed)
	if err != nil {
		return nil, err
	}

	changes := make([]*ir.Change, 0, len(ordered))
	for _, rec := range ordered {
		if err := e.registry.Load(rec.Provider); err != nil {
			return nil, err
		}
		changes = append(changes, &ir.Change{
			Addr:     rec.Identity,
			Action:   ir.ActionDelete,
			Provider: rec.Provider,
			Prior:    rec,
			Diff:     deleteDiff(rec.Args),
		})
	}
	return changes, nil
}

// PlanDestroy produces an all-delete plan over every record in the
// store, in reverse dependency order. The document, when present,
// supplies provider settings and variable values; destroy still works
// from state alone if the configuration is gone.
func (e *Engine) PlanDestroy(ctx context.Context, doc *config.Document, store state.Store, varOverrides map[string]string) (*ir.Plan, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		doc = &config.Document{}
	}
	vals, err := config.ResolveVariables(doc, varOverrides)
	if err != nil {
		return nil, err
	}
	if err := e.configureProviders(ctx, doc, config.NewScope(vals), records); err != nil {
		return nil, err
	}

	ordered, err := orderForDestroy(records)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{CreatedAt: time.Now().UTC(), Outputs: make(map[string]any)}
	for _, rec := range ordered {
		plan.Changes = append(plan.Changes, &ir.Change{
			Addr:     rec.Identity,
			Action:   ir.ActionDelete,
			Provider: rec.Provider,
			Prior:    rec,
			Diff:     deleteDiff(rec.Args),
		})
		plan.Summary.Delete++
	}
	return plan, nil
}

// orderForDestroy topologically sorts records by their recorded
// dependencies and returns them dependents-first.
func orderForDestroy(records []*ir.Record) ([]*ir.Record, error) {
	byAddr := make(map[string]*ir.Record, len(records))
	for _, rec := range records {
		byAddr[rec.Identity.String()] = rec
	}

	// dependents[x] = records that depend on x and are also being
	// destroyed.
	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(records))
	for _, rec := range records {
		inDegree[rec.Identity.String()] = 0
	}
	for _, rec := range records {
		for _, dep := range rec.Dependencies {
			if _, ok := byAddr[dep]; ok {
				dependents[dep] = append(dependents[dep], rec.Identity.String())
				inDegree[dep]++
			}
		}
	}

	// Kahn over the reversed edges: a record is ready once every
	// record depending on it has been emitted.
	var ready []string
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, addr)
		}
	}
	sort.Strings(ready)

	var ordered []*ir.Record
	for len(ready) > 0 {
		addr := ready[0]
		ready = ready[1:]
		rec := byAddr[addr]
		ordered = append(ordered, rec)

		for _, dep := range rec.Dependencies {
			if _, ok := byAddr[dep]; !ok {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(records) {
		var cyclic []string
		for addr, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, addr)
			}
		}
		sort.Strings(cyclic)
		return nil, &ir.CycleError{Nodes: cyclic}
	}
	return ordered, nil
}

// diffArgs compares last-applied arguments against desired ones. A
// desired value that is unknown until applied counts as changed, which
// defers the real comparison to apply time. Keys named in
// ignoreChanges are skipped.
func diffArgs(prior, desired map[string]any, schema *provider.Schema, ignoreChanges []string) map[string]*ir.AttrDiff {
	ignored := make(map[string]bool, len(ignoreChanges))
	for _, name := range ignoreChanges {
		ignored[name] = true
	}

	diff := make(map[string]*ir.AttrDiff)
	keys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	for k := range keys {
		if ignored[k] {
			continue
		}
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.AttrDiff{After: desiredVal, Action: ir.ActionCreate, ForcesReplacement: schema.ForceNew(k)}
		case !inDesired:
			diff[k] = &ir.AttrDiff{Before: priorVal, Action: ir.ActionDelete, ForcesReplacement: schema.ForceNew(k)}
		case ir.ContainsUnknown(desiredVal) || !reflect.DeepEqual(priorVal, desiredVal):
			diff[k] = &ir.AttrDiff{Before: priorVal, After: desiredVal, Action: ir.ActionUpdate, ForcesReplacement: schema.ForceNew(k)}
		}
	}
	return diff
}

func createDiff(args map[string]any) map[string]*ir.AttrDiff {
	diff := make(map[string]*ir.AttrDiff, len(args))
	for k, v := range args {
		diff[k] = &ir.AttrDiff{After: v, Action: ir.ActionCreate}
	}
	return diff
}

func deleteDiff(args map[string]any) map[string]*ir.AttrDiff {
	diff := make(map[string]*ir.AttrDiff, len(args))
	for k, v := range args {
		diff[k] = &ir.AttrDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}

// configureProviders loads and configures every provider referenced by
// the document or by existing state records (the latter is needed to
// destroy removed resources), evaluating provider blocks with
// variables in scope.
func (e *Engine) configureProviders(ctx context.Context, doc *config.Document, scope *config.Scope, records []*ir.Record) error {
	var names []string
	seen := make(map[string]bool)
	for _, rb := range doc.Resources {
		if !seen[rb.Provider] {
			seen[rb.Provider] = true
			names = append(names, rb.Provider)
		}
	}
	for _, rec := range records {
		if !seen[rec.Provider] {
			seen[rec.Provider] = true
			names = append(names, rec.Provider)
		}
	}

	for _, name := range names {
		if err := e.registry.Load(name); err != nil {
			return err
		}
		prov, err := e.registry.Get(name)
		if err != nil {
			return err
		}

		settings := map[string]any{}
		if body, ok := doc.Providers[name]; ok {
			settings, err = config.EvalProviderSettings(body, scope)
			if err != nil {
				return err
			}
		}
		if err := prov.Configure(ctx, settings); err != nil {
			return fmt.Errorf("failed to configure provider %s: %w", name, err)
		}
	}
	return nil
}
