package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func addr(name string) ir.Identity {
	return ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: name}
}

func TestApply_CreatesChainAndResolvesReferences(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)
	assert.Len(t, result.Completed, 2)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)

	assert.Equal(t, []string{"create a", "create b"}, prov.callLog())

	recA, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	require.NotNil(t, recA)
	assert.Equal(t, "test_thing-1", recA.ID)
	assert.Equal(t, int64(1), recA.Serial)

	// b's reference was re-evaluated at apply time against a's fresh id.
	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	require.NotNil(t, recB)
	assert.Equal(t, recA.ID, recB.Args["a_id"])
	assert.Equal(t, []string{"test_thing.a"}, recB.Dependencies)
}

func TestApply_FailureSkipsDependents(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()
	prov.failCreate["a"] = true

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.Error(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "test_thing.a", result.Failed[0].Addr.String())

	var provErr *ir.ProviderError
	require.ErrorAs(t, result.Failed[0].Err, &provErr)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "test_thing.b", result.Skipped[0].String())

	// Nothing was recorded for either resource.
	recA, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	assert.Nil(t, recA)
	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	assert.Nil(t, recB)
}

func TestApply_IndependentBranchAppliesDespiteFailure(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()
	eng.Parallelism = 1
	prov.failCreate["a"] = true

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}

resource "test_thing" "c" {
  name = "c"
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.Error(t, err)
	require.Len(t, result.Failed, 1)
	require.Len(t, result.Skipped, 1)
	require.Len(t, result.Completed, 1)
	assert.Equal(t, "test_thing.c", result.Completed[0].String())

	recC, err := store.Get(ctx, addr("c"))
	require.NoError(t, err)
	require.NotNil(t, recC)
}

// A failure in one branch must not cut short another branch whose
// work is still pending: b waits on the slow a and still applies
// after f has already failed.
func TestApply_UnaffectedBranchCompletesAfterEarlyFailure(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()
	prov.failCreate["f"] = true
	prov.createDelay["a"] = 150 * time.Millisecond

	doc := loadDoc(t, `
resource "test_thing" "f" {
  name = "f"
}

resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.Error(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "test_thing.f", result.Failed[0].Addr.String())
	assert.Empty(t, result.Skipped)

	completed := make([]string, 0, len(result.Completed))
	for _, c := range result.Completed {
		completed = append(completed, c.String())
	}
	assert.ElementsMatch(t, []string{"test_thing.a", "test_thing.b"}, completed)

	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	require.NotNil(t, recB)
}

func TestApply_FailFastSkipsPendingActions(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()
	eng.FailFast = true
	prov.failCreate["f"] = true
	prov.createDelay["a"] = 150 * time.Millisecond

	doc := loadDoc(t, `
resource "test_thing" "f" {
  name = "f"
}

resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.Error(t, err)

	// f failed while b was still waiting on a, so b never ran.
	require.Len(t, result.Failed, 1)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "test_thing.b", result.Skipped[0].String())

	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	assert.Nil(t, recB)
}

// Cancelling the run stops scheduling: the already-dispatched slow
// create finishes and lands in state, pending dependents are skipped.
func TestApply_CancelStopsSchedulingButFinishesInFlight(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prov.createDelay["a"] = 150 * time.Millisecond

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	timer := time.AfterFunc(30*time.Millisecond, cancel)
	defer timer.Stop()

	result, err := eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	require.Len(t, result.Completed, 1)
	assert.Equal(t, "test_thing.a", result.Completed[0].String())
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "test_thing.b", result.Skipped[0].String())

	recA, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	require.NotNil(t, recA)
	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	assert.Nil(t, recB)
}

func TestApply_UpdateKeepsIDAndBumpsSerial(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  note = "new"
}
`)

	prov.objects["test_thing-7"] = map[string]any{"name": "a", "note": "old"}
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: addr("a"),
		Provider: "test",
		ID:       "test_thing-7",
		Args:     map[string]any{"name": "a", "note": "old"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Update)

	_, err = eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	rec, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	assert.Equal(t, "test_thing-7", rec.ID)
	assert.Equal(t, "new", rec.Args["note"])
	assert.Equal(t, int64(2), rec.Serial)
}

// Default replacement destroys the original before creating the
// successor.
func TestApply_ReplaceDeletesThenCreates(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  size = "large"
}
`)

	prov.objects["test_thing-old"] = map[string]any{"name": "a", "size": "small"}
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: addr("a"),
		Provider: "test",
		ID:       "test_thing-old",
		Args:     map[string]any{"name": "a", "size": "small"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Replace)

	_, err = eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete test_thing-old", "create a"}, prov.callLog())

	rec, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	assert.Equal(t, "test_thing-1", rec.ID)
	assert.Equal(t, int64(1), rec.Serial)
}

// Create-before-destroy reverses that: the successor exists before the
// original is destroyed, and the deposed id is what gets deleted.
func TestApply_CreateBeforeDestroyOrdering(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  size = "large"

  lifecycle {
    create_before_destroy = true
  }
}
`)

	prov.objects["test_thing-old"] = map[string]any{"name": "a", "size": "small"}
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: addr("a"),
		Provider: "test",
		ID:       "test_thing-old",
		Args:     map[string]any{"name": "a", "size": "small"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	_, err = eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"create a", "delete test_thing-old"}, prov.callLog())

	rec, err := store.Get(ctx, addr("a"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "test_thing-1", rec.ID)
}

func TestApply_RemovedResourceIsDestroyed(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, ``)

	prov.objects["test_thing-9"] = map[string]any{"name": "gone"}
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: addr("gone"),
		Provider: "test",
		ID:       "test_thing-9",
		Args:     map[string]any{"name": "gone"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Delete)

	_, err = eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete test_thing-9"}, prov.callLog())
	rec, err := store.Get(ctx, addr("gone"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestApply_DataSourceReadLazily(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}

data "test_data" "lookup" {
  input = test_thing.a.id
}

resource "test_thing" "b" {
  name = "b"
  note = data.test_data.lookup.output
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	_, err = eng.Apply(ctx, doc, plan, store, nil, nil)
	require.NoError(t, err)

	// The deferred data source was read during apply and b received the
	// echoed value: a's id.
	recB, err := store.Get(ctx, addr("b"))
	require.NoError(t, err)
	require.NotNil(t, recB)
	assert.Equal(t, "test_thing-1", recB.Args["note"])
	assert.Contains(t, prov.callLog(), "read-data")
}

func TestApply_EventsReported(t *testing.T) {
	eng, prov, store := newTestEngine(t)
	ctx := context.Background()
	prov.failCreate["bad"] = true

	doc := loadDoc(t, `
resource "test_thing" "good" {
  name = "good"
}

resource "test_thing" "bad" {
  name = "bad"
}
`)

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)

	events := make(map[string][]string)
	_, err = eng.Apply(ctx, doc, plan, store, nil, func(ev ApplyEvent) {
		events[ev.Addr.String()] = append(events[ev.Addr.String()], ev.Status)
	})
	require.Error(t, err)

	assert.Equal(t, []string{"started", "completed"}, events["test_thing.good"])
	assert.Equal(t, []string{"started", "failed"}, events["test_thing.bad"])
}
