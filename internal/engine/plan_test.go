package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func TestPlan_CreateInDependencyOrder(t *testing.T) {
	eng, _, store := newTestEngine(t)
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
	require.Len(t, plan.Changes, 2)

	assert.Equal(t, "test_thing.a", plan.Changes[0].Addr.String())
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "test_thing.b", plan.Changes[1].Addr.String())
	assert.Equal(t, ir.ActionCreate, plan.Changes[1].Action)
	assert.Equal(t, 2, plan.Summary.Create)

	// b's reference to a is unknown until a is applied.
	assert.True(t, ir.IsUnknown(plan.Changes[1].Desired["a_id"]))
}

func TestPlan_NoChangesIsEmpty(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  note = "hello"
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "note": "hello"},
		Attrs:    map[string]any{"id": "test_thing-1"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	assert.True(t, plan.Summary.Empty())
	assert.Equal(t, 1, plan.Summary.NoOp)
	assert.Empty(t, plan.Changes)
}

func TestPlan_UpdateInPlace(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  note = "new"
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "note": "old"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)

	diff := plan.Changes[0].Diff["note"]
	require.NotNil(t, diff)
	assert.Equal(t, "old", diff.Before)
	assert.Equal(t, "new", diff.After)
	assert.False(t, diff.ForcesReplacement)
}

func TestPlan_ForceNewChangeReplaces(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  size = "large"
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "size": "small"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, []string{"size"}, plan.Changes[0].ReplacePaths)
	assert.Equal(t, 1, plan.Summary.Replace)
}

// A create-before-destroy replacement plans as the successor's create
// in normal dependency position, the dependent's update in between,
// and the original's destroy at the very end.
func TestPlan_CreateBeforeDestroy(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  size = "large"

  lifecycle {
    create_before_destroy = true
  }
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "size": "small"},
	}))
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity:     ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "b"},
		Provider:     "test",
		ID:           "test_thing-2",
		Args:         map[string]any{"name": "b", "a_id": "test_thing-1"},
		Dependencies: []string{"test_thing.a"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 3)

	assert.Equal(t, "test_thing.a", plan.Changes[0].Addr.String())
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.True(t, plan.Changes[0].Replacing)

	assert.Equal(t, "test_thing.b", plan.Changes[1].Addr.String())
	assert.Equal(t, ir.ActionUpdate, plan.Changes[1].Action)

	assert.Equal(t, "test_thing.a", plan.Changes[2].Addr.String())
	assert.Equal(t, ir.ActionDelete, plan.Changes[2].Action)
	assert.True(t, plan.Changes[2].Replacing)
	assert.Equal(t, "test_thing-1", plan.Changes[2].DeposedID)

	assert.Equal(t, 1, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.Update)
}

func TestPlan_RemovedRecordsDestroyDependentsFirst(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	// Empty configuration, two records where b depends on a: b must be
	// destroyed before a.
	doc := loadDoc(t, ``)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a"},
	}))
	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity:     ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "b"},
		Provider:     "test",
		ID:           "test_thing-2",
		Args:         map[string]any{"name": "b"},
		Dependencies: []string{"test_thing.a"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "test_thing.b", plan.Changes[0].Addr.String())
	assert.Equal(t, "test_thing.a", plan.Changes[1].Addr.String())
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, ir.ActionDelete, plan.Changes[1].Action)
	assert.Equal(t, 2, plan.Summary.Delete)
}

func TestPlan_DanglingReference(t *testing.T) {
	eng, _, store := newTestEngine(t)

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  a_id = test_thing.missing.id
}
`)

	_, err := eng.Plan(context.Background(), doc, store, nil)
	var refErr *ir.ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "test_thing.a", refErr.Addr.String())
}

func TestPlan_CycleIsRejected(t *testing.T) {
	eng, _, store := newTestEngine(t)

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  a_id = test_thing.b.id
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}
`)

	_, err := eng.Plan(context.Background(), doc, store, nil)
	var cycleErr *ir.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"test_thing.a", "test_thing.b"}, cycleErr.Nodes)
}

func TestPlan_PreventDestroyBlocksReplacement(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  size = "large"

  lifecycle {
    prevent_destroy = true
  }
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "size": "small"},
	}))

	_, err := eng.Plan(ctx, doc, store, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestPlan_IgnoreChanges(t *testing.T) {
	eng, _, store := newTestEngine(t)
	ctx := context.Background()

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  note = "changed"

  lifecycle {
    ignore_changes = [note]
  }
}
`)

	require.NoError(t, store.Put(ctx, &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "a"},
		Provider: "test",
		ID:       "test_thing-1",
		Args:     map[string]any{"name": "a", "note": "original"},
	}))

	plan, err := eng.Plan(ctx, doc, store, nil)
	require.NoError(t, err)
	assert.True(t, plan.Summary.Empty())
}

func TestPlan_ValidationErrorAborts(t *testing.T) {
	eng, _, store := newTestEngine(t)

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name   = "a"
  bogus  = true
}
`)

	_, err := eng.Plan(context.Background(), doc, store, nil)
	var valErr *ir.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "test_thing.a", valErr.Addr.String())
}

func TestPlan_DataSourceReadDuringPlan(t *testing.T) {
	eng, prov, store := newTestEngine(t)

	doc := loadDoc(t, `
data "test_data" "lookup" {
  input = "v42"
}

resource "test_thing" "a" {
  name = "a"
  note = data.test_data.lookup.output
}
`)

	plan, err := eng.Plan(context.Background(), doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)

	// Fully known data source arguments resolve at plan time; the
	// dependent's argument is concrete and the data source itself never
	// appears in the change list.
	assert.Equal(t, "v42", plan.Changes[0].Desired["note"])
	assert.Contains(t, prov.callLog(), "read-data")
}

func TestPlan_DataSourceDeferredWhenArgsUnknown(t *testing.T) {
	eng, prov, store := newTestEngine(t)

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

	plan, err := eng.Plan(context.Background(), doc, store, nil)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	assert.True(t, ir.IsUnknown(plan.Changes[1].Desired["note"]))
	assert.NotContains(t, prov.callLog(), "read-data")
}

func TestPlan_VariablesAndOutputs(t *testing.T) {
	eng, _, store := newTestEngine(t)

	doc := loadDoc(t, `
variable "note" {
  type    = string
  default = "from-default"
}

resource "test_thing" "a" {
  name = "a"
  note = var.note
}

output "note" {
  value = var.note
}
`)

	plan, err := eng.Plan(context.Background(), doc, store, map[string]string{"note": "override"})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "override", plan.Changes[0].Desired["note"])
	assert.Equal(t, "override", plan.Outputs["note"])
}

func TestPlan_UndeclaredVariableOverride(t *testing.T) {
	eng, _, store := newTestEngine(t)

	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
}
`)

	_, err := eng.Plan(context.Background(), doc, store, map[string]string{"nope": "x"})
	var parseErr *ir.ParseError
	require.ErrorAs(t, err, &parseErr)
}

// Repeated plans over identical input must produce identical ordering.
func TestPlan_DeterministicOrder(t *testing.T) {
	src := `
resource "test_thing" "z" {
  name = "z"
}

resource "test_thing" "m" {
  name = "m"
}

resource "test_thing" "a" {
  name = "a"
}
`
	var first []string
	for run := 0; run < 5; run++ {
		eng, _, store := newTestEngine(t)
		plan, err := eng.Plan(context.Background(), loadDoc(t, src), store, nil)
		require.NoError(t, err)

		var order []string
		for _, c := range plan.Changes {
			order = append(order, c.Addr.String())
		}
		if first == nil {
			first = order
			// Independent nodes keep declaration order.
			assert.Equal(t, []string{"test_thing.z", "test_thing.m", "test_thing.a"}, order)
		} else {
			assert.Equal(t, first, order)
		}
	}
}
