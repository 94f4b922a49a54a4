package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func TestBuildGraph_OrderFollowsReferences(t *testing.T) {
	doc := loadDoc(t, `
resource "test_thing" "c" {
  name = "c"
  a_id = test_thing.b.id
}

resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}

resource "test_thing" "a" {
  name = "a"
}
`)

	graph, err := BuildGraph(doc)
	require.NoError(t, err)

	var order []string
	for _, a := range graph.Order() {
		order = append(order, a.String())
	}
	assert.Equal(t, []string{"test_thing.a", "test_thing.b", "test_thing.c"}, order)

	var reverse []string
	for _, a := range graph.ReverseOrder() {
		reverse = append(reverse, a.String())
	}
	assert.Equal(t, []string{"test_thing.c", "test_thing.b", "test_thing.a"}, reverse)
}

func TestBuildGraph_DependsOnAddsEdge(t *testing.T) {
	doc := loadDoc(t, `
resource "test_thing" "b" {
  name       = "b"
  depends_on = [test_thing.a]
}

resource "test_thing" "a" {
  name = "a"
}
`)

	graph, err := BuildGraph(doc)
	require.NoError(t, err)

	deps := graph.Dependencies(ir.Identity{Mode: ir.ModeManaged, Type: "test_thing", Name: "b"})
	require.Len(t, deps, 1)
	assert.Equal(t, "test_thing.a", deps[0].String())
}

func TestBuildGraph_SelfReference(t *testing.T) {
	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = "a"
  a_id = test_thing.a.id
}
`)

	_, err := BuildGraph(doc)
	var cycleErr *ir.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"test_thing.a"}, cycleErr.Nodes)
}

func TestBuildGraph_UndeclaredVariable(t *testing.T) {
	doc := loadDoc(t, `
resource "test_thing" "a" {
  name = var.missing
}
`)

	_, err := BuildGraph(doc)
	var refErr *ir.ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Contains(t, refErr.Expression, "var.missing")
}

func TestGraph_Dot(t *testing.T) {
	doc := loadDoc(t, `
resource "test_thing" "b" {
  name = "b"
  a_id = test_thing.a.id
}

resource "test_thing" "a" {
  name = "a"
}
`)

	graph, err := BuildGraph(doc)
	require.NoError(t, err)

	dot := graph.Dot()
	assert.Contains(t, dot, `"test_thing.b" -> "test_thing.a";`)
}
