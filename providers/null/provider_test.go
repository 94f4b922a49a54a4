package null

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	p := New()

	schema, err := p.Schema("null_resource")
	require.NoError(t, err)
	assert.True(t, schema.ForceNew("triggers"))
	assert.False(t, schema.ForceNew("note"))
	assert.Contains(t, schema.Computed, "id")

	_, err = p.Schema("null_widget")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p := New()
	ctx := context.Background()

	require.NoError(t, p.Validate(ctx, "null_resource", map[string]any{"note": "hi"}))

	err := p.Validate(ctx, "null_resource", map[string]any{"nope": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestResourceLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	id, attrs, err := p.Create(ctx, "null_resource", map[string]any{"note": "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, attrs["id"])

	_, exists, err := p.Read(ctx, "null_resource", id)
	require.NoError(t, err)
	assert.True(t, exists)

	attrs, err = p.Update(ctx, "null_resource", id, map[string]any{"note": "bye"})
	require.NoError(t, err)
	assert.Equal(t, id, attrs["id"])

	require.NoError(t, p.Delete(ctx, "null_resource", id))

	_, exists, err = p.Read(ctx, "null_resource", id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateMissingResource(t *testing.T) {
	p := New()
	_, err := p.Update(context.Background(), "null_resource", "gone", map[string]any{})
	assert.Error(t, err)
}

func TestDataSourceEchoesInputs(t *testing.T) {
	p := New()

	attrs, err := p.ReadDataSource(context.Background(), "null_data_source", map[string]any{
		"inputs": map[string]any{"color": "green"},
	})
	require.NoError(t, err)

	outputs, ok := attrs["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "green", outputs["color"])
	assert.Equal(t, "static", attrs["id"])
}
