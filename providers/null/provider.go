// Package null implements an in-memory provider useful for testing the
// engine without touching any real API. A null_resource exists only in
// state; its "triggers" map forces replacement when it changes, "note"
// updates in place. The null_data_source echoes its inputs back as
// outputs.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/provider"
)

type Provider struct {
	mu      sync.Mutex
	objects map[string]map[string]any
}

func New() *Provider {
	return &Provider{objects: make(map[string]map[string]any)}
}

func Factory() provider.Interface { return New() }

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	return nil
}

func (p *Provider) Schema(typeName string) (*provider.Schema, error) {
	switch typeName {
	case "null_resource":
		return &provider.Schema{
			Arguments: map[string]*provider.Argument{
				"triggers": {ForceNew: true},
				"note":     {},
			},
			Computed: []string{"id"},
		}, nil
	case "null_data_source":
		return &provider.Schema{
			Arguments: map[string]*provider.Argument{
				"inputs": {},
			},
			Computed: []string{"id", "outputs"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *Provider) Validate(ctx context.Context, typeName string, args map[string]any) error {
	schema, err := p.Schema(typeName)
	if err != nil {
		return err
	}
	for name := range args {
		if _, ok := schema.Arguments[name]; !ok {
			return fmt.Errorf("unsupported argument %q for %s", name, typeName)
		}
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, typeName string, args map[string]any) (string, map[string]any, error) {
	if typeName != "null_resource" {
		return "", nil, fmt.Errorf("unsupported type: %s", typeName)
	}
	id := uuid.New().String()

	p.mu.Lock()
	p.objects[id] = args
	p.mu.Unlock()

	return id, map[string]any{"id": id}, nil
}

func (p *Provider) Read(ctx context.Context, typeName, id string) (map[string]any, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[id]; !ok {
		return nil, false, nil
	}
	return map[string]any{"id": id}, true, nil
}

func (p *Provider) Update(ctx context.Context, typeName, id string, args map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[id]; !ok {
		return nil, fmt.Errorf("null_resource %s not found", id)
	}
	p.objects[id] = args
	return map[string]any{"id": id}, nil
}

func (p *Provider) Delete(ctx context.Context, typeName, id string) error {
	p.mu.Lock()
	delete(p.objects, id)
	p.mu.Unlock()
	return nil
}

func (p *Provider) ReadDataSource(ctx context.Context, typeName string, args map[string]any) (map[string]any, error) {
	if typeName != "null_data_source" {
		return nil, fmt.Errorf("unsupported type: %s", typeName)
	}
	outputs := map[string]any{}
	if inputs, ok := args["inputs"].(map[string]any); ok {
		outputs = inputs
	}
	return map[string]any{
		"id":      "static",
		"inputs":  args["inputs"],
		"outputs": outputs,
	}, nil
}
