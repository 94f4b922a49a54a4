package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/state"
)

// fakeProvider is the scripted in-process double the engine tests run
// against. Resources carry a mutable "note", a replacement-forcing
// "size", and a free-form "a_id" for cross-resource references; the
// test_data source echoes its "input" argument.
type fakeProvider struct {
	mu     sync.Mutex
	nextID int

	// calls logs provider mutations in order, e.g. "create a" or
	// "delete test_thing-1".
	calls []string

	// objects maps live ids to the last applied args.
	objects map[string]map[string]any

	failCreate map[string]bool // keyed by the "name" argument
	failUpdate map[string]bool

	// createDelay stalls the named resource's create, for tests that
	// race a slow branch against a failing one.
	createDelay map[string]time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		objects:     make(map[string]map[string]any),
		failCreate:  make(map[string]bool),
		failUpdate:  make(map[string]bool),
		createDelay: make(map[string]time.Duration),
	}
}

func (p *fakeProvider) Configure(ctx context.Context, settings map[string]any) error {
	return nil
}

func (p *fakeProvider) Schema(typeName string) (*provider.Schema, error) {
	switch typeName {
	case "test_thing":
		return &provider.Schema{
			Arguments: map[string]*provider.Argument{
				"name": {Required: true},
				"size": {ForceNew: true},
				"note": {},
				"a_id": {},
			},
			Computed: []string{"id"},
		}, nil
	case "test_data":
		return &provider.Schema{
			Arguments: map[string]*provider.Argument{"input": {}},
			Computed:  []string{"id", "output"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeName)
	}
}

func (p *fakeProvider) Validate(ctx context.Context, typeName string, args map[string]any) error {
	schema, err := p.Schema(typeName)
	if err != nil {
		return err
	}
	for name := range args {
		if _, ok := schema.Arguments[name]; !ok {
			return fmt.Errorf("unsupported argument %q", name)
		}
	}
	return nil
}

func (p *fakeProvider) Create(ctx context.Context, typeName string, args map[string]any) (string, map[string]any, error) {
	name, _ := args["name"].(string)

	p.mu.Lock()
	delay := p.createDelay[name]
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCreate[name] {
		return "", nil, fmt.Errorf("create of %q refused", name)
	}
	p.nextID++
	id := fmt.Sprintf("%s-%d", typeName, p.nextID)
	p.objects[id] = args
	p.calls = append(p.calls, "create "+name)
	return id, map[string]any{"id": id}, nil
}

func (p *fakeProvider) Read(ctx context.Context, typeName, id string) (map[string]any, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[id]; !ok {
		return nil, false, nil
	}
	return map[string]any{"id": id}, true, nil
}

func (p *fakeProvider) Update(ctx context.Context, typeName, id string, args map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, _ := args["name"].(string)
	if p.failUpdate[name] {
		return nil, fmt.Errorf("update of %q refused", name)
	}
	if _, ok := p.objects[id]; !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	p.objects[id] = args
	p.calls = append(p.calls, "update "+name)
	return map[string]any{"id": id}, nil
}

func (p *fakeProvider) Delete(ctx context.Context, typeName, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, id)
	p.calls = append(p.calls, "delete "+id)
	return nil
}

func (p *fakeProvider) ReadDataSource(ctx context.Context, typeName string, args map[string]any) (map[string]any, error) {
	p.mu.Lock()
	p.calls = append(p.calls, "read-data")
	p.mu.Unlock()
	return map[string]any{
		"id":     "data-1",
		"output": args["input"],
	}, nil
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// newTestEngine wires an engine, its fake provider, and a fresh local
// state store.
func newTestEngine(t *testing.T) (*Engine, *fakeProvider, state.Store) {
	t.Helper()

	prov := newFakeProvider()
	registry := provider.NewRegistry()
	registry.Register("test", prov)

	store, err := state.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(registry), prov, store
}

func loadDoc(t *testing.T, src string) *config.Document {
	t.Helper()
	doc, err := config.LoadSource(src, "test.hcl")
	require.NoError(t, err)
	return doc
}
