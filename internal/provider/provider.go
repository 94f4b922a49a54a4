package provider

import "context"

// Schema declares the shape of one resource or data source type: which
// arguments exist, which changes force replacement, and which
// attributes the provider assigns after creation.
type Schema struct {
	Arguments map[string]*Argument
	// Computed lists exported attribute names assigned by the provider
	// ("id" is always implied).
	Computed []string
}

// Argument describes one user-settable argument.
type Argument struct {
	Required bool
	// ForceNew marks the argument immutable: a change requires
	// destroying and recreating the resource.
	ForceNew bool
}

// ForceNew reports whether a change to the named argument requires
// replacement.
func (s *Schema) ForceNew(name string) bool {
	if s == nil {
		return false
	}
	arg, ok := s.Arguments[name]
	return ok && arg.ForceNew
}

// Interface is the capability set every provider implements. The core
// engine depends only on this contract, never on a vendor API.
//
// Create returns the provider-assigned identifier and the full exported
// attribute set. Read reports exists=false when the remote object is
// gone, which the next plan reconciles as drift. All calls must respect
// ctx cancellation and deadlines.
type Interface interface {
	// Configure applies provider-level settings (region, credentials
	// profile, endpoints) before any resource call.
	Configure(ctx context.Context, settings map[string]any) error

	// Schema returns the declared schema for a resource or data source
	// type, or an error for unsupported types.
	Schema(typeName string) (*Schema, error)

	// Validate checks arguments before any API call is made.
	Validate(ctx context.Context, typeName string, args map[string]any) error

	Create(ctx context.Context, typeName string, args map[string]any) (id string, attrs map[string]any, err error)
	Read(ctx context.Context, typeName, id string) (attrs map[string]any, exists bool, err error)
	Update(ctx context.Context, typeName, id string, args map[string]any) (attrs map[string]any, err error)
	Delete(ctx context.Context, typeName, id string) error

	// ReadDataSource executes a read-only query, e.g. "newest matching
	// machine image".
	ReadDataSource(ctx context.Context, typeName string, args map[string]any) (map[string]any, error)
}
