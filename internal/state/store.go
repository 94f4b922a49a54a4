package state

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/ir"
)

// Store persists last-known real-world attributes per resource. A nil
// record from Get means "not yet created". Put enforces per-record
// compare-and-swap on Record.Serial: callers pass the serial they read
// (zero for a new record) and a stale write fails with
// ir.StateConflictError. Implementations must make each Put and Delete
// atomic so a crashed apply leaves either the old or the new record,
// never a corrupt mix.
type Store interface {
	Get(ctx context.Context, addr ir.Identity) (*ir.Record, error)
	Put(ctx context.Context, rec *ir.Record) error
	Delete(ctx context.Context, addr ir.Identity) error
	List(ctx context.Context) ([]*ir.Record, error)

	// Lock and Unlock guard a whole plan/apply run against concurrent
	// processes; per-record serialization within a run is handled by
	// Put's compare-and-swap.
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error

	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	// Backend is "local" (default) or "s3".
	Backend string
	// Path is the local database path.
	Path string
	// Options carries backend-specific settings, e.g. bucket/key/
	// region/dynamodb_table for s3.
	Options map[string]string
}

// Open builds a store from configuration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return OpenBolt(cfg.Path)
	case "s3":
		return OpenS3(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown state backend: %s", cfg.Backend)
	}
}

// checkSerial implements the shared CAS rule: a new record must carry
// serial 0, an update must carry the stored serial.
func checkSerial(addr ir.Identity, stored *ir.Record, incoming int64) error {
	var current int64
	if stored != nil {
		current = stored.Serial
	}
	if incoming != current {
		return &ir.StateConflictError{Addr: addr, ExpectedSerial: incoming, ActualSerial: current}
	}
	return nil
}
