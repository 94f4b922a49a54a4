package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/loomworks/loom/internal/ir"
)

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")

	metaVersion = []byte("version")
	metaLineage = []byte("lineage")
)

// BoltStore is the local state backend: one bbolt database holding one
// record per resource identity. Every Put and Delete runs in its own
// write transaction, which gives the atomic per-record read-modify-write
// the store contract requires.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// OpenBolt opens (or initializes) the local state database.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(metaVersion) == nil {
			ver := make([]byte, 8)
			binary.BigEndian.PutUint64(ver, ir.StateVersion)
			if err := meta.Put(metaVersion, ver); err != nil {
				return err
			}
			if err := meta.Put(metaLineage, []byte(uuid.NewString())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Lineage returns the stable identifier assigned when the state was
// first initialized.
func (s *BoltStore) Lineage() string {
	var lineage string
	s.db.View(func(tx *bbolt.Tx) error {
		lineage = string(tx.Bucket(bucketMeta).Get(metaLineage))
		return nil
	})
	return lineage
}

func (s *BoltStore) Get(ctx context.Context, addr ir.Identity) (*ir.Record, error) {
	var rec *ir.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRecords).Get([]byte(addr.String()))
		if raw == nil {
			return nil
		}
		decoded, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read state record %s: %w", addr, err)
	}
	return rec, nil
}

func (s *BoltStore) Put(ctx context.Context, rec *ir.Record) error {
	key := []byte(rec.Identity.String())
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)

		var stored *ir.Record
		if raw := bucket.Get(key); raw != nil {
			decoded, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			stored = decoded
		}
		if err := checkSerial(rec.Identity, stored, rec.Serial); err != nil {
			return err
		}

		next := *rec
		next.Serial = rec.Serial + 1
		next.SchemaVersion = ir.StateVersion
		raw, err := encodeRecord(&next)
		if err != nil {
			return err
		}
		return bucket.Put(key, raw)
	})
}

func (s *BoltStore) Delete(ctx context.Context, addr ir.Identity) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(addr.String()))
	})
}

func (s *BoltStore) List(ctx context.Context) ([]*ir.Record, error) {
	var records []*ir.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list state records: %w", err)
	}
	return records, nil
}

// Lock takes a lock file beside the database so a second loom process
// fails fast instead of blocking on the bbolt file lock.
func (s *BoltStore) Lock(ctx context.Context) error {
	return acquireLockFile(s.path + ".lock")
}

func (s *BoltStore) Unlock(ctx context.Context) error {
	return releaseLockFile(s.path + ".lock")
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encodeRecord(rec *ir.Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state record: %w", err)
	}
	return EncryptPayload(raw)
}

func decodeRecord(raw []byte) (*ir.Record, error) {
	plain, err := DecryptPayload(raw)
	if err != nil {
		return nil, err
	}
	var rec ir.Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode state record: %w", err)
	}
	return &rec, nil
}
