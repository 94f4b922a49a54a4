package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(name string) *ir.Record {
	return &ir.Record{
		Identity: ir.Identity{Mode: ir.ModeManaged, Type: "null_resource", Name: name},
		Provider: "null",
		ID:       "null-" + name,
		Args:     map[string]any{"note": "hello"},
		Attrs:    map[string]any{"id": "null-" + name},
	}
}

func TestBoltStore_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("a")
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, rec.Identity)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "null-a", got.ID)
	assert.Equal(t, "hello", got.Args["note"])
	assert.Equal(t, int64(1), got.Serial)
	assert.Equal(t, ir.StateVersion, got.SchemaVersion)
}

func TestBoltStore_GetMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(),
		ir.Identity{Mode: ir.ModeManaged, Type: "null_resource", Name: "nope"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBoltStore_SerialConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("a")
	require.NoError(t, store.Put(ctx, rec))

	// A writer that read serial 0 must not clobber serial 1.
	stale := testRecord("a")
	stale.Serial = 0
	err := store.Put(ctx, stale)

	var conflict *ir.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.ExpectedSerial)
	assert.Equal(t, int64(1), conflict.ActualSerial)

	// The matching serial succeeds and bumps.
	fresh := testRecord("a")
	fresh.Serial = 1
	require.NoError(t, store.Put(ctx, fresh))

	got, err := store.Get(ctx, rec.Identity)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Serial)
}

func TestBoltStore_DeleteAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testRecord("a")))
	require.NoError(t, store.Put(ctx, testRecord("b")))

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, store.Delete(ctx, testRecord("a").Identity))

	records, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "null_resource.b", records[0].Identity.String())
}

func TestBoltStore_LockExcludesSecondLocker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Lock(ctx))
	assert.Error(t, store.Lock(ctx))

	require.NoError(t, store.Unlock(ctx))
	require.NoError(t, store.Lock(ctx))
	require.NoError(t, store.Unlock(ctx))
}

func TestBoltStore_Lineage(t *testing.T) {
	store := openTestStore(t)
	assert.NotEmpty(t, store.Lineage())
}

func TestEncryption_Roundtrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "test-key")

	plain := []byte(`{"hello":"world"}`)
	enc, err := EncryptPayload(plain)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, string(enc), "world")

	dec, err := DecryptPayload(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryption_NoKeyPassesThrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	plain := []byte(`{"hello":"world"}`)
	out, err := EncryptPayload(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncryption_WrongKeyFails(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "key-one")
	enc, err := EncryptPayload([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "key-two")
	_, err = DecryptPayload(enc)
	require.Error(t, err)
}

func TestBoltStore_EncryptedAtRest(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "at-rest-key")

	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("a")
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, rec.Identity)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Args["note"])
}
