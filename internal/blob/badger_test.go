package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(BadgerConfig{InMemory: true, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "x.csv", []byte("a,b\n1,2\n")))

	got, err := store.Get(ctx, "x.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))
}

func TestBadgerStore_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "x.csv", []byte("first")))
	require.NoError(t, store.Put(ctx, "x.csv", []byte("second")))
	require.NoError(t, store.Put(ctx, "y.csv", []byte("other")))

	got, err := store.Get(ctx, "x.csv")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "x.csv", infos[0].Name)
	assert.Equal(t, int64(len("second")), infos[0].Size)
	assert.Equal(t, "y.csv", infos[1].Name)
}

func TestBadgerStore_GetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "absent.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, "x.csv", []byte("data")))
	require.NoError(t, store.Delete(ctx, "x.csv"))
	require.NoError(t, store.Delete(ctx, "never-stored.csv"))

	_, err := store.Get(ctx, "x.csv")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerStore_RejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	assert.Error(t, store.Put(ctx, "  ", []byte("data")))
	_, err := store.Get(ctx, "")
	assert.Error(t, err)
}

func TestBadgerStore_CanceledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "x.csv", []byte("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenBadger(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "x.csv", []byte("a\n1\n")))
	require.NoError(t, store.Close())

	reopened, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, "x.csv")
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(got))
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	_, err = Open(ctx, Config{Backend: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown blob backend")

	_, err = Open(ctx, Config{Backend: BackendBadger})
	assert.Error(t, err, "badger without a path")

	_, err = Open(ctx, Config{Backend: BackendGCS})
	assert.Error(t, err, "gcs without a bucket")
}
