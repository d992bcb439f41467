package reconcile

import (
	"context"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/blob"
	"github.com/leapstack-labs/csvchat/internal/runtime"
	"github.com/leapstack-labs/csvchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_DuckDBAndBadger(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	blobs, err := blob.OpenBadger(blob.BadgerConfig{InMemory: true, Logger: logger})
	require.NoError(t, err)
	defer func() { _ = blobs.Close() }()

	data := []byte("a,b\n1,2\n3,4\n")
	require.NoError(t, blobs.Put(ctx, "x.csv", data))

	// First runtime: upload path.
	rt1, err := runtime.New(ctx, runtime.Config{WorkDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	r1 := New(Config{Runtime: rt1, Blobs: blobs, VerifyBinding: true, Logger: logger})
	require.True(t, r1.Install(ctx, "x.csv", data).Bound())
	require.NoError(t, rt1.Close())

	// A fresh runtime with an empty namespace, as after a reload.
	rt2, err := runtime.New(ctx, runtime.Config{WorkDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	defer func() { _ = rt2.Close() }()
	r2 := New(Config{Runtime: rt2, Blobs: blobs, VerifyBinding: true, Logger: logger})

	out, err := r2.Reconcile(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, StaleRecoverableFromBlob, out.Initial)
	require.True(t, out.Bound())

	require.NoError(t, rt2.Execute(ctx, `print(df["a"].sum())`))
	assert.Equal(t, "4\n", rt2.Stdout())

	again, err := r2.Reconcile(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, Bound, again.Initial)
}
