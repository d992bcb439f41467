package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/blob"
	"github.com/leapstack-labs/csvchat/internal/testutil"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime is an in-memory runtime whose loads fail for content
// starting with "corrupt".
type fakeRuntime struct {
	files    map[string][]byte
	loaded   string
	writeErr error
	writes   int
	loads    int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{files: map[string][]byte{}}
}

func (f *fakeRuntime) HasFile(name string) bool { _, ok := f.files[name]; return ok }

func (f *fakeRuntime) WriteFile(name string, data []byte) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[name] = data
	return nil
}

func (f *fakeRuntime) LoadDataset(_ context.Context, name string) error {
	f.loads++
	f.loaded = ""
	data, ok := f.files[name]
	if !ok {
		return fmt.Errorf("no such file %s", name)
	}
	if strings.HasPrefix(string(data), "corrupt") {
		return errors.New("parse error")
	}
	f.loaded = name
	return nil
}

func (f *fakeRuntime) IsDatasetLoaded(context.Context) bool { return f.loaded != "" }
func (f *fakeRuntime) Columns(context.Context) ([]string, error) {
	if f.loaded == "" {
		return nil, errors.New("no dataset loaded")
	}
	header, _, _ := strings.Cut(string(f.files[f.loaded]), "\n")
	return strings.Split(header, ","), nil
}
func (f *fakeRuntime) Execute(context.Context, string) error { return nil }
func (f *fakeRuntime) Stdout() string                        { return "" }
func (f *fakeRuntime) HasPlot() bool                         { return false }
func (f *fakeRuntime) PlotBase64() (string, error)           { return "", errors.New("no plot") }
func (f *fakeRuntime) ClearPlot()                            {}
func (f *fakeRuntime) ResetOutputBuffers()                   {}
func (f *fakeRuntime) Reset(context.Context) error           { f.loaded = ""; return nil }
func (f *fakeRuntime) Close() error                          { return nil }

// restart simulates a torn-down runtime: nothing loaded, empty namespace.
func (f *fakeRuntime) restart() {
	f.loaded = ""
	f.files = map[string][]byte{}
}

type fakeBlobs struct {
	data   map[string][]byte
	getErr error
	gets   int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{}}
}

func (b *fakeBlobs) Put(_ context.Context, name string, data []byte) error {
	b.data[name] = data
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, name string) ([]byte, error) {
	b.gets++
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
	}
	return data, nil
}

func (b *fakeBlobs) Delete(_ context.Context, name string) error {
	delete(b.data, name)
	return nil
}

func (b *fakeBlobs) List(context.Context) ([]core.BlobInfo, error) { return nil, nil }
func (b *fakeBlobs) Close() error                                  { return nil }

func setup(t *testing.T, verify bool) (*Reconciler, *fakeRuntime, *fakeBlobs) {
	t.Helper()
	rt := newFakeRuntime()
	blobs := newFakeBlobs()
	r := New(Config{Runtime: rt, Blobs: blobs, VerifyBinding: verify, Logger: testutil.NewTestLogger(t)})
	return r, rt, blobs
}

var session = &core.Session{ID: "s1", Title: "x.csv", FileName: "x.csv", Columns: []string{"a", "b"}}

func TestReconcile_NoDataset(t *testing.T) {
	r, rt, blobs := setup(t, true)

	out, err := r.Reconcile(context.Background(), &core.Session{ID: "s1", Title: core.DefaultSessionTitle})
	require.NoError(t, err)
	assert.Equal(t, NoDataset, out.State)
	assert.False(t, out.Bound())
	assert.Empty(t, out.Warning(""))
	assert.Zero(t, rt.loads)
	assert.Zero(t, blobs.gets)
}

func TestReconcile_Paths(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func(rt *fakeRuntime, blobs *fakeBlobs)
		wantState   State
		wantInitial State
		wantReason  Reason
		wantWrote   bool
		wantGets    int
	}{
		{
			name: "already bound",
			prepare: func(rt *fakeRuntime, _ *fakeBlobs) {
				rt.files["x.csv"] = []byte("a,b\n1,2\n")
				rt.loaded = "x.csv"
			},
			wantState:   Bound,
			wantInitial: Bound,
		},
		{
			name: "recover from runtime file system",
			prepare: func(rt *fakeRuntime, _ *fakeBlobs) {
				rt.files["x.csv"] = []byte("a,b\n1,2\n")
			},
			wantState:   Bound,
			wantInitial: StaleRecoverableFromRuntimeFS,
		},
		{
			name: "recover from blob store",
			prepare: func(_ *fakeRuntime, blobs *fakeBlobs) {
				blobs.data["x.csv"] = []byte("a,b\n1,2\n")
			},
			wantState:   Bound,
			wantInitial: StaleRecoverableFromBlob,
			wantWrote:   true,
			wantGets:    1,
		},
		{
			name:        "missing everywhere",
			prepare:     func(*fakeRuntime, *fakeBlobs) {},
			wantState:   Unrecoverable,
			wantInitial: Unrecoverable,
			wantReason:  ReasonMissing,
			wantGets:    1,
		},
		{
			name: "corrupt runtime file does not fall through to blob",
			prepare: func(rt *fakeRuntime, blobs *fakeBlobs) {
				rt.files["x.csv"] = []byte("corrupt bytes")
				blobs.data["x.csv"] = []byte("a,b\n1,2\n")
			},
			wantState:   Unrecoverable,
			wantInitial: StaleRecoverableFromRuntimeFS,
			wantReason:  ReasonCorrupt,
		},
		{
			name: "corrupt blob",
			prepare: func(_ *fakeRuntime, blobs *fakeBlobs) {
				blobs.data["x.csv"] = []byte("corrupt bytes")
			},
			wantState:   Unrecoverable,
			wantInitial: StaleRecoverableFromBlob,
			wantReason:  ReasonCorrupt,
			wantWrote:   true,
			wantGets:    1,
		},
		{
			name: "runtime write fails",
			prepare: func(rt *fakeRuntime, blobs *fakeBlobs) {
				rt.writeErr = errors.New("disk full")
				blobs.data["x.csv"] = []byte("a,b\n1,2\n")
			},
			wantState:   Unrecoverable,
			wantInitial: StaleRecoverableFromBlob,
			wantReason:  ReasonWriteFailed,
			wantGets:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rt, blobs := setup(t, false)
			tt.prepare(rt, blobs)

			out, err := r.Reconcile(context.Background(), session)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantInitial, out.Initial)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantWrote, out.WroteRuntime)
			assert.Equal(t, tt.wantGets, blobs.gets)
			if tt.wantState == Unrecoverable && tt.wantReason != ReasonMissing {
				assert.Error(t, out.Err)
			}
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	r, rt, blobs := setup(t, true)
	blobs.data["x.csv"] = []byte("a,b\n1,2\n")
	ctx := context.Background()

	first, err := r.Reconcile(ctx, session)
	require.NoError(t, err)
	require.True(t, first.Bound())
	writes, loads, gets := rt.writes, rt.loads, blobs.gets

	second, err := r.Reconcile(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, Bound, second.State)
	assert.Equal(t, Bound, second.Initial)
	assert.False(t, second.WroteRuntime)
	assert.Equal(t, writes, rt.writes, "no runtime writes on the second pass")
	assert.Equal(t, loads, rt.loads)
	assert.Equal(t, gets, blobs.gets)
}

func TestReconcile_RecoversAfterRestart(t *testing.T) {
	r, rt, blobs := setup(t, true)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "x.csv", []byte("a,b\n1,2\n")))
	require.True(t, r.Install(ctx, "x.csv", []byte("a,b\n1,2\n")).Bound())

	rt.restart()

	out, err := r.Reconcile(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, StaleRecoverableFromBlob, out.Initial)
	assert.True(t, out.Bound())
	assert.True(t, out.WroteRuntime)

	cols, err := r.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestReconcile_StoreUnavailable(t *testing.T) {
	r, _, blobs := setup(t, false)
	blobs.getErr = errors.New("connection refused")

	out, err := r.Reconcile(context.Background(), session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.Equal(t, ReasonUnavailable, out.Reason)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReconcile_VerifyBinding(t *testing.T) {
	ctx := context.Background()
	other := &core.Session{ID: "s2", Title: "y.csv", FileName: "y.csv"}

	t.Run("dataset from another file is rebound", func(t *testing.T) {
		r, rt, _ := setup(t, true)
		require.True(t, r.Install(ctx, "x.csv", []byte("a,b\n1,2\n")).Bound())
		require.True(t, r.Install(ctx, "y.csv", []byte("c\n3\n")).Bound())

		out, err := r.Reconcile(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, StaleRecoverableFromRuntimeFS, out.Initial)
		assert.Equal(t, "x.csv", rt.loaded)

		out, err = r.Reconcile(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, StaleRecoverableFromRuntimeFS, out.Initial)
		assert.Equal(t, "y.csv", rt.loaded)
	})

	t.Run("without verification any dataset counts", func(t *testing.T) {
		r, rt, _ := setup(t, false)
		require.True(t, r.Install(ctx, "y.csv", []byte("c\n3\n")).Bound())

		out, err := r.Reconcile(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, Bound, out.Initial)
		assert.Equal(t, "y.csv", rt.loaded)
	})
}

func TestReconcile_Invalidate(t *testing.T) {
	r, rt, _ := setup(t, true)
	ctx := context.Background()
	require.True(t, r.Install(ctx, "x.csv", []byte("a,b\n1,2\n")).Bound())

	require.NoError(t, r.Invalidate(ctx))
	assert.False(t, rt.IsDatasetLoaded(ctx))

	out, err := r.Reconcile(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, StaleRecoverableFromRuntimeFS, out.Initial)
	assert.True(t, out.Bound())
}

func TestInstall_CorruptKeepsFile(t *testing.T) {
	r, rt, _ := setup(t, true)
	out := r.Install(context.Background(), "x.csv", []byte("corrupt"))
	assert.Equal(t, Unrecoverable, out.State)
	assert.Equal(t, ReasonCorrupt, out.Reason)
	require.Error(t, out.Err)
	assert.True(t, rt.HasFile("x.csv"))
	assert.False(t, rt.IsDatasetLoaded(context.Background()))
}

func TestInstall_WriteFailure(t *testing.T) {
	r, rt, _ := setup(t, true)
	rt.writeErr = errors.New("disk full")

	out := r.Install(context.Background(), "x.csv", []byte("a,b\n1,2\n"))
	assert.Equal(t, ReasonWriteFailed, out.Reason)
	assert.False(t, out.WroteRuntime)
	assert.Zero(t, rt.loads)
}

func TestOutcome_Warning(t *testing.T) {
	missing := Outcome{State: Unrecoverable, Reason: ReasonMissing}
	corrupt := Outcome{State: Unrecoverable, Reason: ReasonCorrupt}

	assert.Equal(t, WarningMissing, missing.Warning("x.csv"))
	assert.Contains(t, corrupt.Warning("x.csv"), `"x.csv"`)
	assert.NotEqual(t, missing.Warning("x.csv"), corrupt.Warning("x.csv"))
	assert.Empty(t, Outcome{State: Bound}.Warning("x.csv"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "bound", Bound.String())
	assert.Equal(t, "stale_blob", StaleRecoverableFromBlob.String())
	assert.Equal(t, "state(42)", State(42).String())
}
