// Package reconcile keeps the analysis runtime consistent with the active
// session.
//
// Three stores have independent lifetimes: the runtime's dataset slot, the
// runtime's file namespace and the durable blob store. The Reconciler
// treats the binding between session and runtime as untrusted and repairs
// it from the cheapest tier that still has the file.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/csvchat/internal/blob"
	"github.com/leapstack-labs/csvchat/internal/metrics"
	"github.com/leapstack-labs/csvchat/pkg/core"
)

// ErrStoreUnavailable wraps blob store failures other than a missing blob.
var ErrStoreUnavailable = errors.New("blob store unavailable")

// boundFiler is implemented by runtimes that remember which file fills the
// dataset slot.
type boundFiler interface {
	LoadedFile() string
}

// Config configures a Reconciler.
type Config struct {
	Runtime core.Runtime
	Blobs   core.BlobStore
	// VerifyBinding rejects a loaded dataset that came from another file.
	VerifyBinding bool
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Reconciler owns the runtime binding. It is the only component that loads
// datasets into the runtime.
type Reconciler struct {
	mu      sync.Mutex
	runtime core.Runtime
	blobs   core.BlobStore
	verify  bool
	logger  *slog.Logger
	metrics *metrics.Metrics

	// bound tags the dataset slot when the runtime cannot.
	bound string
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{
		runtime: cfg.Runtime,
		blobs:   cfg.Blobs,
		verify:  cfg.VerifyBinding,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Reconcile brings the runtime to the session's dataset. It never returns
// an error for a missing or corrupt file; those are Unrecoverable outcomes.
// A blob store failure is returned wrapped in ErrStoreUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, session *core.Session) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.reconcile(ctx, session)
	r.metrics.Reconciled(initialLabel(out.Initial), out.State.String())

	var fileName string
	if session != nil {
		fileName = session.FileName
	}
	log := r.logger.With(
		slog.String("file", fileName),
		slog.String("initial", out.Initial.String()),
		slog.String("state", out.State.String()))
	switch {
	case err != nil:
		log.Error("reconciliation failed", slog.String("error", err.Error()))
	case out.State == Unrecoverable:
		log.Warn("dataset unrecoverable", slog.String("reason", string(out.Reason)))
	default:
		log.Debug("reconciled", slog.Bool("wrote_runtime", out.WroteRuntime))
	}
	return out, err
}

func (r *Reconciler) reconcile(ctx context.Context, session *core.Session) (Outcome, error) {
	if !session.HasFile() {
		return Outcome{State: NoDataset, Initial: NoDataset}, nil
	}
	name := session.FileName

	if r.runtime.IsDatasetLoaded(ctx) && r.boundTo(name) {
		return Outcome{State: Bound, Initial: Bound}, nil
	}

	if r.runtime.HasFile(name) {
		out := Outcome{Initial: StaleRecoverableFromRuntimeFS}
		if err := r.load(ctx, name); err != nil {
			out.State, out.Reason, out.Err = Unrecoverable, ReasonCorrupt, err
			return out, nil
		}
		out.State = Bound
		return out, nil
	}

	data, err := r.blobs.Get(ctx, name)
	if errors.Is(err, blob.ErrNotFound) {
		return Outcome{State: Unrecoverable, Initial: Unrecoverable, Reason: ReasonMissing}, nil
	}
	if err != nil {
		return Outcome{State: Unrecoverable, Initial: StaleRecoverableFromBlob, Reason: ReasonUnavailable, Err: err},
			fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	out := Outcome{Initial: StaleRecoverableFromBlob}
	if err := r.runtime.WriteFile(name, data); err != nil {
		out.State, out.Reason, out.Err = Unrecoverable, ReasonWriteFailed, err
		return out, nil
	}
	out.WroteRuntime = true

	if err := r.load(ctx, name); err != nil {
		out.State, out.Reason, out.Err = Unrecoverable, ReasonCorrupt, err
		return out, nil
	}
	out.State = Bound
	return out, nil
}

// Install writes freshly uploaded bytes into the runtime and loads them. The
// outcome is Bound, or Unrecoverable with ReasonWriteFailed or ReasonCorrupt.
// A corrupt file stays in the namespace.
func (r *Reconciler) Install(ctx context.Context, name string, data []byte) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Outcome{Initial: StaleRecoverableFromRuntimeFS}
	if err := r.runtime.WriteFile(name, data); err != nil {
		out.State, out.Reason, out.Err = Unrecoverable, ReasonWriteFailed, err
		return out
	}
	out.WroteRuntime = true

	if err := r.load(ctx, name); err != nil {
		out.State, out.Reason, out.Err = Unrecoverable, ReasonCorrupt, err
		r.logger.Warn("uploaded file could not be loaded", slog.String("file", name), slog.String("error", err.Error()))
		return out
	}
	out.State = Bound
	return out
}

// Columns returns the loaded dataset's columns.
func (r *Reconciler) Columns(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtime.Columns(ctx)
}

// Invalidate forgets the binding, as after a runtime restart.
func (r *Reconciler) Invalidate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound = ""
	return r.runtime.Reset(ctx)
}

func (r *Reconciler) load(ctx context.Context, name string) error {
	r.bound = ""
	if err := r.runtime.LoadDataset(ctx, name); err != nil {
		return err
	}
	r.bound = name
	return nil
}

func (r *Reconciler) boundTo(name string) bool {
	if !r.verify {
		return true
	}
	if bf, ok := r.runtime.(boundFiler); ok {
		return bf.LoadedFile() == name
	}
	return r.bound == name
}

func initialLabel(s State) string {
	switch s {
	case StaleRecoverableFromRuntimeFS:
		return "runtime_fs"
	case StaleRecoverableFromBlob:
		return "blob"
	case Bound:
		return "bound"
	default:
		return "none"
	}
}
