// Package chat runs the conversation: it tracks the active session, answers
// questions through the query pipeline and keeps the runtime reconciled
// with whichever session is active.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/csvchat/internal/metrics"
	"github.com/leapstack-labs/csvchat/internal/reconcile"
	"github.com/leapstack-labs/csvchat/pkg/core"
)

// View is the state a front end renders for the active session.
type View struct {
	SessionID string   `json:"session_id,omitempty"`
	Title     string   `json:"title,omitempty"`
	FileName  string   `json:"file_name,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	// Degraded is set while the active session's dataset is unrecoverable.
	Degraded bool `json:"degraded"`
	Busy     bool `json:"busy"`
}

// Config wires a Workspace.
type Config struct {
	Store     core.Store
	Blobs     core.BlobStore
	Runtime   core.Runtime
	Generator core.CodeGenerator
	// VerifyBinding makes reconciliation check which file the loaded
	// dataset came from.
	VerifyBinding bool
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Workspace is the single-user chat controller. Operations are rejected
// with ErrBusy while another one is running.
type Workspace struct {
	store      core.Store
	blobs      core.BlobStore
	reconciler *reconcile.Reconciler
	pipeline   *Pipeline
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string

	busy atomic.Bool

	mu   sync.Mutex
	view View
}

// NewWorkspace creates a workspace with no active session.
func NewWorkspace(cfg Config) *Workspace {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	reconciler := reconcile.New(reconcile.Config{
		Runtime:       cfg.Runtime,
		Blobs:         cfg.Blobs,
		VerifyBinding: cfg.VerifyBinding,
		Logger:        logger.With(slog.String("component", "reconciler")),
		Metrics:       cfg.Metrics,
	})

	return &Workspace{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		reconciler: reconciler,
		pipeline: &Pipeline{
			store:      cfg.Store,
			runtime:    cfg.Runtime,
			gen:        cfg.Generator,
			reconciler: reconciler,
			logger:     logger.With(slog.String("component", "pipeline")),
			metrics:    cfg.Metrics,
			now:        now,
		},
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
		newID:   newID,
	}
}

func (w *Workspace) begin() error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (w *Workspace) end() {
	w.busy.Store(false)
}

// Busy reports whether an operation is running.
func (w *Workspace) Busy() bool {
	return w.busy.Load()
}

// View returns a snapshot of the view state.
func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.view
	v.Columns = slices.Clone(w.view.Columns)
	v.Busy = w.busy.Load()
	return v
}

func (w *Workspace) setView(v View) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view = v
}

func (w *Workspace) setDegraded(degraded bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view.Degraded = degraded
}

func (w *Workspace) activeID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view.SessionID
}

func viewOf(s *core.Session) View {
	return View{
		SessionID: s.ID,
		Title:     s.Title,
		FileName:  s.FileName,
		Columns:   slices.Clone(s.Columns),
	}
}

// Sessions lists sessions, most recent first.
func (w *Workspace) Sessions() ([]*core.Session, error) {
	return w.store.ListSessions()
}

// Session returns a stored session without activating it.
func (w *Workspace) Session(id string) (*core.Session, error) {
	return w.store.GetSession(id)
}

// Transcript returns a session's messages.
func (w *Workspace) Transcript(id string) ([]core.Message, error) {
	return w.store.GetTranscript(id)
}

// Active returns the active session.
func (w *Workspace) Active() (*core.Session, error) {
	id := w.activeID()
	if id == "" {
		return nil, ErrNoActiveSession
	}
	return w.store.GetSession(id)
}

// NewChat creates an empty session and makes it active.
func (w *Workspace) NewChat(_ context.Context) (*core.Session, error) {
	if err := w.begin(); err != nil {
		return nil, err
	}
	defer w.end()

	now := w.now()
	session := &core.Session{
		ID:        w.newID(),
		Title:     core.DefaultSessionTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.store.UpsertSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	w.setView(viewOf(session))
	w.logger.Info("created session", slog.String("id", session.ID))
	return session, nil
}

// Upload stores a file durably, loads it into the runtime and binds it to
// the active session, creating one when none is active. A file that cannot
// be parsed still binds; the session gets an explanatory message and no
// columns.
func (w *Workspace) Upload(ctx context.Context, name string, data []byte) (*core.Session, error) {
	if err := w.begin(); err != nil {
		return nil, err
	}
	defer w.end()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("file name is required")
	}

	if err := w.blobs.Put(ctx, name, data); err != nil {
		w.metrics.Upload("error")
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	out := w.reconciler.Install(ctx, name, data)
	if out.Reason == reconcile.ReasonWriteFailed {
		w.metrics.Upload("error")
		return nil, fmt.Errorf("failed to write upload to runtime: %w", out.Err)
	}

	var columns []string
	if out.Bound() {
		cols, err := w.reconciler.Columns(ctx)
		if err != nil {
			w.metrics.Upload("error")
			return nil, fmt.Errorf("failed to read columns: %w", err)
		}
		columns = cols
	}

	session, err := w.bindSession(name, columns)
	if err != nil {
		w.metrics.Upload("error")
		return nil, err
	}

	v := viewOf(session)
	if !out.Bound() {
		v.Degraded = true
		w.metrics.Upload("corrupt")
		msg := core.Message{Role: core.RoleAssistant, Content: out.Warning(name), CreatedAt: w.now()}
		if err := w.store.AppendMessage(session.ID, msg); err != nil {
			return session, fmt.Errorf("failed to save upload error: %w", err)
		}
	} else {
		w.metrics.Upload("success")
	}
	w.setView(v)

	w.logger.Info("uploaded file",
		slog.String("session", session.ID),
		slog.String("file", name),
		slog.Int("bytes", len(data)),
		slog.Int("columns", len(columns)),
		slog.Bool("loaded", out.Bound()))
	return session, nil
}

// bindSession points the active session at a file, or creates a session for
// it when none is active.
func (w *Workspace) bindSession(name string, columns []string) (*core.Session, error) {
	var session *core.Session
	if id := w.activeID(); id != "" {
		existing, err := w.store.GetSession(id)
		if err == nil {
			session = existing
		} else {
			w.logger.Warn("active session vanished; creating a new one", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	now := w.now()
	if session == nil {
		session = &core.Session{ID: w.newID(), CreatedAt: now}
	}
	session.Title = name
	session.FileName = name
	session.Columns = columns
	session.UpdatedAt = now

	if err := w.store.UpsertSession(session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// SelectSession makes a session active. Its cached columns are shown right
// away, then the runtime is reconciled with its file. An unrecoverable
// dataset marks the view degraded and appends the warning once.
func (w *Workspace) SelectSession(ctx context.Context, id string) (*core.Session, reconcile.Outcome, error) {
	if err := w.begin(); err != nil {
		return nil, reconcile.Outcome{}, err
	}
	defer w.end()

	session, err := w.store.GetSession(id)
	if err != nil {
		return nil, reconcile.Outcome{}, err
	}
	w.setView(viewOf(session))

	out, err := w.reconciler.Reconcile(ctx, session)
	if err != nil {
		return session, out, err
	}
	if out.State == reconcile.Unrecoverable {
		w.setDegraded(true)
		if _, _, err := w.pipeline.appendWarning(session, out); err != nil {
			return session, out, err
		}
	}
	return session, out, nil
}

// DeleteSession removes a session and its transcript. The uploaded file
// stays in the blob store.
func (w *Workspace) DeleteSession(_ context.Context, id string) error {
	if err := w.begin(); err != nil {
		return err
	}
	defer w.end()

	if err := w.store.DeleteSession(id); err != nil {
		return err
	}
	if err := w.store.DeleteTranscript(id); err != nil {
		return err
	}

	if w.activeID() == id {
		w.setView(View{})
	}
	w.logger.Info("deleted session", slog.String("id", id))
	return nil
}

// Ask answers a question in the active session.
func (w *Workspace) Ask(ctx context.Context, question string) (Result, error) {
	if err := w.begin(); err != nil {
		return Result{}, err
	}
	defer w.end()

	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	id := w.activeID()
	if id == "" {
		return Result{}, ErrNoActiveSession
	}
	session, err := w.store.GetSession(id)
	if err != nil {
		return Result{}, err
	}
	if !session.HasFile() {
		return Result{}, ErrNoDataset
	}

	res, err := w.pipeline.Ask(ctx, session, question)
	if err != nil {
		return res, err
	}
	w.setDegraded(!res.Outcome.Bound())
	return res, nil
}
