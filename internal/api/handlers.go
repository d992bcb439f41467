package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/leapstack-labs/csvchat/internal/chat"
	"github.com/leapstack-labs/csvchat/internal/export"
	"github.com/leapstack-labs/csvchat/internal/reconcile"
	"github.com/leapstack-labs/csvchat/internal/state"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

const (
	cookieName      = "csvchat"
	activeSessionID = "active_session"
)

type handlers struct {
	ws        *chat.Workspace
	cookies   *sessions.CookieStore
	notifier  *Notifier
	maxUpload int64
	logger    *slog.Logger
}

// SessionResponse is returned by operations that change the active session.
type SessionResponse struct {
	Session *core.Session `json:"session"`
	View    chat.View     `json:"view"`
	// State is the reconciliation state, when one ran.
	State   string `json:"state,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is returned by POST /api/ask.
type AskResponse struct {
	State    string         `json:"state"`
	Messages []core.Message `json:"messages"`
	View     chat.View      `json:"view"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Get("/events", h.events)
		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.newChat)
		r.Post("/sessions/{id}/select", h.selectSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Get("/sessions/{id}/messages", h.messages)
		r.Get("/sessions/{id}/export", h.exportSession)
		r.Post("/upload", h.upload)
		r.Post("/ask", h.ask)
	})
}

// restore re-activates the session remembered in the cookie after a
// process restart or page reload. The runtime is reconciled on the way.
func (h *handlers) restore(w http.ResponseWriter, r *http.Request) {
	if h.ws.View().SessionID != "" {
		return
	}
	id := h.rememberedID(r)
	if id == "" {
		return
	}

	_, out, err := h.ws.SelectSession(r.Context(), id)
	switch {
	case errors.Is(err, state.ErrSessionNotFound):
		h.remember(w, r, "")
	case err != nil:
		h.logger.Warn("failed to restore session", slog.String("id", id), slog.String("error", err.Error()))
	default:
		h.logger.Debug("restored session", slog.String("id", id), slog.String("state", out.State.String()))
		h.notifier.Publish(h.ws.View())
	}
}

func (h *handlers) rememberedID(r *http.Request) string {
	sess, err := h.cookies.Get(r, cookieName)
	if err != nil {
		return ""
	}
	id, _ := sess.Values[activeSessionID].(string)
	return id
}

func (h *handlers) remember(w http.ResponseWriter, r *http.Request, id string) {
	sess, _ := h.cookies.Get(r, cookieName)
	if id == "" {
		delete(sess.Values, activeSessionID)
	} else {
		sess.Values[activeSessionID] = id
	}
	if err := sess.Save(r, w); err != nil {
		h.logger.Warn("failed to save cookie", slog.String("error", err.Error()))
	}
}

func (h *handlers) getState(w http.ResponseWriter, r *http.Request) {
	h.restore(w, r)
	writeJSON(w, http.StatusOK, h.ws.View())
}

// events streams the view as datastar signals: once on connect and again
// after every change.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	updates := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(updates)

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(h.ws.View()); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			if err := sse.MarshalAndPatchSignals(v); err != nil {
				h.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	list, err := h.ws.Sessions()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) newChat(w http.ResponseWriter, r *http.Request) {
	session, err := h.ws.NewChat(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.remember(w, r, session.ID)
	view := h.ws.View()
	h.notifier.Publish(view)
	writeJSON(w, http.StatusCreated, SessionResponse{Session: session, View: view})
}

func (h *handlers) selectSession(w http.ResponseWriter, r *http.Request) {
	session, out, err := h.ws.SelectSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.remember(w, r, session.ID)
	view := h.ws.View()
	h.notifier.Publish(view)

	resp := SessionResponse{Session: session, View: view, State: out.State.String()}
	if !out.Bound() && session.HasFile() {
		resp.Warning = out.Warning(session.FileName)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ws.DeleteSession(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	if h.rememberedID(r) == id {
		h.remember(w, r, "")
	}
	h.notifier.Publish(h.ws.View())
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.ws.Transcript(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) exportSession(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatYAML)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	id := chi.URLParam(r, "id")
	session, err := h.ws.Session(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	msgs, err := h.ws.Transcript(id)
	if err != nil {
		h.fail(w, err)
		return
	}

	doc := export.NewDocument(session, msgs, export.Options{IncludePlots: r.URL.Query().Get("plots") == "true"})
	w.Header().Set("Content-Type", contentType(format))
	if err := export.Write(w, format, doc); err != nil {
		h.logger.Error("export failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("missing file: %v", err)})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := readUpload(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	h.restore(w, r)
	session, err := h.ws.Upload(r.Context(), filepath.Base(header.Filename), data)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.remember(w, r, session.ID)
	view := h.ws.View()
	h.notifier.Publish(view)

	resp := SessionResponse{Session: session, View: view}
	if view.Degraded {
		resp.Warning = lastAssistant(h.ws, session.ID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// lastAssistant returns the newest assistant message of a session.
func lastAssistant(ws *chat.Workspace, id string) string {
	msgs, err := ws.Transcript(id)
	if err != nil {
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

func readUpload(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.restore(w, r)
	res, err := h.ws.Ask(r.Context(), req.Question)
	if err != nil {
		h.fail(w, err)
		return
	}
	view := h.ws.View()
	h.notifier.Publish(view)

	msgs := res.Messages
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, AskResponse{State: res.Outcome.State.String(), Messages: msgs, View: view})
}

// fail maps workspace errors to HTTP statuses.
func (h *handlers) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, state.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNoActiveSession),
		errors.Is(err, chat.ErrNoDataset),
		errors.Is(err, chat.ErrEmptyQuestion):
		status = http.StatusBadRequest
	case errors.Is(err, reconcile.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func contentType(f export.Format) string {
	switch f {
	case export.FormatJSON:
		return "application/json"
	case export.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/yaml"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
