package codegen

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/csvchat/pkg/core"
)

// maxRequestSize bounds a /generate request body.
const maxRequestSize = 1 << 20

// NewHandler serves a generator over HTTP: GET / reports health and
// POST /generate returns {"code"} or {"detail"}.
func NewHandler(gen core.CodeGenerator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{gen: gen, logger: logger}

	r := chi.NewMux()
	r.Use(middleware.Recoverer)
	r.Get("/", h.root)
	r.Post("/generate", h.generate)
	return r
}

type handler struct {
	gen    core.CodeGenerator
	logger *slog.Logger
}

func (h *handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "CSV Chat API is running"})
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: "question is required"})
		return
	}

	code, err := h.gen.Generate(r.Context(), req.Columns, req.Question)
	if err != nil {
		h.logger.Error("code generation failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
