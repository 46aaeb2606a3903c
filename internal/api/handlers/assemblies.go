package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"go.uber.org/zap"
)

// AssemblyHandler handles assembly run endpoints
type AssemblyHandler struct {
	module  *jobs.Module
	storage *storage.Service
	logger  *zap.Logger
}

// NewAssemblyHandler creates a new assembly handler
func NewAssemblyHandler(module *jobs.Module, storage *storage.Service, logger *zap.Logger) *AssemblyHandler {
	return &AssemblyHandler{
		module:  module,
		storage: storage,
		logger:  logger,
	}
}

// Create submits a new run
func (h *AssemblyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	run, err := h.module.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, assembly.ErrInvalidSettings) {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_SETTINGS", err.Error())
			return
		}
		h.logger.Error("Failed to create assembly run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", "failed to create assembly run")
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// List returns recent runs, optionally filtered by ?status=
func (h *AssemblyHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.module.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.logger.Error("Failed to list assembly runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list assembly runs")
		return
	}
	if runs == nil {
		runs = []*jobs.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// Get returns one run
func (h *AssemblyHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Cancel stops a queued or processing run
func (h *AssemblyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.module.Cancel(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, jobs.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "assembly run not found")
	case errors.Is(err, jobs.ErrNotCancellable):
		writeError(w, http.StatusConflict, "NOT_CANCELLABLE", err.Error())
	default:
		h.logger.Error("Failed to cancel assembly run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "CANCEL_FAILED", "failed to cancel assembly run")
	}
}

// Download streams the finished video
func (h *AssemblyHandler) Download(w http.ResponseWriter, r *http.Request) {
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	if run.Status != jobs.StatusCompleted || run.OutputKey == "" {
		writeError(w, http.StatusConflict, "NOT_READY", "assembly run has no output yet")
		return
	}

	reader, err := h.storage.Retrieve(r.Context(), run.OutputKey)
	if err != nil {
		h.logger.Error("Failed to open assembly output", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusNotFound, "OUTPUT_MISSING", "assembly output is no longer available")
		return
	}
	defer reader.Close()

	ext := path.Ext(run.OutputKey)
	w.Header().Set("Content-Type", contentTypes[ext])
	w.Header().Set("Content-Disposition", `attachment; filename="`+run.ID+ext+`"`)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("Output download interrupted", zap.String("run_id", run.ID), zap.Error(err))
	}
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

func (h *AssemblyHandler) load(w http.ResponseWriter, r *http.Request) (*jobs.Run, bool) {
	run, err := h.module.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "assembly run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load assembly run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "LOAD_FAILED", "failed to load assembly run")
		return nil, false
	}
	return run, true
}
