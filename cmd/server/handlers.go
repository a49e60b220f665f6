package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bodrovkirill/askdocs"
)

type handler struct {
	engine         askdocs.Engine
	maxUploadBytes int64
}

func newHandler(e askdocs.Engine, maxUploadBytes int64) *handler {
	return &handler{engine: e, maxUploadBytes: maxUploadBytes}
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question string `json:"question"`
		Limit    int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Bound parameters.
	if req.Limit < 0 || req.Limit > 100 {
		req.Limit = 0 // use default
	}

	var opts []askdocs.AskOption
	if req.Limit > 0 {
		opts = append(opts, askdocs.WithLimit(req.Limit))
	}

	answer, err := h.engine.Ask(ctx, req.Question, opts...)
	if err != nil {
		if errors.Is(err, askdocs.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "ask failed")
		slog.Error("ask error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /documents
// Multipart upload; ingestion runs in the background. Poll
// GET /documents for the processing status.
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a 'file' field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	title := r.FormValue("title")

	doc, err := h.engine.UploadDocument(r.Context(), header.Filename, title, file)
	if err != nil {
		switch {
		case errors.Is(err, askdocs.ErrUnsupportedFormat):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, askdocs.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, askdocs.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "upload failed")
			slog.Error("upload error", "file", header.Filename, "error", err)
		}
		return
	}

	// The pipeline carries its own hard deadline; the request context
	// ends with the response, so ingestion gets a fresh one.
	go func() {
		if _, err := h.engine.Ingest(context.Background(), doc.ID); err != nil {
			slog.Error("background ingest error", "document_id", doc.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, doc)
}

// POST /ingest
// Re-runs the ingestion pipeline for an already uploaded document.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID int64 `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DocumentID <= 0 {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	report, err := h.engine.Ingest(r.Context(), req.DocumentID)
	if err != nil {
		switch {
		case errors.Is(err, askdocs.ErrAlreadyProcessing):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, askdocs.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "ingestion failed")
			slog.Error("ingest error", "document_id", req.DocumentID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, askdocs.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := h.engine.HealthCheck(ctx)
	status := http.StatusOK
	if !health.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
