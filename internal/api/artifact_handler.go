package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/artifact"
)

// ListRunArtifacts возвращает метаданные артефактов run'а.
// GET /api/v1/runs/{id}/artifacts
func (h *Handler) ListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if h.artifacts == nil {
		InvalidState(w, "artifact store is not configured")
		return
	}

	artifacts, err := h.artifacts.List(r.Context(), runID)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]ArtifactResponse, len(artifacts))
	for i, a := range artifacts {
		result[i] = ArtifactFromDomain(a)
	}

	List(w, result, len(result))
}

// DownloadArtifact отдаёт содержимое артефакта.
// GET /api/v1/runs/{id}/artifacts/{name}
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}
	name := r.PathValue("name")

	if h.artifacts == nil {
		InvalidState(w, "artifact store is not configured")
		return
	}

	body, meta, err := h.artifacts.Get(r.Context(), runID, name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			NotFound(w, "artifact not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("failed to stream artifact",
			"run_id", runID,
			"name", name,
			"error", err,
		)
	}
}

// UploadArtifact принимает содержимое артефакта от agent'а.
// PUT /api/v1/runs/{id}/artifacts/{name}?execution_id=...
//
// Артефакты неизменяемы: повторная загрузка того же имени — конфликт.
func (h *Handler) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}
	name := r.PathValue("name")
	if name == "" {
		BadRequest(w, "artifact name is required")
		return
	}

	executionID, err := uuid.Parse(r.URL.Query().Get("execution_id"))
	if err != nil {
		BadRequest(w, "invalid execution_id")
		return
	}

	if h.artifacts == nil {
		InvalidState(w, "artifact store is not configured")
		return
	}

	meta, err := h.artifacts.Put(r.Context(), runID, executionID, name, r.Body, r.ContentLength)
	if err != nil {
		if errors.Is(err, artifact.ErrAlreadyExists) {
			Conflict(w, "artifact already exists")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, ArtifactFromDomain(meta))
}
