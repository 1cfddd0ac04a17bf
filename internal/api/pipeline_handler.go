package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/pipespec"
	"github.com/HydJing/conveyor/internal/repo"
)

// maxSpecSize ограничивает размер YAML-спецификации.
const maxSpecSize = 1 << 20 // 1 MiB

// ListPipelines возвращает список всех pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelineRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline регистрирует pipeline из YAML-спецификации.
// POST /api/v1/pipelines (тело — YAML документ)
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	if _, err := h.pipelineRepo.GetByName(r.Context(), spec.Name); err == nil {
		Conflict(w, "pipeline with this name already exists")
		return
	} else if !errors.Is(err, repo.ErrNotFound) {
		InternalError(w, h.logger, err)
		return
	}

	pipeline := &domain.Pipeline{
		ID:        uuid.New(),
		Name:      spec.Name,
		Spec:      spec,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	if err := h.pipelineRepo.Create(r.Context(), pipeline); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if err := h.syncSchedules(r.Context(), pipeline); err != nil {
		h.logger.Error("failed to sync schedules",
			"pipeline_id", pipeline.ID,
			"error", err,
		)
	}

	Created(w, PipelineFromDomain(*pipeline))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// UpdatePipelineSpec заменяет спецификацию pipeline новым YAML.
// PUT /api/v1/pipelines/{id} (тело — YAML документ)
func (h *Handler) UpdatePipelineSpec(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	spec, ok := h.readSpec(w, r)
	if !ok {
		return
	}

	if spec.Name != pipeline.Name {
		BadRequest(w, "spec name does not match pipeline name")
		return
	}

	if err := h.pipelineRepo.UpdateSpec(r.Context(), id, spec); err != nil {
		if HandleRepoError(w, h.logger, err, "pipeline not found") {
			return
		}
	}
	pipeline.Spec = spec

	if err := h.syncSchedules(r.Context(), pipeline); err != nil {
		h.logger.Error("failed to sync schedules",
			"pipeline_id", pipeline.ID,
			"error", err,
		)
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// DeletePipeline удаляет pipeline.
// DELETE /api/v1/pipelines/{id}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelineRepo.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	NoContent(w)
}

// SetPipelineActive включает/выключает pipeline.
// PUT /api/v1/pipelines/{id}/active
func (h *Handler) SetPipelineActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.pipelineRepo.SetActive(r.Context(), id, req.IsActive); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	NoContent(w)
}

// readSpec читает и валидирует YAML-спецификацию из тела запроса.
func (h *Handler) readSpec(w http.ResponseWriter, r *http.Request) (domain.PipelineSpec, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSpecSize))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return domain.PipelineSpec{}, false
	}

	spec, err := pipespec.Parse(body)
	if err != nil {
		BadRequest(w, err.Error())
		return domain.PipelineSpec{}, false
	}
	return spec, true
}

// syncSchedules пересоздаёт cron-расписания pipeline из спецификации.
func (h *Handler) syncSchedules(ctx context.Context, pipeline *domain.Pipeline) error {
	if err := h.scheduleRepo.DeleteByPipeline(ctx, pipeline.ID); err != nil {
		return err
	}

	schedules, err := pipespec.MaterializeSchedules(pipeline.ID, &pipeline.Spec, time.Now())
	if err != nil {
		return err
	}

	for i := range schedules {
		if err := h.scheduleRepo.Create(ctx, &schedules[i]); err != nil {
			return err
		}
	}
	return nil
}
