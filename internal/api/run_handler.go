package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if pipelineIDStr := r.URL.Query().Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// TriggerRun создаёт новый run для pipeline.
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Branch == "" {
		BadRequest(w, "branch is required")
		return
	}

	event := domain.EventKind(req.Event)
	if req.Event == "" {
		event = domain.EventManual
	}
	if !domain.KnownEventKinds[event] {
		BadRequest(w, "unknown event kind")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if !pipeline.IsActive {
		InvalidState(w, "pipeline is not active")
		return
	}

	run := domain.NewPipelineRun(pipeline.ID, domain.RunContext{
		Pipeline:  pipeline.Name,
		Branch:    req.Branch,
		Event:     event,
		CommitSHA: req.CommitSHA,
		Actor:     req.Actor,
		Meta:      req.Meta,
	})

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие в очередь; при потере run подхватит polling
	if h.publisher != nil {
		if err := h.publisher.PublishRunTriggered(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.triggered", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun запрашивает отмену run.
// POST /api/v1/runs/{id}/cancel
//
// Активные runs живут в памяти координатора, поэтому отмена идёт
// через control-очередь, а не напрямую в БД.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req CancelRunRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		InvalidState(w, "run is already finished")
		return
	}

	if h.publisher != nil {
		err := h.publisher.PublishRunCancel(r.Context(), mq.RunCancelPayload{
			RunID:  run.ID,
			Actor:  req.Actor,
			Reason: req.Reason,
		})
		if err == nil {
			Accepted(w, RunFromDomain(*run))
			return
		}
		h.logger.Warn("failed to publish run.cancel", "run_id", run.ID, "error", err)
	}

	// Без MQ отменить можно только run, ещё не взятый в работу
	if run.Status != domain.RunStatusPending {
		InvalidState(w, "run is in progress and cancel queue is unavailable")
		return
	}

	run.MarkCancelled()
	run.Error = req.Reason
	if err := h.runRepo.Update(r.Context(), run); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunExecutions возвращает executions run'а.
// GET /api/v1/runs/{id}/executions
func (h *Handler) ListRunExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	execs, err := h.executionRepo.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i, e := range execs {
		result[i] = ExecutionFromDomain(e)
	}

	List(w, result, len(result))
}

// GetRunLedger возвращает журнал переходов run'а.
// GET /api/v1/runs/{id}/ledger
func (h *Handler) GetRunLedger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	entries, err := h.ledgerRepo.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]LedgerEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = LedgerEntryFromDomain(e)
	}

	List(w, result, len(result))
}
