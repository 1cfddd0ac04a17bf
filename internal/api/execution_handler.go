package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/mq"
)

// ApproveExecution подаёт approval по execution, ожидающему гейта.
// POST /api/v1/executions/{id}/approve
func (h *Handler) ApproveExecution(w http.ResponseWriter, r *http.Request) {
	h.submitDecision(w, r, true)
}

// RejectExecution отклоняет execution, ожидающий гейта.
// POST /api/v1/executions/{id}/reject
func (h *Handler) RejectExecution(w http.ResponseWriter, r *http.Request) {
	h.submitDecision(w, r, false)
}

// submitDecision публикует решение в control-очередь координатора.
func (h *Handler) submitDecision(w http.ResponseWriter, r *http.Request, approved bool) {
	executionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Approver == "" {
		BadRequest(w, "approver is required")
		return
	}
	if !approved && req.Reason == "" {
		BadRequest(w, "reason is required for rejection")
		return
	}

	exec, err := h.executionRepo.GetByID(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	if exec.IsFinished() {
		InvalidState(w, "execution is already finished")
		return
	}

	if h.publisher == nil {
		InvalidState(w, "approval queue is unavailable")
		return
	}

	err = h.publisher.PublishApproval(r.Context(), mq.ApprovalPayload{
		RunID:       exec.RunID,
		ExecutionID: exec.ID,
		Approver:    req.Approver,
		Approved:    approved,
		Reason:      req.Reason,
	})
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ListExecutionApprovals возвращает решения по execution.
// GET /api/v1/executions/{id}/approvals
func (h *Handler) ListExecutionApprovals(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	approvals, err := h.approvalRepo.ListByExecution(r.Context(), executionID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ApprovalResponse, len(approvals))
	for i, a := range approvals {
		result[i] = ApprovalFromDomain(a)
	}

	List(w, result, len(result))
}
