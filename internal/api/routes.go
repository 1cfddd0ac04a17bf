package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(),
	)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("PUT /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.UpdatePipelineSpec)))
	mux.Handle("DELETE /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.DeletePipeline)))
	mux.Handle("PUT /api/v1/pipelines/{id}/active", chain(http.HandlerFunc(h.SetPipelineActive)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/pipelines/{id}/runs", chain(http.HandlerFunc(h.TriggerRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/executions", chain(http.HandlerFunc(h.ListRunExecutions)))
	mux.Handle("GET /api/v1/runs/{id}/ledger", chain(http.HandlerFunc(h.GetRunLedger)))

	// Approvals
	mux.Handle("POST /api/v1/executions/{id}/approve", chain(http.HandlerFunc(h.ApproveExecution)))
	mux.Handle("POST /api/v1/executions/{id}/reject", chain(http.HandlerFunc(h.RejectExecution)))
	mux.Handle("GET /api/v1/executions/{id}/approvals", chain(http.HandlerFunc(h.ListExecutionApprovals)))

	// Artifacts
	mux.Handle("GET /api/v1/runs/{id}/artifacts", chain(http.HandlerFunc(h.ListRunArtifacts)))
	mux.Handle("GET /api/v1/runs/{id}/artifacts/{name}", chain(http.HandlerFunc(h.DownloadArtifact)))
	mux.Handle("PUT /api/v1/runs/{id}/artifacts/{name}", chain(http.HandlerFunc(h.UploadArtifact)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
