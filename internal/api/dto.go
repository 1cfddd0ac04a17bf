package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

// Pipeline DTOs

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID        uuid.UUID           `json:"id"`
	Name      string              `json:"name"`
	Spec      domain.PipelineSpec `json:"spec"`
	IsActive  bool                `json:"is_active"`
	CreatedAt time.Time           `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		Spec:      p.Spec,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}

// SetActiveRequest — запрос на включение/выключение pipeline.
type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// Run DTOs

// TriggerRunRequest — запрос на запуск run.
type TriggerRunRequest struct {
	Branch    string            `json:"branch"`
	Event     string            `json:"event,omitempty"`
	CommitSHA string            `json:"commit_sha,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// CancelRunRequest — запрос на отмену run.
type CancelRunRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID         `json:"id"`
	PipelineID uuid.UUID         `json:"pipeline_id"`
	Context    domain.RunContext `json:"context"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RunFromDomain конвертирует domain.PipelineRun в RunResponse.
func RunFromDomain(r domain.PipelineRun) RunResponse {
	return RunResponse{
		ID:         r.ID,
		PipelineID: r.PipelineID,
		Context:    r.Context,
		Status:     string(r.Status),
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		CreatedAt:  r.CreatedAt,
	}
}

// Execution DTOs

// ExecutionResponse — ответ с job execution.
type ExecutionResponse struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	LogRef     string     `json:"log_ref,omitempty"`
	Produced   []string   `json:"produced,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.JobExecution в ExecutionResponse.
func ExecutionFromDomain(e domain.JobExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:         e.ID,
		RunID:      e.RunID,
		JobID:      e.JobID,
		Status:     string(e.Status),
		Detail:     e.Detail,
		LogRef:     e.LogRef,
		Produced:   e.Produced,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		CreatedAt:  e.CreatedAt,
	}
}

// Approval DTOs

// ApprovalRequest — запрос на approve/reject execution.
type ApprovalRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalResponse — ответ с записью approval.
type ApprovalResponse struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Approver    string    `json:"approver"`
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApprovalFromDomain конвертирует domain.Approval в ApprovalResponse.
func ApprovalFromDomain(a domain.Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:          a.ID,
		RunID:       a.RunID,
		ExecutionID: a.ExecutionID,
		Approver:    a.Approver,
		Approved:    a.Approved,
		Reason:      a.Reason,
		CreatedAt:   a.CreatedAt,
	}
}

// Ledger DTOs

// LedgerEntryResponse — запись журнала переходов.
type LedgerEntryResponse struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	JobID       string    `json:"job_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	At          time.Time `json:"at"`
	Detail      string    `json:"detail,omitempty"`
	Artifacts   []string  `json:"artifacts,omitempty"`
}

// LedgerEntryFromDomain конвертирует ledger.Entry в LedgerEntryResponse.
func LedgerEntryFromDomain(e ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ExecutionID: e.ExecutionID,
		JobID:       e.JobID,
		From:        string(e.From),
		To:          string(e.To),
		At:          e.At,
		Detail:      e.Detail,
		Artifacts:   e.Artifacts,
	}
}

// Artifact DTOs

// ArtifactResponse — метаданные артефакта.
type ArtifactResponse struct {
	RunID       uuid.UUID `json:"run_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Name        string    `json:"name"`
	Ref         string    `json:"ref"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtifactFromDomain конвертирует domain.Artifact в ArtifactResponse.
func ArtifactFromDomain(a domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		RunID:       a.RunID,
		ExecutionID: a.ExecutionID,
		Name:        a.Name,
		Ref:         a.Ref,
		Size:        a.Size,
		CreatedAt:   a.CreatedAt,
	}
}

// Schedule DTOs

// SetEnabledRequest — запрос на включение/выключение schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID         uuid.UUID  `json:"id"`
	PipelineID uuid.UUID  `json:"pipeline_id"`
	CronExpr   string     `json:"cron_expr"`
	Branch     string     `json:"branch"`
	Enabled    bool       `json:"enabled"`
	NextDueAt  *time.Time `json:"next_due_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:         s.ID,
		PipelineID: s.PipelineID,
		CronExpr:   s.CronExpr,
		Branch:     s.Branch,
		Enabled:    s.Enabled,
		NextDueAt:  s.NextDueAt,
		LastRunAt:  s.LastRunAt,
		LastRunID:  s.LastRunID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}
