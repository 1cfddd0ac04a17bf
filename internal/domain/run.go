package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunContext — контекст события, запустившего pipeline run.
//
// Контекст неизменяем в течение run и используется Condition Evaluator'ом
// и Concurrency Controller'ом для принятия решений.
type RunContext struct {
	// Pipeline — имя pipeline (для ключей concurrency groups).
	Pipeline string `json:"pipeline"`

	// Branch — ветка, на которой сработало событие.
	Branch string `json:"branch"`

	// Event — тип события (push, pull_request, schedule, manual).
	Event EventKind `json:"event"`

	// CommitSHA — идентификатор коммита.
	CommitSHA string `json:"commit_sha,omitempty"`

	// Actor — кто инициировал событие (для manual и approvals).
	Actor string `json:"actor,omitempty"`

	// Meta — произвольные метаданные события, доступные в выражениях If.
	Meta map[string]string `json:"meta,omitempty"`
}

// PipelineRun — один экземпляр выполнения pipeline.
//
// PipelineRun создаётся на каждое триггерное событие и владеет
// замороженным снимком DAG и набором JobExecution — по одному
// на каждый JobSpec.
type PipelineRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Context — контекст триггерного события.
	Context RunContext `json:"context"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения run.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewPipelineRun создаёт новый run в статусе PENDING.
func NewPipelineRun(pipelineID uuid.UUID, rc RunContext) *PipelineRun {
	return &PipelineRun{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Context:    rc,
		Status:     RunStatusPending,
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *PipelineRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *PipelineRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *PipelineRun) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *PipelineRun) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *PipelineRun) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *PipelineRun) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
