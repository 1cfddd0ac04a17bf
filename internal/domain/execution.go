package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobExecution — выполнение одного job внутри run.
//
// JobExecution создаётся планировщиком при старте run (по одному
// на каждый JobSpec) и проходит через состояния ExecutionStatus
// строго монотонно: терминальное состояние никогда не покидается,
// пройденное состояние не посещается повторно.
type JobExecution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// JobID — ID job из PipelineSpec (соответствует JobSpec.ID).
	JobID string `json:"job_id"`

	// Status — текущий статус execution.
	Status ExecutionStatus `json:"status"`

	// Detail — свободная форма: причина skip, текст ошибки Runner'а,
	// кто отклонил approval.
	Detail string `json:"detail,omitempty"`

	// LogRef — ссылка на лог выполнения, возвращённая Runner'ом.
	LogRef string `json:"log_ref,omitempty"`

	// Produced — имена артефактов, произведённых этим execution.
	Produced []string `json:"produced,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в терминальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания execution.
	CreatedAt time.Time `json:"created_at"`
}

// NewJobExecution создаёт execution в статусе PENDING.
func NewJobExecution(runID uuid.UUID, jobID string) *JobExecution {
	return &JobExecution{
		ID:        uuid.New(),
		RunID:     runID,
		JobID:     jobID,
		Status:    ExecutionPending,
		CreatedAt: time.Now(),
	}
}

// IsFinished возвращает true, если execution в терминальном статусе.
func (e *JobExecution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (e *JobExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// Transition переводит execution в статус to, проверяя монотоность.
// Недопустимый переход возвращает ошибку и не меняет состояние.
func (e *JobExecution) Transition(to ExecutionStatus, detail string) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", e.Status, to, e.JobID)
	}

	now := time.Now()
	e.Status = to
	if detail != "" {
		e.Detail = detail
	}

	switch {
	case to == ExecutionRunning:
		e.StartedAt = &now
	case to.IsTerminal():
		e.FinishedAt = &now
	}

	return nil
}
