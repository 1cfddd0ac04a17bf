package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — материализованное cron-расписание pipeline.
//
// Schedules создаются координатором из PipelineSpec.Triggers.Schedules
// при регистрации pipeline и хранятся в БД, чтобы пережить рестарт:
// next_due_at высчитывается заново только при срабатывании.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// CronExpr — cron-выражение (стандартные 5 полей).
	CronExpr string `json:"cron_expr"`

	// Branch — ветка, на которой выполняется запуск.
	Branch string `json:"branch"`

	// Enabled — выключенные schedules не срабатывают.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего срабатывания.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего срабатывания.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — ID последнего созданного run.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	// CreatedAt / UpdatedAt — служебные временные метки.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Approval — зафиксированное решение по environment-гейту.
//
// Решения хранятся в БД как аудиторский след: кто, когда и по какому
// execution проголосовал. Учёт кворума ведёт Gate Manager в памяти.
type Approval struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// ExecutionID — execution, которого касается решение.
	ExecutionID uuid.UUID `json:"execution_id"`

	// Approver — кто принял решение.
	Approver string `json:"approver"`

	// Approved — true для approve, false для reject.
	Approved bool `json:"approved"`

	// Reason — причина (обязательна для reject).
	Reason string `json:"reason,omitempty"`

	// CreatedAt — время решения.
	CreatedAt time.Time `json:"created_at"`
}
