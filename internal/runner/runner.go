package runner

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// ErrUnavailable — инфраструктурный сбой runner'а: агент недоступен,
// брокер не отвечает, dispatch потерян. Такой сбой не означает
// провал job'а и подлежит повторной попытке на стороне scheduler'а.
var ErrUnavailable = errors.New("runner unavailable")

// Dispatch — задание на выполнение одного job.
type Dispatch struct {
	// ExecutionID — execution, от имени которого выполняется job.
	ExecutionID uuid.UUID

	// RunID — run, к которому относится execution.
	RunID uuid.UUID

	// Job — спецификация job'а.
	Job domain.JobSpec

	// Inputs — артефакты, затребованные через consumes:
	// имя артефакта -> ссылка в хранилище.
	Inputs map[string]string

	// Context — контекст триггера run'а.
	Context domain.RunContext
}

// ArtifactOutput — артефакт, опубликованный job'ом при выполнении.
type ArtifactOutput struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

// Result — логический итог выполнения job'а.
//
// Result описывает исход job'а (включая провал), а ошибка Run()
// зарезервирована за инфраструктурными сбоями самого runner'а.
type Result struct {
	// Status — SUCCEEDED или FAILED.
	Status domain.ExecutionStatus `json:"status"`

	// Detail — сообщение об ошибке при FAILED.
	Detail string `json:"detail,omitempty"`

	// Artifacts — опубликованные артефакты.
	Artifacts []ArtifactOutput `json:"artifacts,omitempty"`

	// LogRef — ссылка на лог выполнения.
	LogRef string `json:"log_ref,omitempty"`
}

// Runner выполняет job'ы.
//
// Контракт Run: блокируется до завершения job'а или отмены ctx.
// Отмена ctx означает отмену execution — runner обязан прервать
// выполнение (best-effort) и вернуть ctx.Err(). Инфраструктурные
// сбои оборачивают ErrUnavailable.
type Runner interface {
	Run(ctx context.Context, d Dispatch) (Result, error)
}
