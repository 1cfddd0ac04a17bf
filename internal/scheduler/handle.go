package scheduler

import (
	"context"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

// RunHandle — хэндл запущенного run.
//
// Через хэндл координатор и API ждут завершения, читают журнал,
// подают approvals и отменяют run.
type RunHandle struct {
	scheduler *Scheduler
	state     *runState
}

// RunID возвращает идентификатор run.
func (h *RunHandle) RunID() uuid.UUID {
	return h.state.runSnapshot().ID
}

// Run возвращает текущий снимок run.
func (h *RunHandle) Run() domain.PipelineRun {
	return h.state.runSnapshot()
}

// Wait блокируется до завершения run или отмены ctx.
func (h *RunHandle) Wait(ctx context.Context) (domain.PipelineRun, error) {
	select {
	case <-ctx.Done():
		return h.state.runSnapshot(), ctx.Err()
	case <-h.state.done:
		return h.state.runSnapshot(), nil
	}
}

// Done возвращает канал, закрываемый после финализации run.
func (h *RunHandle) Done() <-chan struct{} {
	return h.state.done
}

// Ledger возвращает записи журнала run'а.
func (h *RunHandle) Ledger() []ledger.Entry {
	return h.state.log.Entries()
}

// Executions возвращает снимки всех executions в топологическом порядке.
func (h *RunHandle) Executions() []domain.JobExecution {
	return h.state.snapshot()
}

// Execution возвращает снимок execution по JobID.
func (h *RunHandle) Execution(jobID string) (domain.JobExecution, bool) {
	return h.state.executionSnapshot(jobID)
}

// Artifacts возвращает таблицу опубликованных артефактов run'а.
func (h *RunHandle) Artifacts() map[string]string {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	out := make(map[string]string, len(h.state.artifacts))
	for name, ref := range h.state.artifacts {
		out[name] = ref
	}
	return out
}

// Abort отменяет run: выполняющиеся jobs прерываются, неначатые
// отменяются, ожидающие approvals закрываются.
func (h *RunHandle) Abort(reason string) {
	if reason == "" {
		reason = "run cancelled"
	}
	h.state.abort(reason)
}

// Approve подаёт одобрение для execution, ждущего approval gate.
func (h *RunHandle) Approve(executionID uuid.UUID, approver string) error {
	return h.scheduler.gates.Approve(executionID, approver)
}

// Reject отклоняет execution, ждущий approval gate.
func (h *RunHandle) Reject(executionID uuid.UUID, approver, reason string) error {
	return h.scheduler.gates.Reject(executionID, approver, reason)
}
