package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/HydJing/conveyor/internal/condition"
	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/graph"
	"github.com/HydJing/conveyor/internal/ledger"
)

// Observer получает уведомления об изменениях состояния run.
//
// Используется координатором для персистентности: scheduler держит
// состояние в памяти, observer записывает его в хранилище. Методы
// вызываются синхронно под блокировкой состояния — реализации
// должны быть быстрыми и не вызывать scheduler повторно.
type Observer interface {
	RunUpdated(run domain.PipelineRun)
	ExecutionUpdated(exec domain.JobExecution, entry ledger.Entry)
}

// nopObserver — заглушка для работы без персистентности.
type nopObserver struct{}

func (nopObserver) RunUpdated(domain.PipelineRun)                      {}
func (nopObserver) ExecutionUpdated(domain.JobExecution, ledger.Entry) {}

// runState — живое состояние одного run.
//
// Все мутации идут через методы под mu. Терминальные переходы
// executions записываются в журнал и будят цикл планирования
// через events.
type runState struct {
	mu sync.Mutex

	run  *domain.PipelineRun
	spec *domain.PipelineSpec
	dag  *graph.DAG
	log  *ledger.Ledger

	// executions — по одному на каждый JobSpec, ключ — JobID.
	executions map[string]*domain.JobExecution

	// artifacts — опубликованные артефакты: имя -> ссылка в хранилище.
	artifacts map[string]string

	// inflight — jobs, для которых уже запущена горутина выполнения.
	inflight map[string]bool

	// cancelRun прерывает все горутины run (abort, shutdown).
	cancelRun context.CancelFunc

	aborted     bool
	abortReason string

	observer Observer

	// events будит цикл планирования. Буфер 1: сигнал слияния
	// достаточен, evaluate пересчитывает всё состояние.
	events chan struct{}

	// done закрывается после финализации run.
	done chan struct{}
}

func newRunState(run *domain.PipelineRun, spec *domain.PipelineSpec, dag *graph.DAG, cancelRun context.CancelFunc, observer Observer) *runState {
	if observer == nil {
		observer = nopObserver{}
	}

	st := &runState{
		run:        run,
		spec:       spec,
		dag:        dag,
		log:        ledger.New(run.ID),
		executions: make(map[string]*domain.JobExecution, len(spec.Jobs)),
		artifacts:  make(map[string]string),
		inflight:   make(map[string]bool),
		cancelRun:  cancelRun,
		observer:   observer,
		events:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	for i := range spec.Jobs {
		job := &spec.Jobs[i]
		st.executions[job.ID] = domain.NewJobExecution(run.ID, job.ID)
	}

	return st
}

// signal будит цикл планирования (неблокирующе).
func (st *runState) signal() {
	select {
	case st.events <- struct{}{}:
	default:
	}
}

// transition переводит execution job'а в статус to и записывает
// переход в журнал. Недопустимый переход возвращает ошибку и
// не записывается.
func (st *runState) transition(jobID string, to domain.ExecutionStatus, detail string, artifacts []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	exec, ok := st.executions[jobID]
	if !ok {
		return graph.NewValidationError(jobID, "", "unknown job", nil)
	}
	if !st.transitionLocked(exec, to, detail, artifacts) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", exec.Status, to, jobID)
	}
	return nil
}

// transitionLocked — transition под уже взятым st.mu.
// Возвращает false, если переход недопустим.
func (st *runState) transitionLocked(exec *domain.JobExecution, to domain.ExecutionStatus, detail string, artifacts []string) bool {
	from := exec.Status
	if err := exec.Transition(to, detail); err != nil {
		return false
	}
	if len(artifacts) > 0 {
		exec.Produced = append(exec.Produced, artifacts...)
	}

	entry := ledger.Entry{
		ExecutionID: exec.ID,
		JobID:       exec.JobID,
		From:        from,
		To:          to,
		Detail:      detail,
		Artifacts:   artifacts,
	}
	st.log.Append(entry)
	st.observer.ExecutionUpdated(*exec, entry)

	if to.IsTerminal() {
		st.signal()
	}

	return true
}

// publishArtifacts сохраняет ссылки на артефакты в таблице run'а.
func (st *runState) publishArtifacts(refs map[string]string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for name, ref := range refs {
		st.artifacts[name] = ref
	}
}

// inputsFor собирает ссылки на артефакты, затребованные job'ом.
// Отсутствие заявленного артефакта в таблице run'а — ошибка: job
// нельзя отправлять агенту без обещанных ему входов.
func (st *runState) inputsFor(job *domain.JobSpec) (map[string]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(job.Consumes) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(job.Consumes))
	for _, name := range job.Consumes {
		ref, ok := st.artifacts[name]
		if !ok {
			return nil, fmt.Errorf("declared input artifact %q is not available", name)
		}
		inputs[name] = ref
	}
	return inputs, nil
}

// upstreamOutcomes возвращает исходы зависимостей job'а, если все
// они терминальны. Второй результат false — есть незавершённые.
func (st *runState) upstreamOutcomes(jobID string) (condition.Outcomes, bool) {
	deps := st.dag.Dependencies(jobID)
	outcomes := make(condition.Outcomes, len(deps))
	for _, dep := range deps {
		exec := st.executions[dep]
		if !exec.Status.IsTerminal() {
			return nil, false
		}
		outcomes[dep] = exec.Status
	}
	return outcomes, true
}

// allTerminal возвращает true, когда все executions завершены.
func (st *runState) allTerminal() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, exec := range st.executions {
		if !exec.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// abort помечает run отменённым и прерывает все горутины.
func (st *runState) abort(reason string) {
	st.mu.Lock()
	if st.aborted {
		st.mu.Unlock()
		return
	}
	st.aborted = true
	st.abortReason = reason
	st.mu.Unlock()

	st.cancelRun()
	st.signal()
}

func (st *runState) isAborted() (bool, string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.aborted, st.abortReason
}

// executionSnapshot возвращает копию execution по JobID.
func (st *runState) executionSnapshot(jobID string) (domain.JobExecution, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	exec, ok := st.executions[jobID]
	if !ok {
		return domain.JobExecution{}, false
	}
	return *exec, true
}

// snapshot возвращает копии всех executions в топологическом порядке.
func (st *runState) snapshot() []domain.JobExecution {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]domain.JobExecution, 0, len(st.executions))
	for _, id := range st.dag.TopoOrder() {
		out = append(out, *st.executions[id])
	}
	return out
}

// runSnapshot возвращает копию run.
func (st *runState) runSnapshot() domain.PipelineRun {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.run
}
