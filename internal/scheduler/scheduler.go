package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/HydJing/conveyor/internal/concurrency"
	"github.com/HydJing/conveyor/internal/condition"
	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/gate"
	"github.com/HydJing/conveyor/internal/graph"
	"github.com/HydJing/conveyor/internal/notify"
	"github.com/HydJing/conveyor/internal/runner"
	"github.com/HydJing/conveyor/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultMaxConcurrency = 16
	DefaultRetryBase      = 2 * time.Second

	// dispatchAttempts — число попыток dispatch при недоступности runner'а.
	dispatchAttempts = 3
)

// Config — конфигурация Scheduler.
type Config struct {
	// Runner выполняет jobs.
	Runner runner.Runner

	// Notifier получает итоговые отчёты runs. nil — нотификации отключены.
	Notifier notify.Notifier

	// Observer получает изменения состояния для персистентности.
	// nil — состояние живёт только в памяти.
	Observer Observer

	// Logger — структурный логгер.
	Logger *slog.Logger

	// MaxConcurrency — предел одновременно выполняющихся jobs по всем
	// runs. Ожидание approval или concurrency group слот не занимает.
	MaxConcurrency int64

	// RetryBase — базовая задержка повторного dispatch при недоступности
	// runner'а (удваивается на каждой попытке).
	RetryBase time.Duration
}

// Scheduler управляет выполнением pipeline runs.
//
// По одному циклу планирования на run: цикл будится терминальными
// событиями executions и пересчитывает готовность остальных jobs.
// Concurrency groups и предел параллелизма разделяются между runs.
type Scheduler struct {
	runner      runner.Runner
	concurrency *concurrency.Controller
	gates       *gate.Manager
	notifier    notify.Notifier
	observer    Observer
	logger      *slog.Logger
	sem         *semaphore.Weighted
	retryBase   time.Duration
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}

	return &Scheduler{
		runner:      cfg.Runner,
		concurrency: concurrency.NewController(),
		gates:       gate.NewManager(),
		notifier:    cfg.Notifier,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		retryBase:   cfg.RetryBase,
	}, nil
}

// Gates возвращает менеджер approval gates (для API и координатора).
func (s *Scheduler) Gates() *gate.Manager {
	return s.gates
}

// Launch создаёт run и запускает его выполнение.
//
// Спецификация валидируется Graph Builder'ом до создания run:
// некорректный граф — это ошибка без частичного run.
func (s *Scheduler) Launch(ctx context.Context, pipeline *domain.Pipeline, rc domain.RunContext) (*RunHandle, error) {
	return s.LaunchRun(ctx, pipeline, domain.NewPipelineRun(pipeline.ID, rc))
}

// LaunchRun запускает выполнение заранее созданного run.
// Используется координатором: run уже существует в БД в статусе PENDING.
func (s *Scheduler) LaunchRun(ctx context.Context, pipeline *domain.Pipeline, run *domain.PipelineRun) (*RunHandle, error) {
	dag, err := graph.Build(pipeline.Spec.Jobs)
	if err != nil {
		return nil, fmt.Errorf("build job graph: %w", err)
	}

	// Жизнь run не привязана к контексту вызова Launch
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	st := newRunState(run, &pipeline.Spec, dag, cancelRun, s.observer)

	handle := &RunHandle{scheduler: s, state: st}

	s.logger.Info("run launched",
		"run_id", run.ID,
		"pipeline", run.Context.Pipeline,
		"branch", run.Context.Branch,
		"event", run.Context.Event,
		"jobs", dag.Size(),
	)
	telemetry.RunsStarted.Inc()

	go s.loop(runCtx, st)

	return handle, nil
}

// loop — цикл планирования одного run.
func (s *Scheduler) loop(ctx context.Context, st *runState) {
	st.mu.Lock()
	st.run.MarkRunning()
	runSnap := *st.run
	st.mu.Unlock()
	st.observer.RunUpdated(runSnap)

	s.evaluate(ctx, st)

	// После первого срабатывания abort перестаём слушать ctx.Done(),
	// иначе закрытый канал превращает ожидание в busy-loop.
	abort := ctx.Done()
	for !st.allTerminal() {
		select {
		case <-st.events:
			s.evaluate(ctx, st)
		case <-abort:
			// Внешний shutdown: помечаем abort и ждём, пока горутины
			// jobs дойдут до терминальных состояний
			st.abort("scheduler shutdown")
			s.evaluate(ctx, st)
			abort = nil
		}
	}

	s.finalize(st)
}

// evaluate пересчитывает готовность PENDING executions.
//
// Job становится READY, когда все его зависимости терминальны и
// условия допускают запуск; иначе SKIPPED. При аборте неначатые
// executions отменяются на месте.
func (s *Scheduler) evaluate(ctx context.Context, st *runState) {
	aborted, reason := st.isAborted()

	var launches []*domain.JobSpec

	st.mu.Lock()
	for jobID, exec := range st.executions {
		if exec.Status != domain.ExecutionPending || st.inflight[jobID] {
			continue
		}

		if aborted {
			st.transitionLocked(exec, domain.ExecutionCancelled, reason, nil)
			continue
		}

		outcomes, ready := st.upstreamOutcomes(jobID)
		if !ready {
			continue
		}

		job, _ := st.spec.Job(jobID)

		verdict, err := condition.Eval(job, st.run.Context, outcomes)
		if err != nil {
			// Ошибка вычисления условия — провал job'а, не run'а целиком
			detail := fmt.Sprintf("condition evaluation failed: %v", err)
			st.transitionLocked(exec, domain.ExecutionReady, "", nil)
			st.transitionLocked(exec, domain.ExecutionFailed, detail, nil)
			continue
		}

		if verdict == condition.VerdictSkip {
			st.transitionLocked(exec, domain.ExecutionSkipped, skipDetail(job, outcomes), nil)
			continue
		}

		if !st.transitionLocked(exec, domain.ExecutionReady, "", nil) {
			continue
		}
		st.inflight[jobID] = true
		launches = append(launches, job)
	}
	st.mu.Unlock()

	for _, job := range launches {
		go s.runJob(ctx, st, job)
	}
}

// runJob ведёт один READY execution до терминального состояния:
// environment gate, concurrency group, слот параллелизма, dispatch.
func (s *Scheduler) runJob(ctx context.Context, st *runState, job *domain.JobSpec) {
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	exec, ok := st.executionSnapshot(job.ID)
	if !ok {
		return
	}

	// 1. Environment gate
	if job.Environment != "" {
		env, _ := st.spec.Environment(job.Environment)
		if env.Protected() {
			if !s.awaitApproval(jobCtx, st, job, exec, env) {
				return
			}
		} else if err := gate.CheckBranch(env, st.runSnapshot().Context.Branch); err != nil {
			s.fail(st, job.ID, err.Error())
			return
		}
	}

	// 2. Concurrency group
	release, ok := s.acquireGroup(jobCtx, cancelJob, st, job, exec)
	if !ok {
		return
	}
	if release != nil {
		defer release()
	}

	// 3. Слот параллелизма. Ожидание выше слот не занимало
	if err := s.sem.Acquire(jobCtx, 1); err != nil {
		s.cancelExecution(st, job.ID, "cancelled while waiting for a worker slot")
		return
	}
	defer s.sem.Release(1)

	if err := st.transition(job.ID, domain.ExecutionRunning, "", nil); err != nil {
		return
	}
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	s.dispatch(jobCtx, st, job, exec)
}

// awaitApproval держит execution в AWAITING_APPROVAL до решения gate.
// Возвращает false, если выполнение не должно продолжаться.
func (s *Scheduler) awaitApproval(ctx context.Context, st *runState, job *domain.JobSpec, exec domain.JobExecution, env domain.Environment) bool {
	branch := st.runSnapshot().Context.Branch

	pending, err := s.gates.Open(exec.ID, env, branch)
	if err != nil {
		// Запрещённая ветка — отказ без ожидания
		s.fail(st, job.ID, err.Error())
		return false
	}

	detail := fmt.Sprintf("environment %s requires %d approval(s)", env.Name, env.Protection.MinApprovals)
	if err := st.transition(job.ID, domain.ExecutionAwaitingApproval, detail, nil); err != nil {
		s.gates.Close(exec.ID, "execution left awaiting state")
		return false
	}

	select {
	case <-ctx.Done():
		s.gates.Close(exec.ID, "execution cancelled")
		s.cancelExecution(st, job.ID, "cancelled while awaiting approval")
		return false

	case decision := <-pending.Decision():
		if !decision.Approved {
			reason := "approval rejected"
			if decision.RejectedBy != "" {
				reason = fmt.Sprintf("rejected by %s: %s", decision.RejectedBy, decision.Reason)
			} else if decision.Reason != "" {
				reason = decision.Reason
			}
			if aborted, _ := st.isAborted(); aborted {
				s.cancelExecution(st, job.ID, reason)
			} else {
				s.fail(st, job.ID, reason)
			}
			return false
		}

		s.logger.Info("environment approved",
			"run_id", st.runSnapshot().ID,
			"job_id", job.ID,
			"environment", env.Name,
			"approvers", decision.Approvers,
		)
		return true
	}
}

// acquireGroup получает concurrency group job'а. Возвращает функцию
// освобождения и признак продолжения выполнения.
func (s *Scheduler) acquireGroup(ctx context.Context, cancelJob context.CancelFunc, st *runState, job *domain.JobSpec, exec domain.JobExecution) (func(), bool) {
	if job.Concurrency == nil {
		return nil, true
	}

	key, err := concurrency.ResolveKey(job.Concurrency.Group, st.runSnapshot().Context, job.Environment)
	if err != nil {
		s.fail(st, job.ID, err.Error())
		return nil, false
	}

	grant := s.concurrency.Acquire(key, exec.ID, job.Concurrency.CancelInProgress, cancelJob)
	release := func() {
		// Вытесненные waiters уже удалены из очереди — ErrNotHeld ожидаем
		if err := s.concurrency.Release(key, exec.ID); err != nil && !errors.Is(err, concurrency.ErrNotHeld) {
			s.logger.Warn("release concurrency group", "group", key, "error", err)
		}
	}

	switch grant.Kind {
	case concurrency.GrantImmediate:
		return release, true

	case concurrency.GrantAfterCancellation:
		s.logger.Info("superseding prior execution in concurrency group",
			"group", key,
			"prior_execution", grant.CancelledPrior,
			"execution", exec.ID,
		)

	case concurrency.GrantQueued:
		detail := fmt.Sprintf("queued behind concurrency group %s", key)
		if err := st.transition(job.ID, domain.ExecutionBlocked, detail, nil); err != nil {
			release()
			return nil, false
		}
	}

	select {
	case <-ctx.Done():
		release()
		s.cancelExecution(st, job.ID, fmt.Sprintf("superseded or cancelled in concurrency group %s", key))
		return nil, false
	case <-grant.Ready():
		return release, true
	}
}

// dispatch отправляет job runner'у с повторами при недоступности.
func (s *Scheduler) dispatch(ctx context.Context, st *runState, job *domain.JobSpec, exec domain.JobExecution) {
	run := st.runSnapshot()
	inputs, err := st.inputsFor(job)
	if err != nil {
		s.fail(st, job.ID, err.Error())
		return
	}
	d := runner.Dispatch{
		ExecutionID: exec.ID,
		RunID:       run.ID,
		Job:         *job,
		Inputs:      inputs,
		Context:     run.Context,
	}

	var res runner.Result

	delay := s.retryBase
	for attempt := 1; attempt <= dispatchAttempts; attempt++ {
		res, err = s.runner.Run(ctx, d)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			s.cancelExecution(st, job.ID, "execution cancelled")
			return
		}
		if !errors.Is(err, runner.ErrUnavailable) || attempt == dispatchAttempts {
			s.fail(st, job.ID, err.Error())
			return
		}

		s.logger.Warn("runner unavailable, retrying dispatch",
			"run_id", run.ID,
			"job_id", job.ID,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			s.cancelExecution(st, job.ID, "execution cancelled")
			return
		case <-time.After(delay):
		}
		delay *= 2
	}

	s.complete(st, job, res)
}

// complete применяет логический итог job'а.
func (s *Scheduler) complete(st *runState, job *domain.JobSpec, res runner.Result) {
	if res.Status != domain.ExecutionSucceeded {
		detail := res.Detail
		if detail == "" {
			detail = "job failed"
		}
		s.fail(st, job.ID, detail)
		return
	}

	// Проверяем обязательства produces
	produced := make(map[string]string, len(res.Artifacts))
	for _, a := range res.Artifacts {
		produced[a.Name] = a.Ref
	}
	for _, name := range job.Produces {
		if _, ok := produced[name]; !ok {
			s.fail(st, job.ID, fmt.Sprintf("declared artifact %q was not produced", name))
			return
		}
	}

	st.publishArtifacts(produced)

	names := make([]string, 0, len(produced))
	for name := range produced {
		names = append(names, name)
	}

	if err := st.transition(job.ID, domain.ExecutionSucceeded, res.Detail, names); err != nil {
		return
	}

	if job.NotifyOnSuccess && s.notifier != nil {
		run := st.runSnapshot()
		msg := notify.Message{
			Severity: notify.SeverityInfo,
			Title:    fmt.Sprintf("job %s succeeded", job.ID),
			Body:     fmt.Sprintf("job %s of pipeline %s succeeded on %s", job.ID, run.Context.Pipeline, run.Context.Branch),
			Run:      run,
		}
		if err := s.notifier.Notify(context.Background(), msg); err != nil {
			s.logger.Warn("notify failed", "run_id", run.ID, "job_id", job.ID, "error", err)
		}
	}
}

// fail переводит execution в FAILED.
func (s *Scheduler) fail(st *runState, jobID, detail string) {
	if err := st.transition(jobID, domain.ExecutionFailed, detail, nil); err != nil {
		s.logger.Debug("fail transition rejected", "job_id", jobID, "error", err)
		return
	}
	telemetry.JobsFailed.Inc()
}

// cancelExecution переводит execution в CANCELLED.
func (s *Scheduler) cancelExecution(st *runState, jobID, detail string) {
	if err := st.transition(jobID, domain.ExecutionCancelled, detail, nil); err != nil {
		s.logger.Debug("cancel transition rejected", "job_id", jobID, "error", err)
	}
}

// finalize вычисляет итог run'а и рассылает нотификации.
//
// Правило: run FAILED, если упал хотя бы один job без
// continue_on_error; иначе CANCELLED, если был отменён хотя бы один
// execution или run был прерван; иначе SUCCEEDED.
func (s *Scheduler) finalize(st *runState) {
	aborted, abortReason := st.isAborted()

	st.mu.Lock()
	var failedJob string
	var anyCancelled bool
	for jobID, exec := range st.executions {
		switch exec.Status {
		case domain.ExecutionFailed:
			job, _ := st.spec.Job(jobID)
			if job != nil && !job.ContinueOnError {
				failedJob = jobID
			}
		case domain.ExecutionCancelled:
			anyCancelled = true
		}
	}

	switch {
	case failedJob != "":
		st.run.MarkFailed(fmt.Sprintf("job %s failed", failedJob))
	case aborted:
		st.run.MarkCancelled()
		st.run.Error = abortReason
	case anyCancelled:
		st.run.MarkCancelled()
	default:
		st.run.MarkSucceeded()
	}

	run := *st.run
	st.mu.Unlock()

	st.observer.RunUpdated(run)
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()

	s.logger.Info("run finished",
		"run_id", run.ID,
		"pipeline", run.Context.Pipeline,
		"status", run.Status,
		"duration", run.Duration(),
	)

	if s.notifier != nil {
		msg := notify.Message{
			Severity: notify.SeverityFor(run.Status),
			Title:    fmt.Sprintf("run %s %s", run.ID, run.Status),
			Body:     notify.ReleaseNotes(run, st.log.Entries()),
			Run:      run,
		}
		if err := s.notifier.Notify(context.Background(), msg); err != nil {
			s.logger.Warn("notify failed", "run_id", run.ID, "error", err)
		}
	}

	close(st.done)
}

// skipDetail формирует причину skip для журнала.
func skipDetail(job *domain.JobSpec, outcomes condition.Outcomes) string {
	if !outcomes.AllSucceeded() && job.EffectiveWhen() == domain.WhenOnSuccess {
		for dep, status := range outcomes {
			if status != domain.ExecutionSucceeded {
				return fmt.Sprintf("dependency %s finished %s", dep, status)
			}
		}
	}
	return "run conditions not met"
}
