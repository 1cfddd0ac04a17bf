package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/artifact"
	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/notify"
	"github.com/HydJing/conveyor/internal/repo"
	"github.com/HydJing/conveyor/internal/runner"
	"github.com/HydJing/conveyor/internal/scheduler"
)

// Default configuration values.
const (
	defaultPollInterval     = 10 * time.Second
	defaultScheduleInterval = 30 * time.Second
	defaultSweepInterval    = 10 * time.Minute
	defaultArtifactTTL      = 7 * 24 * time.Hour
	defaultBatchSize        = 100
)

// Coordinator управляет выполнением pipeline runs.
//
// Coordinator — центральный компонент системы, который:
//   - Получает триггерные события из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Запускает runs через планировщик
//   - Маршрутизирует approvals и отмены в активные runs
//   - Срабатывает cron-расписания pipelines
//   - Подметает артефакты завершённых runs по истечении TTL
type Coordinator struct {
	// Repositories
	pipelineRepo *repo.PipelineRepo
	runRepo      *repo.RunRepo
	approvalRepo *repo.ApprovalRepo
	scheduleRepo *repo.ScheduleRepo

	// Execution
	scheduler *scheduler.Scheduler
	runner    *runner.AMQPRunner
	persist   *persistence
	artifacts artifact.Store

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения (runID → handle)
	activeRuns map[uuid.UUID]*scheduler.RunHandle
	mu         sync.RWMutex

	// Consumers
	triggerConsumer   *mq.Consumer
	controlConsumer   *mq.Consumer
	completedConsumer *mq.Consumer

	// Configuration
	pollInterval     time.Duration
	scheduleInterval time.Duration
	sweepInterval    time.Duration
	artifactTTL      time.Duration
	batchSize        int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Coordinator.
type Config struct {
	// Repositories
	PipelineRepo  *repo.PipelineRepo
	RunRepo       *repo.RunRepo
	ExecutionRepo *repo.ExecutionRepo
	LedgerRepo    *repo.LedgerRepo
	ApprovalRepo  *repo.ApprovalRepo
	ScheduleRepo  *repo.ScheduleRepo

	// MQ. Nil Conn означает работу только через polling.
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Artifacts — хранилище артефактов (для sweep). Может быть nil.
	Artifacts artifact.Store

	// Notifier — получатель уведомлений о завершении runs.
	Notifier notify.Notifier

	// MaxConcurrency — лимит одновременно выполняющихся jobs.
	MaxConcurrency int

	// Polling configuration
	PollInterval     time.Duration // интервал polling runs (default: 10s)
	ScheduleInterval time.Duration // интервал проверки расписаний (default: 30s)
	SweepInterval    time.Duration // интервал sweep артефактов (default: 10m)
	ArtifactTTL      time.Duration // срок хранения артефактов (default: 7d)
	BatchSize        int           // размер выборки за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Coordinator вместе с планировщиком.
func New(cfg Config) (*Coordinator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	amqpRunner := runner.NewAMQPRunner(cfg.Publisher, logger)

	persist := newPersistence(cfg.RunRepo, cfg.ExecutionRepo, cfg.LedgerRepo, logger)

	sched, err := scheduler.New(scheduler.Config{
		Runner:         amqpRunner,
		Notifier:       cfg.Notifier,
		Observer:       persist,
		Logger:         logger,
		MaxConcurrency: int64(cfg.MaxConcurrency),
	})
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		pipelineRepo:     cfg.PipelineRepo,
		runRepo:          cfg.RunRepo,
		approvalRepo:     cfg.ApprovalRepo,
		scheduleRepo:     cfg.ScheduleRepo,
		scheduler:        sched,
		runner:           amqpRunner,
		persist:          persist,
		artifacts:        cfg.Artifacts,
		publisher:        cfg.Publisher,
		conn:             cfg.Conn,
		activeRuns:       make(map[uuid.UUID]*scheduler.RunHandle),
		pollInterval:     cfg.PollInterval,
		scheduleInterval: cfg.ScheduleInterval,
		sweepInterval:    cfg.SweepInterval,
		artifactTTL:      cfg.ArtifactTTL,
		batchSize:        cfg.BatchSize,
		logger:           logger,
	}

	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.scheduleInterval <= 0 {
		c.scheduleInterval = defaultScheduleInterval
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}
	if c.artifactTTL <= 0 {
		c.artifactTTL = defaultArtifactTTL
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}

	return c, nil
}

// Start запускает Coordinator.
//
// Запускает:
//   - Consumer для runs.triggered
//   - Consumer для runs.control (approvals и отмены)
//   - Consumer для jobs.completed
//   - Polling горутину для fallback
//   - Цикл cron-расписаний
//   - Sweep артефактов завершённых runs
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting coordinator",
		"poll_interval", c.pollInterval,
		"schedule_interval", c.scheduleInterval,
		"batch_size", c.batchSize,
	)

	// Runs, оставшиеся RUNNING после рестарта, невосстановимы:
	// in-memory состояние планировщика потеряно
	if err := c.recoverStaleRuns(ctx); err != nil {
		c.logger.Error("failed to recover stale runs", "error", err)
	}

	if c.conn != nil {
		c.startConsumers(ctx)
	} else {
		c.logger.Warn("no MQ connection, running in polling-only mode")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.scheduleLoop(ctx)
	}()

	if c.artifacts != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.sweepLoop(ctx)
		}()
	}

	c.logger.Info("coordinator started")
	return nil
}

func (c *Coordinator) startConsumers(ctx context.Context) {
	c.triggerConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsTriggered),
		Handler:  c.handleRunTriggered,
		Prefetch: 10,
	})

	c.controlConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsControl),
		Handler:  c.handleControl,
		Prefetch: 10,
	})

	c.completedConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsCompleted),
		Handler:  c.handleJobCompleted,
		Prefetch: 10,
	})

	for _, consumer := range []*mq.Consumer{c.triggerConsumer, c.controlConsumer, c.completedConsumer} {
		consumer := consumer
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("consumer error", "error", err)
			}
		}()
	}
}

// Stop останавливает Coordinator.
func (c *Coordinator) Stop() {
	c.stoppedMu.Lock()
	c.stopped = true
	c.stoppedMu.Unlock()

	c.logger.Info("stopping coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}

	for _, consumer := range []*mq.Consumer{c.triggerConsumer, c.controlConsumer, c.completedConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	c.wg.Wait()

	// Дописываем накопленные наблюдения в БД
	c.persist.Close()

	c.logger.Info("coordinator stopped",
		"active_runs", c.ActiveRunsCount(),
	)
}

// IsStopped проверяет, остановлен ли Coordinator.
func (c *Coordinator) IsStopped() bool {
	c.stoppedMu.RLock()
	defer c.stoppedMu.RUnlock()
	return c.stopped
}

// recoverStaleRuns помечает runs, застрявшие в RUNNING после рестарта.
func (c *Coordinator) recoverStaleRuns(ctx context.Context) error {
	runs, err := c.runRepo.ListUnfinished(ctx, c.batchSize)
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]
		if run.Status != domain.RunStatusRunning {
			continue // PENDING подхватит poll
		}
		run.MarkFailed("coordinator restarted while run was in progress")
		if err := c.runRepo.Update(ctx, run); err != nil {
			c.logger.Error("failed to fail stale run", "run_id", run.ID, "error", err)
			continue
		}
		c.logger.Warn("stale run marked failed", "run_id", run.ID)
	}
	return nil
}

// pollLoop — цикл polling для fallback.
func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (c *Coordinator) poll(ctx context.Context) {
	runs, err := c.runRepo.ListPending(ctx, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	c.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if c.isRunActive(run.ID) {
			continue
		}

		if err := c.processRun(ctx, run.ID); err != nil {
			c.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (c *Coordinator) isRunActive(runID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.activeRuns[runID]
	return exists
}

// getActiveRun возвращает handle активного run.
func (c *Coordinator) getActiveRun(runID uuid.UUID) *scheduler.RunHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (c *Coordinator) addActiveRun(runID uuid.UUID, handle *scheduler.RunHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.activeRuns[runID]; exists {
		return ErrRunAlreadyActive
	}

	c.activeRuns[runID] = handle
	return nil
}

// removeActiveRun удаляет run из активных.
func (c *Coordinator) removeActiveRun(runID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (c *Coordinator) ActiveRunsCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activeRuns)
}
