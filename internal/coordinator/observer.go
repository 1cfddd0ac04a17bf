package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

const (
	// persistWriteTimeout ограничивает каждую запись: зависшая БД
	// не должна копить горутины writer'а бесконечно.
	persistWriteTimeout = 5 * time.Second

	// persistQueueSize — ёмкость очереди наблюдений. Планировщик
	// вызывает наблюдателя под локом состояния run, поэтому запись
	// в очередь обязана быть неблокирующей.
	persistQueueSize = 1024
)

// Узкие интерфейсы хранилища, закрываемые *repo.RunRepo,
// *repo.ExecutionRepo и *repo.LedgerRepo.
type runStore interface {
	Update(ctx context.Context, run *domain.PipelineRun) error
}

type executionStore interface {
	Upsert(ctx context.Context, e *domain.JobExecution) error
}

type ledgerStore interface {
	Append(ctx context.Context, e ledger.Entry) (bool, error)
}

// observation — один снимок для записи: либо run, либо пара
// execution + запись журнала.
type observation struct {
	run   *domain.PipelineRun
	exec  *domain.JobExecution
	entry *ledger.Entry
}

// persistence — наблюдатель планировщика, сохраняющий переходы в БД.
//
// Планировщик — источник истины для активного run; БД догоняет его
// асинхронно: наблюдения складываются в очередь и пишутся отдельной
// горутиной, колбэки возвращаются немедленно. Ошибки записи
// логируются, но не прерывают выполнение: журнал идемпотентен и
// таблицы сходятся при следующем переходе. Переполнение очереди
// роняет наблюдение по той же причине.
type persistence struct {
	runs       runStore
	executions executionStore
	ledger     ledgerStore
	logger     *slog.Logger

	queue chan observation
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newPersistence(runs runStore, executions executionStore, entries ledgerStore, logger *slog.Logger) *persistence {
	p := &persistence{
		runs:       runs,
		executions: executions,
		ledger:     entries,
		logger:     logger,
		queue:      make(chan observation, persistQueueSize),
		done:       make(chan struct{}),
	}
	go p.writer()
	return p
}

func (p *persistence) RunUpdated(run domain.PipelineRun) {
	p.enqueue(observation{run: &run})
}

func (p *persistence) ExecutionUpdated(exec domain.JobExecution, entry ledger.Entry) {
	p.enqueue(observation{exec: &exec, entry: &entry})
}

func (p *persistence) enqueue(o observation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case p.queue <- o:
	default:
		p.logger.Warn("persistence queue full, observation dropped")
	}
}

// Close дописывает очередь и останавливает writer. Повторные вызовы
// безопасны.
func (p *persistence) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
}

func (p *persistence) writer() {
	defer close(p.done)

	for o := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
		p.write(ctx, o)
		cancel()
	}
}

func (p *persistence) write(ctx context.Context, o observation) {
	if o.run != nil {
		if err := p.runs.Update(ctx, o.run); err != nil {
			p.logger.Error("failed to persist run update",
				"run_id", o.run.ID,
				"status", o.run.Status,
				"error", err,
			)
		}
		return
	}

	if err := p.executions.Upsert(ctx, o.exec); err != nil {
		p.logger.Error("failed to persist execution update",
			"execution_id", o.exec.ID,
			"job_id", o.exec.JobID,
			"error", err,
		)
	}
	if _, err := p.ledger.Append(ctx, *o.entry); err != nil {
		p.logger.Error("failed to persist ledger entry",
			"execution_id", o.entry.ExecutionID,
			"to", o.entry.To,
			"error", err,
		)
	}
}
