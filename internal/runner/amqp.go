package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/mq"
)

// AMQPRunner выполняет job'ы через внешних runner-агентов.
//
// Dispatch публикуется в jobs.ready, агент забирает его, выполняет
// и публикует отчёт в jobs.completed. Coordinator скармливает отчёты
// в Complete(), Run() коррелирует их по execution ID.
type AMQPRunner struct {
	publisher *mq.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]chan Result
}

// NewAMQPRunner создаёт AMQPRunner поверх publisher'а.
func NewAMQPRunner(publisher *mq.Publisher, logger *slog.Logger) *AMQPRunner {
	return &AMQPRunner{
		publisher: publisher,
		logger:    logger,
		pending:   make(map[uuid.UUID]chan Result),
	}
}

func (r *AMQPRunner) Run(ctx context.Context, d Dispatch) (Result, error) {
	if r.publisher == nil {
		return Result{}, fmt.Errorf("%w: no message queue connection", ErrUnavailable)
	}

	done := make(chan Result, 1)

	r.mu.Lock()
	r.pending[d.ExecutionID] = done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, d.ExecutionID)
		r.mu.Unlock()
	}()

	payload := mq.JobReadyPayload{
		ExecutionID: d.ExecutionID,
		RunID:       d.RunID,
		JobID:       d.Job.ID,
		JobName:     d.Job.Name,
		Inputs:      d.Inputs,
		Pipeline:    d.Context.Pipeline,
		Branch:      d.Context.Branch,
		Event:       string(d.Context.Event),
		CommitSHA:   d.Context.CommitSHA,
	}
	if err := r.publisher.PublishJobReady(ctx, payload); err != nil {
		return Result{}, fmt.Errorf("%w: dispatch %s: %v", ErrUnavailable, d.ExecutionID, err)
	}

	r.logger.Debug("job dispatched",
		"execution_id", d.ExecutionID,
		"run_id", d.RunID,
		"job_id", d.Job.ID,
	)

	select {
	case <-ctx.Done():
		// Отмена execution: публикуем best-effort сигнал агенту.
		// Используем фоновый контекст, исходный уже отменён.
		cancelErr := r.publisher.PublishRunCancel(context.Background(), mq.RunCancelPayload{
			RunID:  d.RunID,
			Reason: fmt.Sprintf("execution %s cancelled", d.ExecutionID),
		})
		if cancelErr != nil {
			r.logger.Warn("failed to publish cancel signal",
				"execution_id", d.ExecutionID,
				"error", cancelErr,
			)
		}
		return Result{}, ctx.Err()

	case res := <-done:
		return res, nil
	}
}

// Complete доставляет отчёт runner-агента ожидающему Run().
// Отчёты для незнакомых executions (поздние дубликаты) отбрасываются.
func (r *AMQPRunner) Complete(payload mq.JobCompletedPayload) {
	res := Result{
		Status: domain.ExecutionStatus(payload.Status),
		Detail: payload.Detail,
		LogRef: payload.LogRef,
	}
	for _, a := range payload.Artifacts {
		res.Artifacts = append(res.Artifacts, ArtifactOutput{Name: a.Name, Ref: a.Ref, Size: a.Size})
	}

	r.mu.Lock()
	done, ok := r.pending[payload.ExecutionID]
	if ok {
		delete(r.pending, payload.ExecutionID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("completion for unknown execution dropped",
			"execution_id", payload.ExecutionID,
		)
		return
	}

	done <- res
}
