package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/pipespec"
	"github.com/HydJing/conveyor/internal/repo"
)

// scheduleLoop — цикл срабатывания cron-расписаний.
func (c *Coordinator) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(c.scheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fireDueSchedules(ctx)
		}
	}
}

// fireDueSchedules запускает runs для всех созревших расписаний.
func (c *Coordinator) fireDueSchedules(ctx context.Context) {
	now := time.Now()

	due, err := c.scheduleRepo.ListDue(ctx, now, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list due schedules", "error", err)
		return
	}

	for i := range due {
		schedule := &due[i]
		if err := c.fireSchedule(ctx, schedule, now); err != nil {
			c.logger.Error("failed to fire schedule",
				"schedule_id", schedule.ID,
				"pipeline_id", schedule.PipelineID,
				"error", err,
			)
		}
	}
}

// fireSchedule создаёт run по расписанию и сдвигает next_due_at.
func (c *Coordinator) fireSchedule(ctx context.Context, schedule *domain.Schedule, now time.Time) error {
	pipeline, err := c.pipelineRepo.GetByID(ctx, schedule.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Pipeline удалён, расписание осиротело
			return c.scheduleRepo.SetEnabled(ctx, schedule.ID, false)
		}
		return fmt.Errorf("get pipeline: %w", err)
	}

	if !pipeline.IsActive {
		return c.scheduleRepo.SetEnabled(ctx, schedule.ID, false)
	}

	run, err := c.TriggerRun(ctx, pipeline, domain.RunContext{
		Pipeline: pipeline.Name,
		Branch:   schedule.Branch,
		Event:    domain.EventSchedule,
	})
	if err != nil {
		return fmt.Errorf("trigger scheduled run: %w", err)
	}

	nextDue, err := pipespec.NextDue(schedule.CronExpr, now)
	if err != nil {
		// Выражение валидировалось при регистрации, сюда попадать не должно
		c.logger.Error("invalid cron expression in schedule",
			"schedule_id", schedule.ID,
			"cron", schedule.CronExpr,
		)
		return c.scheduleRepo.SetEnabled(ctx, schedule.ID, false)
	}

	if err := c.scheduleRepo.MarkFired(ctx, schedule.ID, run.ID, nextDue); err != nil {
		return fmt.Errorf("mark schedule fired: %w", err)
	}

	c.logger.Info("schedule fired",
		"schedule_id", schedule.ID,
		"pipeline", pipeline.Name,
		"branch", schedule.Branch,
		"run_id", run.ID,
		"next_due", nextDue,
	)
	return nil
}

// TriggerRun создаёт PENDING run и оповещает обработчики.
// Событие MQ — best-effort: polling fallback подхватит run при потере.
func (c *Coordinator) TriggerRun(ctx context.Context, pipeline *domain.Pipeline, rc domain.RunContext) (*domain.PipelineRun, error) {
	run := domain.NewPipelineRun(pipeline.ID, rc)
	if err := c.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.PublishRunTriggered(ctx, run.ID); err != nil {
			c.logger.Warn("failed to publish run.triggered",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
	return run, nil
}
