package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/repo"
	"github.com/HydJing/conveyor/internal/telemetry"
)

// handleRunTriggered обрабатывает событие о новом run.
func (c *Coordinator) handleRunTriggered(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunTriggeredPayload](&delivery.Message)
	if err != nil {
		c.logger.Error("failed to parse run.triggered payload", "error", err)
		return err
	}
	telemetry.MQMessagesConsumed.WithLabelValues(string(mq.QueueRunsTriggered)).Inc()

	c.logger.Debug("received run.triggered event", "run_id", payload.RunID)

	if c.isRunActive(payload.RunID) {
		c.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := c.processRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			c.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		c.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleControl обрабатывает управляющие сообщения: approvals и отмены.
func (c *Coordinator) handleControl(ctx context.Context, delivery *mq.Delivery) error {
	telemetry.MQMessagesConsumed.WithLabelValues(string(mq.QueueRunsControl)).Inc()

	switch delivery.Message.Type {
	case mq.MessageTypeApproval:
		payload, err := mq.ParsePayload[mq.ApprovalPayload](&delivery.Message)
		if err != nil {
			c.logger.Error("failed to parse approval payload", "error", err)
			return err
		}
		return c.processApproval(ctx, payload)

	case mq.MessageTypeRunCancel:
		payload, err := mq.ParsePayload[mq.RunCancelPayload](&delivery.Message)
		if err != nil {
			c.logger.Error("failed to parse run.cancel payload", "error", err)
			return err
		}
		return c.processCancel(ctx, payload)

	default:
		c.logger.Warn("unknown control message type", "type", delivery.Message.Type)
		return nil
	}
}

// handleJobCompleted обрабатывает результат выполнения job от agent'а.
func (c *Coordinator) handleJobCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobCompletedPayload](&delivery.Message)
	if err != nil {
		c.logger.Error("failed to parse job.completed payload", "error", err)
		return err
	}
	telemetry.MQMessagesConsumed.WithLabelValues(string(mq.QueueJobsCompleted)).Inc()

	c.logger.Debug("received job.completed event",
		"execution_id", payload.ExecutionID,
		"run_id", payload.RunID,
		"job_id", payload.JobID,
		"status", payload.Status,
	)

	c.runner.Complete(payload)
	return nil
}

// processRun запускает PENDING run через планировщик.
func (c *Coordinator) processRun(ctx context.Context, runID uuid.UUID) error {
	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	pipeline, err := c.pipelineRepo.GetByID(ctx, run.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c.failRun(ctx, run, fmt.Sprintf("pipeline not found: %s", run.PipelineID))
		}
		return fmt.Errorf("get pipeline: %w", err)
	}

	if !pipeline.IsActive {
		return c.failRun(ctx, run, "pipeline is not active")
	}

	handle, err := c.scheduler.LaunchRun(ctx, pipeline, run)
	if err != nil {
		return c.failRun(ctx, run, fmt.Sprintf("launch failed: %v", err))
	}

	if err := c.addActiveRun(runID, handle); err != nil {
		return err
	}

	c.logger.Info("run started",
		"run_id", runID,
		"pipeline", pipeline.Name,
		"branch", run.Context.Branch,
	)

	// Удаляем из активных по завершении
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-handle.Done()
		c.removeActiveRun(runID)
	}()

	return nil
}

// processApproval фиксирует решение и маршрутизирует его в активный run.
func (c *Coordinator) processApproval(ctx context.Context, payload mq.ApprovalPayload) error {
	record := &domain.Approval{
		ID:          uuid.New(),
		RunID:       payload.RunID,
		ExecutionID: payload.ExecutionID,
		Approver:    payload.Approver,
		Approved:    payload.Approved,
		Reason:      payload.Reason,
		CreatedAt:   time.Now(),
	}
	if err := c.approvalRepo.Record(ctx, record); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			c.logger.Debug("approval already recorded",
				"execution_id", payload.ExecutionID,
				"approver", payload.Approver,
			)
		} else {
			// Гейт всё равно получит решение: запись в БД — аудиторский след
			c.logger.Error("failed to record approval", "error", err)
		}
	}

	handle := c.getActiveRun(payload.RunID)
	if handle == nil {
		c.logger.Warn("approval for inactive run", "run_id", payload.RunID)
		return nil
	}

	kind := "approve"
	if payload.Approved {
		err := handle.Approve(payload.ExecutionID, payload.Approver)
		if err != nil {
			c.logger.Warn("approval not applied",
				"execution_id", payload.ExecutionID,
				"error", err,
			)
		}
	} else {
		kind = "reject"
		err := handle.Reject(payload.ExecutionID, payload.Approver, payload.Reason)
		if err != nil {
			c.logger.Warn("rejection not applied",
				"execution_id", payload.ExecutionID,
				"error", err,
			)
		}
	}
	telemetry.ApprovalsRecorded.WithLabelValues(kind).Inc()

	return nil
}

// processCancel отменяет run: активный — через планировщик,
// PENDING — напрямую в БД.
func (c *Coordinator) processCancel(ctx context.Context, payload mq.RunCancelPayload) error {
	reason := payload.Reason
	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", payload.Actor)
	}

	if handle := c.getActiveRun(payload.RunID); handle != nil {
		handle.Abort(reason)
		c.logger.Info("run aborted", "run_id", payload.RunID, "actor", payload.Actor)
		return nil
	}

	run, err := c.runRepo.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.logger.Warn("cancel for unknown run", "run_id", payload.RunID)
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.IsFinished() {
		return nil
	}

	run.MarkCancelled()
	run.Error = reason
	if err := c.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("cancel pending run: %w", err)
	}

	c.logger.Info("pending run cancelled", "run_id", payload.RunID, "actor", payload.Actor)
	return nil
}

// failRun переводит run в статус FAILED.
func (c *Coordinator) failRun(ctx context.Context, run *domain.PipelineRun, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := c.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	c.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}
