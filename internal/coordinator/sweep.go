package coordinator

import (
	"context"
	"time"
)

// sweepLoop — цикл удаления артефактов завершённых runs.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepArtifacts(ctx)
		}
	}
}

// sweepArtifacts удаляет артефакты runs, завершившихся раньше TTL.
func (c *Coordinator) sweepArtifacts(ctx context.Context) {
	cutoff := time.Now().Add(-c.artifactTTL)

	runs, err := c.runRepo.ListFinishedBefore(ctx, cutoff, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list runs for artifact sweep", "error", err)
		return
	}

	for i := range runs {
		run := &runs[i]

		if err := c.artifacts.DeleteRun(ctx, run.ID); err != nil {
			c.logger.Error("failed to delete run artifacts",
				"run_id", run.ID,
				"error", err,
			)
			continue
		}

		if err := c.runRepo.MarkArtifactsSwept(ctx, run.ID); err != nil {
			c.logger.Error("failed to mark artifacts swept",
				"run_id", run.ID,
				"error", err,
			)
			continue
		}

		c.logger.Debug("run artifacts swept", "run_id", run.ID)
	}
}
