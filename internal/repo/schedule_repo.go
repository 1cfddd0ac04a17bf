package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HydJing/conveyor/internal/domain"
)

// ScheduleRepo — репозиторий для cron-расписаний pipelines.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	query := `
		INSERT INTO schedules (id, pipeline_id, cron_expr, branch, enabled,
		                       next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.PipelineID,
		s.CronExpr,
		s.Branch,
		s.Enabled,
		s.NextDueAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `
		SELECT id, pipeline_id, cron_expr, branch, enabled,
		       next_due_at, last_run_at, last_run_id, created_at, updated_at
		FROM schedules
		WHERE id = $1
	`
	var s domain.Schedule
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.PipelineID,
		&s.CronExpr,
		&s.Branch,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastRunID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("schedule")
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &s, nil
}

// List возвращает schedules, опционально по pipeline.
func (r *ScheduleRepo) List(ctx context.Context, pipelineID *uuid.UUID) ([]domain.Schedule, error) {
	query := `
		SELECT id, pipeline_id, cron_expr, branch, enabled,
		       next_due_at, last_run_at, last_run_id, created_at, updated_at
		FROM schedules
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(
			&s.ID,
			&s.PipelineID,
			&s.CronExpr,
			&s.Branch,
			&s.Enabled,
			&s.NextDueAt,
			&s.LastRunAt,
			&s.LastRunID,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListDue возвращает schedules, готовые к срабатыванию.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT id, pipeline_id, cron_expr, branch, enabled,
		       next_due_at, last_run_at, last_run_id, created_at, updated_at
		FROM schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(
			&s.ID,
			&s.PipelineID,
			&s.CronExpr,
			&s.Branch,
			&s.Enabled,
			&s.NextDueAt,
			&s.LastRunAt,
			&s.LastRunID,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// MarkFired фиксирует срабатывание schedule и сдвигает next_due_at.
func (r *ScheduleRepo) MarkFired(ctx context.Context, id uuid.UUID, runID uuid.UUID, nextDue time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET last_run_at = NOW(), last_run_id = $2, next_due_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, runID, nextDue)
	if err != nil {
		return fmt.Errorf("mark schedule fired: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("schedule")
	}
	return nil
}

// DeleteByPipeline удаляет все schedules pipeline'а.
// Вызывается перед пересозданием при обновлении спецификации.
func (r *ScheduleRepo) DeleteByPipeline(ctx context.Context, pipelineID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE pipeline_id = $1`, pipelineID)
	if err != nil {
		return fmt.Errorf("delete schedules: %w", err)
	}
	return nil
}

// SetEnabled включает/выключает schedule.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedules SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("schedule")
	}
	return nil
}
