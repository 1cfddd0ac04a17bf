package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HydJing/conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с pipeline runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.PipelineRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	query := `
		INSERT INTO runs (id, pipeline_id, context, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		contextJSON,
		run.Status,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, context, status, error, started_at, finished_at, created_at
		FROM runs
		WHERE id = $1
	`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, context, status, error, started_at, finished_at, created_at
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.PipelineID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return r.collectRuns(rows)
}

// Update обновляет статус и временные метки run.
func (r *RunRepo) Update(ctx context.Context, run *domain.PipelineRun) error {
	query := `
		UPDATE runs
		SET status = $2, error = $3, started_at = $4, finished_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("run")
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING (для polling fallback).
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, context, status, error, started_at, finished_at, created_at
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()
	return r.collectRuns(rows)
}

// ListUnfinished возвращает runs в нетерминальных статусах.
// Используется при рестарте координатора: застрявшие runs помечаются
// FAILED, их in-memory состояние невосстановимо.
func (r *RunRepo) ListUnfinished(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, context, status, error, started_at, finished_at, created_at
		FROM runs
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished runs: %w", err)
	}
	defer rows.Close()
	return r.collectRuns(rows)
}

// ListFinishedBefore возвращает завершённые runs со временем окончания
// раньше cutoff. Используется сборщиком артефактов.
func (r *RunRepo) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PipelineRun, error) {
	query := `
		SELECT id, pipeline_id, context, status, error, started_at, finished_at, created_at
		FROM runs
		WHERE finished_at IS NOT NULL AND finished_at < $1 AND artifacts_swept = false
		ORDER BY finished_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list finished runs: %w", err)
	}
	defer rows.Close()
	return r.collectRuns(rows)
}

// MarkArtifactsSwept помечает run как очищенный от артефактов.
func (r *RunRepo) MarkArtifactsSwept(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE runs SET artifacts_swept = true WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark artifacts swept: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("run")
	}
	return nil
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

func (r *RunRepo) collectRuns(rows pgx.Rows) ([]domain.PipelineRun, error) {
	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *RunRepo) scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var contextJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&contextJSON,
		&run.Status,
		&runError,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("run")
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

func (r *RunRepo) scanRunFromRows(rows pgx.Rows) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var contextJSON []byte
	var runError *string

	err := rows.Scan(
		&run.ID,
		&run.PipelineID,
		&contextJSON,
		&run.Status,
		&runError,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
