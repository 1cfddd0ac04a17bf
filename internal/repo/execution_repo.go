package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HydJing/conveyor/internal/domain"
)

// ExecutionRepo — репозиторий для работы с job executions.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// CreateBatch создаёт executions для run одним запросом.
// Вызывается при создании run: по одному execution на каждый JobSpec.
func (r *ExecutionRepo) CreateBatch(ctx context.Context, execs []domain.JobExecution) error {
	if len(execs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO executions (id, run_id, job_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i := range execs {
		e := &execs[i]
		batch.Queue(query, e.ID, e.RunID, e.JobID, e.Status, e.CreatedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range execs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error) {
	query := `
		SELECT id, run_id, job_id, status, detail, log_ref, produced,
		       started_at, finished_at, created_at
		FROM executions
		WHERE id = $1
	`
	return r.scanExecution(r.pool.QueryRow(ctx, query, id))
}

// ListByRunID возвращает все executions run'а.
func (r *ExecutionRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.JobExecution, error) {
	query := `
		SELECT id, run_id, job_id, status, detail, log_ref, produced,
		       started_at, finished_at, created_at
		FROM executions
		WHERE run_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.JobExecution
	for rows.Next() {
		e, err := r.scanExecutionFromRows(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

// Upsert вставляет или обновляет execution целиком.
// Используется наблюдателем планировщика: переход может прийти раньше,
// чем batch-вставка PENDING-строк завершится.
func (r *ExecutionRepo) Upsert(ctx context.Context, e *domain.JobExecution) error {
	query := `
		INSERT INTO executions (id, run_id, job_id, status, detail, log_ref, produced,
		                        started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, detail = EXCLUDED.detail,
		    log_ref = EXCLUDED.log_ref, produced = EXCLUDED.produced,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.RunID,
		e.JobID,
		e.Status,
		nullString(e.Detail),
		nullString(e.LogRef),
		e.Produced,
		e.StartedAt,
		e.FinishedAt,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}
	return nil
}

// Update обновляет статус и результаты execution.
func (r *ExecutionRepo) Update(ctx context.Context, e *domain.JobExecution) error {
	query := `
		UPDATE executions
		SET status = $2, detail = $3, log_ref = $4, produced = $5,
		    started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		e.ID,
		e.Status,
		nullString(e.Detail),
		nullString(e.LogRef),
		e.Produced,
		e.StartedAt,
		e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("execution")
	}
	return nil
}

// --- Helpers ---

func (r *ExecutionRepo) scanExecution(row pgx.Row) (*domain.JobExecution, error) {
	var e domain.JobExecution
	var detail, logRef *string

	err := row.Scan(
		&e.ID,
		&e.RunID,
		&e.JobID,
		&e.Status,
		&detail,
		&logRef,
		&e.Produced,
		&e.StartedAt,
		&e.FinishedAt,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("execution")
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if detail != nil {
		e.Detail = *detail
	}
	if logRef != nil {
		e.LogRef = *logRef
	}
	return &e, nil
}

func (r *ExecutionRepo) scanExecutionFromRows(rows pgx.Rows) (*domain.JobExecution, error) {
	var e domain.JobExecution
	var detail, logRef *string

	err := rows.Scan(
		&e.ID,
		&e.RunID,
		&e.JobID,
		&e.Status,
		&detail,
		&logRef,
		&e.Produced,
		&e.StartedAt,
		&e.FinishedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if detail != nil {
		e.Detail = *detail
	}
	if logRef != nil {
		e.LogRef = *logRef
	}
	return &e, nil
}
