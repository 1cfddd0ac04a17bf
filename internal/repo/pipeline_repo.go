package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HydJing/conveyor/internal/domain"
)

// PipelineRepo — репозиторий для работы с pipelines.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// Create регистрирует новый pipeline.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	specJSON, err := json.Marshal(p.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	query := `
		INSERT INTO pipelines (id, name, spec, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		specJSON,
		p.IsActive,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `
		SELECT id, name, spec, is_active, created_at
		FROM pipelines
		WHERE id = $1
	`
	return r.scanPipeline(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает pipeline по имени.
func (r *PipelineRepo) GetByName(ctx context.Context, name string) (*domain.Pipeline, error) {
	query := `
		SELECT id, name, spec, is_active, created_at
		FROM pipelines
		WHERE name = $1
	`
	return r.scanPipeline(r.pool.QueryRow(ctx, query, name))
}

// List возвращает список всех pipelines.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.Pipeline, error) {
	query := `
		SELECT id, name, spec, is_active, created_at
		FROM pipelines
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := r.scanPipelineFromRows(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// ListActive возвращает активные pipelines (для цикла расписаний).
func (r *PipelineRepo) ListActive(ctx context.Context) ([]domain.Pipeline, error) {
	query := `
		SELECT id, name, spec, is_active, created_at
		FROM pipelines
		WHERE is_active = true
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := r.scanPipelineFromRows(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// UpdateSpec заменяет спецификацию pipeline.
func (r *PipelineRepo) UpdateSpec(ctx context.Context, id uuid.UUID, spec domain.PipelineSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE pipelines SET spec = $2 WHERE id = $1
	`, id, specJSON)
	if err != nil {
		return fmt.Errorf("update pipeline spec: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("pipeline")
	}
	return nil
}

// SetActive включает/выключает pipeline.
func (r *PipelineRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE pipelines SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("pipeline")
	}
	return nil
}

// Delete удаляет pipeline (каскадно удалит runs и schedules).
func (r *PipelineRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("pipeline")
	}
	return nil
}

// --- Helpers ---

func (r *PipelineRepo) scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var specJSON []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specJSON,
		&p.IsActive,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("pipeline")
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	if err := json.Unmarshal(specJSON, &p.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &p, nil
}

func (r *PipelineRepo) scanPipelineFromRows(rows pgx.Rows) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var specJSON []byte

	err := rows.Scan(
		&p.ID,
		&p.Name,
		&specJSON,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	if err := json.Unmarshal(specJSON, &p.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &p, nil
}
