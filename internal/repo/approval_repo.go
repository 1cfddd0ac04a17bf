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

// ApprovalRepo — репозиторий аудиторского следа approvals.
//
// Уникальный индекс (execution_id, approver) гарантирует, что повторное
// решение одного approver'а по одному execution не создаёт второй записи.
type ApprovalRepo struct {
	pool *pgxpool.Pool
}

// NewApprovalRepo создаёт новый ApprovalRepo.
func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Record фиксирует решение. Возвращает ErrAlreadyExists, если approver
// уже голосовал по этому execution.
func (r *ApprovalRepo) Record(ctx context.Context, a *domain.Approval) error {
	query := `
		INSERT INTO approvals (id, run_id, execution_id, approver, approved, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, approver) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		a.ID,
		a.RunID,
		a.ExecutionID,
		a.Approver,
		a.Approved,
		nullString(a.Reason),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	if result.RowsAffected() == 0 {
		return alreadyExists("approval")
	}
	return nil
}

// ListByExecution возвращает решения по execution в порядке поступления.
func (r *ApprovalRepo) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]domain.Approval, error) {
	query := `
		SELECT id, run_id, execution_id, approver, approved, reason, created_at
		FROM approvals
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, rows.Err()
}

// ListByRun возвращает все решения run'а.
func (r *ApprovalRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Approval, error) {
	query := `
		SELECT id, run_id, execution_id, approver, approved, reason, created_at
		FROM approvals
		WHERE run_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list approvals by run: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, rows.Err()
}

func scanApproval(rows pgx.Rows) (*domain.Approval, error) {
	var a domain.Approval
	var reason *string

	err := rows.Scan(
		&a.ID,
		&a.RunID,
		&a.ExecutionID,
		&a.Approver,
		&a.Approved,
		&reason,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("approval")
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	if reason != nil {
		a.Reason = *reason
	}
	return &a, nil
}
