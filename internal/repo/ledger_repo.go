package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HydJing/conveyor/internal/ledger"
)

// LedgerRepo — репозиторий для журнала переходов executions.
//
// Таблица ledger_entries имеет уникальный индекс (execution_id, to_status):
// повторная запись того же перехода молча игнорируется, поэтому
// воспроизведение MQ-сообщений не порождает дубликатов.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo создаёт новый LedgerRepo.
func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append добавляет запись перехода. Возвращает false, если переход
// уже был записан ранее.
func (r *LedgerRepo) Append(ctx context.Context, e ledger.Entry) (bool, error) {
	artifactsJSON, err := json.Marshal(e.Artifacts)
	if err != nil {
		return false, fmt.Errorf("marshal artifacts: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (run_id, execution_id, job_id, from_status, to_status,
		                            at, detail, artifacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id, to_status) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		e.RunID,
		e.ExecutionID,
		e.JobID,
		e.From,
		e.To,
		e.At,
		nullString(e.Detail),
		artifactsJSON,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListByRunID возвращает записи журнала run'а в порядке добавления.
func (r *LedgerRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]ledger.Entry, error) {
	query := `
		SELECT run_id, execution_id, job_id, from_status, to_status, at, detail, artifacts
		FROM ledger_entries
		WHERE run_id = $1
		ORDER BY at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var detail *string
		var artifactsJSON []byte

		if err := rows.Scan(
			&e.RunID,
			&e.ExecutionID,
			&e.JobID,
			&e.From,
			&e.To,
			&e.At,
			&detail,
			&artifactsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}

		if detail != nil {
			e.Detail = *detail
		}
		if artifactsJSON != nil {
			if err := json.Unmarshal(artifactsJSON, &e.Artifacts); err != nil {
				return nil, fmt.Errorf("unmarshal artifacts: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
