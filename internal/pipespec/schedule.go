package pipespec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// NextDue возвращает следующее время срабатывания cron-выражения после t.
func NextDue(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cron %q: %v", ErrSpecInvalid, expr, err)
	}
	return sched.Next(after), nil
}

// MaterializeSchedules строит записи расписаний из спецификации pipeline.
// Вызывается при регистрации или обновлении pipeline: старые записи
// удаляются, новые создаются с вычисленным next_due_at.
func MaterializeSchedules(pipelineID uuid.UUID, spec *domain.PipelineSpec, now time.Time) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	for _, ss := range spec.Triggers.Schedules {
		due, err := NextDue(ss.Cron, now)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, domain.Schedule{
			ID:         uuid.New(),
			PipelineID: pipelineID,
			CronExpr:   ss.Cron,
			Branch:     ss.Branch,
			Enabled:    true,
			NextDueAt:  &due,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return schedules, nil
}
