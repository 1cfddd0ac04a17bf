package notify

import (
	"context"
	"log/slog"

	"github.com/HydJing/conveyor/internal/domain"
)

// Severity — важность нотификации.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message — нотификация об итоге run'а.
type Message struct {
	// Severity — важность: error для проваленных runs,
	// warning для отменённых, info для успешных.
	Severity Severity

	// Title — краткий заголовок.
	Title string

	// Body — текст отчёта (release notes или причина провала).
	Body string

	// Run — итоговое состояние run'а.
	Run domain.PipelineRun
}

// Notifier доставляет нотификации об итогах runs.
//
// Ошибки доставки не влияют на итог run'а: нотификация — это
// побочный канал, сбой которого только логируется.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier пишет нотификации в структурный лог.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	level := slog.LevelInfo
	switch msg.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}

	n.logger.Log(context.Background(), level, msg.Title,
		"run_id", msg.Run.ID,
		"pipeline", msg.Run.Context.Pipeline,
		"branch", msg.Run.Context.Branch,
		"status", msg.Run.Status,
		"body", msg.Body,
	)

	return nil
}

// SeverityFor выбирает важность нотификации по итогу run'а.
func SeverityFor(status domain.RunStatus) Severity {
	switch status {
	case domain.RunStatusFailed:
		return SeverityError
	case domain.RunStatusCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
