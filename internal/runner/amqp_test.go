package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/mq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Coordinator без MQ-соединения создаёт runner с nil publisher'ом.
// Run обязан вернуть ErrUnavailable, а не падать.
func TestAMQPRunner_NilPublisher(t *testing.T) {
	r := NewAMQPRunner(nil, discardLogger())

	_, err := r.Run(context.Background(), Dispatch{
		ExecutionID: uuid.New(),
		RunID:       uuid.New(),
		Job:         domain.JobSpec{ID: "build"},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Run err = %v, want ErrUnavailable", err)
	}
}

func TestAMQPRunner_CompleteUnknownExecutionDropped(t *testing.T) {
	r := NewAMQPRunner(nil, discardLogger())

	// Поздний дубликат отчёта не должен блокировать или паниковать.
	r.Complete(mq.JobCompletedPayload{
		ExecutionID: uuid.New(),
		Status:      string(domain.ExecutionSucceeded),
	})
}
