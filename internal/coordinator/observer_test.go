package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

type recordingRunStore struct {
	mu   sync.Mutex
	runs []domain.PipelineRun
}

func (s *recordingRunStore) Update(_ context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

// gatedExecStore задерживает каждую запись до закрытия gate.
type gatedExecStore struct {
	gate  chan struct{}
	mu    sync.Mutex
	execs []domain.JobExecution
}

func (s *gatedExecStore) Upsert(_ context.Context, e *domain.JobExecution) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, *e)
	return nil
}

func (s *gatedExecStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.execs)
}

type recordingLedgerStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (s *recordingLedgerStore) Append(_ context.Context, e ledger.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return true, nil
}

func newTestPersistence(execs *gatedExecStore) (*persistence, *recordingRunStore, *recordingLedgerStore) {
	runs := &recordingRunStore{}
	entries := &recordingLedgerStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newPersistence(runs, execs, entries, logger), runs, entries
}

// Планировщик зовёт наблюдателя под локом run'а: колбэк обязан
// вернуться сразу, даже если БД висит.
func TestPersistence_CallbackDoesNotBlockOnSlowStore(t *testing.T) {
	execs := &gatedExecStore{gate: make(chan struct{})}
	p, _, entries := newTestPersistence(execs)

	exec := domain.JobExecution{ID: uuid.New(), JobID: "build", Status: domain.ExecutionRunning}
	entry := ledger.Entry{ExecutionID: exec.ID, JobID: "build", To: domain.ExecutionRunning}

	start := time.Now()
	p.ExecutionUpdated(exec, entry)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("ExecutionUpdated blocked for %v", elapsed)
	}
	if execs.count() != 0 {
		t.Fatal("write must not land before the store is unblocked")
	}

	close(execs.gate)

	deadline := time.Now().Add(5 * time.Second)
	for execs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if execs.count() != 1 {
		t.Fatalf("persisted executions = %d, want 1", execs.count())
	}

	p.Close()
	entries.mu.Lock()
	defer entries.mu.Unlock()
	if len(entries.entries) != 1 {
		t.Errorf("persisted ledger entries = %d, want 1", len(entries.entries))
	}
}

func TestPersistence_CloseDrainsQueue(t *testing.T) {
	execs := &gatedExecStore{}
	p, runs, entries := newTestPersistence(execs)

	run := domain.PipelineRun{ID: uuid.New(), Status: domain.RunStatusRunning}
	p.RunUpdated(run)

	for i := 0; i < 10; i++ {
		exec := domain.JobExecution{ID: uuid.New(), JobID: "build", Status: domain.ExecutionSucceeded}
		p.ExecutionUpdated(exec, ledger.Entry{ExecutionID: exec.ID, JobID: "build", To: domain.ExecutionSucceeded})
	}

	p.Close()

	runs.mu.Lock()
	if len(runs.runs) != 1 {
		t.Errorf("persisted runs = %d, want 1", len(runs.runs))
	}
	runs.mu.Unlock()

	if execs.count() != 10 {
		t.Errorf("persisted executions = %d, want 10", execs.count())
	}
	entries.mu.Lock()
	defer entries.mu.Unlock()
	if len(entries.entries) != 10 {
		t.Errorf("persisted ledger entries = %d, want 10", len(entries.entries))
	}
}

func TestPersistence_EnqueueAfterCloseIsNoop(t *testing.T) {
	execs := &gatedExecStore{}
	p, runs, _ := newTestPersistence(execs)

	p.Close()
	p.RunUpdated(domain.PipelineRun{ID: uuid.New()})
	p.Close() // повторный Close безопасен

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.runs) != 0 {
		t.Errorf("persisted runs after Close = %d, want 0", len(runs.runs))
	}
}
