package ledger

import (
	"testing"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

func TestAppend_OrderPreserved(t *testing.T) {
	l := New(uuid.New())
	execID := uuid.New()

	l.Append(Entry{ExecutionID: execID, JobID: "build", From: domain.ExecutionPending, To: domain.ExecutionReady})
	l.Append(Entry{ExecutionID: execID, JobID: "build", From: domain.ExecutionReady, To: domain.ExecutionRunning})
	l.Append(Entry{ExecutionID: execID, JobID: "build", From: domain.ExecutionRunning, To: domain.ExecutionSucceeded})

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("Len = %d, want 3", len(entries))
	}
	want := []domain.ExecutionStatus{domain.ExecutionReady, domain.ExecutionRunning, domain.ExecutionSucceeded}
	for i, e := range entries {
		if e.To != want[i] {
			t.Errorf("entries[%d].To = %s, want %s", i, e.To, want[i])
		}
		if e.RunID != l.RunID() {
			t.Errorf("entries[%d].RunID = %v, want %v", i, e.RunID, l.RunID())
		}
	}
}

func TestAppend_IdempotentReplay(t *testing.T) {
	l := New(uuid.New())
	execID := uuid.New()

	e := Entry{ExecutionID: execID, JobID: "test", From: domain.ExecutionRunning, To: domain.ExecutionSucceeded}
	if !l.Append(e) {
		t.Fatal("first append must be accepted")
	}
	// Повторная доставка того же перехода
	if l.Append(e) {
		t.Error("replayed transition must be dropped")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1 after replay", l.Len())
	}

	// Тот же To для другого execution — не дубликат
	other := Entry{ExecutionID: uuid.New(), JobID: "lint", From: domain.ExecutionRunning, To: domain.ExecutionSucceeded}
	if !l.Append(other) {
		t.Error("same status for a different execution must be accepted")
	}
}

func TestJobOutcome(t *testing.T) {
	l := New(uuid.New())
	execID := uuid.New()

	l.Append(Entry{ExecutionID: execID, JobID: "deploy", From: domain.ExecutionPending, To: domain.ExecutionRunning})

	if _, done := l.JobOutcome("deploy"); done {
		t.Fatal("running job must not have an outcome")
	}

	l.Append(Entry{ExecutionID: execID, JobID: "deploy", From: domain.ExecutionRunning, To: domain.ExecutionFailed, Detail: "exit code 1"})

	status, done := l.JobOutcome("deploy")
	if !done || status != domain.ExecutionFailed {
		t.Errorf("JobOutcome = %s, %v; want FAILED, true", status, done)
	}

	if _, done := l.JobOutcome("missing"); done {
		t.Error("unknown job must have no outcome")
	}
}

func TestSucceededAndOutcomes(t *testing.T) {
	l := New(uuid.New())

	l.Append(Entry{ExecutionID: uuid.New(), JobID: "lint", From: domain.ExecutionRunning, To: domain.ExecutionSucceeded})
	l.Append(Entry{ExecutionID: uuid.New(), JobID: "test", From: domain.ExecutionRunning, To: domain.ExecutionFailed})
	l.Append(Entry{ExecutionID: uuid.New(), JobID: "deploy", From: domain.ExecutionPending, To: domain.ExecutionSkipped})
	l.Append(Entry{ExecutionID: uuid.New(), JobID: "build", From: domain.ExecutionRunning, To: domain.ExecutionSucceeded})

	succeeded := l.Succeeded()
	if len(succeeded) != 2 || succeeded[0] != "lint" || succeeded[1] != "build" {
		t.Errorf("Succeeded = %v, want [lint build]", succeeded)
	}

	outcomes := l.Outcomes()
	if len(outcomes) != 4 {
		t.Fatalf("Outcomes size = %d, want 4", len(outcomes))
	}
	if outcomes["test"] != domain.ExecutionFailed {
		t.Errorf("outcomes[test] = %s, want FAILED", outcomes["test"])
	}
	if outcomes["deploy"] != domain.ExecutionSkipped {
		t.Errorf("outcomes[deploy] = %s, want SKIPPED", outcomes["deploy"])
	}
}

func TestArtifactsOf(t *testing.T) {
	l := New(uuid.New())
	execID := uuid.New()

	l.Append(Entry{
		ExecutionID: execID,
		JobID:       "build",
		From:        domain.ExecutionRunning,
		To:          domain.ExecutionSucceeded,
		Artifacts:   []string{"binary", "sbom"},
	})

	got := l.ArtifactsOf("build")
	if len(got) != 2 || got[0] != "binary" || got[1] != "sbom" {
		t.Errorf("ArtifactsOf = %v, want [binary sbom]", got)
	}
	if got := l.ArtifactsOf("test"); len(got) != 0 {
		t.Errorf("ArtifactsOf(test) = %v, want empty", got)
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	l := New(uuid.New())
	l.Append(Entry{ExecutionID: uuid.New(), JobID: "a", To: domain.ExecutionReady})

	entries := l.Entries()
	entries[0].JobID = "mutated"

	if l.Entries()[0].JobID != "a" {
		t.Error("mutating the returned slice must not affect the ledger")
	}
}
