package notify

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		status domain.RunStatus
		want   Severity
	}{
		{domain.RunStatusSucceeded, SeverityInfo},
		{domain.RunStatusFailed, SeverityError},
		{domain.RunStatusCancelled, SeverityWarning},
	}

	for _, tt := range tests {
		if got := SeverityFor(tt.status); got != tt.want {
			t.Errorf("SeverityFor(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestReleaseNotes(t *testing.T) {
	run := domain.NewPipelineRun(uuid.New(), domain.RunContext{
		Pipeline:  "webapp",
		Branch:    "main",
		Event:     domain.EventPush,
		CommitSHA: "abc123",
	})
	run.MarkRunning()
	run.MarkFailed("job test failed")

	entries := []ledger.Entry{
		{JobID: "build", To: domain.ExecutionRunning},
		{JobID: "build", To: domain.ExecutionSucceeded, Artifacts: []string{"binary"}},
		{JobID: "test", To: domain.ExecutionFailed, Detail: "exit code 2"},
		{JobID: "deploy", To: domain.ExecutionSkipped, Detail: "dependency test failed"},
	}

	notes := ReleaseNotes(*run, entries)

	for _, want := range []string{
		"webapp", "main", "abc123", "FAILED",
		"SUCCEEDED", "build", "[artifacts: binary]",
		"exit code 2", "SKIPPED", "deploy",
	} {
		if !strings.Contains(notes, want) {
			t.Errorf("notes missing %q:\n%s", want, notes)
		}
	}

	// Нетерминальная запись build RUNNING не должна дублировать job
	if strings.Count(notes, "build") != 1 {
		t.Errorf("build must appear once:\n%s", notes)
	}
}
