package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Defaults(t *testing.T) {
	c := newTestCoordinator(t)

	if c.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", c.pollInterval, defaultPollInterval)
	}
	if c.scheduleInterval != defaultScheduleInterval {
		t.Errorf("scheduleInterval = %v, want %v", c.scheduleInterval, defaultScheduleInterval)
	}
	if c.sweepInterval != defaultSweepInterval {
		t.Errorf("sweepInterval = %v, want %v", c.sweepInterval, defaultSweepInterval)
	}
	if c.artifactTTL != defaultArtifactTTL {
		t.Errorf("artifactTTL = %v, want %v", c.artifactTTL, defaultArtifactTTL)
	}
	if c.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d, want %d", c.batchSize, defaultBatchSize)
	}
	if c.activeRuns == nil {
		t.Error("activeRuns map should be initialized")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	c, err := New(Config{
		PollInterval: 3 * time.Second,
		BatchSize:    7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.pollInterval != 3*time.Second {
		t.Errorf("pollInterval = %v, want 3s", c.pollInterval)
	}
	if c.batchSize != 7 {
		t.Errorf("batchSize = %d, want 7", c.batchSize)
	}
}

func TestActiveRunBookkeeping(t *testing.T) {
	c := newTestCoordinator(t)
	runID := uuid.New()

	if c.isRunActive(runID) {
		t.Error("run should not be active initially")
	}

	if err := c.addActiveRun(runID, nil); err != nil {
		t.Fatalf("addActiveRun: %v", err)
	}

	if !c.isRunActive(runID) {
		t.Error("run should be active after add")
	}
	if c.ActiveRunsCount() != 1 {
		t.Errorf("ActiveRunsCount = %d, want 1", c.ActiveRunsCount())
	}

	if err := c.addActiveRun(runID, nil); !errors.Is(err, ErrRunAlreadyActive) {
		t.Errorf("duplicate add err = %v, want ErrRunAlreadyActive", err)
	}

	c.removeActiveRun(runID)
	if c.isRunActive(runID) {
		t.Error("run should not be active after remove")
	}
}

func TestIsStopped(t *testing.T) {
	c := newTestCoordinator(t)

	if c.IsStopped() {
		t.Error("coordinator should not be stopped initially")
	}

	c.Stop()

	if !c.IsStopped() {
		t.Error("coordinator should be stopped after Stop")
	}
}
