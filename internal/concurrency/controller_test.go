package concurrency

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestAcquire_FreeGroup(t *testing.T) {
	c := NewController()
	id := uuid.New()

	grant := c.Acquire("deploy-main", id, false, nil)
	if grant.Kind != GrantImmediate {
		t.Fatalf("Kind = %v, want GrantImmediate", grant.Kind)
	}
	if !isClosed(grant.Ready()) {
		t.Error("immediate grant must have a closed ready channel")
	}

	running, ok := c.Running("deploy-main")
	if !ok || running != id {
		t.Errorf("Running = %v, %v; want %v, true", running, ok, id)
	}
}

func TestAcquire_QueuedFIFO(t *testing.T) {
	c := NewController()
	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	c.Acquire("g", first, false, nil)
	g2 := c.Acquire("g", second, false, nil)
	g3 := c.Acquire("g", third, false, nil)

	if g2.Kind != GrantQueued || g3.Kind != GrantQueued {
		t.Fatalf("queued kinds = %v, %v; want GrantQueued", g2.Kind, g3.Kind)
	}
	if isClosed(g2.Ready()) || isClosed(g3.Ready()) {
		t.Fatal("queued executions must not be ready while the group is held")
	}
	if n := c.QueueLen("g"); n != 2 {
		t.Fatalf("QueueLen = %d, want 2", n)
	}

	if err := c.Release("g", first); err != nil {
		t.Fatalf("Release(first): %v", err)
	}
	if !isClosed(g2.Ready()) {
		t.Error("second must be promoted after first release")
	}
	if isClosed(g3.Ready()) {
		t.Error("third must still wait behind second")
	}

	if err := c.Release("g", second); err != nil {
		t.Fatalf("Release(second): %v", err)
	}
	if !isClosed(g3.Ready()) {
		t.Error("third must be promoted after second release")
	}
}

func TestAcquire_CancelInProgress(t *testing.T) {
	c := NewController()
	prior := uuid.New()
	newer := uuid.New()

	priorCancelled := false
	c.Acquire("deploy", prior, true, func() { priorCancelled = true })

	grant := c.Acquire("deploy", newer, true, nil)
	if grant.Kind != GrantAfterCancellation {
		t.Fatalf("Kind = %v, want GrantAfterCancellation", grant.Kind)
	}
	if grant.CancelledPrior != prior {
		t.Errorf("CancelledPrior = %v, want %v", grant.CancelledPrior, prior)
	}
	if !priorCancelled {
		t.Error("prior holder's cancel func must have been called")
	}

	// Группа переходит только после Release вытесненного владельца
	if isClosed(grant.Ready()) {
		t.Fatal("new execution must wait until the cancelled holder releases")
	}
	if err := c.Release("deploy", prior); err != nil {
		t.Fatalf("Release(prior): %v", err)
	}
	if !isClosed(grant.Ready()) {
		t.Error("new execution must hold the group after the prior release")
	}
}

func TestAcquire_CancelInProgressFlushesQueue(t *testing.T) {
	c := NewController()
	holderID := uuid.New()
	waiterID := uuid.New()
	newest := uuid.New()

	c.Acquire("g", holderID, true, nil)
	waiterCancelled := false
	c.Acquire("g", waiterID, true, func() { waiterCancelled = true })

	grant := c.Acquire("g", newest, true, nil)
	if grant.Kind != GrantAfterCancellation {
		t.Fatalf("Kind = %v, want GrantAfterCancellation", grant.Kind)
	}
	if !waiterCancelled {
		t.Error("stale waiter must be cancelled by a newer cancel_in_progress acquire")
	}

	if err := c.Release("g", holderID); err != nil {
		t.Fatalf("Release(holder): %v", err)
	}
	if !isClosed(grant.Ready()) {
		t.Error("newest execution must receive the group")
	}
}

func TestRelease_CancelledWaiter(t *testing.T) {
	c := NewController()
	holderID := uuid.New()
	waiterID := uuid.New()

	c.Acquire("g", holderID, false, nil)
	grant := c.Acquire("g", waiterID, false, nil)

	// Waiter отменяется до получения группы и освобождает место в очереди
	if err := c.Release("g", waiterID); err != nil {
		t.Fatalf("Release(waiter): %v", err)
	}
	if isClosed(grant.Ready()) {
		t.Error("removed waiter must not be promoted")
	}
	if n := c.QueueLen("g"); n != 0 {
		t.Errorf("QueueLen = %d, want 0", n)
	}
}

func TestRelease_NotHeld(t *testing.T) {
	c := NewController()

	err := c.Release("missing", uuid.New())
	if !errors.Is(err, ErrNotHeld) {
		t.Fatalf("err = %v, want ErrNotHeld", err)
	}

	c.Acquire("g", uuid.New(), false, nil)
	err = c.Release("g", uuid.New())
	if !errors.Is(err, ErrNotHeld) {
		t.Fatalf("err = %v, want ErrNotHeld", err)
	}
}

func TestRelease_EmptyGroupRemoved(t *testing.T) {
	c := NewController()
	id := uuid.New()

	c.Acquire("g", id, false, nil)
	if err := c.Release("g", id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := c.Running("g"); ok {
		t.Error("released group must be empty")
	}
	// Повторный Acquire той же группы снова даёт немедленный grant
	grant := c.Acquire("g", uuid.New(), false, nil)
	if grant.Kind != GrantImmediate {
		t.Errorf("Kind = %v, want GrantImmediate after group drained", grant.Kind)
	}
}

func TestResolveKey(t *testing.T) {
	rc := domain.RunContext{
		Pipeline: "webapp",
		Branch:   "main",
		Event:    domain.EventPush,
	}

	tests := []struct {
		name        string
		template    string
		environment string
		want        string
		wantErr     bool
	}{
		{
			name:     "literal key",
			template: "deploy-production",
			want:     "deploy-production",
		},
		{
			name:     "pipeline and branch",
			template: "{{ .Pipeline }}-{{ .Branch }}",
			want:     "webapp-main",
		},
		{
			name:        "environment scoped",
			template:    "{{ .Pipeline }}/{{ .Environment }}",
			environment: "production",
			want:        "webapp/production",
		},
		{
			name:     "event kind",
			template: "{{ .Event }}-{{ .Branch }}",
			want:     "push-main",
		},
		{
			name:     "broken template",
			template: "{{ .Pipeline",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveKey(tt.template, rc, tt.environment)
			if tt.wantErr {
				if !errors.Is(err, ErrKeyTemplate) {
					t.Fatalf("err = %v, want ErrKeyTemplate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveKey: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveKey = %q, want %q", got, tt.want)
			}
		})
	}
}
