package gate

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

func protectedEnv(minApprovals int, branches ...string) domain.Environment {
	return domain.Environment{
		Name: "production",
		Protection: domain.ProtectionRules{
			MinApprovals: minApprovals,
			Branches:     branches,
		},
	}
}

func decided(p *Pending) (Decision, bool) {
	select {
	case d := <-p.Decision():
		return d, true
	default:
		return Decision{}, false
	}
}

func TestApprove_Quorum(t *testing.T) {
	m := NewManager()
	execID := uuid.New()

	p, err := m.Open(execID, protectedEnv(2), "main")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Approve(execID, "alice"); err != nil {
		t.Fatalf("Approve(alice): %v", err)
	}
	if _, ok := decided(p); ok {
		t.Fatal("gate must stay open after 1 of 2 approvals")
	}
	if got, required, _ := m.Approvals(execID); got != 1 || required != 2 {
		t.Fatalf("Approvals = %d/%d, want 1/2", got, required)
	}

	if err := m.Approve(execID, "bob"); err != nil {
		t.Fatalf("Approve(bob): %v", err)
	}
	d, ok := decided(p)
	if !ok {
		t.Fatal("gate must close after quorum")
	}
	if !d.Approved {
		t.Error("decision must be approved")
	}
	if len(d.Approvers) != 2 || d.Approvers[0] != "alice" || d.Approvers[1] != "bob" {
		t.Errorf("Approvers = %v, want [alice bob]", d.Approvers)
	}
}

func TestApprove_DuplicateApprover(t *testing.T) {
	m := NewManager()
	execID := uuid.New()

	p, err := m.Open(execID, protectedEnv(2), "main")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Approve(execID, "alice"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if err := m.Approve(execID, "alice"); err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	if _, ok := decided(p); ok {
		t.Fatal("two approvals from the same approver must not reach quorum of 2")
	}
	if got, _, _ := m.Approvals(execID); got != 1 {
		t.Errorf("Approvals = %d, want 1 distinct approver", got)
	}
}

func TestReject_OverridesApprovals(t *testing.T) {
	m := NewManager()
	execID := uuid.New()

	p, err := m.Open(execID, protectedEnv(3), "main")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Approve(execID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := m.Reject(execID, "carol", "release freeze"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	d, ok := decided(p)
	if !ok {
		t.Fatal("rejection must close the gate immediately")
	}
	if d.Approved {
		t.Error("decision must not be approved")
	}
	if d.RejectedBy != "carol" || d.Reason != "release freeze" {
		t.Errorf("RejectedBy/Reason = %q/%q", d.RejectedBy, d.Reason)
	}

	// После решения gate закрыт
	if err := m.Approve(execID, "bob"); !errors.Is(err, ErrNoPendingGate) {
		t.Errorf("Approve after decision: err = %v, want ErrNoPendingGate", err)
	}
}

func TestOpen_BranchNotAllowed(t *testing.T) {
	m := NewManager()

	_, err := m.Open(uuid.New(), protectedEnv(1, "main", "release/*"), "feature/login")
	if !errors.Is(err, ErrBranchNotAllowed) {
		t.Fatalf("err = %v, want ErrBranchNotAllowed", err)
	}

	if _, err := m.Open(uuid.New(), protectedEnv(1, "main", "release/*"), "release/v2"); err != nil {
		t.Fatalf("release/v2 must be allowed: %v", err)
	}
}

func TestCheckBranch_EmptyAllowsAll(t *testing.T) {
	if err := CheckBranch(protectedEnv(1), "anything"); err != nil {
		t.Fatalf("empty branches must allow any branch: %v", err)
	}
}

func TestClose_PendingGate(t *testing.T) {
	m := NewManager()
	execID := uuid.New()

	p, err := m.Open(execID, protectedEnv(2), "main")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.Close(execID, "run cancelled")

	d, ok := decided(p)
	if !ok {
		t.Fatal("Close must resolve the gate")
	}
	if d.Approved {
		t.Error("closed gate must not be approved")
	}
	if d.Reason != "run cancelled" {
		t.Errorf("Reason = %q", d.Reason)
	}

	// Повторный Close — no-op
	m.Close(execID, "again")
}

func TestApprove_NoPendingGate(t *testing.T) {
	m := NewManager()

	err := m.Approve(uuid.New(), "alice")
	if !errors.Is(err, ErrNoPendingGate) {
		t.Fatalf("err = %v, want ErrNoPendingGate", err)
	}
}

func TestGates_AreScopedToExecution(t *testing.T) {
	m := NewManager()
	first := uuid.New()
	second := uuid.New()

	p1, err := m.Open(first, protectedEnv(1), "main")
	if err != nil {
		t.Fatalf("Open(first): %v", err)
	}
	p2, err := m.Open(second, protectedEnv(1), "main")
	if err != nil {
		t.Fatalf("Open(second): %v", err)
	}

	if err := m.Approve(first, "alice"); err != nil {
		t.Fatalf("Approve(first): %v", err)
	}
	if _, ok := decided(p1); !ok {
		t.Error("first gate must be decided")
	}
	if _, ok := decided(p2); ok {
		t.Error("approval of one execution must not decide another")
	}
}
