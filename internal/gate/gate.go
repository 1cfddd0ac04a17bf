package gate

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// Ошибки approval gate.
var (
	// ErrNoPendingGate — approval/rejection для execution без открытого gate.
	ErrNoPendingGate = errors.New("no pending gate for execution")

	// ErrBranchNotAllowed — ветка run не входит в protection.branches окружения.
	ErrBranchNotAllowed = errors.New("branch is not allowed for the environment")

	// ErrAlreadyDecided — gate уже закрыт решением.
	ErrAlreadyDecided = errors.New("gate already decided")
)

// Decision — итог gate для одного execution.
type Decision struct {
	// Approved — true, если набран кворум одобрений;
	// false при rejection или принудительном закрытии.
	Approved bool

	// Approvers — кто одобрил (отсортировано, без дублей).
	Approvers []string

	// RejectedBy — кто отклонил (только при Approved == false).
	RejectedBy string

	// Reason — причина rejection или закрытия.
	Reason string

	// DecidedAt — момент решения.
	DecidedAt time.Time
}

// pending — открытый gate одного execution.
type pending struct {
	required  int
	approvers map[string]struct{}
	decided   bool
	done      chan Decision
}

// Pending — хэндл открытого gate. Decision-канал получает ровно
// одно значение, после чего gate закрывается.
type Pending struct {
	executionID uuid.UUID
	done        <-chan Decision
}

// Decision возвращает канал итогового решения gate.
func (p *Pending) Decision() <-chan Decision {
	return p.done
}

// Manager хранит открытые gates по execution ID.
//
// Approval привязан ровно к одному JobExecution: повторный запуск
// того же job в новом run открывает новый gate и собирает
// одобрения заново.
type Manager struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pending
}

// NewManager создаёт пустой Manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[uuid.UUID]*pending)}
}

// CheckBranch проверяет, допускает ли protection окружения ветку run.
// Пустой список branches означает «любая ветка».
func CheckBranch(env domain.Environment, branch string) error {
	if len(env.Protection.Branches) == 0 {
		return nil
	}
	for _, pattern := range env.Protection.Branches {
		if ok, _ := path.Match(pattern, branch); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: environment %s, branch %s", ErrBranchNotAllowed, env.Name, branch)
}

// Open открывает gate для execution, целящего в защищённое окружение.
//
// Ветка проверяется до открытия: запрещённая ветка — это отказ без
// ожидания, вызывающий обязан перевести execution в FAILED.
func (m *Manager) Open(executionID uuid.UUID, env domain.Environment, branch string) (*Pending, error) {
	if err := CheckBranch(env, branch); err != nil {
		return nil, err
	}

	required := env.Protection.MinApprovals
	if required < 1 {
		required = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := &pending{
		required:  required,
		approvers: make(map[string]struct{}),
		done:      make(chan Decision, 1),
	}
	m.pending[executionID] = p

	return &Pending{executionID: executionID, done: p.done}, nil
}

// Approve записывает одобрение approver для execution.
//
// Повторное одобрение тем же approver идемпотентно и кворум не
// продвигает. При наборе кворума gate закрывается с Approved = true.
func (m *Manager) Approve(executionID uuid.UUID, approver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingGate, executionID)
	}
	if p.decided {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, executionID)
	}

	p.approvers[approver] = struct{}{}
	if len(p.approvers) < p.required {
		return nil
	}

	p.decided = true
	p.done <- Decision{
		Approved:  true,
		Approvers: sortedApprovers(p.approvers),
		DecidedAt: time.Now(),
	}
	delete(m.pending, executionID)

	return nil
}

// Reject отклоняет execution от имени approver. Одного rejection
// достаточно независимо от уже собранных одобрений.
func (m *Manager) Reject(executionID uuid.UUID, approver, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingGate, executionID)
	}
	if p.decided {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, executionID)
	}

	p.decided = true
	p.done <- Decision{
		Approved:   false,
		Approvers:  sortedApprovers(p.approvers),
		RejectedBy: approver,
		Reason:     reason,
		DecidedAt:  time.Now(),
	}
	delete(m.pending, executionID)

	return nil
}

// Close принудительно закрывает gate (отмена run). Закрытие уже
// решённого или отсутствующего gate — no-op.
func (m *Manager) Close(executionID uuid.UUID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[executionID]
	if !ok || p.decided {
		return
	}

	p.decided = true
	p.done <- Decision{
		Approved:  false,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
	delete(m.pending, executionID)
}

// Approvals возвращает число собранных одобрений и требуемый кворум.
func (m *Manager) Approvals(executionID uuid.UUID) (got, required int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, found := m.pending[executionID]
	if !found {
		return 0, 0, false
	}
	return len(p.approvers), p.required, true
}

func sortedApprovers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
