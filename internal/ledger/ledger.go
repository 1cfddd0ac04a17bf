package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// Entry — одна запись журнала run: переход состояния одного execution.
type Entry struct {
	// RunID — run, к которому относится запись.
	RunID uuid.UUID `json:"run_id"`

	// ExecutionID — execution, сменивший состояние.
	ExecutionID uuid.UUID `json:"execution_id"`

	// JobID — идентификатор job в спецификации пайплайна.
	JobID string `json:"job_id"`

	// From и To — состояния до и после перехода.
	From domain.ExecutionStatus `json:"from"`
	To   domain.ExecutionStatus `json:"to"`

	// At — момент перехода.
	At time.Time `json:"at"`

	// Detail — человекочитаемая причина (ошибка, условие skip, approver).
	Detail string `json:"detail,omitempty"`

	// Artifacts — имена артефактов, опубликованных при переходе
	// (только для SUCCEEDED).
	Artifacts []string `json:"artifacts,omitempty"`
}

// Ledger — append-only журнал одного run.
//
// Журнал — единственный источник правды об итоге run: итоговый
// отчёт и нотификации строятся только из записей журнала, без
// обращения к живому состоянию scheduler'а.
//
// Append идемпотентен по паре (execution, to): повторная доставка
// события из MQ не порождает дубликат записи.
type Ledger struct {
	mu      sync.RWMutex
	runID   uuid.UUID
	entries []Entry
	seen    map[string]struct{} // executionID+to
}

// New создаёт пустой журнал для run.
func New(runID uuid.UUID) *Ledger {
	return &Ledger{
		runID: runID,
		seen:  make(map[string]struct{}),
	}
}

// RunID возвращает run, которому принадлежит журнал.
func (l *Ledger) RunID() uuid.UUID {
	return l.runID
}

// Append добавляет запись. Возвращает false, если переход
// (execution, to) уже записан и запись отброшена как дубликат.
func (l *Ledger) Append(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := e.ExecutionID.String() + "|" + string(e.To)
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}

	e.RunID = l.runID
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.entries = append(l.entries, e)

	return true
}

// Entries возвращает копию всех записей в порядке добавления.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// JobOutcome возвращает терминальное состояние job и признак того,
// что job уже завершён.
func (l *Ledger) JobOutcome(jobID string) (domain.ExecutionStatus, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.JobID == jobID && e.To.IsTerminal() {
			return e.To, true
		}
	}
	return "", false
}

// Succeeded возвращает job'ы, завершившиеся SUCCEEDED, в порядке
// их завершения.
func (l *Ledger) Succeeded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for _, e := range l.entries {
		if e.To == domain.ExecutionSucceeded {
			out = append(out, e.JobID)
		}
	}
	return out
}

// Outcomes возвращает терминальные состояния всех завершённых job'ов.
func (l *Ledger) Outcomes() map[string]domain.ExecutionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]domain.ExecutionStatus)
	for _, e := range l.entries {
		if e.To.IsTerminal() {
			out[e.JobID] = e.To
		}
	}
	return out
}

// ArtifactsOf возвращает артефакты, опубликованные job'ом.
func (l *Ledger) ArtifactsOf(jobID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for _, e := range l.entries {
		if e.JobID == jobID {
			out = append(out, e.Artifacts...)
		}
	}
	return out
}

// Len возвращает число записей.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
