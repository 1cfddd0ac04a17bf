package concurrency

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"text/template"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// Ошибки concurrency controller.
var (
	// ErrKeyTemplate — ошибка рендеринга шаблона ключа группы.
	ErrKeyTemplate = errors.New("concurrency group key template failed")

	// ErrNotHeld — Release для execution, не держащего группу.
	ErrNotHeld = errors.New("execution does not hold the group")
)

// GrantKind — способ, которым execution получил группу.
type GrantKind int

const (
	// GrantImmediate — группа была свободна.
	GrantImmediate GrantKind = iota

	// GrantAfterCancellation — предыдущий execution в группе отменён.
	GrantAfterCancellation

	// GrantQueued — execution встал в FIFO-очередь и должен
	// дождаться ready-канала.
	GrantQueued
)

// Grant — результат Acquire.
type Grant struct {
	// Kind — способ получения группы.
	Kind GrantKind

	// CancelledPrior — ID execution, который был вытеснен
	// (только для GrantAfterCancellation).
	CancelledPrior uuid.UUID

	// ready закрывается, когда группа переходит к этому execution.
	// Для GrantImmediate канал уже закрыт.
	ready chan struct{}
}

// Ready возвращает канал, закрываемый при передаче группы.
// Ожидание — логическое (select), без busy loop и без занятого воркера.
func (g *Grant) Ready() <-chan struct{} {
	return g.ready
}

// holder — execution, владеющий или ожидающий группу.
type holder struct {
	executionID uuid.UUID
	ready       chan struct{}
	// cancel прерывает выполнение execution (best-effort interrupt
	// Runner'а). Вызывается при вытеснении cancel_in_progress группой.
	cancel func()
}

// group — одна concurrency group: не более одного running execution.
type group struct {
	running *holder
	waiters []*holder // FIFO
}

// Controller — таблица concurrency groups.
//
// Единственное состояние, разделяемое между runs: группы ключуются
// по resolved key, а не по run. Доступ защищён мьютексом.
//
// Контракт Acquire: если группа свободна — немедленный grant;
// если занята и cancelInProgress — владелец отменяется, новый
// execution получает группу после Release владельца; иначе новый
// execution встаёт в FIFO-очередь.
type Controller struct {
	mu     sync.Mutex
	groups map[string]*group
}

// NewController создаёт пустой Controller.
func NewController() *Controller {
	return &Controller{groups: make(map[string]*group)}
}

// Acquire запрашивает группу key для execution.
//
// cancel — функция прерывания этого execution; сохраняется на случай,
// если его самого позже вытеснит более новый execution в той же группе.
func (c *Controller) Acquire(key string, executionID uuid.UUID, cancelInProgress bool, cancel func()) *Grant {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok {
		g = &group{}
		c.groups[key] = g
	}

	h := &holder{
		executionID: executionID,
		ready:       make(chan struct{}),
		cancel:      cancel,
	}

	// Группа свободна — немедленный grant
	if g.running == nil && len(g.waiters) == 0 {
		g.running = h
		close(h.ready)
		return &Grant{Kind: GrantImmediate, ready: h.ready}
	}

	if cancelInProgress {
		// Вытесняем текущего владельца: он обязан перейти в CANCELLED
		// и вызвать Release до того, как новый execution начнёт RUNNING.
		prior := g.running
		// Сбрасываем и очередь: устаревшие waiters тоже отменяются
		for _, w := range g.waiters {
			if w.cancel != nil {
				w.cancel()
			}
		}
		g.waiters = g.waiters[:0]
		g.waiters = append(g.waiters, h)

		var priorID uuid.UUID
		if prior != nil {
			priorID = prior.executionID
			if prior.cancel != nil {
				prior.cancel()
			}
		}

		return &Grant{
			Kind:           GrantAfterCancellation,
			CancelledPrior: priorID,
			ready:          h.ready,
		}
	}

	// Очередь FIFO за владельцем
	g.waiters = append(g.waiters, h)
	return &Grant{Kind: GrantQueued, ready: h.ready}
}

// Release освобождает группу от имени executionID и передаёт её
// следующему в очереди (закрывая его ready-канал).
//
// Release обязателен и для отменённых executions — вытесненный
// владелец освобождает группу после перехода в CANCELLED.
func (c *Controller) Release(key string, executionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok {
		return fmt.Errorf("%w: group %s", ErrNotHeld, key)
	}

	switch {
	case g.running != nil && g.running.executionID == executionID:
		g.running = nil

	default:
		// Execution мог стоять в очереди (отменён до получения группы)
		idx := -1
		for i, w := range g.waiters {
			if w.executionID == executionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: execution %s in group %s", ErrNotHeld, executionID, key)
		}
		g.waiters = append(g.waiters[:idx], g.waiters[idx+1:]...)
	}

	// Передаём группу следующему в FIFO
	if g.running == nil && len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.running = next
		close(next.ready)
	}

	// Пустые группы удаляем, чтобы таблица не росла бесконечно
	if g.running == nil && len(g.waiters) == 0 {
		delete(c.groups, key)
	}

	return nil
}

// Running возвращает ID execution, владеющего группой, и признак занятости.
func (c *Controller) Running(key string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok || g.running == nil {
		return uuid.Nil, false
	}
	return g.running.executionID, true
}

// QueueLen возвращает длину очереди группы.
func (c *Controller) QueueLen(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok {
		return 0
	}
	return len(g.waiters)
}

// keyContext — данные, доступные шаблону ключа группы.
type keyContext struct {
	Pipeline    string
	Branch      string
	Event       string
	Environment string
}

// ResolveKey рендерит шаблон ключа группы для контекста run.
//
// Пример: "{{ .Pipeline }}-{{ .Branch }}-{{ .Environment }}".
// Шаблон без выражений возвращается как есть.
func ResolveKey(keyTemplate string, rc domain.RunContext, environment string) (string, error) {
	if !bytes.Contains([]byte(keyTemplate), []byte("{{")) {
		return keyTemplate, nil
	}

	t, err := template.New("").Parse(keyTemplate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyTemplate, err)
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, keyContext{
		Pipeline:    rc.Pipeline,
		Branch:      rc.Branch,
		Event:       string(rc.Event),
		Environment: environment,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyTemplate, err)
	}

	return buf.String(), nil
}
