package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но координатор ещё не начал выполнение.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все обязательные jobs завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один обязательный job упал.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён целиком (внешний abort).
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionStatus — статус выполнения одного job внутри run.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → SUCCEEDED
//	        ↘ BLOCKED ↗       ↘ FAILED
//	        ↘ AWAITING_APPROVAL ↗      ↘ CANCELLED
//	PENDING/BLOCKED/READY/AWAITING_APPROVAL → SKIPPED
//
// Переходы монотонны: execution никогда не возвращается
// в ранее пройденное состояние в рамках одного run.
type ExecutionStatus string

const (
	// ExecutionPending — зависимости job ещё не завершены.
	ExecutionPending ExecutionStatus = "PENDING"

	// ExecutionBlocked — job стоит в очереди за concurrency group.
	ExecutionBlocked ExecutionStatus = "BLOCKED"

	// ExecutionReady — все зависимости завершены, условие выполнено.
	ExecutionReady ExecutionStatus = "READY"

	// ExecutionAwaitingApproval — job ждёт approvals защищённого environment.
	ExecutionAwaitingApproval ExecutionStatus = "AWAITING_APPROVAL"

	// ExecutionRunning — job выполняется Runner'ом.
	ExecutionRunning ExecutionStatus = "RUNNING"

	// ExecutionSucceeded — job успешно завершён.
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"

	// ExecutionFailed — Runner сообщил об ошибке, или approval был отклонён.
	ExecutionFailed ExecutionStatus = "FAILED"

	// ExecutionSkipped — job не запускался: условие не выполнено
	// или обязательная зависимость не завершилась успехом.
	ExecutionSkipped ExecutionStatus = "SKIPPED"

	// ExecutionCancelled — выполнение прервано: вытеснение по
	// concurrency group или внешний abort.
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionSkipped, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions — допустимые переходы между статусами execution.
// Пустой список означает, что статус терминальный.
var allowedTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionReady, ExecutionSkipped, ExecutionCancelled},
	ExecutionReady: {
		ExecutionAwaitingApproval, ExecutionBlocked, ExecutionRunning,
		ExecutionFailed, ExecutionSkipped, ExecutionCancelled,
	},
	ExecutionAwaitingApproval: {
		ExecutionBlocked, ExecutionRunning,
		ExecutionFailed, ExecutionSkipped, ExecutionCancelled,
	},
	ExecutionBlocked: {ExecutionRunning, ExecutionFailed, ExecutionSkipped, ExecutionCancelled},
	ExecutionRunning: {ExecutionSucceeded, ExecutionFailed, ExecutionCancelled},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to ExecutionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventKind — тип события, запустившего pipeline run.
type EventKind string

const (
	// EventPush — push в ветку.
	EventPush EventKind = "push"

	// EventPullRequest — открытие или обновление pull request.
	EventPullRequest EventKind = "pull_request"

	// EventSchedule — запуск по расписанию.
	EventSchedule EventKind = "schedule"

	// EventManual — ручной запуск через API/CLI.
	EventManual EventKind = "manual"
)

// KnownEventKinds — допустимые типы событий для валидации спецификации.
var KnownEventKinds = map[EventKind]bool{
	EventPush:        true,
	EventPullRequest: true,
	EventSchedule:    true,
	EventManual:      true,
}

// RunWhen — политика запуска job относительно исходов его зависимостей.
type RunWhen string

const (
	// WhenOnSuccess — запускать только если все зависимости SUCCEEDED (по умолчанию).
	WhenOnSuccess RunWhen = "on_success"

	// WhenOnFailure — запускать только если хотя бы одна зависимость FAILED.
	WhenOnFailure RunWhen = "on_failure"

	// WhenAlways — запускать когда все зависимости терминальны, независимо от исхода.
	WhenAlways RunWhen = "always"
)
