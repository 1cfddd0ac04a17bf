package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline — зарегистрированный pipeline.
//
// Pipeline — это "рецепт" доставки: граф jobs с зависимостями,
// условиями, environment-гейтами и concurrency-группами.
// Спецификация (PipelineSpec) неизменяема после валидации;
// изменение pipeline означает загрузку новой спецификации.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя pipeline (например, "web-deploy").
	Name string `json:"name"`

	// Spec — валидированная спецификация.
	Spec PipelineSpec `json:"spec"`

	// IsActive — флаг активности. Неактивные pipelines не запускаются
	// ни по расписанию, ни по событиям.
	IsActive bool `json:"is_active"`

	// CreatedAt — время регистрации pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineSpec — спецификация pipeline: jobs, environments, триггеры.
//
// Это "программа" для Conveyor. Спецификация полностью валидируется
// Graph Builder'ом до создания run — некорректная спецификация
// отклоняется без создания частичного run.
type PipelineSpec struct {
	// Name — имя pipeline (дублирует Pipeline.Name для удобства).
	Name string `json:"name,omitempty"`

	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty"`

	// Triggers — события, запускающие pipeline.
	Triggers Triggers `json:"triggers,omitempty"`

	// Environments — именованные окружения деплоя (staging, production).
	// Ключ — имя environment.
	Environments map[string]Environment `json:"environments,omitempty"`

	// Jobs — список jobs для выполнения.
	Jobs []JobSpec `json:"jobs"`
}

// Environment возвращает environment по имени.
func (s *PipelineSpec) Environment(name string) (Environment, bool) {
	env, ok := s.Environments[name]
	return env, ok
}

// Job возвращает JobSpec по ID.
func (s *PipelineSpec) Job(id string) (*JobSpec, bool) {
	for i := range s.Jobs {
		if s.Jobs[i].ID == id {
			return &s.Jobs[i], true
		}
	}
	return nil, false
}

// Triggers — определение событий, запускающих pipeline.
type Triggers struct {
	// Events — типы событий: push, pull_request, manual.
	Events []EventKind `json:"events,omitempty"`

	// Branches — ветки, для которых срабатывают события.
	// Пустой список означает любые ветки. Поддерживаются glob-шаблоны
	// ("release/*").
	Branches []string `json:"branches,omitempty"`

	// Schedules — cron-расписания автоматического запуска.
	Schedules []ScheduleSpec `json:"schedules,omitempty"`
}

// ScheduleSpec — одно cron-расписание запуска pipeline.
type ScheduleSpec struct {
	// Cron — cron-выражение (стандартные 5 полей).
	Cron string `json:"cron"`

	// Branch — ветка, на которой выполняется запуск по расписанию.
	Branch string `json:"branch"`
}

// JobSpec — определение job в pipeline.
//
// JobSpec неизменяем после построения DAG для run.
type JobSpec struct {
	// ID — уникальный идентификатор job в рамках pipeline.
	ID string `json:"id"`

	// Name — человекочитаемое имя job.
	Name string `json:"name,omitempty"`

	// DependsOn — список ID jobs, от которых зависит этот job.
	// Job становится READY только когда все зависимости терминальны.
	DependsOn []string `json:"depends_on,omitempty"`

	// Branches — ограничение по веткам: job выполняется только если
	// ветка run совпадает с одним из шаблонов.
	Branches []string `json:"branches,omitempty"`

	// Events — ограничение по типу события run.
	Events []EventKind `json:"events,omitempty"`

	// If — булево выражение над метаданными run (Go template).
	// Например: `eq .Branch "main"`.
	If string `json:"if,omitempty"`

	// When — политика относительно исходов зависимостей.
	// По умолчанию on_success.
	When RunWhen `json:"when,omitempty"`

	// Environment — имя environment, к которому привязан job.
	// Пустое значение — job не привязан к окружению.
	Environment string `json:"environment,omitempty"`

	// Concurrency — concurrency group для сериализации выполнения.
	Concurrency *ConcurrencySpec `json:"concurrency,omitempty"`

	// Produces — имена артефактов, которые job обязан произвести.
	Produces []string `json:"produces,omitempty"`

	// Consumes — имена артефактов, которые job читает.
	// Каждый должен быть произведён одной из зависимостей (транзитивно).
	Consumes []string `json:"consumes,omitempty"`

	// ContinueOnError — если true, падение job не валит run целиком.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// NotifyOnSuccess — если true, успешное завершение job порождает
	// уведомление (терминальные jobs вроде production-деплоя).
	NotifyOnSuccess bool `json:"notify_on_success,omitempty"`
}

// EffectiveWhen возвращает политику запуска с учётом значения по умолчанию.
func (j *JobSpec) EffectiveWhen() RunWhen {
	if j.When == "" {
		return WhenOnSuccess
	}
	return j.When
}

// ConcurrencySpec — определение concurrency group для job.
type ConcurrencySpec struct {
	// Group — шаблон ключа группы (Go template над контекстом run).
	// Например: "{{ .Pipeline }}-{{ .Branch }}-staging".
	Group string `json:"group"`

	// CancelInProgress — если true, новый execution в группе
	// отменяет уже выполняющийся; иначе встаёт в FIFO-очередь.
	CancelInProgress bool `json:"cancel_in_progress,omitempty"`
}

// Environment — именованное окружение деплоя.
type Environment struct {
	// Name — имя environment (staging, production).
	Name string `json:"name"`

	// Protection — правила защиты окружения.
	Protection ProtectionRules `json:"protection,omitempty"`

	// ExternalURL — адрес окружения (информационное поле).
	ExternalURL string `json:"external_url,omitempty"`
}

// Protected возвращает true, если вход в environment требует approvals.
func (e Environment) Protected() bool {
	return e.Protection.MinApprovals > 0
}

// ProtectionRules — правила защиты environment.
type ProtectionRules struct {
	// MinApprovals — минимальное число различных approvals (>= 0).
	MinApprovals int `json:"min_approvals,omitempty"`

	// Branches — список веток, с которых разрешён деплой.
	// Пустой список означает любые ветки.
	Branches []string `json:"branches,omitempty"`
}
