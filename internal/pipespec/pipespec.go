// Package pipespec разбирает и валидирует YAML-спецификации pipelines.
//
// Документ полностью валидируется до создания run: структура YAML,
// граф зависимостей (через graph.Build), ссылки на environments,
// типы событий, cron-выражения и if-выражения. Некорректная
// спецификация отклоняется целиком, частичные runs не создаются.
package pipespec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/HydJing/conveyor/internal/condition"
	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/graph"
)

// ErrSpecInvalid — спецификация не прошла валидацию.
var ErrSpecInvalid = errors.New("pipeline spec invalid")

// cronParser — стандартные 5 полей (минуты..день недели).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// document — YAML-схема спецификации pipeline.
type document struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Triggers     triggersDoc       `yaml:"triggers"`
	Environments map[string]envDoc `yaml:"environments"`
	Jobs         []jobDoc          `yaml:"jobs"`
}

type triggersDoc struct {
	Events    []string      `yaml:"events"`
	Branches  []string      `yaml:"branches"`
	Schedules []scheduleDoc `yaml:"schedules"`
}

type scheduleDoc struct {
	Cron   string `yaml:"cron"`
	Branch string `yaml:"branch"`
}

type envDoc struct {
	Protection  protectionDoc `yaml:"protection"`
	ExternalURL string        `yaml:"external_url"`
}

type protectionDoc struct {
	MinApprovals int      `yaml:"min_approvals"`
	Branches     []string `yaml:"branches"`
}

type jobDoc struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	DependsOn       []string        `yaml:"depends_on"`
	Branches        []string        `yaml:"branches"`
	Events          []string        `yaml:"events"`
	If              string          `yaml:"if"`
	When            string          `yaml:"when"`
	Environment     string          `yaml:"environment"`
	Concurrency     *concurrencyDoc `yaml:"concurrency"`
	Produces        []string        `yaml:"produces"`
	Consumes        []string        `yaml:"consumes"`
	ContinueOnError bool            `yaml:"continue_on_error"`
	NotifyOnSuccess bool            `yaml:"notify_on_success"`
}

type concurrencyDoc struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel_in_progress"`
}

// Parse разбирает YAML-документ и валидирует спецификацию.
func Parse(data []byte) (domain.PipelineSpec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.PipelineSpec{}, fmt.Errorf("%w: parse yaml: %v", ErrSpecInvalid, err)
	}

	spec := toDomain(doc)
	if err := Validate(&spec); err != nil {
		return domain.PipelineSpec{}, err
	}

	return spec, nil
}

func toDomain(doc document) domain.PipelineSpec {
	spec := domain.PipelineSpec{
		Name:        doc.Name,
		Description: doc.Description,
		Triggers: domain.Triggers{
			Branches: doc.Triggers.Branches,
		},
	}

	for _, ev := range doc.Triggers.Events {
		spec.Triggers.Events = append(spec.Triggers.Events, domain.EventKind(ev))
	}
	for _, s := range doc.Triggers.Schedules {
		spec.Triggers.Schedules = append(spec.Triggers.Schedules, domain.ScheduleSpec{
			Cron:   s.Cron,
			Branch: s.Branch,
		})
	}

	if len(doc.Environments) > 0 {
		spec.Environments = make(map[string]domain.Environment, len(doc.Environments))
		for name, e := range doc.Environments {
			spec.Environments[name] = domain.Environment{
				Name: name,
				Protection: domain.ProtectionRules{
					MinApprovals: e.Protection.MinApprovals,
					Branches:     e.Protection.Branches,
				},
				ExternalURL: e.ExternalURL,
			}
		}
	}

	for _, j := range doc.Jobs {
		job := domain.JobSpec{
			ID:              j.ID,
			Name:            j.Name,
			DependsOn:       j.DependsOn,
			Branches:        j.Branches,
			If:              j.If,
			When:            domain.RunWhen(j.When),
			Environment:     j.Environment,
			Produces:        j.Produces,
			Consumes:        j.Consumes,
			ContinueOnError: j.ContinueOnError,
			NotifyOnSuccess: j.NotifyOnSuccess,
		}
		for _, ev := range j.Events {
			job.Events = append(job.Events, domain.EventKind(ev))
		}
		if j.Concurrency != nil {
			job.Concurrency = &domain.ConcurrencySpec{
				Group:            j.Concurrency.Group,
				CancelInProgress: j.Concurrency.CancelInProgress,
			}
		}
		spec.Jobs = append(spec.Jobs, job)
	}

	return spec
}

// Validate проверяет спецификацию целиком.
//
// Проверки: имя, граф зависимостей (дубликаты, висячие ссылки,
// циклы), ссылки на environments, типы событий, when-политики,
// cron-выражения, if-выражения, артефактные связи produces/consumes.
func Validate(spec *domain.PipelineSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrSpecInvalid)
	}

	// Граф валидируется первым: остальные проверки полагаются
	// на уникальность ID и корректность ссылок depends_on
	dag, err := graph.Build(spec.Jobs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpecInvalid, err)
	}

	for _, ev := range spec.Triggers.Events {
		if !domain.KnownEventKinds[ev] {
			return fmt.Errorf("%w: unknown trigger event %q", ErrSpecInvalid, ev)
		}
	}
	for _, s := range spec.Triggers.Schedules {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("%w: schedule cron %q: %v", ErrSpecInvalid, s.Cron, err)
		}
		if strings.TrimSpace(s.Branch) == "" {
			return fmt.Errorf("%w: schedule branch is required for cron %q", ErrSpecInvalid, s.Cron)
		}
	}

	for i := range spec.Jobs {
		if err := validateJob(spec, &spec.Jobs[i], dag); err != nil {
			return err
		}
	}

	return nil
}

func validateJob(spec *domain.PipelineSpec, job *domain.JobSpec, dag *graph.DAG) error {
	for _, ev := range job.Events {
		if !domain.KnownEventKinds[ev] {
			return fmt.Errorf("%w: job %s: unknown event %q", ErrSpecInvalid, job.ID, ev)
		}
	}

	switch job.EffectiveWhen() {
	case domain.WhenOnSuccess, domain.WhenOnFailure, domain.WhenAlways:
	default:
		return fmt.Errorf("%w: job %s: unknown when policy %q", ErrSpecInvalid, job.ID, job.When)
	}

	if job.Environment != "" {
		if _, ok := spec.Environment(job.Environment); !ok {
			return fmt.Errorf("%w: job %s: unknown environment %q", ErrSpecInvalid, job.ID, job.Environment)
		}
	}

	if job.Concurrency != nil && strings.TrimSpace(job.Concurrency.Group) == "" {
		return fmt.Errorf("%w: job %s: concurrency group is required", ErrSpecInvalid, job.ID)
	}

	if job.If != "" {
		if err := condition.ValidateExpression(job.If); err != nil {
			return fmt.Errorf("%w: job %s: if expression: %v", ErrSpecInvalid, job.ID, err)
		}
	}

	// Каждый consumes должен производиться транзитивной зависимостью
	for _, name := range job.Consumes {
		if !producedUpstream(spec, dag, job.ID, name) {
			return fmt.Errorf("%w: job %s: artifact %q is not produced by any dependency", ErrSpecInvalid, job.ID, name)
		}
	}

	return nil
}

// producedUpstream проверяет, что артефакт name производится одной
// из транзитивных зависимостей job'а.
func producedUpstream(spec *domain.PipelineSpec, dag *graph.DAG, jobID, name string) bool {
	visited := make(map[string]bool)
	stack := append([]string(nil), dag.Dependencies(jobID)...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		dep, ok := spec.Job(id)
		if !ok {
			continue
		}
		for _, produced := range dep.Produces {
			if produced == name {
				return true
			}
		}
		stack = append(stack, dag.Dependencies(id)...)
	}

	return false
}
