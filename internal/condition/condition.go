package condition

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"text/template"

	"github.com/HydJing/conveyor/internal/domain"
)

// Ошибки вычисления условий.
var (
	// ErrExprParse — ошибка парсинга выражения If.
	ErrExprParse = errors.New("condition expression parse failed")

	// ErrExprRender — ошибка вычисления выражения If.
	ErrExprRender = errors.New("condition expression render failed")
)

// Verdict — вердикт Condition Evaluator'а для job.
type Verdict int

const (
	// VerdictRun — job должен выполняться.
	VerdictRun Verdict = iota

	// VerdictSkip — job пропускается (терминальный SKIPPED).
	VerdictSkip
)

// String возвращает строковое представление вердикта.
func (v Verdict) String() string {
	if v == VerdictRun {
		return "run"
	}
	return "skip"
}

// Outcomes — терминальные исходы зависимостей job (jobID → статус).
// Передаются evaluator'у только когда все зависимости терминальны.
type Outcomes map[string]domain.ExecutionStatus

// AllSucceeded возвращает true, если все зависимости SUCCEEDED.
func (o Outcomes) AllSucceeded() bool {
	for _, status := range o {
		if status != domain.ExecutionSucceeded {
			return false
		}
	}
	return true
}

// AnyFailed возвращает true, если хотя бы одна зависимость FAILED.
func (o Outcomes) AnyFailed() bool {
	for _, status := range o {
		if status == domain.ExecutionFailed {
			return true
		}
	}
	return false
}

// Condition — композируемый предикат над контекстом run и исходами
// зависимостей. Вычисление чистое и детерминированное: одинаковые
// входы всегда дают одинаковый вердикт.
type Condition interface {
	Eval(rc domain.RunContext, upstream Outcomes) (bool, error)
}

// ConditionFunc — адаптер функции к интерфейсу Condition.
type ConditionFunc func(rc domain.RunContext, upstream Outcomes) (bool, error)

// Eval реализует Condition.
func (f ConditionFunc) Eval(rc domain.RunContext, upstream Outcomes) (bool, error) {
	return f(rc, upstream)
}

// And возвращает конъюнкцию условий. Пустой список — всегда true.
func And(conds ...Condition) Condition {
	return ConditionFunc(func(rc domain.RunContext, upstream Outcomes) (bool, error) {
		for _, c := range conds {
			ok, err := c.Eval(rc, upstream)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// BranchMatches — условие совпадения ветки run с одним из шаблонов.
// Поддерживаются glob-шаблоны ("release/*"). Пустой список — любая ветка.
func BranchMatches(patterns []string) Condition {
	return ConditionFunc(func(rc domain.RunContext, _ Outcomes) (bool, error) {
		if len(patterns) == 0 {
			return true, nil
		}
		for _, pattern := range patterns {
			ok, err := path.Match(pattern, rc.Branch)
			if err != nil {
				return false, fmt.Errorf("branch pattern %q: %w", pattern, err)
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// EventIs — условие совпадения типа события run.
// Пустой список — любое событие.
func EventIs(kinds []domain.EventKind) Condition {
	return ConditionFunc(func(rc domain.RunContext, _ Outcomes) (bool, error) {
		if len(kinds) == 0 {
			return true, nil
		}
		for _, kind := range kinds {
			if rc.Event == kind {
				return true, nil
			}
		}
		return false, nil
	})
}

// UpstreamAllows — условие над исходами зависимостей согласно политике when:
//
//	on_success — все зависимости SUCCEEDED (по умолчанию)
//	on_failure — хотя бы одна зависимость FAILED
//	always     — любые терминальные исходы
func UpstreamAllows(when domain.RunWhen) Condition {
	return ConditionFunc(func(_ domain.RunContext, upstream Outcomes) (bool, error) {
		switch when {
		case domain.WhenAlways:
			return true, nil
		case domain.WhenOnFailure:
			return upstream.AnyFailed(), nil
		default:
			return upstream.AllSucceeded(), nil
		}
	})
}

// exprContext — данные, доступные выражению If.
type exprContext struct {
	Pipeline string
	Branch   string
	Event    string
	Commit   string
	Actor    string
	Meta     map[string]string
}

// Expression — булево выражение над метаданными run (Go template).
// Пустое выражение всегда истинно.
//
// Пример: `eq .Branch "main"` или `and (eq .Event "push") .Meta.hotfix`.
func Expression(src string) Condition {
	return ConditionFunc(func(rc domain.RunContext, _ Outcomes) (bool, error) {
		return evalExpression(src, rc)
	})
}

// evalExpression вычисляет выражение, оборачивая его в if,
// чтобы получить bool из текстового рендера.
func evalExpression(src string, rc domain.RunContext) (bool, error) {
	if src == "" {
		return true, nil
	}

	tmpl := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, src)

	t, err := template.New("").Parse(tmpl)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExprParse, err)
	}

	data := exprContext{
		Pipeline: rc.Pipeline,
		Branch:   rc.Branch,
		Event:    string(rc.Event),
		Commit:   rc.CommitSHA,
		Actor:    rc.Actor,
		Meta:     rc.Meta,
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return false, fmt.Errorf("%w: %v", ErrExprRender, err)
	}

	return buf.String() == "true", nil
}

// ForJob собирает составное условие job из его спецификации:
// ограничение по веткам ∧ ограничение по событиям ∧ политика when ∧ If.
func ForJob(job *domain.JobSpec) Condition {
	return And(
		BranchMatches(job.Branches),
		EventIs(job.Events),
		UpstreamAllows(job.EffectiveWhen()),
		Expression(job.If),
	)
}

// Eval вычисляет вердикт для job: VerdictRun или VerdictSkip.
// Вызывается планировщиком только когда все зависимости терминальны.
func Eval(job *domain.JobSpec, rc domain.RunContext, upstream Outcomes) (Verdict, error) {
	ok, err := ForJob(job).Eval(rc, upstream)
	if err != nil {
		return VerdictSkip, err
	}
	if !ok {
		return VerdictSkip, nil
	}
	return VerdictRun, nil
}

// ValidateExpression проверяет синтаксис выражения If без вычисления.
// Используется при валидации спецификации.
func ValidateExpression(src string) error {
	if src == "" {
		return nil
	}
	tmpl := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, src)
	if _, err := template.New("").Parse(tmpl); err != nil {
		return fmt.Errorf("%w: %v", ErrExprParse, err)
	}
	return nil
}
