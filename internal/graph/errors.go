package graph

import (
	"errors"
	"strings"
)

// Ошибки валидации набора JobSpec.
var (
	// ErrNoJobs — pipeline не содержит jobs.
	ErrNoJobs = errors.New("pipeline spec has no jobs")

	// ErrEmptyJobID — job не имеет ID.
	ErrEmptyJobID = errors.New("job has empty ID")

	// ErrDuplicateJobID — несколько jobs с одинаковым ID.
	ErrDuplicateJobID = errors.New("duplicate job ID")

	// ErrMissingDependency — job зависит от несуществующего job.
	ErrMissingDependency = errors.New("job depends on unknown job")

	// ErrSelfDependency — job зависит от самого себя.
	ErrSelfDependency = errors.New("job depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	JobID   string // ID job, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.JobID != "" {
		return "job " + e.JobID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(jobID, field, message string, err error) *ValidationError {
	return &ValidationError{
		JobID:   jobID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CycleError — ошибка циклической зависимости с перечислением цикла.
type CycleError struct {
	// Cycle — jobs, образующие цикл, в порядке обхода.
	// Последний элемент ссылается на первый.
	Cycle []string
}

// Error реализует интерфейс error: "cyclic dependency: a -> b -> a".
func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrCyclicDependency.Error()
	}
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ") + " -> " + e.Cycle[0]
}

// Unwrap возвращает ErrCyclicDependency для errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
