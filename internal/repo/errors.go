package repo

import (
	"errors"
	"fmt"
)

// Сигнальные ошибки репозиториев. Проверяются через errors.Is;
// конкретные репозитории оборачивают их именем сущности.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)

// notFound оборачивает ErrNotFound именем сущности:
// "pipeline not found".
func notFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// alreadyExists оборачивает ErrAlreadyExists именем сущности.
func alreadyExists(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrAlreadyExists)
}
