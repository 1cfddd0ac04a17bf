package coordinator

import "errors"

// Ошибки координатора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrPipelineNotFound — pipeline не найден.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrCoordinatorStopped — координатор остановлен.
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)
