package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
)

// Ошибки artifact store.
var (
	// ErrNotFound — артефакт не существует.
	ErrNotFound = errors.New("artifact not found")

	// ErrAlreadyExists — попытка перезаписать артефакт.
	// Артефакты неизменяемы после публикации.
	ErrAlreadyExists = errors.New("artifact already exists")
)

// Store — хранилище артефактов run'ов.
//
// Ключ артефакта — пара (run, имя): имена уникальны внутри run,
// одинаковые имена в разных run'ах не конфликтуют. Артефакт
// неизменяем после Put.
type Store interface {
	// Put публикует артефакт. Возвращает ErrAlreadyExists,
	// если имя уже занято в этом run.
	Put(ctx context.Context, runID uuid.UUID, executionID uuid.UUID, name string, body io.Reader, size int64) (domain.Artifact, error)

	// Get возвращает содержимое артефакта.
	Get(ctx context.Context, runID uuid.UUID, name string) (io.ReadCloser, domain.Artifact, error)

	// List возвращает метаданные всех артефактов run'а.
	List(ctx context.Context, runID uuid.UUID) ([]domain.Artifact, error)

	// DeleteRun удаляет все артефакты run'а. Жизненный цикл
	// артефактов привязан к run: сборка мусора идёт целыми run'ами.
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

// memEntry — артефакт в памяти.
type memEntry struct {
	meta domain.Artifact
	data []byte
}

// MemoryStore — in-memory реализация Store для тестов и
// однопроцессного режима.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]map[string]memEntry
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]map[string]memEntry)}
}

func (s *MemoryStore) Put(_ context.Context, runID, executionID uuid.UUID, name string, body io.Reader, _ int64) (domain.Artifact, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("read artifact body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.runs[runID]
	if !ok {
		byName = make(map[string]memEntry)
		s.runs[runID] = byName
	}
	if _, dup := byName[name]; dup {
		return domain.Artifact{}, fmt.Errorf("%w: %s in run %s", ErrAlreadyExists, name, runID)
	}

	meta := domain.Artifact{
		Name:        name,
		RunID:       runID,
		ExecutionID: executionID,
		Ref:         fmt.Sprintf("mem://%s/%s", runID, name),
		Size:        int64(len(data)),
		CreatedAt:   time.Now(),
	}
	byName[name] = memEntry{meta: meta, data: data}

	return meta, nil
}

func (s *MemoryStore) Get(_ context.Context, runID uuid.UUID, name string) (io.ReadCloser, domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.runs[runID][name]
	if !ok {
		return nil, domain.Artifact{}, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
	}
	return io.NopCloser(bytes.NewReader(entry.data)), entry.meta, nil
}

func (s *MemoryStore) List(_ context.Context, runID uuid.UUID) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Artifact, 0, len(byName))
	for _, entry := range byName {
		out = append(out, entry.meta)
	}
	return out, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}
