package domain

import (
	"time"

	"github.com/google/uuid"
)

// Artifact — именованный результат выполнения job.
//
// Артефакт неизменяем после создания и безопасен для конкурентного
// чтения несколькими потребителями. Payload хранится в artifact store
// и адресуется полем Ref; артефакты живут вместе с run и удаляются
// при его сборке мусора (между runs артефакты не разделяются).
type Artifact struct {
	// Name — имя артефакта в рамках run (из JobSpec.Produces).
	Name string `json:"name"`

	// RunID — run, которому принадлежит артефакт.
	RunID uuid.UUID `json:"run_id"`

	// ExecutionID — execution, произведший артефакт.
	ExecutionID uuid.UUID `json:"execution_id"`

	// Ref — ключ payload в artifact store.
	Ref string `json:"ref"`

	// Size — размер payload в байтах.
	Size int64 `json:"size"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
