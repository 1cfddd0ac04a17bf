package api

import (
	"log/slog"

	"github.com/HydJing/conveyor/internal/artifact"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelineRepo  *repo.PipelineRepo
	runRepo       *repo.RunRepo
	executionRepo *repo.ExecutionRepo
	ledgerRepo    *repo.LedgerRepo
	approvalRepo  *repo.ApprovalRepo
	scheduleRepo  *repo.ScheduleRepo
	artifacts     artifact.Store
	publisher     *mq.Publisher
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	PipelineRepo  *repo.PipelineRepo
	RunRepo       *repo.RunRepo
	ExecutionRepo *repo.ExecutionRepo
	LedgerRepo    *repo.LedgerRepo
	ApprovalRepo  *repo.ApprovalRepo
	ScheduleRepo  *repo.ScheduleRepo
	Artifacts     artifact.Store
	Publisher     *mq.Publisher
	Logger        *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		pipelineRepo:  cfg.PipelineRepo,
		runRepo:       cfg.RunRepo,
		executionRepo: cfg.ExecutionRepo,
		ledgerRepo:    cfg.LedgerRepo,
		approvalRepo:  cfg.ApprovalRepo,
		scheduleRepo:  cfg.ScheduleRepo,
		artifacts:     cfg.Artifacts,
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
	}
}
