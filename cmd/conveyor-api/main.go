// Conveyor API — HTTP-сервер управления pipelines, runs и артефактами.
//
// API не выполняет runs сам: триггеры, отмены и approvals публикуются
// в RabbitMQ и обрабатываются координатором.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HydJing/conveyor/internal/api"
	"github.com/HydJing/conveyor/internal/artifact"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/repo"
	"github.com/HydJing/conveyor/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("conveyor-api")
	logger.Info("starting conveyor-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	pipelineRepo := repo.NewPipelineRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	ledgerRepo := repo.NewLedgerRepo(pool)
	approvalRepo := repo.NewApprovalRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ: без него API работает, но триггеры и отмены
	// выполняющихся runs недоступны
	var publisher *mq.Publisher
	mqURL := os.Getenv("CONVEYOR_MQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, execution mutations disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Хранилище артефактов
	var artifacts artifact.Store
	store, err := artifact.NewMinioStore(ctx, artifact.MinioConfigFromEnv())
	if err != nil {
		logger.Warn("artifact store not available", "error", err)
	} else {
		artifacts = store
		logger.Info("artifact store connected")
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		PipelineRepo:  pipelineRepo,
		RunRepo:       runRepo,
		ExecutionRepo: executionRepo,
		LedgerRepo:    ledgerRepo,
		ApprovalRepo:  approvalRepo,
		ScheduleRepo:  scheduleRepo,
		Artifacts:     artifacts,
		Publisher:     publisher,
		Logger:        logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// HTTP сервер с graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
