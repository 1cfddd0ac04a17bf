// Conveyor Coordinator — управляет выполнением pipeline runs.
//
// Coordinator:
//   - Получает триггеры, отмены и approvals из RabbitMQ
//   - Строит DAG из спецификации pipeline и запускает планировщик
//   - Отправляет jobs внешним runners через jobs.ready
//   - Персистит прогресс, ведёт журнал переходов и финализирует runs
//   - Запускает runs по cron-расписаниям и чистит старые артефакты
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HydJing/conveyor/internal/artifact"
	"github.com/HydJing/conveyor/internal/coordinator"
	"github.com/HydJing/conveyor/internal/mq"
	"github.com/HydJing/conveyor/internal/notify"
	"github.com/HydJing/conveyor/internal/repo"
	"github.com/HydJing/conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("conveyor-coordinator")
	logger.Info("starting conveyor-coordinator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	pipelineRepo := repo.NewPipelineRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	ledgerRepo := repo.NewLedgerRepo(pool)
	approvalRepo := repo.NewApprovalRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("CONVEYOR_MQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Хранилище артефактов (для sweep)
	var artifacts artifact.Store
	store, err := artifact.NewMinioStore(ctx, artifact.MinioConfigFromEnv())
	if err != nil {
		logger.Warn("artifact store not available, sweep disabled", "error", err)
	} else {
		artifacts = store
		logger.Info("artifact store connected")
	}

	// Создаём coordinator
	coord, err := coordinator.New(coordinator.Config{
		PipelineRepo:  pipelineRepo,
		RunRepo:       runRepo,
		ExecutionRepo: executionRepo,
		LedgerRepo:    ledgerRepo,
		ApprovalRepo:  approvalRepo,
		ScheduleRepo:  scheduleRepo,
		Publisher:     publisher,
		Conn:          mqConn,
		Artifacts:     artifacts,
		Notifier:      notify.NewLogNotifier(logger),
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	// Запускаем coordinator
	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("COORD_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем coordinator
	coord.Stop()
	logger.Info("conveyor-coordinator stopped")
}
