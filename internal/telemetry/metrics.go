package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Conveyor. Регистрируются в default registry,
// экспортируются через promhttp на /metrics.
var (
	// RunsStarted — количество запущенных runs.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "runs_started_total",
		Help:      "Total pipeline runs launched.",
	})

	// RunsFinished — количество завершённых runs по итоговому статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "runs_finished_total",
		Help:      "Total pipeline runs finished, by final status.",
	}, []string{"status"})

	// JobsRunning — количество выполняющихся в данный момент jobs.
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conveyor",
		Name:      "jobs_running",
		Help:      "Jobs currently in RUNNING state.",
	})

	// JobsFailed — количество проваленных jobs.
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "jobs_failed_total",
		Help:      "Total job executions that finished FAILED.",
	})

	// ApprovalsRecorded — количество поданных approvals/rejections.
	ApprovalsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "approvals_recorded_total",
		Help:      "Total approval decisions recorded, by kind.",
	}, []string{"kind"})

	// HTTPRequests — количество HTTP-запросов API по методу и статусу.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "http_requests_total",
		Help:      "Total HTTP API requests, by method and status.",
	}, []string{"method", "status"})

	// MQMessagesConsumed — количество обработанных сообщений MQ.
	MQMessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "mq_messages_consumed_total",
		Help:      "Total MQ messages consumed, by queue.",
	}, []string{"queue"})
)
