// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (репозитории, artifact store, publisher)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery, metrics)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - pipeline_handler.go  — обработчики для /pipelines (YAML-спецификации)
//   - run_handler.go       — обработчики для /runs
//   - execution_handler.go — approvals по executions
//   - artifact_handler.go  — загрузка и выдача артефактов
//   - schedule_handler.go  — обработчики для /schedules
//
// API предоставляет REST endpoints для управления pipelines, runs,
// approvals, артефактами и расписаниями. Мутации выполнения (запуск,
// отмена, approvals) идут через RabbitMQ к координатору.
package api
