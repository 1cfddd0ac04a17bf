// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.triggered    — новый run ожидает выполнения
//   - run.cancel       — команда отмены run
//   - run.approval     — решение approver'а по environment gate
//   - job.ready        — job готов к выполнению runner-агентом
//   - job.completed    — отчёт runner-агента о завершении job'а
//
// Exchanges:
//   - conveyor.runs    — триггеры и управляющие команды runs
//   - conveyor.jobs    — dispatch и завершение jobs
//   - conveyor.dlq     — dead letter queue
package mq
