// Package scheduler реализует выполнение pipeline runs.
//
// На каждый run запускается один цикл планирования: он будится
// терминальными событиями executions и пересчитывает готовность
// остальных jobs. Job проходит путь
//
//	PENDING → READY → [AWAITING_APPROVAL] → [BLOCKED] → RUNNING → терминал
//
// Ожидание approval gate или concurrency group не занимает слот
// параллелизма: семафор берётся только перед переходом в RUNNING.
//
// Структура:
//   - scheduler.go — Scheduler: Launch, цикл планирования, dispatch
//   - state.go     — runState: executions, артефакты, журнал, abort
//   - handle.go    — RunHandle: Wait, Ledger, Abort, approvals
//
// Concurrency groups и предел параллелизма разделяются между всеми
// runs одного Scheduler: вытеснение cancel_in_progress работает и
// между runs.
package scheduler
