// Package coordinator управляет жизненным циклом pipeline runs.
//
// Coordinator отвечает за:
//   - Получение триггерных событий из очереди RabbitMQ
//   - Polling fallback по PENDING runs в БД
//   - Запуск runs через планировщик и сохранение его переходов в БД
//   - Маршрутизацию approvals и отмен в активные runs
//   - Срабатывание cron-расписаний pipelines
//   - Удаление артефактов завершённых runs по истечении TTL
//
// Coordinator — это внешний слой планировщика: планировщик владеет
// семантикой выполнения, координатор — персистентностью и транспортом.
package coordinator
