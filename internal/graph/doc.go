// Package graph строит и валидирует DAG зависимостей jobs.
//
// Graph Builder — единственная точка входа спецификации в выполнение:
// набор JobSpec превращается в неизменяемый DAG, либо отклоняется
// целиком (дубликаты ID, висячие зависимости, self-dependency, циклы).
// Цикл в сообщении об ошибке перечисляется поимённо.
package graph
