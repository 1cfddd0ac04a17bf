package graph

import (
	"fmt"

	"github.com/HydJing/conveyor/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Job — определение job из PipelineSpec.
	Job *domain.JobSpec

	// ID — идентификатор узла (совпадает с Job.ID).
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — неизменяемый направленный ациклический граф jobs.
//
// DAG принадлежит одному run: после Build структура не меняется.
// Топологический порядок служит только подсказкой планировщику —
// фактический порядок выполнения определяется зависимостями,
// независимые jobs выполняются параллельно.
type DAG struct {
	nodes map[string]*Node
	roots []*Node
	order []string
}

// Build валидирует набор JobSpec и строит DAG.
//
// Проверяет: наличие jobs, уникальность ID, существование всех
// depends_on, отсутствие self-dependency и циклов. Любая ошибка
// означает SpecInvalid — run для такой спецификации не создаётся.
func Build(jobs []domain.JobSpec) (*DAG, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	d := &DAG{nodes: make(map[string]*Node, len(jobs))}

	// Первый проход: создаём узлы, проверяем ID
	for i := range jobs {
		job := &jobs[i]

		if job.ID == "" {
			return nil, NewValidationError("", "id", "job has empty ID", ErrEmptyJobID)
		}
		if _, exists := d.nodes[job.ID]; exists {
			return nil, NewValidationError(job.ID, "id",
				fmt.Sprintf("duplicate job ID: %s", job.ID), ErrDuplicateJobID)
		}

		d.nodes[job.ID] = &Node{Job: job, ID: job.ID}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range d.nodes {
		for _, depID := range node.Job.DependsOn {
			if depID == node.ID {
				return nil, NewValidationError(node.ID, "depends_on",
					"job depends on itself", ErrSelfDependency)
			}

			dep, exists := d.nodes[depID]
			if !exists {
				return nil, NewValidationError(node.ID, "depends_on",
					fmt.Sprintf("depends on unknown job: %s", depID), ErrMissingDependency)
			}

			d.addEdge(dep, node)
		}
	}

	d.findRoots()

	order, err := d.topologicalSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	return d, nil
}

// addEdge добавляет ребро from → to, игнорируя дубликаты,
// чтобы избежать двойного учёта InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (d *DAG) findRoots() {
	d.roots = d.roots[:0]
	for _, node := range d.nodes {
		if node.InDegree == 0 {
			d.roots = append(d.roots, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// При обнаружении цикла возвращает CycleError с перечислением цикла.
func (d *DAG) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.roots))
	copy(queue, d.roots)

	order := make([]string, 0, len(d.nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node.ID)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.nodes) {
		return nil, &CycleError{Cycle: d.findCycle(inDegree)}
	}

	return order, nil
}

// findCycle восстанавливает цикл среди узлов с ненулевым остаточным
// inDegree обходом в глубину. Используется только для сообщения об ошибке.
func (d *DAG) findCycle(residual map[string]int) []string {
	// Стартуем с любого узла, оставшегося в цикле
	var start *Node
	for id, deg := range residual {
		if deg > 0 {
			start = d.nodes[id]
			break
		}
	}
	if start == nil {
		return nil
	}

	// Идём по зависимостям, пока не вернёмся в уже посещённый узел
	visited := make(map[string]int) // id → позиция в path
	path := make([]string, 0, len(d.nodes))
	node := start

	for {
		if pos, seen := visited[node.ID]; seen {
			return path[pos:]
		}
		visited[node.ID] = len(path)
		path = append(path, node.ID)

		// Переходим к любой зависимости внутри остаточного графа
		next := (*Node)(nil)
		for _, dep := range node.DependsOn {
			if residual[dep.ID] > 0 {
				next = dep
				break
			}
		}
		if next == nil {
			return path
		}
		node = next
	}
}

// Node возвращает узел по ID.
func (d *DAG) Node(id string) *Node {
	return d.nodes[id]
}

// Nodes возвращает все узлы графа.
func (d *DAG) Nodes() map[string]*Node {
	return d.nodes
}

// Roots возвращает узлы без зависимостей (точки входа).
func (d *DAG) Roots() []*Node {
	return d.roots
}

// TopoOrder возвращает топологически отсортированные ID jobs.
// Порядок — подсказка для планировщика, не контракт выполнения.
func (d *DAG) TopoOrder() []string {
	return d.order
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.nodes)
}

// Dependencies возвращает ID зависимостей job.
func (d *DAG) Dependencies(id string) []string {
	node, ok := d.nodes[id]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		deps = append(deps, dep.ID)
	}
	return deps
}

// Dependents возвращает ID jobs, зависящих от данного.
func (d *DAG) Dependents(id string) []string {
	node, ok := d.nodes[id]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(node.Dependents))
	for _, dep := range node.Dependents {
		deps = append(deps, dep.ID)
	}
	return deps
}
