// Package graph models one dataset's task graph and executes it: tasks bound
// to named pools, linked by write-once futures, with failure propagation
// along dependency edges instead of cancellation.
package graph

import (
	"github.com/gammazero/toposort"

	"github.com/biocomp/phylopipe/internal/future"
	"github.com/biocomp/phylopipe/internal/pool"
)

// Graph is the full task set for one dataset. The dependency relation must
// be acyclic and every upstream future must belong to a task in the same
// graph; Validate enforces both before anything runs.
type Graph struct {
	Dataset string

	tasks    map[string]*Task
	order    []string // insertion order, makes Tasks() and validation deterministic
	terminal *Task
}

// New creates an empty graph for the given dataset root.
func New(dataset string) *Graph {
	return &Graph{
		Dataset: dataset,
		tasks:   make(map[string]*Task),
	}
}

// Add registers a task and creates its future alongside it. Duplicate ids
// are a construction bug. The task must not be mutated after registration.
func (g *Graph) Add(t *Task) (*Task, error) {
	if t.ID == "" {
		return nil, ConfigErrorf("task with empty id in dataset %s", g.Dataset)
	}
	if _, exists := g.tasks[t.ID]; exists {
		return nil, ConfigErrorf("duplicate task id %q in dataset %s", t.ID, g.Dataset)
	}
	t.fut = future.New(t.ID)
	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
	return t, nil
}

// Task returns the task registered under id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns every task in insertion order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// SetTerminal marks the task whose future represents the whole dataset's
// outcome (the cleanup task).
func (g *Graph) SetTerminal(t *Task) {
	g.terminal = t
}

// Terminal returns the dataset's top-level task.
func (g *Graph) Terminal() *Task {
	return g.terminal
}

// Validate checks the graph against the registered pool set: every task must
// reference a known pool and a body, every upstream future must belong to a
// task in this graph, no task may depend on itself, and the dependency
// relation must be acyclic. Violations return a ConfigurationError before
// any pool submission happens.
func (g *Graph) Validate(pools *pool.Registry) error {
	if g.terminal == nil {
		return ConfigErrorf("dataset %s: no terminal task set", g.Dataset)
	}

	var edges []toposort.Edge
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Body == nil {
			return ConfigErrorf("task %q has no body", t.ID)
		}
		if _, ok := pools.Get(t.Pool); !ok {
			return ConfigErrorf("task %q references unregistered pool %q", t.ID, t.Pool)
		}
		if len(t.Upstream) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, up := range t.Upstream {
			dep, ok := g.tasks[up.TaskID()]
			if !ok {
				return ConfigErrorf("task %q depends on %q which is not in the graph for dataset %s",
					t.ID, up.TaskID(), g.Dataset)
			}
			if dep.ID == t.ID {
				return ConfigErrorf("task %q depends on itself", t.ID)
			}
			if dep.Future() != up {
				return ConfigErrorf("task %q depends on a foreign future for task id %q", t.ID, up.TaskID())
			}
			edges = append(edges, toposort.Edge{dep.ID, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return ConfigErrorf("dataset %s: dependency cycle: %v", g.Dataset, err)
	}
	return nil
}
