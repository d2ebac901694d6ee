package graph

import (
	"context"

	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/future"
	"github.com/biocomp/phylopipe/internal/pool"
)

// Executor drives one validated graph to completion. Scheduling is push
// based: every task holds an unmet-dependency counter, upstream futures
// notify their subscribers on resolution, and a task is dispatched exactly
// when its counter hits zero. There is no polling loop and no preemption of
// running task bodies; a failed task prunes its downstream through failure
// propagation instead.
type Executor struct {
	graph *Graph
	pools *pool.Registry
}

// NewExecutor pairs a validated graph with the run's pool registry.
func NewExecutor(g *Graph, pools *pool.Registry) *Executor {
	return &Executor{graph: g, pools: pools}
}

// Start wires dependency notifications and submits the initially-ready
// tasks, then returns the terminal task's future without waiting for
// completion. The caller awaits that future (or a barrier across datasets).
func (e *Executor) Start(ctx context.Context) *future.Future {
	logger := ctxlog.FromContext(ctx).With("dataset", e.graph.Dataset)
	logger.Debug("Starting graph execution.", "tasks", e.graph.Len())

	roots := 0
	for _, t := range e.graph.Tasks() {
		if len(t.Upstream) == 0 {
			roots++
			e.dispatch(ctx, t)
			continue
		}
		t.pending.Store(int32(len(t.Upstream)))
		task := t
		for _, up := range t.Upstream {
			up.Subscribe(func() {
				if task.pending.Add(-1) == 0 {
					e.dispatch(ctx, task)
				}
			})
		}
	}
	logger.Debug("Submitted root tasks.", "count", roots)
	return e.graph.Terminal().Future()
}

// dispatch runs once per task, when every declared upstream is terminal.
func (e *Executor) dispatch(ctx context.Context, t *Task) {
	logger := ctxlog.FromContext(ctx).With("dataset", e.graph.Dataset, "task", t.ID)
	settled := t.settle()

	if t.Gate == GateAll && !settled.AllSucceeded() {
		blockedBy := settled.Failed[0]
		_, cause := blockedBy.Value()
		logger.Warn("Skipping task due to upstream failure.", "upstream", blockedBy.TaskID())
		t.Future().Fail(&BlockedError{TaskID: t.ID, Cause: cause})
		return
	}

	p, ok := e.pools.Get(t.Pool)
	if !ok {
		// Validate rejects unknown pools before execution, so this is an
		// engine bug, not a runtime condition.
		panic("graph: dispatch on unregistered pool " + t.Pool)
	}

	p.Submit(func() {
		logger.Info("Starting task.", "pool", t.Pool)
		out, err := t.Body(ctx, settled)
		if err != nil {
			logger.Error("Task failed.", "error", err)
			// Only a bare body error gets wrapped here. A wrapped error deeper
			// in the chain belongs to an upstream task, and the failure must be
			// attributed to this one.
			if _, ok := err.(*ExecutionError); !ok {
				err = &ExecutionError{TaskID: t.ID, Err: err}
			}
			t.Future().Fail(err)
			return
		}
		logger.Info("Task finished.", "outputs", len(out))
		t.Future().Resolve(out)
	})
}
