package graph

import (
	"context"
	"sync/atomic"

	"github.com/biocomp/phylopipe/internal/future"
)

// Artifacts is a list of artifact references (paths under the dataset root)
// that a task consumes or produces. The engine passes them through opaquely;
// path uniqueness is the builder's naming convention.
type Artifacts []string

// Body is the unit of work a task performs once its upstream futures are
// terminal. It receives the succeeded/failed partition of the declared
// upstreams and returns output artifact references or a tool failure. The
// engine invokes a body at most once per graph instance.
type Body func(ctx context.Context, upstream future.Settled) (Artifacts, error)

// GateMode selects how a task reacts to upstream failure.
type GateMode int

const (
	// GateAll is the default: if any upstream failed, the body is not
	// executed and the task's future fails with a BlockedError wrapping the
	// original cause. Failure propagates transitively along this mode.
	GateAll GateMode = iota
	// GateCollect runs the body regardless of upstream failures once every
	// upstream is terminal. The body sees the full partition and applies its
	// own policy to partial results; fan-in aggregation tasks use this.
	GateCollect
)

// Task is one unit of work bound to a pool, with declared upstream futures
// and a body. Tasks are created at graph-construction time and never mutated
// afterwards; the engine never re-submits a task.
type Task struct {
	ID       string
	Pool     string
	Gate     GateMode
	Upstream []*future.Future
	Inputs   Artifacts
	Outputs  Artifacts
	Body     Body

	fut     *future.Future
	pending atomic.Int32
}

// Future returns the future resolved or failed by this task.
func (t *Task) Future() *future.Future {
	return t.fut
}

// settle partitions the task's upstream futures. Only valid once every
// upstream is terminal, which dispatch guarantees.
func (t *Task) settle() future.Settled {
	var out future.Settled
	for _, up := range t.Upstream {
		if up.State() == future.Failed {
			out.Failed = append(out.Failed, up)
		} else {
			out.Succeeded = append(out.Succeeded, up)
		}
	}
	return out
}
