package future

import (
	"context"
	"sync"
)

// Settled is the outcome of a barrier: the declared futures partitioned by
// terminal state. Order within each slice follows declaration order.
type Settled struct {
	Succeeded []*Future
	Failed    []*Future
}

// AllSucceeded reports whether no member of the set failed.
func (s Settled) AllSucceeded() bool {
	return len(s.Failed) == 0
}

// Values returns the published values of the succeeded futures, in
// declaration order.
func (s Settled) Values() []any {
	values := make([]any, 0, len(s.Succeeded))
	for _, f := range s.Succeeded {
		v, _ := f.Value()
		values = append(values, v)
	}
	return values
}

// Barrier waits for a declared set of futures to all reach a terminal state,
// successfully or not. Unlike awaiting each future in turn and stopping at
// the first error, a barrier always reports the full partition, which lets a
// fan-in task apply its own policy to partial failure.
type Barrier struct {
	futures []*Future
}

// NewBarrier declares a barrier over the given futures.
func NewBarrier(futures ...*Future) *Barrier {
	return &Barrier{futures: futures}
}

// Size returns the number of futures the barrier gates on.
func (b *Barrier) Size() int {
	return len(b.futures)
}

// Wait blocks until every declared future is terminal, then returns the
// succeeded/failed partition. An empty barrier returns immediately. The only
// error returned is context cancellation.
func (b *Barrier) Wait(ctx context.Context) (Settled, error) {
	var wg sync.WaitGroup
	wg.Add(len(b.futures))
	for _, f := range b.futures {
		f.Subscribe(wg.Done)
	}

	settled := make(chan struct{})
	go func() {
		wg.Wait()
		close(settled)
	}()

	select {
	case <-settled:
	case <-ctx.Done():
		return Settled{}, ctx.Err()
	}

	var out Settled
	for _, f := range b.futures {
		if f.State() == Failed {
			out.Failed = append(out.Failed, f)
		} else {
			out.Succeeded = append(out.Succeeded, f)
		}
	}
	return out, nil
}
