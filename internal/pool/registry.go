package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/biocomp/phylopipe/internal/ctxlog"
)

// Registry owns every pool for one run. It is populated once from the run
// configuration and torn down when the run finishes; pools are independent
// of each other, so saturating one never blocks submission to another.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry creates the pools declared in limits, keyed by name.
func NewRegistry(ctx context.Context, limits map[string]int) (*Registry, error) {
	logger := ctxlog.FromContext(ctx)
	r := &Registry{pools: make(map[string]*Pool, len(limits))}
	for name, workers := range limits {
		if workers < 1 {
			return nil, fmt.Errorf("pool %q has invalid concurrency limit %d", name, workers)
		}
		r.pools[name] = New(ctx, name, workers)
	}
	logger.Debug("Pool registry initialized.", "pools", r.Names())
	return r, nil
}

// Get returns the pool registered under name.
func (r *Registry) Get(name string) (*Pool, bool) {
	p, ok := r.pools[name]
	return p, ok
}

// Names returns the registered pool names, sorted for stable logs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close tears down every pool, waiting for queued work to drain.
func (r *Registry) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}
