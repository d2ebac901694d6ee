// Package orchestrator drives one batch run: it builds and starts a task
// graph per dataset, gates on a barrier over every dataset's terminal
// future, and produces the run report. One dataset's failure never stops
// the others.
package orchestrator

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/biocomp/phylopipe/internal/builder"
	"github.com/biocomp/phylopipe/internal/config"
	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/fsutil"
	"github.com/biocomp/phylopipe/internal/future"
	"github.com/biocomp/phylopipe/internal/graph"
	"github.com/biocomp/phylopipe/internal/pool"
	"github.com/biocomp/phylopipe/internal/tools"
)

// Orchestrator owns the batch loop for one run.
type Orchestrator struct {
	cfg     *config.RunConfig
	pools   *pool.Registry
	builder *builder.Builder
}

// New wires an orchestrator from the loaded configuration, the run's pool
// registry, and the tool adapter set.
func New(cfg *config.RunConfig, pools *pool.Registry, invoker tools.Invoker) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		pools:   pools,
		builder: builder.New(cfg, invoker),
	}
}

// Run executes the whole batch and returns the report. The only error it
// returns is context cancellation; per-dataset failures live in the report.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Results: make(map[string]DatasetResult),
	}
	logger := ctxlog.FromContext(ctx).With("run_id", report.RunID)
	logger.Info("Starting batch run.", "datasets", len(o.cfg.Workload))

	var mu sync.Mutex
	type started struct {
		dataset  string
		terminal *future.Future
	}
	var running []started

	// Graph construction per dataset is independent; a bad configuration or
	// an unreadable dataset fails only its own entry in the report. The
	// started executors keep the outer context: task bodies must outlive the
	// construction group.
	var eg errgroup.Group
	for _, dataset := range o.cfg.Workload {
		dataset := dataset
		eg.Go(func() error {
			alignments, err := o.discoverAlignments(dataset)
			if err == nil {
				var g *graph.Graph
				g, err = o.builder.Build(dataset, alignments, o.pools)
				if err == nil {
					terminal := graph.NewExecutor(g, o.pools).Start(ctx)
					mu.Lock()
					running = append(running, started{dataset: dataset, terminal: terminal})
					mu.Unlock()
					logger.Debug("Dataset graph started.", "dataset", dataset, "tasks", g.Len())
					return nil
				}
			}
			logger.Error("Dataset graph construction failed.", "dataset", dataset, "error", err)
			mu.Lock()
			report.Results[dataset] = DatasetResult{Status: Failed, Err: err}
			mu.Unlock()
			return nil // construction failures never abort the batch
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	terminals := make([]*future.Future, 0, len(running))
	for _, s := range running {
		terminals = append(terminals, s.terminal)
	}
	logger.Info("Awaiting dataset completion.", "running", len(terminals))
	if _, err := future.NewBarrier(terminals...).Wait(ctx); err != nil {
		return nil, err
	}

	for _, s := range running {
		if s.terminal.State() == future.Failed {
			_, err := s.terminal.Value()
			taskID, cause := graph.RootCause(err)
			report.Results[s.dataset] = DatasetResult{Status: Failed, FailingTaskID: taskID, Err: cause}
			continue
		}
		report.Results[s.dataset] = DatasetResult{Status: Succeeded}
	}

	logger.Info("Batch run finished.", "succeeded", report.Succeeded())
	return report, nil
}

// discoverAlignments lists the dataset's input alignments for the selected
// tree method: phylip files for the likelihood branches, nexus files for the
// bayesian branch. When the method itself is unrecognized the builder owns
// the error, so discovery reports no files rather than failing first.
func (o *Orchestrator) discoverAlignments(dataset string) ([]string, error) {
	method, err := config.ParseTreeMethod(o.cfg.TreeMethod)
	if err != nil {
		return nil, nil
	}
	dir := filepath.Join(dataset, "input", "phylip")
	ext := ".phy"
	if method == config.TreeBIMrBayes {
		dir = filepath.Join(dataset, "input", "nexus")
		ext = ".nex"
	}
	files, err := fsutil.FindFilesByExtension(dir, ext)
	if err != nil {
		return nil, graph.ConfigErrorf("dataset %s: listing alignments: %v", dataset, err)
	}
	return files, nil
}
