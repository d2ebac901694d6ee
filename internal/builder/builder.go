// Package builder constructs the task graph for one dataset from the run
// configuration: it selects the tree-inference and network-inference
// branches, fans out over the input alignments, and wires the fan-in
// barriers, without executing anything.
package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/biocomp/phylopipe/internal/config"
	"github.com/biocomp/phylopipe/internal/future"
	"github.com/biocomp/phylopipe/internal/graph"
	"github.com/biocomp/phylopipe/internal/pool"
	"github.com/biocomp/phylopipe/internal/tools"
)

// Builder turns (dataset root, alignment list, RunConfig) into a validated
// task graph. It is a pure construction step: branch selection happens here,
// at graph-build time, never inside a running task.
type Builder struct {
	cfg     *config.RunConfig
	invoker tools.Invoker
}

// New creates a builder for one run configuration and tool adapter set.
func New(cfg *config.RunConfig, invoker tools.Invoker) *Builder {
	return &Builder{cfg: cfg, invoker: invoker}
}

// Build constructs and validates the graph for one dataset. Unrecognized
// method selections and unsatisfiable pool or tool references fail here,
// before any pool submission happens, and abort this dataset only.
func (b *Builder) Build(dataset string, alignments []string, pools *pool.Registry) (*graph.Graph, error) {
	treeMethod, err := config.ParseTreeMethod(b.cfg.TreeMethod)
	if err != nil {
		return nil, graph.ConfigErrorf("dataset %s: %v", dataset, err)
	}
	networkMethod, err := config.ParseNetworkMethod(b.cfg.NetworkMethod)
	if err != nil {
		return nil, graph.ConfigErrorf("dataset %s: %v", dataset, err)
	}
	if len(alignments) == 0 {
		return nil, graph.ConfigErrorf("dataset %s has no input alignments", dataset)
	}

	g := graph.New(dataset)

	prepare, err := g.Add(&graph.Task{
		ID:   "stage.prepare",
		Pool: config.UtilityPool,
		Body: b.opBody(dataset, tools.OpPrepare, "stage.prepare"),
	})
	if err != nil {
		return nil, err
	}

	var treeTerminal *graph.Task
	switch treeMethod {
	case config.TreeMLRaxML:
		treeTerminal, err = b.likelihoodBranch(g, dataset, "raxml", alignments, prepare)
	case config.TreeMLIQTree:
		treeTerminal, err = b.likelihoodBranch(g, dataset, "iqtree", alignments, prepare)
	case config.TreeBIMrBayes:
		treeTerminal, err = b.bayesianBranch(g, dataset, alignments, prepare)
	default:
		return nil, graph.ConfigErrorf("dataset %s: unhandled tree method %s", dataset, treeMethod)
	}
	if err != nil {
		return nil, err
	}

	var netTerminal *graph.Task
	switch networkMethod {
	case config.NetworkMaxPseudoLikelihood:
		netTerminal, err = b.pseudoLikelihoodBranch(g, dataset, treeTerminal)
	case config.NetworkMaxParsimony:
		netTerminal, err = b.parsimonyBranch(g, dataset, treeTerminal)
	default:
		return nil, graph.ConfigErrorf("dataset %s: unhandled network method %s", dataset, networkMethod)
	}
	if err != nil {
		return nil, err
	}

	cleanup, err := g.Add(&graph.Task{
		ID:       "stage.cleanup",
		Pool:     config.UtilityPool,
		Upstream: []*future.Future{netTerminal.Future()},
		Body:     b.opBody(dataset, tools.OpCleanup, "stage.cleanup"),
	})
	if err != nil {
		return nil, err
	}
	g.SetTerminal(cleanup)

	if err := g.Validate(pools); err != nil {
		return nil, err
	}
	return g, nil
}

// likelihoodBranch fans out one inference task per alignment, all on the
// tool's compute pool and independent of each other, then gates a fan-in
// aggregation task on the full set. The aggregation requires every gene to
// succeed before concatenating the best trees.
func (b *Builder) likelihoodBranch(g *graph.Graph, dataset, toolName string, alignments []string, prepare *graph.Task) (*graph.Task, error) {
	tool, err := b.requireTool(dataset, toolName)
	if err != nil {
		return nil, err
	}

	fanOut := make([]*future.Future, 0, len(alignments))
	for _, alignment := range alignments {
		id := fmt.Sprintf("tree.%s.%s", toolName, geneName(alignment))
		t, err := g.Add(&graph.Task{
			ID:       id,
			Pool:     tool.Pool,
			Upstream: []*future.Future{prepare.Future()},
			Inputs:   graph.Artifacts{alignment},
			Body:     b.fileBody(dataset, toolName, id, alignment),
		})
		if err != nil {
			return nil, err
		}
		fanOut = append(fanOut, t.Future())
	}

	return g.Add(&graph.Task{
		ID:       "tree.aggregate",
		Pool:     config.UtilityPool,
		Gate:     graph.GateCollect,
		Upstream: fanOut,
		Body:     b.aggregateBody(dataset, tools.OpTreeOutput, "tree.aggregate"),
	})
}

// bayesianBranch chains sampling and summarization per alignment, gates the
// concordance staging on every summarization, then runs the concordance and
// quartet max-cut chain. The quartet max-cut task is the branch terminal.
func (b *Builder) bayesianBranch(g *graph.Graph, dataset string, alignments []string, prepare *graph.Task) (*graph.Task, error) {
	mrbayes, err := b.requireTool(dataset, "mrbayes")
	if err != nil {
		return nil, err
	}
	mbsum, err := b.requireTool(dataset, "mbsum")
	if err != nil {
		return nil, err
	}

	summaries := make([]*future.Future, 0, len(alignments))
	for _, alignment := range alignments {
		gene := geneName(alignment)

		sampleID := "tree.mrbayes." + gene
		sample, err := g.Add(&graph.Task{
			ID:       sampleID,
			Pool:     mrbayes.Pool,
			Upstream: []*future.Future{prepare.Future()},
			Inputs:   graph.Artifacts{alignment},
			Body:     b.fileBody(dataset, "mrbayes", sampleID, alignment),
		})
		if err != nil {
			return nil, err
		}

		sumID := "tree.mbsum." + gene
		sum, err := g.Add(&graph.Task{
			ID:       sumID,
			Pool:     mbsum.Pool,
			Upstream: []*future.Future{sample.Future()},
			Inputs:   graph.Artifacts{alignment},
			Body:     b.fileBody(dataset, "mbsum", sumID, alignment),
		})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum.Future())
	}

	buckyData, err := g.Add(&graph.Task{
		ID:       "tree.bucky_data",
		Pool:     config.UtilityPool,
		Gate:     graph.GateCollect,
		Upstream: summaries,
		Body:     b.aggregateBody(dataset, tools.OpBuckyData, "tree.bucky_data"),
	})
	if err != nil {
		return nil, err
	}

	chain := []struct {
		id       string
		tool     string
		external bool
	}{
		{"tree.bucky", "bucky", true},
		{"tree.bucky_output", tools.OpBuckyOutput, false},
		{"tree.qmc_data", tools.OpQMCData, false},
		{"tree.qmc", "qmc", true},
	}
	prev := buckyData
	for _, link := range chain {
		poolName := config.UtilityPool
		if link.external {
			tool, err := b.requireTool(dataset, link.tool)
			if err != nil {
				return nil, err
			}
			poolName = tool.Pool
		}
		t, err := g.Add(&graph.Task{
			ID:       link.id,
			Pool:     poolName,
			Upstream: []*future.Future{prev.Future()},
			Body:     b.opBody(dataset, link.tool, link.id),
		})
		if err != nil {
			return nil, err
		}
		prev = t
	}
	return prev, nil
}

// pseudoLikelihoodBranch chains the species-tree distance step and the
// network search, each depending on the previous task.
func (b *Builder) pseudoLikelihoodBranch(g *graph.Graph, dataset string, treeTerminal *graph.Task) (*graph.Task, error) {
	astral, err := b.requireTool(dataset, "astral")
	if err != nil {
		return nil, err
	}
	snaq, err := b.requireTool(dataset, "snaq")
	if err != nil {
		return nil, err
	}

	distance, err := g.Add(&graph.Task{
		ID:       "net.astral",
		Pool:     astral.Pool,
		Upstream: []*future.Future{treeTerminal.Future()},
		Body:     b.opBody(dataset, "astral", "net.astral"),
	})
	if err != nil {
		return nil, err
	}
	return g.Add(&graph.Task{
		ID:       "net.snaq",
		Pool:     snaq.Pool,
		Upstream: []*future.Future{distance.Future()},
		Body:     b.opBody(dataset, "snaq", "net.snaq"),
	})
}

// parsimonyBranch converts the aggregated trees to the network tool's input
// format, then runs the network search.
func (b *Builder) parsimonyBranch(g *graph.Graph, dataset string, treeTerminal *graph.Task) (*graph.Task, error) {
	phylonet, err := b.requireTool(dataset, "phylonet")
	if err != nil {
		return nil, err
	}

	convert, err := g.Add(&graph.Task{
		ID:       "net.phylonet_data",
		Pool:     config.UtilityPool,
		Upstream: []*future.Future{treeTerminal.Future()},
		Body:     b.opBody(dataset, tools.OpPhylonetData, "net.phylonet_data"),
	})
	if err != nil {
		return nil, err
	}
	return g.Add(&graph.Task{
		ID:       "net.phylonet",
		Pool:     phylonet.Pool,
		Upstream: []*future.Future{convert.Future()},
		Body:     b.opBody(dataset, "phylonet", "net.phylonet"),
	})
}

// requireTool resolves a tool block the selected branch needs, failing graph
// construction when the configuration lacks it.
func (b *Builder) requireTool(dataset, name string) (*config.Tool, error) {
	tool, ok := b.cfg.Tool(name)
	if !ok {
		return nil, graph.ConfigErrorf("dataset %s: branch requires tool %q which is not configured", dataset, name)
	}
	return tool, nil
}

// opBody builds a body for a stage-level operation: it forwards the resolved
// upstream artifacts and invokes the named tool or staging op once.
func (b *Builder) opBody(dataset, toolName, taskID string) graph.Body {
	return func(ctx context.Context, upstream future.Settled) (graph.Artifacts, error) {
		return b.invoker.Invoke(ctx, tools.Request{
			TaskID:   taskID,
			Tool:     toolName,
			Dataset:  dataset,
			Upstream: flatten(upstream),
		})
	}
}

// fileBody builds a body for one per-alignment fan-out task.
func (b *Builder) fileBody(dataset, toolName, taskID, alignment string) graph.Body {
	return func(ctx context.Context, upstream future.Settled) (graph.Artifacts, error) {
		return b.invoker.Invoke(ctx, tools.Request{
			TaskID:   taskID,
			Tool:     toolName,
			Dataset:  dataset,
			Input:    alignment,
			Upstream: flatten(upstream),
		})
	}
}

// aggregateBody builds a fan-in body. The conservative default policy is
// applied here: every gated task must have succeeded before the stage-level
// operation runs on the combined results.
func (b *Builder) aggregateBody(dataset, toolName, taskID string) graph.Body {
	return func(ctx context.Context, upstream future.Settled) (graph.Artifacts, error) {
		if !upstream.AllSucceeded() {
			_, cause := upstream.Failed[0].Value()
			return nil, fmt.Errorf("%d of %d gene tasks failed, all are required: %w",
				len(upstream.Failed), len(upstream.Failed)+len(upstream.Succeeded), cause)
		}
		return b.invoker.Invoke(ctx, tools.Request{
			TaskID:   taskID,
			Tool:     toolName,
			Dataset:  dataset,
			Upstream: flatten(upstream),
		})
	}
}

// flatten collects the artifact references published by the succeeded
// upstream futures, in declaration order.
func flatten(upstream future.Settled) graph.Artifacts {
	var out graph.Artifacts
	for _, v := range upstream.Values() {
		if arts, ok := v.(graph.Artifacts); ok {
			out = append(out, arts...)
		}
	}
	return out
}

// geneName derives the fan-out task suffix from an alignment path.
func geneName(alignment string) string {
	base := filepath.Base(alignment)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
