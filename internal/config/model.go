// Package config loads and models the run configuration: the dataset
// workload, the tree- and network-inference method selections, the pool
// concurrency limits, and the per-tool invocation settings.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// TreeMethod enumerates the tree-inference branches.
type TreeMethod int

const (
	TreeMLRaxML TreeMethod = iota
	TreeMLIQTree
	TreeBIMrBayes
)

// String returns the configuration spelling of the method.
func (m TreeMethod) String() string {
	switch m {
	case TreeMLRaxML:
		return "ml_raxml"
	case TreeMLIQTree:
		return "ml_iqtree"
	case TreeBIMrBayes:
		return "bi_mrbayes"
	}
	return fmt.Sprintf("tree_method(%d)", int(m))
}

// ParseTreeMethod maps a configuration value to its enum. The error names
// the valid values; callers must not fall back to a default, since silently
// skipping a stage corrupts downstream artifact expectations.
func ParseTreeMethod(s string) (TreeMethod, error) {
	switch s {
	case "ml_raxml":
		return TreeMLRaxML, nil
	case "ml_iqtree":
		return TreeMLIQTree, nil
	case "bi_mrbayes":
		return TreeBIMrBayes, nil
	}
	return 0, fmt.Errorf("unknown tree_method %q (valid: ml_raxml, ml_iqtree, bi_mrbayes)", s)
}

// NetworkMethod enumerates the network-inference branches.
type NetworkMethod int

const (
	NetworkMaxPseudoLikelihood NetworkMethod = iota
	NetworkMaxParsimony
)

// String returns the configuration spelling of the method.
func (m NetworkMethod) String() string {
	switch m {
	case NetworkMaxPseudoLikelihood:
		return "max_pseudo_likelihood"
	case NetworkMaxParsimony:
		return "max_parsimony"
	}
	return fmt.Sprintf("network_method(%d)", int(m))
}

// ParseNetworkMethod maps a configuration value to its enum.
func ParseNetworkMethod(s string) (NetworkMethod, error) {
	switch s {
	case "max_pseudo_likelihood":
		return NetworkMaxPseudoLikelihood, nil
	case "max_parsimony":
		return NetworkMaxParsimony, nil
	}
	return 0, fmt.Errorf("unknown network_method %q (valid: max_pseudo_likelihood, max_parsimony)", s)
}

// Tool holds the invocation settings for one external analysis binary.
// Args stays an unevaluated HCL expression; the invoker evaluates it per
// task against an EvalContext exposing the dataset, input file, and thread
// count, so flags can reference them.
type Tool struct {
	Name       string
	Executable string
	Threads    int
	Pool       string
	Args       hcl.Expression
}

// RunConfig is the immutable configuration for one batch run. Method fields
// keep their raw configuration spelling; the graph builder parses them per
// dataset so one bad selection fails that dataset's graph construction
// rather than the whole process.
type RunConfig struct {
	Workload      []string
	TreeMethod    string
	NetworkMethod string
	Pools         map[string]int
	Tools         map[string]*Tool
}

// Tool returns the tool block registered under name.
func (c *RunConfig) Tool(name string) (*Tool, bool) {
	t, ok := c.Tools[name]
	return t, ok
}

// UtilityPool is the serial pool that staging, aggregation, and cleanup
// tasks run on. It always exists, with a concurrency limit of one.
const UtilityPool = "single_thread"
