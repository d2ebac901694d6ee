// Package tools wraps the external analysis binaries and the in-process
// staging operations that task bodies delegate to. The engine sees only the
// Invoker contract; everything behind it is a tool adapter.
package tools

import (
	"context"

	"github.com/biocomp/phylopipe/internal/graph"
)

// Request identifies one tool invocation. TaskID names the calling task (log
// files are derived from it), Dataset is the dataset root, Input is the
// per-file fan-out input (empty for stage-level operations), and Upstream
// carries the resolved upstream artifact references.
type Request struct {
	TaskID   string
	Tool     string
	Dataset  string
	Input    string
	Upstream graph.Artifacts
}

// Invoker runs one named tool or staging operation. Implementations must be
// safe for concurrent calls across pools and must treat each Request as an
// at-most-once invocation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (graph.Artifacts, error)
}

// Names of the in-process staging operations. External tool names come from
// the configuration's tool blocks instead.
const (
	OpPrepare      = "prepare"
	OpTreeOutput   = "tree_output"
	OpBuckyData    = "bucky_data"
	OpBuckyOutput  = "bucky_output"
	OpQMCData      = "qmc_data"
	OpPhylonetData = "phylonet_data"
	OpCleanup      = "cleanup"
)
