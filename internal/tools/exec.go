package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/biocomp/phylopipe/internal/config"
	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/graph"
)

// ExecInvoker is the production Invoker: tool blocks from the configuration
// become external process invocations, and the staging operation names map
// to in-process implementations. Each external run works inside
// <dataset>/<tool>/ and appends stdout+stderr to <dataset>/logs/<task>.log.
type ExecInvoker struct {
	cfg *config.RunConfig
}

// NewExecInvoker builds the production invoker for one run configuration.
func NewExecInvoker(cfg *config.RunConfig) *ExecInvoker {
	return &ExecInvoker{cfg: cfg}
}

// Invoke dispatches to a configured external tool or a staging operation.
func (e *ExecInvoker) Invoke(ctx context.Context, req Request) (graph.Artifacts, error) {
	if tool, ok := e.cfg.Tool(req.Tool); ok {
		return e.runExternal(ctx, tool, req)
	}
	switch req.Tool {
	case OpPrepare:
		return e.prepare(ctx, req)
	case OpTreeOutput:
		return e.treeOutput(ctx, req)
	case OpBuckyData:
		return e.buckyData(ctx, req)
	case OpBuckyOutput:
		return e.buckyOutput(ctx, req)
	case OpQMCData:
		return e.qmcData(ctx, req)
	case OpPhylonetData:
		return e.phylonetData(ctx, req)
	case OpCleanup:
		return e.cleanup(ctx, req)
	}
	return nil, fmt.Errorf("no tool block or staging operation named %q", req.Tool)
}

// runExternal executes one configured binary. The process is never preempted
// once started; a context cancellation only prevents new invocations.
func (e *ExecInvoker) runExternal(ctx context.Context, tool *config.Tool, req Request) (graph.Artifacts, error) {
	logger := ctxlog.FromContext(ctx).With("tool", tool.Name, "task", req.TaskID)

	workDir := filepath.Join(req.Dataset, tool.Name)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir for %s: %w", tool.Name, err)
	}

	args, err := evalArgs(tool, req, workDir)
	if err != nil {
		return nil, err
	}

	logPath, logFile, err := openTaskLog(req)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	logger.Debug("Invoking external tool.", "executable", tool.Executable, "args", args, "log", logPath)
	cmd := exec.CommandContext(ctx, tool.Executable, args...)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w (see %s)", tool.Executable, strings.Join(args, " "), err, logPath)
	}
	return graph.Artifacts{workDir}, nil
}

// openTaskLog creates <dataset>/logs/<task>.log, collapsing path separators
// in the task id so every task gets its own flat log file.
func openTaskLog(req Request) (string, *os.File, error) {
	logDir := filepath.Join(req.Dataset, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir: %w", err)
	}
	name := strings.ReplaceAll(req.TaskID, string(os.PathSeparator), "_")
	logPath := filepath.Join(logDir, name+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening task log: %w", err)
	}
	return logPath, f, nil
}

// evalArgs evaluates the tool's args expression against the invocation
// context. Configurations reference ${dataset}, ${input}, ${workdir}, and
// ${threads} directly in their flag lists.
func evalArgs(tool *config.Tool, req Request, workDir string) ([]string, error) {
	if tool.Args == nil {
		return nil, nil
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"dataset": cty.StringVal(req.Dataset),
			"input":   cty.StringVal(req.Input),
			"workdir": cty.StringVal(workDir),
			"threads": cty.NumberIntVal(int64(tool.Threads)),
		},
	}
	val, diags := tool.Args.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating args for tool %q: %w", tool.Name, diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsTupleType() && !val.Type().IsListType() {
		return nil, fmt.Errorf("args for tool %q must be a list of strings", tool.Name)
	}

	var args []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		str, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("args for tool %q: %w", tool.Name, err)
		}
		args = append(args, str.AsString())
	}
	return args, nil
}
