package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biocomp/phylopipe/internal/config"
)

func parseArgs(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "args.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

func testConfig(tools ...*config.Tool) *config.RunConfig {
	cfg := &config.RunConfig{
		Workload:      []string{"d"},
		TreeMethod:    "ml_raxml",
		NetworkMethod: "max_pseudo_likelihood",
		Pools:         map[string]int{config.UtilityPool: 1},
		Tools:         make(map[string]*config.Tool),
	}
	for _, tool := range tools {
		cfg.Tools[tool.Name] = tool
	}
	return cfg
}

func TestEvalArgs(t *testing.T) {
	tool := &config.Tool{
		Name:    "raxml",
		Threads: 4,
		Args:    parseArgs(t, `["-T", threads, "-s", input, "-w", workdir]`),
	}
	req := Request{Dataset: "datasets/primates", Input: "gene1.phy"}

	args, err := evalArgs(tool, req, "datasets/primates/raxml")
	require.NoError(t, err)
	assert.Equal(t, []string{"-T", "4", "-s", "gene1.phy", "-w", "datasets/primates/raxml"}, args)

	t.Run("nil expression yields no args", func(t *testing.T) {
		args, err := evalArgs(&config.Tool{Name: "bare"}, req, "w")
		require.NoError(t, err)
		assert.Nil(t, args)
	})

	t.Run("non-list expression is rejected", func(t *testing.T) {
		bad := &config.Tool{Name: "bad", Args: parseArgs(t, `"just a string"`)}
		_, err := evalArgs(bad, req, "w")
		assert.ErrorContains(t, err, "must be a list of strings")
	})

	t.Run("unknown variable is rejected", func(t *testing.T) {
		bad := &config.Tool{Name: "bad", Args: parseArgs(t, `[nonsense]`)}
		_, err := evalArgs(bad, req, "w")
		assert.ErrorContains(t, err, `evaluating args for tool "bad"`)
	})
}

func TestInvokeExternalTool(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	inv := NewExecInvoker(testConfig(&config.Tool{
		Name:       "checker",
		Executable: "true",
		Threads:    1,
		Pool:       config.UtilityPool,
		Args:       parseArgs(t, `[input]`),
	}))

	out, err := inv.Invoke(context.Background(), Request{
		TaskID:  "tree.checker.gene1",
		Tool:    "checker",
		Dataset: dataset,
		Input:   "gene1.phy",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, filepath.Join(dataset, "checker"), out[0])
	assert.DirExists(t, out[0])
	assert.FileExists(t, filepath.Join(dataset, "logs", "tree.checker.gene1.log"))
}

func TestInvokeExternalToolFailure(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	inv := NewExecInvoker(testConfig(&config.Tool{
		Name:       "broken",
		Executable: "false",
		Threads:    1,
		Pool:       config.UtilityPool,
	}))

	_, err := inv.Invoke(context.Background(), Request{
		TaskID:  "tree.broken.gene1",
		Tool:    "broken",
		Dataset: dataset,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "false")
	assert.ErrorContains(t, err, "see "+filepath.Join(dataset, "logs", "tree.broken.gene1.log"))
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := NewExecInvoker(testConfig())
	_, err := inv.Invoke(context.Background(), Request{Tool: "mystery", Dataset: t.TempDir()})
	assert.ErrorContains(t, err, `no tool block or staging operation named "mystery"`)
}

func TestPrepare(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	seedAlignment(t, dataset, "phylip", "gene1.phy")
	inv := NewExecInvoker(testConfig())

	out, err := inv.Invoke(context.Background(), Request{
		TaskID: "stage.prepare", Tool: OpPrepare, Dataset: dataset,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	for _, dir := range []string{"raxml", "astral", "snaq", "results", "logs"} {
		assert.DirExists(t, filepath.Join(dataset, dir))
	}
	assert.NoDirExists(t, filepath.Join(dataset, "phylonet"))
}

func TestPrepareRejectsEmptyDataset(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "input", "phylip"), 0o755))
	inv := NewExecInvoker(testConfig())

	_, err := inv.Invoke(context.Background(), Request{Tool: OpPrepare, Dataset: dataset})
	assert.ErrorContains(t, err, "is empty")
}

func TestTreeOutputAggregatesBestTrees(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	raxmlDir := filepath.Join(dataset, "raxml")
	require.NoError(t, os.MkdirAll(raxmlDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, resultsDir), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(raxmlDir, "RAxML_bestTree.gene1"), []byte("(a,(b,c));"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(raxmlDir, "RAxML_bestTree.gene2"), []byte("((a,b),c);\n"), 0o644))
	// Non-tree outputs in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(raxmlDir, "RAxML_info.gene1"), []byte("log"), 0o644))

	inv := NewExecInvoker(testConfig())
	out, err := inv.Invoke(context.Background(), Request{Tool: OpTreeOutput, Dataset: dataset})
	require.NoError(t, err)

	require.Len(t, out, 1)
	data, err := os.ReadFile(out[0])
	require.NoError(t, err)
	assert.Equal(t, "(a,(b,c));\n((a,b),c);\n", string(data))
}

func TestTreeOutputRequiresTrees(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "raxml"), 0o755))

	inv := NewExecInvoker(testConfig())
	_, err := inv.Invoke(context.Background(), Request{Tool: OpTreeOutput, Dataset: dataset})
	assert.ErrorContains(t, err, "no gene trees found")
}

func TestQMCDataBuildsQuartetList(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, resultsDir), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "qmc"), 0o755))

	table := "taxon1,taxon2,taxon3,cf\na,b,c\nd,e,f\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataset, resultsDir, "concordance.csv"), []byte(table), 0o644))

	inv := NewExecInvoker(testConfig())
	out, err := inv.Invoke(context.Background(), Request{Tool: OpQMCData, Dataset: dataset})
	require.NoError(t, err)

	require.Len(t, out, 1)
	data, err := os.ReadFile(out[0])
	require.NoError(t, err)
	assert.Equal(t, "a b c\nd e f\n", string(data))
}

func TestPhylonetDataWrapsTreesInNexus(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, resultsDir), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dataset, "phylonet"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dataset, resultsDir, "besttrees.tre"),
		[]byte("(a,(b,c));\n((a,b),c);\n"), 0o644))

	inv := NewExecInvoker(testConfig())
	out, err := inv.Invoke(context.Background(), Request{Tool: OpPhylonetData, Dataset: dataset})
	require.NoError(t, err)

	require.Len(t, out, 1)
	data, err := os.ReadFile(out[0])
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "#NEXUS")
	assert.Contains(t, content, "Tree geneTree1 = (a,(b,c));")
	assert.Contains(t, content, "Tree geneTree2 = ((a,b),c);")
	assert.Contains(t, content, "InferNetwork_MP (geneTree1,geneTree2) 1;")
}

func TestCleanupKeepsResultsAndLogs(t *testing.T) {
	dataset := filepath.Join(t.TempDir(), "primates")
	for _, dir := range []string{"raxml", "astral", "snaq", resultsDir, logsDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(dataset, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dataset, resultsDir, "besttrees.tre"), []byte("t\n"), 0o644))

	inv := NewExecInvoker(testConfig())
	_, err := inv.Invoke(context.Background(), Request{Tool: OpCleanup, Dataset: dataset})
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(dataset, "raxml"))
	assert.NoDirExists(t, filepath.Join(dataset, "astral"))
	assert.NoDirExists(t, filepath.Join(dataset, "snaq"))
	assert.DirExists(t, filepath.Join(dataset, resultsDir))
	assert.DirExists(t, filepath.Join(dataset, logsDir))
	assert.FileExists(t, filepath.Join(dataset, resultsDir, "besttrees.tre"))
}

func seedAlignment(t *testing.T, dataset, format, name string) {
	t.Helper()
	dir := filepath.Join(dataset, "input", format)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(" 4 10\n"), 0o644))
}
