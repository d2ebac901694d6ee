package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const baseConfig = `
workload       = ["datasets/primates", "datasets/rodents"]
tree_method    = "ml_raxml"
network_method = "max_pseudo_likelihood"

pool "raxml" {
  workers = 4
}

pool "snaq" {
  workers = 2
}

tool "raxml" {
  executable = "raxmlHPC-PTHREADS"
  threads    = 4
  pool       = "raxml"
  args       = ["-T", threads, "-s", input, "-w", workdir]
}

tool "astral" {
  executable = "astral.jar"
}
`

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "run.hcl", baseConfig)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"datasets/primates", "datasets/rodents"}, cfg.Workload)
	assert.Equal(t, "ml_raxml", cfg.TreeMethod)
	assert.Equal(t, "max_pseudo_likelihood", cfg.NetworkMethod)

	assert.Equal(t, 4, cfg.Pools["raxml"])
	assert.Equal(t, 2, cfg.Pools["snaq"])
	// Always present even when the file never declares it.
	assert.Equal(t, 1, cfg.Pools[UtilityPool])

	raxml, ok := cfg.Tool("raxml")
	require.True(t, ok)
	assert.Equal(t, "raxmlHPC-PTHREADS", raxml.Executable)
	assert.Equal(t, 4, raxml.Threads)
	assert.Equal(t, "raxml", raxml.Pool)
	assert.NotNil(t, raxml.Args)

	astral, ok := cfg.Tool("astral")
	require.True(t, ok)
	assert.Equal(t, UtilityPool, astral.Pool)
	assert.Equal(t, 1, astral.Threads)
}

func TestLoadMergesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a_run.hcl", `
workload       = ["datasets/primates"]
tree_method    = "ml_iqtree"
network_method = "max_parsimony"
`)
	writeConfig(t, dir, "b_tools.hcl", `
tool "iqtree" {
  executable = "iqtree2"
  pool       = "compute"
}

pool "compute" {
  workers = 8
}
`)

	cfg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "ml_iqtree", cfg.TreeMethod)
	assert.Equal(t, 8, cfg.Pools["compute"])
	iqtree, ok := cfg.Tool("iqtree")
	require.True(t, ok)
	assert.Equal(t, "compute", iqtree.Pool)
}

func TestLoadRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "no workload",
			content: `
tree_method    = "ml_raxml"
network_method = "max_parsimony"
`,
			wantErr: "no workload",
		},
		{
			name: "no tree method",
			content: `
workload       = ["d"]
network_method = "max_parsimony"
`,
			wantErr: "no tree_method",
		},
		{
			name: "duplicate pool",
			content: `
workload       = ["d"]
tree_method    = "ml_raxml"
network_method = "max_parsimony"

pool "raxml" {
  workers = 1
}

pool "raxml" {
  workers = 2
}
`,
			wantErr: "declared more than once",
		},
		{
			name: "zero workers",
			content: `
workload       = ["d"]
tree_method    = "ml_raxml"
network_method = "max_parsimony"

pool "raxml" {
  workers = 0
}
`,
			wantErr: "invalid workers",
		},
		{
			name: "tool on undeclared pool",
			content: `
workload       = ["d"]
tree_method    = "ml_raxml"
network_method = "max_parsimony"

tool "raxml" {
  executable = "raxmlHPC"
  pool       = "missing"
}
`,
			wantErr: "undeclared pool",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "run.hcl", tc.content)

			_, err := Load(context.Background(), path)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadRejectsDuplicateMethodAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.hcl", `
workload       = ["d"]
tree_method    = "ml_raxml"
network_method = "max_parsimony"
`)
	writeConfig(t, dir, "b.hcl", `
tree_method = "ml_iqtree"
`)

	_, err := Load(context.Background(), dir)
	assert.ErrorContains(t, err, "tree_method declared more than once")
}

// Load accepts any method string; the graph builder rejects unknown values
// per dataset so one bad selection never takes down a whole run.
func TestLoadKeepsMethodsUnparsed(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "run.hcl", `
workload       = ["d"]
tree_method    = "carrier_pigeon"
network_method = "max_parsimony"
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "carrier_pigeon", cfg.TreeMethod)

	_, err = ParseTreeMethod(cfg.TreeMethod)
	assert.ErrorContains(t, err, "carrier_pigeon")
}

func TestParseMethods(t *testing.T) {
	for in, want := range map[string]TreeMethod{
		"ml_raxml":   TreeMLRaxML,
		"ml_iqtree":  TreeMLIQTree,
		"bi_mrbayes": TreeBIMrBayes,
	} {
		got, err := ParseTreeMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, in, got.String())
	}

	for in, want := range map[string]NetworkMethod{
		"max_pseudo_likelihood": NetworkMaxPseudoLikelihood,
		"max_parsimony":         NetworkMaxParsimony,
	} {
		got, err := ParseNetworkMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, in, got.String())
	}

	_, err := ParseNetworkMethod("semaphore")
	assert.ErrorContains(t, err, "semaphore")
}
