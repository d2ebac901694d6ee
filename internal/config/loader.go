package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/fsutil"
)

// fileRoot decodes all top-level blocks from any configuration file. The
// loader is agnostic to how blocks are split across files; everything is
// merged into one RunConfig.
type fileRoot struct {
	Workload      []string     `hcl:"workload,optional"`
	TreeMethod    *string      `hcl:"tree_method,optional"`
	NetworkMethod *string      `hcl:"network_method,optional"`
	Pools         []*poolBlock `hcl:"pool,block"`
	Tools         []*toolBlock `hcl:"tool,block"`
}

type poolBlock struct {
	Name    string `hcl:"name,label"`
	Workers int    `hcl:"workers"`
}

type toolBlock struct {
	Name       string         `hcl:"name,label"`
	Executable string         `hcl:"executable"`
	Threads    int            `hcl:"threads,optional"`
	Pool       string         `hcl:"pool,optional"`
	Args       hcl.Expression `hcl:"args,optional"`
}

// Load parses every .hcl file under path (a file or a directory) and merges
// the blocks into a single RunConfig. Later files may add pools and tools
// but redefining one is an error, as is declaring the same method twice.
func Load(ctx context.Context, path string) (*RunConfig, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path %s: %w", path, err)
	}
	var files []string
	if info.IsDir() {
		files, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("scanning config directory %s: %w", path, err)
		}
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl configuration files found under %s", path)
	}
	logger.Debug("Discovered configuration files.", "count", len(files))

	cfg := &RunConfig{
		Pools: make(map[string]int),
		Tools: make(map[string]*Tool),
	}

	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}
		if err := mergeRoot(cfg, &root, file); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded.",
		"datasets", len(cfg.Workload),
		"tree_method", cfg.TreeMethod,
		"network_method", cfg.NetworkMethod,
		"pools", len(cfg.Pools),
		"tools", len(cfg.Tools))
	return cfg, nil
}

// mergeRoot folds one decoded file into the accumulated config.
func mergeRoot(cfg *RunConfig, root *fileRoot, file string) error {
	cfg.Workload = append(cfg.Workload, root.Workload...)

	if root.TreeMethod != nil {
		if cfg.TreeMethod != "" {
			return fmt.Errorf("%s: tree_method declared more than once", file)
		}
		cfg.TreeMethod = *root.TreeMethod
	}
	if root.NetworkMethod != nil {
		if cfg.NetworkMethod != "" {
			return fmt.Errorf("%s: network_method declared more than once", file)
		}
		cfg.NetworkMethod = *root.NetworkMethod
	}

	for _, p := range root.Pools {
		if _, exists := cfg.Pools[p.Name]; exists {
			return fmt.Errorf("%s: pool %q declared more than once", file, p.Name)
		}
		if p.Workers < 1 {
			return fmt.Errorf("%s: pool %q has invalid workers %d", file, p.Name, p.Workers)
		}
		cfg.Pools[p.Name] = p.Workers
	}

	for _, t := range root.Tools {
		if _, exists := cfg.Tools[t.Name]; exists {
			return fmt.Errorf("%s: tool %q declared more than once", file, t.Name)
		}
		cfg.Tools[t.Name] = &Tool{
			Name:       t.Name,
			Executable: t.Executable,
			Threads:    t.Threads,
			Pool:       t.Pool,
			Args:       t.Args,
		}
	}
	return nil
}

// applyDefaults fills in the utility pool and per-tool fallbacks.
func applyDefaults(cfg *RunConfig) {
	if _, ok := cfg.Pools[UtilityPool]; !ok {
		cfg.Pools[UtilityPool] = 1
	}
	for _, t := range cfg.Tools {
		if t.Pool == "" {
			t.Pool = UtilityPool
		}
		if t.Threads == 0 {
			t.Threads = 1
		}
	}
}

// validate rejects configurations that cannot possibly drive a run. Method
// enum values are deliberately NOT checked here: the graph builder parses
// them per dataset, keeping a bad selection scoped to graph construction.
func validate(cfg *RunConfig) error {
	if len(cfg.Workload) == 0 {
		return fmt.Errorf("configuration declares no workload datasets")
	}
	if cfg.TreeMethod == "" {
		return fmt.Errorf("configuration declares no tree_method")
	}
	if cfg.NetworkMethod == "" {
		return fmt.Errorf("configuration declares no network_method")
	}
	for name, t := range cfg.Tools {
		if t.Executable == "" {
			return fmt.Errorf("tool %q declares no executable", name)
		}
		if _, ok := cfg.Pools[t.Pool]; !ok {
			return fmt.Errorf("tool %q references undeclared pool %q", name, t.Pool)
		}
	}
	return nil
}
