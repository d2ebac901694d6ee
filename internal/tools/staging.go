package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/biocomp/phylopipe/internal/config"
	"github.com/biocomp/phylopipe/internal/ctxlog"
	"github.com/biocomp/phylopipe/internal/fsutil"
	"github.com/biocomp/phylopipe/internal/graph"
)

// resultsDir and logsDir are the two dataset subdirectories that survive
// cleanup; every per-tool work directory is scratch.
const (
	resultsDir = "results"
	logsDir    = "logs"
)

// prepare stages the dataset for the selected branches: it verifies the
// input alignments exist and creates the per-tool work directories, the
// results directory, and the log directory.
func (e *ExecInvoker) prepare(ctx context.Context, req Request) (graph.Artifacts, error) {
	logger := ctxlog.FromContext(ctx).With("dataset", req.Dataset)

	treeMethod, err := config.ParseTreeMethod(e.cfg.TreeMethod)
	if err != nil {
		return nil, err
	}
	networkMethod, err := config.ParseNetworkMethod(e.cfg.NetworkMethod)
	if err != nil {
		return nil, err
	}

	inputDir := filepath.Join(req.Dataset, "input", "phylip")
	if treeMethod == config.TreeBIMrBayes {
		inputDir = filepath.Join(req.Dataset, "input", "nexus")
	}
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("dataset %s has no input alignments: %w", req.Dataset, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset %s: %s is empty", req.Dataset, inputDir)
	}

	var folders []string
	switch treeMethod {
	case config.TreeMLRaxML:
		folders = append(folders, "raxml")
	case config.TreeMLIQTree:
		folders = append(folders, "iqtree")
	case config.TreeBIMrBayes:
		folders = append(folders, "mrbayes", "mbsum", "bucky", "qmc")
	}
	switch networkMethod {
	case config.NetworkMaxPseudoLikelihood:
		folders = append(folders, "astral", "snaq")
	case config.NetworkMaxParsimony:
		folders = append(folders, "phylonet")
	}
	folders = append(folders, resultsDir, logsDir)

	var created graph.Artifacts
	for _, folder := range folders {
		dir := filepath.Join(req.Dataset, folder)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("staging dataset %s: %w", req.Dataset, err)
		}
		created = append(created, dir)
	}
	logger.Debug("Dataset staged.", "folders", len(created), "alignments", len(entries))
	return created, nil
}

// treeOutput is the maximum-likelihood fan-in: it collects the best tree of
// every gene from the inference tool's work directory and concatenates them
// into results/besttrees.tre, the file every network branch reads.
func (e *ExecInvoker) treeOutput(ctx context.Context, req Request) (graph.Artifacts, error) {
	treeMethod, err := config.ParseTreeMethod(e.cfg.TreeMethod)
	if err != nil {
		return nil, err
	}

	var treeFiles []string
	switch treeMethod {
	case config.TreeMLRaxML:
		treeFiles, err = filesWithPrefix(filepath.Join(req.Dataset, "raxml"), "RAxML_bestTree.")
	case config.TreeMLIQTree:
		treeFiles, err = fsutil.FindFilesByExtension(filepath.Join(req.Dataset, "iqtree"), ".treefile")
	case config.TreeBIMrBayes:
		return nil, fmt.Errorf("tree_output is not part of the bayesian branch")
	}
	if err != nil {
		return nil, fmt.Errorf("collecting gene trees for %s: %w", req.Dataset, err)
	}
	if len(treeFiles) == 0 {
		return nil, fmt.Errorf("no gene trees found for dataset %s (%s)", req.Dataset, treeMethod)
	}

	out := filepath.Join(req.Dataset, resultsDir, "besttrees.tre")
	if err := concatFiles(treeFiles, out); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out, err)
	}
	ctxlog.FromContext(ctx).Debug("Gene trees aggregated.", "dataset", req.Dataset, "trees", len(treeFiles))
	return graph.Artifacts{out}, nil
}

// buckyData stages the concordance analysis: it lists every mbsum summary
// and writes the input manifest the bucky invocation consumes.
func (e *ExecInvoker) buckyData(_ context.Context, req Request) (graph.Artifacts, error) {
	sums, err := fsutil.FindFilesByExtension(filepath.Join(req.Dataset, "mbsum"), ".sum")
	if err != nil {
		return nil, fmt.Errorf("listing mbsum summaries for %s: %w", req.Dataset, err)
	}
	if len(sums) == 0 {
		return nil, fmt.Errorf("no mbsum summaries found for dataset %s", req.Dataset)
	}

	manifest := filepath.Join(req.Dataset, "bucky", "infiles.txt")
	if err := writeLines(manifest, sums); err != nil {
		return nil, fmt.Errorf("writing bucky manifest: %w", err)
	}
	return graph.Artifacts{manifest}, nil
}

// buckyOutput merges the per-quartet concordance factors produced by bucky
// into a single table under results/.
func (e *ExecInvoker) buckyOutput(_ context.Context, req Request) (graph.Artifacts, error) {
	files, err := fsutil.FindFilesByExtension(filepath.Join(req.Dataset, "bucky"), ".concordance")
	if err != nil {
		return nil, fmt.Errorf("listing concordance files for %s: %w", req.Dataset, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no concordance output found for dataset %s", req.Dataset)
	}

	out := filepath.Join(req.Dataset, resultsDir, "concordance.csv")
	if err := concatFiles(files, out); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out, err)
	}
	return graph.Artifacts{out}, nil
}

// qmcData converts the concordance table into the quartet list consumed by
// the quartet max-cut binary.
func (e *ExecInvoker) qmcData(_ context.Context, req Request) (graph.Artifacts, error) {
	table := filepath.Join(req.Dataset, resultsDir, "concordance.csv")
	in, err := os.Open(table)
	if err != nil {
		return nil, fmt.Errorf("reading concordance table: %w", err)
	}
	defer in.Close()

	var quartets []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "taxon") {
			continue
		}
		quartets = append(quartets, strings.ReplaceAll(line, ",", " "))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading concordance table: %w", err)
	}
	if len(quartets) == 0 {
		return nil, fmt.Errorf("concordance table for %s holds no quartets", req.Dataset)
	}

	out := filepath.Join(req.Dataset, "qmc", "quartets.txt")
	if err := writeLines(out, quartets); err != nil {
		return nil, fmt.Errorf("writing quartet list: %w", err)
	}
	return graph.Artifacts{out}, nil
}

// phylonetData wraps the aggregated gene trees in the NEXUS input file the
// parsimony network search expects.
func (e *ExecInvoker) phylonetData(_ context.Context, req Request) (graph.Artifacts, error) {
	trees, err := readLines(filepath.Join(req.Dataset, resultsDir, "besttrees.tre"))
	if err != nil {
		return nil, fmt.Errorf("reading aggregated gene trees: %w", err)
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("no gene trees available for phylonet input in %s", req.Dataset)
	}

	var sb strings.Builder
	sb.WriteString("#NEXUS\n\nBEGIN TREES;\n")
	names := make([]string, 0, len(trees))
	for i, tree := range trees {
		name := fmt.Sprintf("geneTree%d", i+1)
		names = append(names, name)
		fmt.Fprintf(&sb, "Tree %s = %s\n", name, tree)
	}
	sb.WriteString("END;\n\nBEGIN PHYLONET;\n")
	fmt.Fprintf(&sb, "InferNetwork_MP (%s) 1;\n", strings.Join(names, ","))
	sb.WriteString("END;\n")

	out := filepath.Join(req.Dataset, "phylonet", "input.nex")
	if err := os.WriteFile(out, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing phylonet input: %w", err)
	}
	return graph.Artifacts{out}, nil
}

// cleanup removes every per-tool scratch directory, keeping results/ and
// logs/. It runs last in every graph shape.
func (e *ExecInvoker) cleanup(ctx context.Context, req Request) (graph.Artifacts, error) {
	logger := ctxlog.FromContext(ctx).With("dataset", req.Dataset)

	scratch := map[string]struct{}{
		"raxml": {}, "iqtree": {}, "mrbayes": {}, "mbsum": {},
		"bucky": {}, "qmc": {}, "astral": {}, "snaq": {}, "phylonet": {},
	}
	for name := range e.cfg.Tools {
		scratch[name] = struct{}{}
	}

	names := make([]string, 0, len(scratch))
	for name := range scratch {
		names = append(names, name)
	}
	sort.Strings(names)

	removed := 0
	for _, name := range names {
		dir := filepath.Join(req.Dataset, name)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("removing scratch dir %s: %w", dir, err)
		}
		removed++
	}
	logger.Debug("Scratch directories removed.", "count", removed)
	return graph.Artifacts{filepath.Join(req.Dataset, resultsDir)}, nil
}

// filesWithPrefix lists files in dir whose base name starts with prefix,
// sorted for stable aggregation order.
func filesWithPrefix(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// concatFiles writes the contents of every input file, in order, to out.
func concatFiles(files []string, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// writeLines writes one entry per line to path.
func writeLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// readLines returns the non-empty lines of path.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
