// Package depgraph builds a directed import graph over a snapshot of source
// files and answers cycle and impact queries against it. Graphs are rebuilt
// on demand from the file set and carry no cross-call identity.
package depgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownFile is returned by impact queries for paths not in the graph.
var ErrUnknownFile = errors.New("file not in dependency graph")

// Graph is a directed graph over file paths. An edge A -> B means A imports
// B. Edges reference only nodes present in the analyzed file set; self-edges
// are dropped during construction.
type Graph struct {
	nodes      map[string]struct{}
	imports    map[string][]string // file -> files it imports
	dependents map[string][]string // file -> files that import it
}

// Builder constructs graphs from file sets.
type Builder struct {
	lang        Language
	logger      *slog.Logger
	parallelism int
}

// NewBuilder creates a Builder for the given language. A nil logger falls
// back to slog.Default.
func NewBuilder(lang Language, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{lang: lang, logger: logger, parallelism: 8}
}

// Build parses every file's imports and assembles the graph. Malformed files
// are skipped with a logged diagnostic, never fatal to the build.
func (b *Builder) Build(ctx context.Context, files []SourceFile) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]struct{}, len(files)),
		imports:    make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, f := range files {
		g.nodes[f.Path] = struct{}{}
	}

	// Parse files concurrently; resolution happens after the wave since it
	// only reads the (already complete) node set.
	var mu sync.Mutex
	rawSpecs := make(map[string][]string, len(files))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.parallelism)
	for _, f := range files {
		file := f
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			specs, err := b.lang.Imports(file.Path, file.Content)
			if err != nil {
				b.logger.Warn("skipping malformed file", "path", file.Path, "error", err)
				return nil
			}
			mu.Lock()
			rawSpecs[file.Path] = specs
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("building dependency graph: %w", err)
	}

	for filePath, specs := range rawSpecs {
		seen := make(map[string]struct{})
		for _, spec := range specs {
			target := resolveImport(spec, filePath, g.nodes)
			if target == "" || target == filePath {
				// Outside the file set, or a self-edge.
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			g.imports[filePath] = append(g.imports[filePath], target)
			g.dependents[target] = append(g.dependents[target], filePath)
		}
	}

	// Deterministic adjacency order for stable queries.
	for _, adj := range g.imports {
		sort.Strings(adj)
	}
	for _, adj := range g.dependents {
		sort.Strings(adj)
	}

	return g, nil
}

// Nodes returns all file paths in the graph, sorted.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Imports returns the files the given file imports.
func (g *Graph) Imports(path string) []string {
	return append([]string(nil), g.imports[path]...)
}

// Order returns file paths in dependency order (imported files first), or an
// error if the graph contains a cycle.
func (g *Graph) Order() ([]string, error) {
	var edges []toposort.Edge
	for _, n := range g.Nodes() {
		deps := g.imports[n]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, n})
			continue
		}
		for _, dep := range deps {
			edges = append(edges, toposort.Edge{dep, n})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, n := range sorted {
		if n != nil {
			order = append(order, n.(string))
		}
	}
	return order, nil
}

// Cycle is a list of file paths forming an import cycle, starting from the
// lexicographically smallest member.
type Cycle []string

// DetectCycles returns all distinct import cycles. Each cycle is reported
// once regardless of how many edges participate in it.
func (g *Graph) DetectCycles() []Cycle {
	// Fast path: topological sort succeeding proves acyclicity.
	if _, err := g.Order(); err == nil {
		return nil
	}

	const (
		white = iota // unvisited
		grey         // on the recursion stack
		black        // fully explored
	)

	color := make(map[string]int, len(g.nodes))
	var stack []string
	seen := make(map[string]struct{})
	var cycles []Cycle

	var visit func(node string)
	visit = func(node string) {
		color[node] = grey
		stack = append(stack, node)

		for _, next := range g.imports[node] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				// next is on the stack: the stack suffix from next to node
				// is a cycle.
				start := len(stack) - 1
				for start >= 0 && stack[start] != next {
					start--
				}
				cycle := canonicalize(stack[start:])
				key := strings.Join(cycle, "\x00")
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for _, n := range g.Nodes() {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// canonicalize rotates a cycle so its smallest member comes first, making
// equal cycles discovered from different entry points compare identical.
func canonicalize(nodes []string) Cycle {
	smallest := 0
	for i := 1; i < len(nodes); i++ {
		if nodes[i] < nodes[smallest] {
			smallest = i
		}
	}
	cycle := make(Cycle, 0, len(nodes))
	cycle = append(cycle, nodes[smallest:]...)
	cycle = append(cycle, nodes[:smallest]...)
	return cycle
}

// RiskLevel grades the blast radius of changing a file.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// String returns the lowercase name used in logs and plans.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	}
	return "unknown"
}

// Thresholds configures risk grading: transitive-dependent counts up to Low
// grade LOW, up to Medium grade MEDIUM, anything above grades HIGH.
type Thresholds struct {
	Low    int
	Medium int
}

// DefaultThresholds returns the stock grading cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 2, Medium: 8}
}

// Grade maps a transitive-dependent count to a risk level.
func (t Thresholds) Grade(transitiveDependents int) RiskLevel {
	switch {
	case transitiveDependents <= t.Low:
		return RiskLow
	case transitiveDependents <= t.Medium:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ImpactAnalysis reports which files depend on a queried file. Both
// dependent sets exclude the queried file itself.
type ImpactAnalysis struct {
	Path                 string
	DirectDependents     []string
	TransitiveDependents []string
	Risk                 RiskLevel
}

// Impact computes direct and transitive dependents of path over reverse
// edges and grades the risk with the given thresholds.
func (g *Graph) Impact(path string, th Thresholds) (ImpactAnalysis, error) {
	if _, ok := g.nodes[path]; !ok {
		return ImpactAnalysis{}, fmt.Errorf("%w: %s", ErrUnknownFile, path)
	}

	direct := append([]string(nil), g.dependents[path]...)

	// Breadth-first closure over reverse edges, deduplicated.
	visited := map[string]struct{}{path: {}}
	var transitive []string
	frontier := append([]string(nil), direct...)
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		if _, done := visited[node]; done {
			continue
		}
		visited[node] = struct{}{}
		transitive = append(transitive, node)
		frontier = append(frontier, g.dependents[node]...)
	}
	sort.Strings(transitive)

	return ImpactAnalysis{
		Path:                 path,
		DirectDependents:     direct,
		TransitiveDependents: transitive,
		Risk:                 th.Grade(len(transitive)),
	}, nil
}
