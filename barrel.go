package codegraph

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dominikbraun/graph"
	"github.com/zeebo/xxh3"

	"github.com/jward/codegraph/internal/store"
)

// DefaultMaxChainDepth bounds TraceReexportChain when no depth is given.
const DefaultMaxChainDepth = 10

// barrelThreshold is the minimum share of import/export statement lines.
const barrelThreshold = 0.8

var indexFileNames = map[string]bool{
	"index.ts": true, "index.tsx": true, "index.js": true, "index.jsx": true,
	"index.mts": true, "index.mjs": true, "index.cts": true, "index.cjs": true,
}

var reexportStmt = regexp.MustCompile(`^export\s+(?:type\s+)?(?:\*(?:\s+as\s+[\w$]+)?|\{[^}]*\})\s*from\s*['"]`)

// BarrelInfo describes how much of a file is re-export plumbing.
type BarrelInfo struct {
	Path           string  `json:"path"`
	IsBarrel       bool    `json:"isBarrel"`
	IsIndexFile    bool    `json:"isIndexFile"`
	ReexportCount  int     `json:"reexportCount"`
	StatementLines int     `json:"statementLines"`
	CodeLines      int     `json:"codeLines"`
	Ratio          float64 `json:"ratio"`
}

// ChainResult is the outcome of following a symbol through re-exports.
// Chain lists file paths from the start file to the last hop.
type ChainResult struct {
	Symbol     string   `json:"symbol"`
	Chain      []string `json:"chain"`
	IsCircular bool     `json:"isCircular"`
	Depth      int      `json:"depth"`
}

// BarrelAnalyzer detects barrel files and checks the re-export edges
// recorded in a GraphStore.
type BarrelAnalyzer struct {
	store *store.GraphStore

	mu    sync.Mutex
	cache map[string]*BarrelInfo
}

// NewBarrelAnalyzer returns an analyzer reading re-export edges from s.
func NewBarrelAnalyzer(s *store.GraphStore) *BarrelAnalyzer {
	return &BarrelAnalyzer{store: s, cache: make(map[string]*BarrelInfo)}
}

// AnalyzeFile classifies the file at p. Results are cached by path until
// Forget is called.
func (b *BarrelAnalyzer) AnalyzeFile(p string, content []byte) *BarrelInfo {
	b.mu.Lock()
	if info, ok := b.cache[p]; ok {
		b.mu.Unlock()
		return info
	}
	b.mu.Unlock()

	info := analyzeBarrel(p, content)

	b.mu.Lock()
	b.cache[p] = info
	b.mu.Unlock()
	return info
}

// Forget drops the cached analysis of p.
func (b *BarrelAnalyzer) Forget(p string) {
	b.mu.Lock()
	delete(b.cache, p)
	b.mu.Unlock()
}

// Reset drops every cached analysis.
func (b *BarrelAnalyzer) Reset() {
	b.mu.Lock()
	b.cache = make(map[string]*BarrelInfo)
	b.mu.Unlock()
}

func analyzeBarrel(p string, content []byte) *BarrelInfo {
	info := &BarrelInfo{Path: p, IsIndexFile: indexFileNames[strings.ToLower(path.Base(p))]}

	var (
		stmt      strings.Builder
		inStmt    bool
		depth     int
		inComment bool
	)
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if inComment {
			if i := strings.Index(line, "*/"); i >= 0 {
				inComment = false
				line = strings.TrimSpace(line[i+2:])
			} else {
				continue
			}
		}
		if strings.HasPrefix(line, "/*") {
			if i := strings.Index(line, "*/"); i >= 0 {
				line = strings.TrimSpace(line[i+2:])
			} else {
				inComment = true
				continue
			}
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		info.CodeLines++

		if !inStmt && (strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "import{") ||
			strings.HasPrefix(line, "export ") || strings.HasPrefix(line, "export{")) {
			inStmt = true
			stmt.Reset()
			depth = 0
		}
		if !inStmt {
			continue
		}
		info.StatementLines++
		stmt.WriteString(line)
		stmt.WriteByte(' ')
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			if reexportStmt.MatchString(stmt.String()) {
				info.ReexportCount++
			}
			inStmt = false
		}
	}
	if info.CodeLines > 0 {
		info.Ratio = float64(info.StatementLines) / float64(info.CodeLines)
	}
	info.IsBarrel = info.IsIndexFile && info.ReexportCount > 0 && info.Ratio >= barrelThreshold
	return info
}

// TraceReexportChain follows symbol from start through single-hop reexports
// edges. A hop prefers an edge naming symbol over a wildcard. Tracing stops
// when no edge carries the symbol further, when a file recurs (IsCircular)
// or after maxDepth hops.
func (b *BarrelAnalyzer) TraceReexportChain(start, symbol string, maxDepth int) ChainResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	cur := b.canonicalFileID(start)
	res := ChainResult{Symbol: symbol, Chain: []string{displayPath(cur)}}
	visited := map[string]bool{cur: true}

	for res.Depth < maxDepth {
		next := b.nextHop(cur, symbol)
		if next == "" {
			break
		}
		res.Depth++
		res.Chain = append(res.Chain, displayPath(next))
		if visited[next] {
			res.IsCircular = true
			break
		}
		visited[next] = true
		cur = next
	}
	return res
}

func (b *BarrelAnalyzer) nextHop(from, symbol string) string {
	var wildcard string
	for _, e := range b.store.EdgesFrom(from) {
		if e.Kind != store.EdgeReexports || !strings.HasPrefix(e.To, store.FilePrefix) {
			continue
		}
		if slices.Contains(e.Meta.Symbols, symbol) {
			return b.canonicalFileID(e.To)
		}
		if wildcard == "" && slices.Contains(e.Meta.Symbols, "*") {
			wildcard = b.canonicalFileID(e.To)
		}
	}
	return wildcard
}

// canonicalFileID maps a path or file id to the id of the stored node it
// addresses, honoring extension equivalence.
func (b *BarrelAnalyzer) canonicalFileID(ref string) string {
	id := ref
	if !strings.Contains(ref, ":") {
		id = store.FileID(ref)
	}
	if n := b.store.Node(id); n != nil {
		return n.ID
	}
	return id
}

// ValidateReexports reports a BROKEN_EXPORT_CHAIN issue for every named
// re-export the target file does not export, and for every re-export whose
// source could not be resolved inside the workspace.
func (b *BarrelAnalyzer) ValidateReexports() []store.Issue {
	var issues []store.Issue
	for _, e := range b.store.Edges() {
		if e.Kind != store.EdgeReexports || e.Meta.IsExternal {
			continue
		}
		fromPath := displayPath(e.From)
		target := b.store.Node(e.To)
		if target == nil {
			issues = append(issues, store.Issue{
				ID:       issueID(store.IssueBrokenExportChain, e.From, e.To),
				Kind:     store.IssueBrokenExportChain,
				Severity: store.SeverityError,
				Message:  fmt.Sprintf("%s re-exports from %q, which could not be resolved", fromPath, e.Meta.ImportPath),
				Evidence: []string{
					fmt.Sprintf("line %d: export ... from %q", e.Meta.Line, e.Meta.ImportPath),
					"edge target " + e.To + " is not an indexed file",
				},
				SuggestedFix: "Fix the module specifier or add the missing file.",
				Meta:         store.IssueMeta{FilePath: fromPath, Chain: []string{fromPath, displayPath(e.To)}},
			})
			continue
		}
		for _, sym := range e.Meta.Symbols {
			if sym == "*" || b.provides(target.ID, sym) {
				continue
			}
			issues = append(issues, store.Issue{
				ID:       issueID(store.IssueBrokenExportChain, e.From, target.ID, sym),
				Kind:     store.IssueBrokenExportChain,
				Severity: store.SeverityError,
				Message:  fmt.Sprintf("%s re-exports %q from %s, which does not export it", fromPath, sym, target.Path),
				Evidence: []string{
					fmt.Sprintf("line %d: export { %s } from %q", e.Meta.Line, sym, e.Meta.ImportPath),
					fmt.Sprintf("%s exports: %s", target.Path, strings.Join(target.Exports(), ", ")),
				},
				SuggestedFix: fmt.Sprintf("Export %q from %s or remove it from the re-export list.", sym, target.Path),
				Meta: store.IssueMeta{
					FilePath: fromPath,
					Symbol:   sym,
					Chain:    []string{fromPath, target.Path},
				},
			})
		}
	}
	return issues
}

// provides reports whether the file fileID exports sym directly or through
// its own wildcard re-exports.
func (b *BarrelAnalyzer) provides(fileID, sym string) bool {
	seen := make(map[string]bool)
	queue := []string{fileID}
	for len(queue) > 0 && len(seen) < DefaultMaxChainDepth*4 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		n := b.store.Node(id)
		if n == nil {
			continue
		}
		if slices.Contains(n.Exports(), sym) {
			return true
		}
		for _, e := range b.store.EdgesFrom(n.ID) {
			if e.Kind == store.EdgeReexports && slices.Contains(e.Meta.Symbols, "*") {
				if e.Meta.IsExternal || !strings.HasPrefix(e.To, store.FilePrefix) {
					// Unknown contents; assume the symbol comes from there.
					return true
				}
				queue = append(queue, e.To)
			}
		}
	}
	return false
}

// DetectCircularReexports reports each strongly connected component of the
// re-export graph as a CIRCULAR_REEXPORT issue. A file re-exporting itself
// is a component of one.
func (b *BarrelAnalyzer) DetectCircularReexports() []store.Issue {
	cycles := fileCycles(b.store, store.EdgeReexports)
	issues := make([]store.Issue, 0, len(cycles))
	for _, cycle := range cycles {
		issues = append(issues, store.Issue{
			ID:       issueID(store.IssueCircularReexport, cycle...),
			Kind:     store.IssueCircularReexport,
			Severity: store.SeverityError,
			Message:  fmt.Sprintf("%d file(s) re-export each other in a cycle", len(cycle)),
			Evidence: cycleEvidence(cycle),
			SuggestedFix: "Remove one of the re-exports so symbols have a single source; " +
				"barrel files should only re-export from leaf modules.",
			Meta: store.IssueMeta{FilePath: cycle[0], Chain: cycle},
		})
	}
	return issues
}

// fileCycles returns the cycles formed by edges of kind between file nodes,
// as sorted path lists, ordered by their first path.
func fileCycles(s *store.GraphStore, kind store.EdgeKind) [][]string {
	g := graph.New(graph.StringHash, graph.Directed())
	selfLoops := make(map[string]bool)
	canonical := func(id string) (string, bool) {
		n := s.Node(id)
		if n == nil || n.Kind != store.KindFile {
			return "", false
		}
		return n.ID, true
	}
	for _, e := range s.Edges() {
		if e.Kind != kind {
			continue
		}
		from, ok := canonical(e.From)
		if !ok {
			continue
		}
		to, ok := canonical(e.To)
		if !ok {
			continue
		}
		if from == to {
			selfLoops[from] = true
			continue
		}
		_ = g.AddVertex(from)
		_ = g.AddVertex(to)
		_ = g.AddEdge(from, to)
	}

	var cycles [][]string
	sccs, err := graph.StronglyConnectedComponents(g)
	if err == nil {
		for _, scc := range sccs {
			if len(scc) < 2 {
				continue
			}
			cycles = append(cycles, sortedPaths(scc))
		}
	}
	for id := range selfLoops {
		cycles = append(cycles, []string{displayPath(id)})
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func sortedPaths(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = displayPath(id)
	}
	sort.Strings(out)
	return out
}

func cycleEvidence(cycle []string) []string {
	if len(cycle) == 1 {
		return []string{cycle[0] + " -> " + cycle[0]}
	}
	return []string{"files in cycle: " + strings.Join(cycle, ", ")}
}

// issueID derives a stable issue id from its kind and identifying parts.
func issueID(kind store.IssueKind, parts ...string) string {
	return fmt.Sprintf("%s-%016x", strings.ToLower(string(kind)), xxh3.HashString(strings.Join(parts, "\x00")))
}

// displayPath strips the file: prefix from id.
func displayPath(id string) string {
	if p, ok := store.PathFromFileID(id); ok {
		return p
	}
	return id
}
