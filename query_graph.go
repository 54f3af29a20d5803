package codegraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/codegraph/internal/store"
)

// Impact and Path bounds.
const (
	DefaultImpactDepth = 2
	MaxImpactDepth     = 4
	DefaultImpactLimit = 50
	MaxImpactLimit     = 100
	DefaultPathDepth   = 5
	MaxPathDepth       = 10
	DefaultMaxPaths    = 3
	MaxPaths           = 10

	// maxPathExpansions bounds the partial paths Path explores on dense graphs.
	maxPathExpansions = 20000
)

// Risk levels assigned by Impact.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

const importsOnlyNote = "affected entrypoints follow imports edges only; " +
	"entrypoints reaching the target through re-exports or calls are not counted"

// ImpactOptions bounds an Impact traversal.
type ImpactOptions struct {
	// Depth is the number of dependent levels to walk, 1 to 4 (default 2).
	Depth int
	// Limit caps the dependents listed in the result, 1 to 100 (default 50).
	Limit int
}

// ImpactLevel is the set of dependents first reached at Depth.
type ImpactLevel struct {
	Depth      int      `json:"depth"`
	Dependents []string `json:"dependents"`
}

// RiskAssessment grades how far a change to the target reaches.
type RiskAssessment struct {
	Level   string   `json:"level"`
	Reasons []string `json:"reasons"`
	Notes   []string `json:"notes,omitempty"`
}

// ImpactResult lists what depends on a target, directly and transitively.
type ImpactResult struct {
	Target              string          `json:"target"`
	Found               bool            `json:"found"`
	Levels              []ImpactLevel   `json:"levels"`
	TotalDependents     int             `json:"totalDependents"`
	AffectedEntrypoints []EntrypointRef `json:"affectedEntrypoints"`
	RiskAssessment      RiskAssessment  `json:"riskAssessment"`
	Truncated           bool            `json:"truncated"`
	Meta                QueryMeta       `json:"meta"`
}

// Impact walks incoming edges from target level by level and reports the
// dependents, the entrypoints that import any of them and a risk level. An
// unresolved target yields an empty result with a reason; the error is
// non-nil only when ctx is done.
func (q *Query) Impact(ctx context.Context, target string, opts ImpactOptions) (*ImpactResult, error) {
	depth := clamp(opts.Depth, DefaultImpactDepth, MaxImpactDepth)
	limit := clamp(opts.Limit, DefaultImpactLimit, MaxImpactLimit)

	res := &ImpactResult{
		Target:              targetID(target),
		Levels:              []ImpactLevel{},
		AffectedEntrypoints: []EntrypointRef{},
		RiskAssessment:      RiskAssessment{Level: RiskLow, Reasons: []string{}},
	}
	node := q.resolveTarget(target)
	if node == nil {
		res.Meta.Reason = fmt.Sprintf("target %q not found in the graph", target)
		res.RiskAssessment.Reasons = append(res.RiskAssessment.Reasons, res.Meta.Reason)
		res.Meta.TokensEstimate = tokensEstimate(res)
		return res, nil
	}
	res.Target = node.ID
	res.Found = true

	affected := map[string]bool{node.ID: true}
	frontier := []string{node.ID}
	listed := 0
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("impact: %w", err)
		}
		var next []string
		for _, id := range frontier {
			for _, e := range q.store.EdgesTo(id) {
				from := q.canonicalID(e.From)
				if affected[from] {
					continue
				}
				affected[from] = true
				next = append(next, from)
			}
		}
		sort.Strings(next)
		res.TotalDependents += len(next)

		shown := next
		if listed+len(shown) > limit {
			shown = shown[:limit-listed]
			res.Truncated = true
		}
		listed += len(shown)
		if len(shown) > 0 {
			res.Levels = append(res.Levels, ImpactLevel{Depth: level, Dependents: displayPaths(shown)})
		}
		frontier = next
	}

	eps, err := q.entrypointsReaching(ctx, affected)
	if err != nil {
		return nil, err
	}
	res.AffectedEntrypoints = eps
	res.RiskAssessment = assessRisk(res.TotalDependents, len(eps))

	res.Meta.TokensEstimate = tokensEstimate(res)
	return res, nil
}

// canonicalID maps an id to the stored node it addresses, or returns it
// unchanged when no node exists.
func (q *Query) canonicalID(id string) string {
	if n := q.store.Node(id); n != nil {
		return n.ID
	}
	return id
}

// entrypointsReaching returns the entrypoints whose file is in set or reaches
// a member of set by following outgoing imports edges.
func (q *Query) entrypointsReaching(ctx context.Context, set map[string]bool) ([]EntrypointRef, error) {
	out := []EntrypointRef{}
	reaches := make(map[string]bool)
	for _, ep := range q.store.NodesByKind(store.KindEntrypoint) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("impact: %w", err)
		}
		file := q.store.NodeByPath(ep.Path)
		if file == nil {
			continue
		}
		if set[ep.ID] || q.importsReach(file.ID, set, reaches) {
			out = append(out, entrypointRef(ep))
		}
	}
	return out, nil
}

// importsReach reports whether start is in set or reaches it over imports
// edges. Answers are memoized in memo per start file.
func (q *Query) importsReach(start string, set map[string]bool, memo map[string]bool) bool {
	if r, ok := memo[start]; ok {
		return r
	}
	seen := map[string]bool{start: true}
	queue := []string{start}
	found := false
	for len(queue) > 0 && !found {
		id := queue[0]
		queue = queue[1:]
		if set[id] {
			found = true
			break
		}
		for _, e := range q.store.EdgesFrom(id) {
			if e.Kind != store.EdgeImports {
				continue
			}
			to := q.canonicalID(e.To)
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	memo[start] = found
	return found
}

func assessRisk(dependents, entrypoints int) RiskAssessment {
	ra := RiskAssessment{Reasons: []string{}, Notes: []string{importsOnlyNote}}
	switch {
	case dependents > 30 && entrypoints > 5:
		ra.Level = RiskCritical
	case dependents > 20 || entrypoints > 3:
		ra.Level = RiskHigh
	case dependents > 10:
		ra.Level = RiskMedium
	default:
		ra.Level = RiskLow
	}
	ra.Reasons = append(ra.Reasons, fmt.Sprintf("%d transitive dependent(s)", dependents))
	ra.Reasons = append(ra.Reasons, fmt.Sprintf("%d affected entrypoint(s)", entrypoints))
	return ra
}

// PathOptions bounds a Path search.
type PathOptions struct {
	// MaxDepth is the longest path in edges, 1 to 10 (default 5).
	MaxDepth int
	// MaxPaths stops the search after this many paths, 1 to 10 (default 3).
	MaxPaths int
}

// PathHop is one edge of a path.
type PathHop struct {
	From       string           `json:"from"`
	To         string           `json:"to"`
	Kind       store.EdgeKind   `json:"kind"`
	Confidence store.Confidence `json:"confidence"`
}

// GraphPath is one route between two nodes.
type GraphPath struct {
	Length int       `json:"length"`
	Nodes  []string  `json:"nodes"`
	Hops   []PathHop `json:"hops"`
}

// PathResult lists routes from one node to another, shortest first.
type PathResult struct {
	From              string      `json:"from"`
	To                string      `json:"to"`
	Connected         bool        `json:"connected"`
	ShortestPath      int         `json:"shortestPath"`
	Paths             []GraphPath `json:"paths"`
	DepthLimitReached bool        `json:"depthLimitReached"`
	Meta              QueryMeta   `json:"meta"`
}

type partialPath struct {
	nodes []string
	hops  []PathHop
}

// Path searches outgoing edges breadth-first from from to to. Edges into
// nodes missing from the store are skipped. A node may be revisited when it
// is reached again at the same or a shorter depth, so alternate shortest
// routes are found. A search that exhausts its expansion budget reports
// DepthLimitReached. The error is non-nil only when ctx is done.
func (q *Query) Path(ctx context.Context, from, to string, opts PathOptions) (*PathResult, error) {
	maxDepth := clamp(opts.MaxDepth, DefaultPathDepth, MaxPathDepth)
	maxPaths := clamp(opts.MaxPaths, DefaultMaxPaths, MaxPaths)

	res := &PathResult{From: targetID(from), To: targetID(to), Paths: []GraphPath{}}
	src, dst := q.resolveTarget(from), q.resolveTarget(to)
	switch {
	case src == nil:
		res.Meta.Reason = fmt.Sprintf("source %q not found in the graph", from)
	case dst == nil:
		res.Meta.Reason = fmt.Sprintf("destination %q not found in the graph", to)
	}
	if src == nil || dst == nil {
		res.Meta.TokensEstimate = tokensEstimate(res)
		return res, nil
	}
	res.From, res.To = src.ID, dst.ID

	if src.ID == dst.ID {
		res.Connected = true
		res.Paths = append(res.Paths, GraphPath{Nodes: []string{displayPath(src.ID)}, Hops: []PathHop{}})
		res.Meta.TokensEstimate = tokensEstimate(res)
		return res, nil
	}

	best := map[string]int{src.ID: 0}
	queue := []partialPath{{nodes: []string{src.ID}}}
	expansions := 0
	for len(queue) > 0 && len(res.Paths) < maxPaths && expansions < maxPathExpansions {
		if expansions%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("path: %w", err)
			}
		}
		expansions++
		cur := queue[0]
		queue = queue[1:]
		last := cur.nodes[len(cur.nodes)-1]
		edges := q.store.EdgesFrom(last)

		if len(cur.hops) >= maxDepth {
			if len(edges) > 0 {
				res.DepthLimitReached = true
			}
			continue
		}
		for _, e := range edges {
			next := q.store.Node(e.To)
			if next == nil || containsID(cur.nodes, next.ID) {
				continue
			}
			depth := len(cur.hops) + 1
			if d, ok := best[next.ID]; ok && depth > d {
				continue
			}
			best[next.ID] = depth

			p := partialPath{
				nodes: append(append([]string(nil), cur.nodes...), next.ID),
				hops:  append(append([]PathHop(nil), cur.hops...), PathHop{From: last, To: next.ID, Kind: e.Kind, Confidence: e.Confidence}),
			}
			if next.ID == dst.ID {
				res.Paths = append(res.Paths, GraphPath{Length: depth, Nodes: displayPaths(p.nodes), Hops: p.hops})
				if len(res.Paths) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, p)
		}
	}

	capped := expansions >= maxPathExpansions && len(queue) > 0 && len(res.Paths) < maxPaths
	if capped {
		res.DepthLimitReached = true
	}
	switch {
	case len(res.Paths) > 0:
		res.Connected = true
		res.ShortestPath = res.Paths[0].Length
	case capped:
		res.Meta.Reason = fmt.Sprintf("search stopped after %d expansions without reaching the destination; "+
			"the graph may still connect them within %d hops", maxPathExpansions, maxDepth)
	default:
		res.Meta.Reason = fmt.Sprintf("no path within %d hops", maxDepth)
	}
	res.Meta.TokensEstimate = tokensEstimate(res)
	return res, nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func displayPaths(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = displayPath(id)
	}
	return out
}
