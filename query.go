package codegraph

import (
	"encoding/json"
	"strings"

	"github.com/jward/codegraph/internal/store"
)

// Query answers structural questions about a GraphStore. All methods are
// read-only and safe for concurrent use with store mutations; each call sees
// a committed state of every file it touches.
type Query struct {
	store *store.GraphStore
}

// NewQuery returns a Query over s.
func NewQuery(s *store.GraphStore) *Query {
	return &Query{store: s}
}

// QueryMeta is attached to every query result. Reason explains an empty
// result, such as a target that could not be resolved.
type QueryMeta struct {
	TokensEstimate int    `json:"tokensEstimate"`
	Reason         string `json:"reason,omitempty"`
}

// EntrypointRef is the compact form of an entrypoint node used in results.
type EntrypointRef struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Framework string `json:"framework,omitempty"`
}

func entrypointRef(n *store.Node) EntrypointRef {
	return EntrypointRef{ID: n.ID, Path: n.Path, Type: n.EntrypointType(), Framework: n.Framework()}
}

// tokensEstimate approximates the token cost of v as one token per four
// bytes of its JSON form, rounded up.
func tokensEstimate(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return (len(data) + 3) / 4
}

// resolveTarget finds the node a query target names: an exact id, then a
// file path, then the path with a file: prefix added. Extension-equivalent
// paths match.
func (q *Query) resolveTarget(target string) *store.Node {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	if n := q.store.Node(target); n != nil {
		return n
	}
	if n := q.store.NodeByPath(strings.TrimPrefix(target, "./")); n != nil {
		return n
	}
	return q.store.Node(store.FileID(strings.TrimPrefix(target, "./")))
}

// targetID is the id reported for an unresolved target.
func targetID(target string) string {
	target = strings.TrimPrefix(strings.TrimSpace(target), "./")
	for _, prefix := range []string{store.FilePrefix, store.ModulePrefix, store.SymbolPrefix, store.EntrypointPrefix} {
		if strings.HasPrefix(target, prefix) {
			return target
		}
	}
	return store.FileID(target)
}

// inScope reports whether p lies under the path prefix scope. An empty scope
// matches everything.
func inScope(p, scope string) bool {
	scope = strings.Trim(strings.TrimPrefix(scope, "./"), "/")
	if scope == "" || scope == "." {
		return true
	}
	return p == scope || strings.HasPrefix(p, scope+"/")
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// dedupeEdges keeps one edge per (from, to) pair, preferring the highest
// confidence.
func dedupeEdges(edges []*store.Edge, key func(*store.Edge) string) []*store.Edge {
	idx := make(map[string]int, len(edges))
	out := make([]*store.Edge, 0, len(edges))
	for _, e := range edges {
		k := key(e)
		if i, ok := idx[k]; ok {
			if e.Confidence.Rank() > out[i].Confidence.Rank() {
				out[i] = e
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}
