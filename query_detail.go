package codegraph

import (
	"path"
	"sort"
	"strings"

	"github.com/jward/codegraph/internal/store"
)

// transitiveDepth is how far Module follows imports when asked for
// transitive neighbors.
const transitiveDepth = 3

// ModuleDep is one import or dependent of a module. Target is a file path
// for resolved files and the module id otherwise.
type ModuleDep struct {
	Target     string           `json:"target"`
	Confidence store.Confidence `json:"confidence"`
	Symbols    []string         `json:"symbols,omitempty"`
	IsExternal bool             `json:"isExternal,omitempty"`
	IsTypeOnly bool             `json:"isTypeOnly,omitempty"`
	Resolved   bool             `json:"resolved"`
}

// ModuleReexport is one re-export statement: its source and the symbols it
// forwards, "*" for a wildcard.
type ModuleReexport struct {
	Source     string           `json:"source"`
	Symbols    []string         `json:"symbols"`
	Confidence store.Confidence `json:"confidence"`
}

// TransitiveDeps lists files reachable over imports edges within Depth hops.
type TransitiveDeps struct {
	Depth      int      `json:"depth"`
	Imports    []string `json:"imports"`
	Dependents []string `json:"dependents"`
}

// ModuleResult describes one file or module and its immediate neighbors.
type ModuleResult struct {
	ID          string           `json:"id"`
	Path        string           `json:"path,omitempty"`
	Language    string           `json:"language,omitempty"`
	Found       bool             `json:"found"`
	Imports     []ModuleDep      `json:"imports"`
	Dependents  []ModuleDep      `json:"dependents"`
	Exports     []string         `json:"exports"`
	Reexports   []ModuleReexport `json:"reexports"`
	IsBarrel    bool             `json:"isBarrel"`
	Entrypoints []EntrypointRef  `json:"entrypoints"`
	Transitive  *TransitiveDeps  `json:"transitive,omitempty"`
	Meta        QueryMeta        `json:"meta"`
}

// Module returns the imports, dependents, exports, re-exports and
// entrypoints of target. With includeTransitive it also lists the files
// reachable over imports edges within three hops in either direction.
func (q *Query) Module(target string, includeTransitive bool) *ModuleResult {
	res := &ModuleResult{
		ID:          targetID(target),
		Imports:     []ModuleDep{},
		Dependents:  []ModuleDep{},
		Exports:     []string{},
		Reexports:   []ModuleReexport{},
		Entrypoints: []EntrypointRef{},
	}
	n := q.resolveTarget(target)
	if n == nil {
		res.Meta.Reason = "module " + target + " not found in the graph"
		res.Meta.TokensEstimate = tokensEstimate(res)
		return res
	}
	res.ID, res.Path, res.Language, res.Found = n.ID, n.Path, n.Meta.Language, true
	res.Exports = append(res.Exports, n.Exports()...)

	outgoing := dedupeEdges(q.store.EdgesFrom(n.ID), func(e *store.Edge) string { return string(e.Kind) + e.To })
	for _, e := range outgoing {
		switch e.Kind {
		case store.EdgeImports:
			res.Imports = append(res.Imports, q.moduleDep(e, e.To))
		case store.EdgeReexports:
			syms := append([]string{}, e.Meta.Symbols...)
			if len(syms) == 0 {
				syms = []string{"*"}
			}
			res.Reexports = append(res.Reexports, ModuleReexport{
				Source:     q.displayTarget(e.To),
				Symbols:    syms,
				Confidence: e.Confidence,
			})
		}
	}
	incoming := dedupeEdges(q.store.EdgesTo(n.ID), func(e *store.Edge) string { return e.From })
	for _, e := range incoming {
		if e.Kind == store.EdgeImports && !q.store.IsSameNode(e.From, n.ID) {
			res.Dependents = append(res.Dependents, q.moduleDep(e, e.From))
		}
	}
	sort.Slice(res.Imports, func(i, j int) bool { return res.Imports[i].Target < res.Imports[j].Target })
	sort.Slice(res.Dependents, func(i, j int) bool { return res.Dependents[i].Target < res.Dependents[j].Target })

	res.IsBarrel = n.IsBarrel() || (n.Kind == store.KindFile && indexFileNames[path.Base(n.Path)] && len(res.Reexports) > 0)

	if n.Path != "" {
		for _, other := range q.store.NodesAtPath(n.Path) {
			if other.Kind == store.KindEntrypoint {
				res.Entrypoints = append(res.Entrypoints, entrypointRef(other))
			}
		}
	}

	if includeTransitive {
		res.Transitive = &TransitiveDeps{
			Depth:      transitiveDepth,
			Imports:    q.importClosure(n.ID, true),
			Dependents: q.importClosure(n.ID, false),
		}
	}

	res.Meta.TokensEstimate = tokensEstimate(res)
	return res
}

func (q *Query) moduleDep(e *store.Edge, other string) ModuleDep {
	return ModuleDep{
		Target:     q.displayTarget(other),
		Confidence: e.Confidence,
		Symbols:    e.Meta.Symbols,
		IsExternal: e.Meta.IsExternal,
		IsTypeOnly: e.Meta.IsTypeOnly,
		Resolved:   q.store.Node(other) != nil && !strings.HasPrefix(other, store.ModulePrefix),
	}
}

// displayTarget renders a file reference as the stored node's path and any
// other id unchanged.
func (q *Query) displayTarget(id string) string {
	if n := q.store.Node(id); n != nil && n.Kind == store.KindFile {
		return n.Path
	}
	return displayPath(id)
}

// importClosure walks imports edges forward or backward from start for up to
// transitiveDepth hops and returns the stored files reached, sorted.
func (q *Query) importClosure(start string, forward bool) []string {
	seen := map[string]bool{start: true}
	frontier := []string{start}
	out := []string{}
	for d := 0; d < transitiveDepth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			var edges []*store.Edge
			if forward {
				edges = q.store.EdgesFrom(id)
			} else {
				edges = q.store.EdgesTo(id)
			}
			for _, e := range edges {
				if e.Kind != store.EdgeImports {
					continue
				}
				other := e.To
				if !forward {
					other = e.From
				}
				n := q.store.Node(other)
				if n == nil || n.Kind != store.KindFile || seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				next = append(next, n.ID)
				out = append(out, n.Path)
			}
		}
		frontier = next
	}
	sort.Strings(out)
	return out
}
