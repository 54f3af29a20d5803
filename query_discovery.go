package codegraph

import (
	"fmt"
	"sort"

	"github.com/jward/codegraph/internal/store"
)

// Digest and Issues limits.
const (
	DefaultDigestLimit  = 10
	maxDigestLimit      = 100
	entrypointsPerType  = 5
	DefaultIssuesLimit  = 20
	MaxIssuesLimit      = 50
	hotspotsByImporters = "importers"
	hotspotsByExports   = "exports"
)

// DigestSummary counts what a scope contains. Modules are the unresolved or
// external specifiers referenced from the scope.
type DigestSummary struct {
	Files       int `json:"files"`
	Modules     int `json:"modules"`
	Entrypoints int `json:"entrypoints"`
	Symbols     int `json:"symbols"`
	Edges       int `json:"edges"`
	Issues      int `json:"issues"`
}

// EntrypointGroup lists up to five entrypoints of one type; Count is the
// total before truncation.
type EntrypointGroup struct {
	Type  string          `json:"type"`
	Count int             `json:"count"`
	Items []EntrypointRef `json:"items"`
}

// Hotspot is a file ranked by how many files import it.
type Hotspot struct {
	Path      string `json:"path"`
	Importers int    `json:"importers"`
	Exports   int    `json:"exports"`
}

// DigestResult is the overview returned by Digest.
type DigestResult struct {
	Scope       string            `json:"scope,omitempty"`
	Summary     DigestSummary     `json:"summary"`
	Languages   map[string]int    `json:"languages"`
	Entrypoints []EntrypointGroup `json:"entrypoints"`
	Hotspots    []Hotspot         `json:"hotspots"`
	// HotspotsBy is "importers", or "exports" when no import edge resolved
	// to a file in scope.
	HotspotsBy   string         `json:"hotspotsBy"`
	IssuesByKind map[string]int `json:"issuesByKind"`
	Meta         QueryMeta      `json:"meta"`
}

// Digest summarizes the graph, optionally restricted to files under the path
// prefix scope. limit bounds the hotspot list and defaults to 10.
func (q *Query) Digest(scope string, limit int) *DigestResult {
	limit = clamp(limit, DefaultDigestLimit, maxDigestLimit)
	res := &DigestResult{
		Scope:        scope,
		Languages:    map[string]int{},
		Entrypoints:  []EntrypointGroup{},
		Hotspots:     []Hotspot{},
		HotspotsBy:   hotspotsByImporters,
		IssuesByKind: map[string]int{},
	}

	var files []*store.Node
	for _, n := range q.store.NodesByKind(store.KindFile) {
		if inScope(n.Path, scope) {
			files = append(files, n)
			if n.Meta.Language != "" {
				res.Languages[n.Meta.Language]++
			}
		}
	}
	res.Summary.Files = len(files)

	for _, n := range q.store.NodesByKind(store.KindSymbol) {
		if inScope(n.Path, scope) {
			res.Summary.Symbols++
		}
	}

	modules := make(map[string]bool)
	for _, e := range q.store.Edges() {
		from := q.store.Node(e.From)
		if from == nil || !inScope(from.Path, scope) {
			continue
		}
		res.Summary.Edges++
		if n := q.store.Node(e.To); (n == nil || n.Kind == store.KindModule) && e.Kind != store.EdgeRegisters {
			modules[e.To] = true
		}
	}
	res.Summary.Modules = len(modules)

	groups := make(map[string]*EntrypointGroup)
	for _, ep := range q.store.NodesByKind(store.KindEntrypoint) {
		if !inScope(ep.Path, scope) {
			continue
		}
		res.Summary.Entrypoints++
		typ := ep.EntrypointType()
		g, ok := groups[typ]
		if !ok {
			g = &EntrypointGroup{Type: typ, Items: []EntrypointRef{}}
			groups[typ] = g
		}
		g.Count++
		if len(g.Items) < entrypointsPerType {
			g.Items = append(g.Items, entrypointRef(ep))
		}
	}
	for _, g := range groups {
		res.Entrypoints = append(res.Entrypoints, *g)
	}
	sort.Slice(res.Entrypoints, func(i, j int) bool {
		a, b := res.Entrypoints[i], res.Entrypoints[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})

	res.Hotspots, res.HotspotsBy = q.hotspots(files, limit)

	for _, is := range q.store.Issues() {
		if inScope(is.Meta.FilePath, scope) {
			res.IssuesByKind[string(is.Kind)]++
			res.Summary.Issues++
		}
	}

	res.Meta.TokensEstimate = tokensEstimate(res)
	return res
}

// hotspots ranks files by distinct importing files. When nothing in scope is
// imported it ranks by export count instead.
func (q *Query) hotspots(files []*store.Node, limit int) ([]Hotspot, string) {
	all := make([]Hotspot, 0, len(files))
	anyImported := false
	for _, f := range files {
		importers := make(map[string]bool)
		for _, e := range q.store.EdgesTo(f.ID) {
			if e.Kind == store.EdgeImports && !q.store.IsSameNode(e.From, f.ID) {
				importers[e.From] = true
			}
		}
		if len(importers) > 0 {
			anyImported = true
		}
		all = append(all, Hotspot{Path: f.Path, Importers: len(importers), Exports: len(f.Exports())})
	}

	by := hotspotsByImporters
	if anyImported {
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Importers != all[j].Importers {
				return all[i].Importers > all[j].Importers
			}
			return all[i].Path < all[j].Path
		})
		// Files nobody imports are not hotspots.
		n := 0
		for n < len(all) && all[n].Importers > 0 {
			n++
		}
		all = all[:n]
	} else {
		by = hotspotsByExports
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Exports != all[j].Exports {
				return all[i].Exports > all[j].Exports
			}
			return all[i].Path < all[j].Path
		})
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, by
}

// IssueFilter narrows Issues. Zero fields match everything.
type IssueFilter struct {
	Kind        store.IssueKind
	MinSeverity store.Severity
	Scope       string
	Limit       int
}

// IssuesResult is one page of matching issues plus counts over all matches.
type IssuesResult struct {
	Total      int            `json:"total"`
	ByKind     map[string]int `json:"byKind"`
	BySeverity map[string]int `json:"bySeverity"`
	Issues     []store.Issue  `json:"issues"`
	Truncated  bool           `json:"truncated"`
	Suggestion string         `json:"suggestion,omitempty"`
	Meta       QueryMeta      `json:"meta"`
}

// Issues returns the stored issues matching f, most severe first. The page
// holds at most f.Limit issues (default 20, at most 50).
func (q *Query) Issues(f IssueFilter) *IssuesResult {
	limit := clamp(f.Limit, DefaultIssuesLimit, MaxIssuesLimit)
	res := &IssuesResult{
		ByKind:     map[string]int{},
		BySeverity: map[string]int{},
		Issues:     []store.Issue{},
	}

	var matched []store.Issue
	for _, is := range q.store.Issues() {
		if f.Kind != "" && is.Kind != f.Kind {
			continue
		}
		if f.MinSeverity != "" && is.Severity.Rank() < f.MinSeverity.Rank() {
			continue
		}
		if !inScope(is.Meta.FilePath, f.Scope) {
			continue
		}
		matched = append(matched, is)
		res.ByKind[string(is.Kind)]++
		res.BySeverity[string(is.Severity)]++
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Severity.Rank() > matched[j].Severity.Rank()
	})

	res.Total = len(matched)
	if len(matched) > limit {
		res.Truncated = true
		matched = matched[:limit]
		res.Suggestion = narrowingSuggestion(f, res, limit)
	}
	res.Issues = append(res.Issues, matched...)
	if res.Total == 0 {
		res.Meta.Reason = "no issues match the filter"
	}
	res.Meta.TokensEstimate = tokensEstimate(res)
	return res
}

func narrowingSuggestion(f IssueFilter, res *IssuesResult, shown int) string {
	switch {
	case f.Kind == "" && len(res.ByKind) > 1:
		top, n := "", 0
		for k, c := range res.ByKind {
			if c > n || (c == n && k < top) {
				top, n = k, c
			}
		}
		return fmt.Sprintf("Showing %d of %d issues. Filter by kind, e.g. %s (%d).", shown, res.Total, top, n)
	case f.MinSeverity == "" && res.BySeverity[string(store.SeverityError)] > 0:
		return fmt.Sprintf("Showing %d of %d issues. Filter by minimum severity error to see the %d errors.",
			shown, res.Total, res.BySeverity[string(store.SeverityError)])
	default:
		return fmt.Sprintf("Showing %d of %d issues. Narrow the scope to a directory.", shown, res.Total)
	}
}
