package codegraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/codegraph/internal/indexer"
	"github.com/jward/codegraph/internal/store"
)

// Analyze recomputes the structural issues of the current graph and stores
// them. It returns the new issue list.
func (e *Engine) Analyze(ctx context.Context) []Issue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyze(ctx)
}

// analyze runs with e.mu held.
func (e *Engine) analyze(ctx context.Context) []Issue {
	_, span := tracer.Start(ctx, "codegraph.Engine.Analyze")
	defer span.End()

	var issues []Issue
	issues = append(issues, e.barrels.ValidateReexports()...)
	issues = append(issues, e.barrels.DetectCircularReexports()...)
	issues = append(issues, circularDependencies(e.store)...)
	issues = append(issues, unreachableHandlers(e.store)...)

	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Meta.FilePath != b.Meta.FilePath {
			return a.Meta.FilePath < b.Meta.FilePath
		}
		return a.ID < b.ID
	})
	e.store.SetIssues(issues)

	e.logger.Debug("engine.analyze", "issues", len(issues))
	return issues
}

// circularDependencies reports every import cycle between files.
func circularDependencies(s *store.GraphStore) []Issue {
	cycles := fileCycles(s, store.EdgeImports)
	issues := make([]Issue, 0, len(cycles))
	for _, cycle := range cycles {
		issues = append(issues, store.Issue{
			ID:           issueID(store.IssueCircularDependency, cycle...),
			Kind:         store.IssueCircularDependency,
			Severity:     store.SeverityWarning,
			Message:      fmt.Sprintf("%d file(s) import each other in a cycle", len(cycle)),
			Evidence:     cycleEvidence(cycle),
			SuggestedFix: "Move the shared code into a module both sides can import.",
			Meta:         store.IssueMeta{FilePath: cycle[0], Chain: cycle},
		})
	}
	return issues
}

// unreachableHandlers reports route modules nothing imports. Route modules
// only serve traffic once another file mounts them, unlike a server bootstrap.
func unreachableHandlers(s *store.GraphStore) []Issue {
	var issues []Issue
	for _, ep := range s.NodesByKind(store.KindEntrypoint) {
		if ep.Meta.EntrypointMeta == nil || !indexer.IsRouterRule(ep.Meta.EntrypointMeta.Rule) {
			continue
		}
		file := s.NodeByPath(ep.Path)
		if file == nil || hasInboundImport(s, file.ID) {
			continue
		}
		issues = append(issues, store.Issue{
			ID:       issueID(store.IssueUnreachableHandler, ep.ID),
			Kind:     store.IssueUnreachableHandler,
			Severity: store.SeverityWarning,
			Message:  fmt.Sprintf("%s defines %s handlers but no file imports it", ep.Path, ep.EntrypointType()),
			Evidence: []string{
				fmt.Sprintf("detected by rule %s (%s)", ep.Meta.EntrypointMeta.Rule, ep.Framework()),
				"no imports or reexports edge targets " + file.ID,
			},
			SuggestedFix: "Mount the router from the application entrypoint or delete the file.",
			Meta:         store.IssueMeta{FilePath: ep.Path},
		})
	}
	return issues
}

func hasInboundImport(s *store.GraphStore, id string) bool {
	for _, e := range s.EdgesTo(id) {
		if (e.Kind == store.EdgeImports || e.Kind == store.EdgeReexports) && !s.IsSameNode(e.From, id) {
			return true
		}
	}
	return false
}
