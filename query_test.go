package codegraph

import (
	"encoding/json"
	"testing"

	"github.com/jward/codegraph/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuery(t *testing.T) (*Query, *store.GraphStore) {
	t.Helper()
	s := store.New()
	return NewQuery(s), s
}

func addFile(t *testing.T, s *store.GraphStore, p string, exports ...string) string {
	t.Helper()
	s.AddNode(store.Node{
		ID:   store.FileID(p),
		Kind: store.KindFile,
		Name: p,
		Path: p,
		Meta: store.NodeMeta{
			Language:   "typescript",
			Confidence: store.ConfidenceHigh,
			FileMeta:   &store.FileMeta{Exports: exports, Parser: "tree-sitter"},
		},
	})
	return store.FileID(p)
}

func addImport(t *testing.T, s *store.GraphStore, from, to string) {
	t.Helper()
	s.AddEdge(store.Edge{
		From:       store.FileID(from),
		To:         store.FileID(to),
		Kind:       store.EdgeImports,
		Confidence: store.ConfidenceHigh,
		Reason:     "relative import",
	})
}

func addReexport(t *testing.T, s *store.GraphStore, from, to string, symbols ...string) {
	t.Helper()
	s.AddEdge(store.Edge{
		From:       store.FileID(from),
		To:         store.FileID(to),
		Kind:       store.EdgeReexports,
		Confidence: store.ConfidenceHigh,
		Meta:       store.EdgeMeta{ImportPath: "./" + to, Symbols: symbols},
	})
}

func addEntrypoint(t *testing.T, s *store.GraphStore, p, typ, rule string) string {
	t.Helper()
	id := store.EntrypointID(p, typ)
	s.AddNode(store.Node{
		ID:   id,
		Kind: store.KindEntrypoint,
		Name: typ,
		Path: p,
		Meta: store.NodeMeta{
			Confidence:     store.ConfidenceHigh,
			EntrypointMeta: &store.EntrypointMeta{EntrypointType: typ, Framework: "express", Rule: rule},
		},
	})
	s.AddEdge(store.Edge{From: store.FileID(p), To: id, Kind: store.EdgeRegisters, Confidence: store.ConfidenceHigh})
	return id
}

// =============================================================================
// Target resolution
// =============================================================================

func TestResolveTarget_IDPathAndPrefixedPath(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	addFile(t, s, "src/a.ts")

	for _, target := range []string{"file:src/a.ts", "src/a.ts", "./src/a.ts", "src/a.js"} {
		n := q.resolveTarget(target)
		require.NotNil(t, n, target)
		assert.Equal(t, "file:src/a.ts", n.ID, target)
	}
	assert.Nil(t, q.resolveTarget("src/missing.ts"))
	assert.Nil(t, q.resolveTarget(""))
}

func TestTargetID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "file:missing.ts", targetID("missing.ts"))
	assert.Equal(t, "file:missing.ts", targetID("./missing.ts"))
	assert.Equal(t, "module:react", targetID("module:react"))
}

func TestTokensEstimate_CeilOfJSONLength(t *testing.T) {
	t.Parallel()
	v := map[string]string{"a": "b"} // {"a":"b"} is 9 bytes
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.Len(t, data, 9)
	assert.Equal(t, 3, tokensEstimate(v))
}

func TestInScope(t *testing.T) {
	t.Parallel()
	assert.True(t, inScope("src/a.ts", ""))
	assert.True(t, inScope("src/a.ts", "src"))
	assert.True(t, inScope("src/a.ts", "./src/"))
	assert.False(t, inScope("srcx/a.ts", "src"))
	assert.False(t, inScope("lib/a.ts", "src"))
}

// =============================================================================
// Digest
// =============================================================================

func TestDigest_TopHotspotCountsImporters(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	addFile(t, s, "a.ts", "x")
	addFile(t, s, "b.ts")
	addFile(t, s, "c.ts")
	addImport(t, s, "b.ts", "a.ts")
	addImport(t, s, "c.ts", "a.ts")

	res := q.Digest("", 0)
	require.NotEmpty(t, res.Hotspots)
	assert.Equal(t, "a.ts", res.Hotspots[0].Path)
	assert.Equal(t, 2, res.Hotspots[0].Importers)
	assert.Equal(t, "importers", res.HotspotsBy)
	assert.Equal(t, 3, res.Summary.Files)
	assert.Equal(t, 2, res.Summary.Edges)
	assert.Positive(t, res.Meta.TokensEstimate)
}

func TestDigest_FallsBackToExportRanking(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	addFile(t, s, "few.ts", "a")
	addFile(t, s, "many.ts", "a", "b", "c")

	res := q.Digest("", 10)
	assert.Equal(t, "exports", res.HotspotsBy)
	require.Len(t, res.Hotspots, 2)
	assert.Equal(t, "many.ts", res.Hotspots[0].Path)
	assert.Equal(t, 3, res.Hotspots[0].Exports)
}

func TestDigest_GroupsEntrypointsAtMostFivePerType(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	for _, p := range []string{"r1.ts", "r2.ts", "r3.ts", "r4.ts", "r5.ts", "r6.ts"} {
		addFile(t, s, p)
		addEntrypoint(t, s, p, "http-route", "express-router")
	}
	addFile(t, s, "main.ts")
	addEntrypoint(t, s, "main.ts", "server", "express-app")

	res := q.Digest("", 0)
	require.Len(t, res.Entrypoints, 2)
	assert.Equal(t, "http-route", res.Entrypoints[0].Type)
	assert.Equal(t, 6, res.Entrypoints[0].Count)
	assert.Len(t, res.Entrypoints[0].Items, 5)
	assert.Equal(t, 7, res.Summary.Entrypoints)
}

func TestDigest_ScopeAndModules(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	addFile(t, s, "src/a.ts")
	addFile(t, s, "lib/b.ts")
	s.AddEdge(store.Edge{From: "file:src/a.ts", To: "module:react", Kind: store.EdgeImports, Confidence: store.ConfidenceLow})
	s.AddEdge(store.Edge{From: "file:lib/b.ts", To: "module:lodash", Kind: store.EdgeImports, Confidence: store.ConfidenceLow})
	s.SetIssues([]store.Issue{
		{ID: "i1", Kind: store.IssueCircularDependency, Severity: store.SeverityWarning, Meta: store.IssueMeta{FilePath: "src/a.ts"}},
		{ID: "i2", Kind: store.IssueCircularDependency, Severity: store.SeverityWarning, Meta: store.IssueMeta{FilePath: "lib/b.ts"}},
	})

	res := q.Digest("src", 0)
	assert.Equal(t, 1, res.Summary.Files)
	assert.Equal(t, 1, res.Summary.Modules)
	assert.Equal(t, 1, res.Summary.Issues)
	assert.Equal(t, map[string]int{"CIRCULAR_DEPENDENCY": 1}, res.IssuesByKind)
	assert.Equal(t, map[string]int{"typescript": 1}, res.Languages)
}

func TestDigest_EmptyStore(t *testing.T) {
	t.Parallel()
	q, _ := newTestQuery(t)
	res := q.Digest("", 0)
	assert.Empty(t, res.Hotspots)
	assert.NotNil(t, res.Hotspots)
	assert.Zero(t, res.Summary.Files)
}

// =============================================================================
// Issues
// =============================================================================

func seedIssues(s *store.GraphStore, n int) {
	var issues []store.Issue
	for i := 0; i < n; i++ {
		sev := store.SeverityWarning
		kind := store.IssueCircularDependency
		if i%2 == 0 {
			sev = store.SeverityError
			kind = store.IssueBrokenExportChain
		}
		issues = append(issues, store.Issue{
			ID:       issueID(kind, string(rune('a'+i%26)), string(rune('0'+i/26))),
			Kind:     kind,
			Severity: sev,
			Meta:     store.IssueMeta{FilePath: "src/f.ts"},
		})
	}
	s.SetIssues(issues)
}

func TestIssues_FiltersByKindAndSeverity(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	seedIssues(s, 6)

	res := q.Issues(IssueFilter{Kind: store.IssueBrokenExportChain})
	assert.Equal(t, 3, res.Total)
	for _, is := range res.Issues {
		assert.Equal(t, store.IssueBrokenExportChain, is.Kind)
	}

	res = q.Issues(IssueFilter{MinSeverity: store.SeverityError})
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, map[string]int{"error": 3}, res.BySeverity)

	res = q.Issues(IssueFilter{MinSeverity: store.SeverityInfo})
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, store.SeverityError, res.Issues[0].Severity)
}

func TestIssues_TruncatesAtFiftyAndSuggests(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	seedIssues(s, 70)

	res := q.Issues(IssueFilter{Limit: 500})
	assert.Equal(t, 70, res.Total)
	assert.Len(t, res.Issues, MaxIssuesLimit)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Suggestion, "Filter by kind")
}

func TestIssues_NoMatchHasReason(t *testing.T) {
	t.Parallel()
	q, s := newTestQuery(t)
	seedIssues(s, 4)

	res := q.Issues(IssueFilter{Scope: "lib"})
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Issues)
	assert.NotEmpty(t, res.Meta.Reason)
	assert.False(t, res.Truncated)
}
