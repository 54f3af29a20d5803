package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileNode(path string, exports ...string) Node {
	return Node{
		ID:   FileID(path),
		Kind: KindFile,
		Name: path,
		Path: path,
		Meta: NodeMeta{
			Language:   "typescript",
			Confidence: ConfidenceHigh,
			FileMeta:   &FileMeta{Exports: exports, Parser: "tree-sitter"},
		},
	}
}

func importEdge(from, to string, conf Confidence) Edge {
	return Edge{
		From:       FileID(from),
		To:         FileID(to),
		Kind:       EdgeImports,
		Confidence: conf,
		Reason:     "test",
	}
}

// =============================================================================
// Nodes & indices
// =============================================================================

func TestAddNode_IndexesByKindAndPath(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("src/a.ts"))
	s.AddNode(Node{ID: ModuleID("react"), Kind: KindModule, Name: "react"})

	require.NotNil(t, s.Node("file:src/a.ts"))
	require.NotNil(t, s.NodeByPath("src/a.ts"))
	assert.Len(t, s.NodesByKind(KindFile), 1)
	assert.Len(t, s.NodesByKind(KindModule), 1)
	assert.Empty(t, s.NodesByKind(KindEntrypoint))
	assert.Equal(t, 2, s.Meta().NodeCount)
}

func TestAddNode_ReplaceKeepsEdges(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("a.ts"))
	s.AddNode(fileNode("b.ts"))
	s.AddEdge(importEdge("a.ts", "b.ts", ConfidenceHigh))

	s.AddNode(fileNode("b.ts", "x"))

	assert.Equal(t, []string{"x"}, s.Node("file:b.ts").Exports())
	assert.Len(t, s.EdgesTo("file:b.ts"), 1)
}

func TestGetters_MissReturnsNil(t *testing.T) {
	t.Parallel()
	s := New()
	assert.Nil(t, s.Node("file:nope.ts"))
	assert.Nil(t, s.NodeByPath("nope.ts"))
	assert.Nil(t, s.Edge("x"))
	assert.Empty(t, s.EdgesFrom("file:nope.ts"))
	assert.Empty(t, s.EdgesTo("file:nope.ts"))
	assert.False(t, s.RemoveNode("file:nope.ts"))
	assert.False(t, s.RemoveEdge("x"))
	assert.False(t, s.RemoveFile("nope.ts"))
}

func TestGetNode_ExtensionEquivalence(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("src/foo.ts"))

	viaJS := s.Node("file:src/foo.js")
	viaTS := s.Node("file:src/foo.ts")
	require.NotNil(t, viaJS)
	require.NotNil(t, viaTS)
	assert.Equal(t, viaTS.ID, viaJS.ID)

	byPath := s.NodeByPath("src/foo.js")
	require.NotNil(t, byPath)
	assert.Equal(t, "file:src/foo.ts", byPath.ID)
}

func TestGetNode_TSXAndMJSFamilies(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("ui/button.tsx"))
	s.AddNode(fileNode("lib/util.mts"))

	require.NotNil(t, s.Node("file:ui/button.jsx"))
	require.NotNil(t, s.Node("file:ui/button.js"))
	require.NotNil(t, s.Node("file:lib/util.mjs"))
	assert.Nil(t, s.Node("file:lib/util.cjs"))
}

func TestIsSameNode(t *testing.T) {
	t.Parallel()
	s := New()
	assert.True(t, s.IsSameNode("file:a.ts", "file:a.js"))
	assert.True(t, s.IsSameNode("file:a.ts", "file:a.ts"))
	assert.False(t, s.IsSameNode("file:a.ts", "file:b.ts"))
	assert.False(t, s.IsSameNode("file:a.mts", "file:a.js"))
	assert.False(t, s.IsSameNode("module:a", "file:a.ts"))
	assert.False(t, s.IsSameNode("file:a.py", "file:a.js"))
}

// =============================================================================
// Edges
// =============================================================================

func TestAddEdge_DerivesIDAndIndexes(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddEdge(importEdge("a.ts", "b.ts", ConfidenceHigh))

	from := s.EdgesFrom("file:a.ts")
	require.Len(t, from, 1)
	assert.Equal(t, EdgeID("file:a.ts", EdgeImports, "file:b.ts"), from[0].ID)
	assert.Len(t, s.EdgesTo("file:b.ts"), 1)
	assert.Equal(t, 1, s.Meta().EdgeCount)

	require.True(t, s.RemoveEdge(from[0].ID))
	assert.Empty(t, s.EdgesFrom("file:a.ts"))
	assert.Empty(t, s.EdgesTo("file:b.ts"))
	assert.Equal(t, 0, s.Meta().EdgeCount)
}

func TestAddEdge_RejectsEmptyEndpoints(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddEdge(Edge{From: "file:a.ts", Kind: EdgeImports})
	assert.Empty(t, s.Edges())
}

func TestEdgesTo_IncludesExtensionEquivalentTargets(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("foo.ts"))
	s.AddEdge(importEdge("a.ts", "foo.js", ConfidenceHigh))
	s.AddEdge(importEdge("b.ts", "foo.ts", ConfidenceHigh))

	assert.Len(t, s.EdgesTo("file:foo.ts"), 2)
}

func TestEdgesTo_DoesNotMergeDistinctStoredFiles(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("foo.ts"))
	s.AddNode(fileNode("foo.js"))
	s.AddEdge(importEdge("a.ts", "foo.js", ConfidenceHigh))

	assert.Empty(t, s.EdgesTo("file:foo.ts"))
	assert.Len(t, s.EdgesTo("file:foo.js"), 1)
}

func TestRemoveNode_CascadesBothDirections(t *testing.T) {
	t.Parallel()
	s := New()
	for _, p := range []string{"a.ts", "b.ts", "c.ts"} {
		s.AddNode(fileNode(p))
	}
	s.AddEdge(importEdge("a.ts", "b.ts", ConfidenceHigh))
	s.AddEdge(importEdge("b.ts", "c.ts", ConfidenceHigh))

	require.True(t, s.RemoveNode("file:b.ts"))
	assert.Empty(t, s.Edges())
	assert.Empty(t, s.EdgesFrom("file:a.ts"))
	assert.Empty(t, s.EdgesTo("file:c.ts"))
	assert.Nil(t, s.NodeByPath("b.ts"))
}

// =============================================================================
// UpdateFile / RemoveFile
// =============================================================================

func TestUpdateFile_ReplacesOwnedNodesAndEdges(t *testing.T) {
	t.Parallel()
	s := New()
	s.UpdateFile("a.ts", []Node{
		fileNode("a.ts", "old"),
		{ID: SymbolID("a.ts", "old"), Kind: KindSymbol, Name: "old", Path: "a.ts", Meta: NodeMeta{SymbolMeta: &SymbolMeta{SymbolKind: "function"}}},
	}, []Edge{
		importEdge("a.ts", "b.ts", ConfidenceHigh),
		{From: "file:a.ts", To: SymbolID("a.ts", "old"), Kind: EdgeExports, Confidence: ConfidenceHigh},
	})
	require.Len(t, s.NodesAtPath("a.ts"), 2)

	s.UpdateFile("a.ts", []Node{fileNode("a.ts", "fresh")}, []Edge{importEdge("a.ts", "c.ts", ConfidenceHigh)})

	assert.Len(t, s.NodesAtPath("a.ts"), 1)
	assert.Nil(t, s.Node(SymbolID("a.ts", "old")))
	assert.Equal(t, []string{"fresh"}, s.Node("file:a.ts").Exports())
	out := s.EdgesFrom("file:a.ts")
	require.Len(t, out, 1)
	assert.Equal(t, "file:c.ts", out[0].To)
	assert.Empty(t, s.EdgesTo("file:b.ts"))
	assert.Equal(t, 1, s.Meta().EdgeCount)
}

func TestUpdateFile_PreservesInboundEdges(t *testing.T) {
	t.Parallel()
	s := New()
	s.UpdateFile("b.ts", []Node{fileNode("b.ts")}, []Edge{importEdge("b.ts", "a.ts", ConfidenceHigh)})
	s.UpdateFile("a.ts", []Node{fileNode("a.ts")}, nil)
	s.UpdateFile("a.ts", []Node{fileNode("a.ts", "x")}, nil)

	assert.Len(t, s.EdgesTo("file:a.ts"), 1)
}

func TestRemoveFile_DropsDerivedNodes(t *testing.T) {
	t.Parallel()
	s := New()
	s.UpdateFile("main.go", []Node{
		fileNode("main.go"),
		{ID: EntrypointID("main.go", "main"), Kind: KindEntrypoint, Name: "main", Path: "main.go", Meta: NodeMeta{EntrypointMeta: &EntrypointMeta{EntrypointType: "main"}}},
	}, []Edge{{From: "file:main.go", To: EntrypointID("main.go", "main"), Kind: EdgeRegisters, Confidence: ConfidenceHigh}})
	s.AddEdge(importEdge("x.go", "main.go", ConfidenceLow))

	require.True(t, s.RemoveFile("main.go"))
	assert.Empty(t, s.Nodes())
	assert.Empty(t, s.Edges())
}

func TestCommitBatch_AppliesAllFiles(t *testing.T) {
	t.Parallel()
	s := New()
	b := NewBatch()
	b.Put("a.ts", []Node{fileNode("a.ts")}, []Edge{importEdge("a.ts", "b.ts", ConfidenceHigh)})
	b.Put("b.ts", []Node{fileNode("b.ts")}, nil)
	require.Equal(t, 2, b.Len())

	s.CommitBatch(b)

	assert.Equal(t, 0, b.Len())
	assert.Len(t, s.NodesByKind(KindFile), 2)
	assert.Len(t, s.EdgesTo("file:b.ts"), 1)
}

// =============================================================================
// Issues, meta, snapshot
// =============================================================================

func TestSetIssues_ReplacesWholesale(t *testing.T) {
	t.Parallel()
	s := New()
	s.SetIssues([]Issue{{ID: "1", Kind: IssueCircularDependency}, {ID: "2", Kind: IssueCircularReexport}})
	assert.Equal(t, 2, s.Meta().IssueCount)
	s.SetIssues([]Issue{{ID: "3", Kind: IssueBrokenExportChain}})
	issues := s.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "3", issues[0].ID)
	assert.Equal(t, 1, s.Meta().IssueCount)
}

func TestClear(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("a.ts"))
	s.AddEdge(importEdge("a.ts", "b.ts", ConfidenceHigh))
	s.SetIssues([]Issue{{ID: "1"}})
	s.Clear()
	assert.Empty(t, s.Nodes())
	assert.Empty(t, s.Edges())
	assert.Empty(t, s.Issues())
	assert.Equal(t, GraphMeta{}, s.Meta())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	s := New()
	s.AddNode(fileNode("a.ts", "x", "y"))
	s.AddNode(fileNode("b.ts"))
	s.AddEdge(Edge{From: "file:a.ts", To: "file:b.ts", Kind: EdgeReexports, Confidence: ConfidenceHigh,
		Meta: EdgeMeta{ImportPath: "./b", Symbols: []string{"*"}}})
	s.AddEdge(Edge{From: "file:a.ts", To: ModuleID("lodash"), Kind: EdgeImports, Confidence: ConfidenceLow,
		Meta: EdgeMeta{ImportPath: "lodash", IsExternal: true}})
	s.SetIssues([]Issue{{ID: "i1", Kind: IssueBrokenExportChain, Severity: SeverityWarning, Meta: IssueMeta{FilePath: "a.ts"}}})
	s.SetIndexTiming(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 1500*time.Millisecond)

	snap := s.ToSerializable()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := New()
	restored.FromSerializable(decoded)

	assert.Equal(t, snap, restored.ToSerializable())
	assert.Equal(t, int64(1500), restored.Meta().IndexDurationMs)
	assert.Len(t, restored.EdgesTo("file:b.ts"), 1)
}

func TestNodeMeta_JSONIsFlat(t *testing.T) {
	t.Parallel()
	n := Node{ID: EntrypointID("s.ts", "http"), Kind: KindEntrypoint, Name: "http", Path: "s.ts",
		Meta: NodeMeta{Confidence: ConfidenceMedium, EntrypointMeta: &EntrypointMeta{EntrypointType: "http", Framework: "express"}}}
	raw, err := json.Marshal(n)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	meta := generic["meta"].(map[string]any)
	assert.Equal(t, "http", meta["entrypointType"])
	assert.Equal(t, "express", meta["framework"])
	assert.NotContains(t, meta, "exports")
}

func TestConfidenceOrdering(t *testing.T) {
	t.Parallel()
	assert.Greater(t, ConfidenceHigh.Rank(), ConfidenceMedium.Rank())
	assert.Greater(t, ConfidenceMedium.Rank(), ConfidenceLow.Rank())
	assert.Greater(t, ConfidenceLow.Rank(), ConfidenceUnknown.Rank())
	assert.Equal(t, ConfidenceHigh, MaxConfidence(ConfidenceLow, ConfidenceHigh))
	assert.Equal(t, ConfidenceLow, MinConfidence(ConfidenceLow, ConfidenceHigh))
	assert.Equal(t, 0, Confidence("bogus").Rank())
}
