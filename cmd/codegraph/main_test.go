package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jward/codegraph"
	"github.com/jward/codegraph/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestResolveDBPath_ConfigDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.DB = "/abs/graph.db"
	assert.Equal(t, "/abs/graph.db", resolveDBPath("/repo", cfg))
	assert.Equal(t, filepath.Join("/repo", ".codegraph", "graph.db"), resolveDBPath("/repo", nil))
}

func TestResolveTargetDir_RejectsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(f, nil, 0o644))

	_, err := resolveTargetDir([]string{f})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	got, err := resolveTargetDir([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.ErrorContains(t, validateFormat("yaml"), "json or text")
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want codegraph.Severity
		err  bool
	}{
		{"", "", false},
		{"warning", codegraph.SeverityWarning, false},
		{"ERROR", codegraph.SeverityError, false},
		{"fatal", "", true},
	}
	for _, tt := range tests {
		got, err := parseSeverity(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// =============================================================================
// Text formatting
// =============================================================================

func TestFormatPathText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	formatPathText(&buf, &codegraph.PathResult{
		From: "a.ts", To: "c.ts", Connected: true, ShortestPath: 2,
		Paths: []codegraph.GraphPath{{Length: 2, Nodes: []string{"a.ts", "b.ts", "c.ts"}}},
	})
	assert.Contains(t, buf.String(), "Shortest path: 2 hops")
	assert.Contains(t, buf.String(), "a.ts -> b.ts -> c.ts")

	buf.Reset()
	res := &codegraph.PathResult{From: "a.ts", To: "z.ts"}
	res.Meta.Reason = "destination not found"
	formatPathText(&buf, res)
	assert.Equal(t, "No path from a.ts to z.ts: destination not found\n", buf.String())
}

func TestFormatIssuesText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	formatIssuesText(&buf, &codegraph.IssuesResult{})
	assert.Equal(t, "No issues.\n", buf.String())

	buf.Reset()
	is := codegraph.Issue{
		ID: "i1", Kind: codegraph.IssueBrokenExportChain, Severity: codegraph.SeverityError,
		Message: "Button is not exported by button.ts",
	}
	is.Meta.FilePath = "src/index.ts"
	formatIssuesText(&buf, &codegraph.IssuesResult{
		Total: 3, Issues: []codegraph.Issue{is}, Truncated: true, Suggestion: "narrow with --scope",
	})
	out := buf.String()
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "BROKEN_EXPORT_CHAIN")
	assert.Contains(t, out, "src/index.ts")
	assert.Contains(t, out, "Showing 1 of 3. narrow with --scope")
}

func TestFormatImpactText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	formatImpactText(&buf, &codegraph.ImpactResult{
		Target: "file:core.ts", Found: true, TotalDependents: 1,
		Levels:         []codegraph.ImpactLevel{{Depth: 1, Dependents: []string{"app.ts"}}},
		RiskAssessment: codegraph.RiskAssessment{Level: codegraph.RiskLow, Notes: []string{"imports edges only"}},
	})
	out := buf.String()
	assert.Contains(t, out, "depth 1:")
	assert.Contains(t, out, "app.ts")
	assert.Contains(t, out, "Risk: low")
	assert.Contains(t, out, "note: imports edges only")
}

func TestOutputResultText_FallsBackToJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, outputResultText(&buf, CLIResult{Results: map[string]int{"n": 1}}))
	assert.JSONEq(t, `{"n": 1}`, buf.String())
}
