// Package codegraph builds and queries a cross-language dependency graph of
// a source workspace. It extracts import, export and re-export relationships
// and framework entrypoints with heuristic confidence scores, keeps them in
// an indexed in-memory graph, and answers token-budgeted structural queries
// aimed at AI assistants.
//
// # Pipeline
//
// Indexing runs in three steps:
//
//  1. Discover: list workspace files with git ls-files (or a filesystem walk
//     when git is unavailable), honoring .gitignore and configured excludes,
//     and skip files whose content hash is unchanged.
//
//  2. Index: parse each file with tree-sitter (falling back to regex
//     extraction when a grammar cannot be loaded), resolve its imports and
//     detect entrypoints. Files are processed concurrently in waves by the
//     [ParallelIndexer] and committed to the store per file.
//
//  3. Analyze: validate re-export chains, detect circular re-exports and
//     circular file dependencies, and flag route handlers nothing imports.
//
// # Usage
//
//	e, err := codegraph.New("path/to/project")
//	if err != nil { ... }
//
//	ctx := context.Background()
//	report, err := e.IndexWorkspace(ctx)
//
//	q := e.Query()
//	digest := q.Digest("", 10)
//	impact, err := q.Impact(ctx, "src/db.ts", codegraph.ImpactOptions{Depth: 3})
//
// # Query API
//
// The [Query] returned by [Engine.Query] provides five operations:
//
//   - [Query.Digest]: workspace overview with entrypoints and hotspots.
//   - [Query.Issues]: filtered structural issues.
//   - [Query.Impact]: dependents of a file and the entrypoints they reach.
//   - [Query.Path]: dependency paths between two files.
//   - [Query.Module]: imports, dependents, exports and re-exports of one file.
//
// Every result carries meta.tokensEstimate, the JSON length divided by four,
// so callers can budget context. Unknown targets produce empty results with
// a reason rather than errors.
//
// # Persistence
//
// [Engine.Save] and [Engine.Load] persist the graph and file hashes to a
// SQLite database so later runs only re-index changed files.
package codegraph
