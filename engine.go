package codegraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/codegraph/internal/config"
	"github.com/jward/codegraph/internal/indexer"
	"github.com/jward/codegraph/internal/resolver"
	"github.com/jward/codegraph/internal/rules"
	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var tracer = otel.Tracer("github.com/jward/codegraph")

// ErrUnsupportedFile is returned by UpdateFile for paths no indexer handles.
var ErrUnsupportedFile = errors.New("codegraph: no indexer supports file")

// Engine orchestrates the codegraph pipeline: file discovery, change
// detection, indexing, analysis, snapshot persistence and query access.
type Engine struct {
	root     string
	fsys     fs.FS
	osFS     bool
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.GraphStore
	packages *workspace.Cache
	rules    *rules.Set
	barrels  *BarrelAnalyzer
	progress func(processed, total int)

	// parallel is nil until WithParallel is given; the config decides then.
	parallel *bool

	// mu serializes index runs and guards hashes and session.
	mu      sync.Mutex
	hashes  map[string]string
	session *indexer.Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the configuration instead of loading it from root.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPackageCache shares a workspace package cache between engines.
func WithPackageCache(c *workspace.Cache) Option {
	return func(e *Engine) { e.packages = c }
}

// WithParallel overrides the configured indexing mode. When false files are
// indexed one at a time on the calling goroutine.
func WithParallel(parallel bool) Option {
	return func(e *Engine) { e.parallel = &parallel }
}

// WithFS reads the workspace from fsys instead of the directory at root.
// Discovery then walks fsys; git is not consulted.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) { e.fsys = fsys }
}

// WithIndexProgress registers a callback for indexing progress.
func WithIndexProgress(fn func(processed, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// New creates an Engine for the workspace at root. Configuration is loaded
// from root unless WithConfig is given.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("codegraph: resolve root: %w", err)
	}
	e := &Engine{
		root:   abs,
		logger: slog.Default(),
		store:  store.New(),
		hashes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		cfg, err := config.Load(abs)
		if err != nil {
			return nil, fmt.Errorf("codegraph: load config: %w", err)
		}
		e.cfg = cfg
	}
	if e.fsys == nil {
		e.fsys = os.DirFS(abs)
		e.osFS = true
	}
	if e.packages == nil {
		e.packages = workspace.NewCache(e.logger)
	}
	set, err := rules.Load(e.cfg.RulesDir, e.logger)
	if err != nil {
		return nil, fmt.Errorf("codegraph: load rules: %w", err)
	}
	e.rules = set
	e.barrels = NewBarrelAnalyzer(e.store)
	return e, nil
}

// Root returns the absolute workspace root.
func (e *Engine) Root() string { return e.root }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Store returns the underlying graph store.
func (e *Engine) Store() *GraphStore { return e.store }

// Barrels returns the engine's barrel analyzer.
func (e *Engine) Barrels() *BarrelAnalyzer { return e.barrels }

// Query returns a Query over the engine's store.
func (e *Engine) Query() *Query {
	return NewQuery(e.store)
}

// Reset clears the graph, the file hashes and the cached workspace scan so
// the next IndexWorkspace re-indexes everything.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Clear()
	e.hashes = make(map[string]string)
	e.session = nil
	e.barrels.Reset()
	e.packages.Invalidate(e.root)
}

func (e *Engine) useParallel() bool {
	if e.parallel != nil {
		return *e.parallel
	}
	return e.cfg.Index.Parallel
}

// newSession prepares the per-run indexing state: workspace packages,
// tsconfig-aware resolver, custom rules and grammar states.
func (e *Engine) newSession() *indexer.Session {
	tsconfig, err := resolver.LoadTSConfigFS(e.fsys)
	if err != nil {
		e.logger.Warn("engine.tsconfig", "root", e.root, "err", err)
	}
	return indexer.NewSession(e.root,
		indexer.WithFS(e.fsys),
		indexer.WithPackages(e.packages.LoadFS(e.root, e.fsys)),
		indexer.WithResolver(resolver.New(e.fsys, tsconfig, resolver.WithCacheSize(e.cfg.ResolverCacheSize))),
		indexer.WithRules(e.rules),
		indexer.WithLogger(e.logger),
		indexer.WithDisabledParsers(e.cfg.Index.DisabledParsers...),
	)
}

func (e *Engine) currentSession() *indexer.Session {
	if e.session == nil {
		e.session = e.newSession()
	}
	return e.session
}

// IndexReport summarizes one IndexWorkspace run.
type IndexReport struct {
	Discovered int                  `json:"discovered"`
	Indexed    int                  `json:"indexed"`
	Unchanged  int                  `json:"unchanged"`
	Removed    int                  `json:"removed"`
	Issues     int                  `json:"issues"`
	Errors     []indexer.IndexError `json:"errors"`
	Stats      BatchStats           `json:"stats"`
	Duration   time.Duration        `json:"duration"`
}

// IndexWorkspace discovers the workspace files, indexes those whose content
// changed since the last run, removes files that disappeared, and re-runs
// the analysis pass.
//
// Per-file failures are reported in IndexReport.Errors; the returned error
// is non-nil only when discovery fails or ctx is cancelled.
func (e *Engine) IndexWorkspace(ctx context.Context) (*IndexReport, error) {
	ctx, span := tracer.Start(ctx, "codegraph.Engine.IndexWorkspace",
		trace.WithAttributes(attribute.String("workspace.root", e.root)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.session = e.newSession()
	indexers := indexer.Default(e.session)

	paths, err := e.discover(ctx, indexers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("codegraph: index: %w", err)
	}
	report := &IndexReport{Discovered: len(paths), Errors: []indexer.IndexError{}}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}
	var removed []string
	for p := range e.hashes {
		if !present[p] {
			removed = append(removed, p)
		}
	}
	added := 0
	for _, p := range paths {
		if _, ok := e.hashes[p]; !ok && e.store.NodeByPath(p) == nil {
			added++
		}
	}
	// Files pointing at a removed file are re-indexed so their edges
	// resolve against the new tree. A new file may satisfy an import that
	// previously fell back to a module placeholder.
	stale := e.dependentsOf(removed)
	if added > 0 {
		for p := range e.unresolvedImporters() {
			stale[p] = true
		}
	}
	for _, p := range removed {
		e.store.RemoveFile(p)
		e.barrels.Forget(p)
		delete(e.hashes, p)
		report.Removed++
	}

	var changed []SourceFile
	newHashes := make(map[string]string)
	for _, p := range paths {
		content, err := fs.ReadFile(e.fsys, p)
		if err != nil {
			report.Errors = append(report.Errors, indexer.IndexError{File: p, Message: fmt.Sprintf("read file: %v", err)})
			continue
		}
		h := contentHash(content)
		if e.hashes[p] == h && !stale[p] && e.store.NodeByPath(p) != nil {
			report.Unchanged++
			continue
		}
		newHashes[p] = h
		changed = append(changed, SourceFile{Path: p, Content: content})
	}

	var res *BatchResult
	if e.useParallel() {
		res = NewParallelIndexer(
			WithBatchSize(e.cfg.Index.BatchSize),
			WithMaxConcurrency(e.cfg.Index.MaxConcurrency),
			WithProgress(e.progress),
			WithIndexLogger(e.logger),
		).IndexAll(ctx, changed, indexers)
	} else {
		res = e.indexSerial(ctx, changed, indexers)
	}
	report.Stats = res.Stats
	report.Errors = append(report.Errors, res.Errors...)

	contents := make(map[string][]byte, len(changed))
	for _, f := range changed {
		contents[f.Path] = f.Content
	}
	batch := store.NewBatch()
	for i := range res.Files {
		fr := &res.Files[i]
		if len(fr.Nodes) == 0 {
			continue
		}
		e.barrels.Forget(fr.Path)
		e.markBarrel(fr.Nodes, fr.Path, contents[fr.Path])
		batch.Put(fr.Path, fr.Nodes, fr.Edges)
		e.hashes[fr.Path] = newHashes[fr.Path]
		report.Indexed++
	}
	e.store.CommitBatch(batch)

	report.Issues = len(e.analyze(ctx))
	report.Duration = time.Since(start)
	e.store.SetIndexTiming(time.Now(), report.Duration)

	span.SetAttributes(
		attribute.Int("files.discovered", report.Discovered),
		attribute.Int("files.indexed", report.Indexed),
		attribute.Int("files.errors", report.Stats.ErrorCount),
	)
	e.logger.Info("engine.index",
		"root", e.root,
		"discovered", report.Discovered,
		"indexed", report.Indexed,
		"unchanged", report.Unchanged,
		"removed", report.Removed,
		"errors", report.Stats.ErrorCount,
		"issues", report.Issues,
		"duration", report.Duration,
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("codegraph: index: %w", err)
	}
	return report, nil
}

func (e *Engine) indexSerial(ctx context.Context, files []SourceFile, indexers []indexer.Indexer) *BatchResult {
	start := time.Now()
	results := make([]FileResult, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results[i] = FileResult{Path: f.Path, Errors: []indexer.IndexError{{File: f.Path, Message: fmt.Sprintf("indexing cancelled: %v", err)}}}
			continue
		}
		results[i] = indexOne(ctx, f, indexers)
		if e.progress != nil {
			e.progress(i+1, len(files))
		}
	}
	out := aggregate(results)
	out.Stats.Duration = time.Since(start)
	return out
}

// markBarrel sets the barrel flag on the file node of p.
func (e *Engine) markBarrel(nodes []store.Node, p string, content []byte) {
	if content == nil {
		return
	}
	info := e.barrels.AnalyzeFile(p, content)
	if !info.IsBarrel {
		return
	}
	for i := range nodes {
		n := &nodes[i]
		if n.Kind == store.KindFile && n.Path == p && n.Meta.FileMeta != nil {
			n.Meta.FileMeta.IsBarrel = true
		}
	}
}

// UpdateFile re-indexes a single file from content and re-runs analysis.
// Edges from other files into p are kept.
func (e *Engine) UpdateFile(ctx context.Context, p string, content []byte) (*indexer.Result, error) {
	ctx, span := tracer.Start(ctx, "codegraph.Engine.UpdateFile")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", p))

	p = e.relPath(p)
	e.mu.Lock()
	defer e.mu.Unlock()

	ix := indexer.Select(indexer.Default(e.currentSession()), p)
	if ix == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, p)
	}
	_, known := e.hashes[p]
	known = known || e.store.NodeByPath(p) != nil
	var stale map[string]bool
	if !known {
		stale = e.unresolvedImporters()
		delete(stale, p)
		if len(stale) > 0 {
			e.currentSession().Resolver().ClearCache()
		}
	}
	fr := indexOne(ctx, SourceFile{Path: p, Content: content}, []indexer.Indexer{ix})
	e.barrels.Forget(p)
	if len(fr.Nodes) > 0 {
		e.markBarrel(fr.Nodes, p, content)
		e.store.UpdateFile(p, fr.Nodes, fr.Edges)
		e.hashes[p] = contentHash(content)
	}
	e.reindex(ctx, stale)
	e.analyze(ctx)
	return &indexer.Result{Nodes: fr.Nodes, Edges: fr.Edges, Errors: fr.Errors}, nil
}

// RemoveFile drops everything indexed from p, re-indexes the files that
// pointed at it and re-runs analysis. It reports whether the file was known.
func (e *Engine) RemoveFile(ctx context.Context, p string) bool {
	p = e.relPath(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	stale := e.dependentsOf([]string{p})
	removed := e.store.RemoveFile(p)
	e.barrels.Forget(p)
	delete(e.hashes, p)
	if !removed {
		return false
	}

	e.currentSession().Resolver().ClearCache()
	e.reindex(ctx, stale)
	e.analyze(ctx)
	return true
}

// reindex re-reads and re-indexes each of paths in place.
func (e *Engine) reindex(ctx context.Context, paths map[string]bool) {
	if len(paths) == 0 {
		return
	}
	indexers := indexer.Default(e.currentSession())
	for dep := range paths {
		content, err := fs.ReadFile(e.fsys, dep)
		if err != nil {
			e.logger.Debug("engine.reindex", "file", dep, "err", err)
			continue
		}
		fr := indexOne(ctx, SourceFile{Path: dep, Content: content}, indexers)
		if len(fr.Nodes) > 0 {
			e.barrels.Forget(dep)
			e.markBarrel(fr.Nodes, dep, content)
			e.store.UpdateFile(dep, fr.Nodes, fr.Edges)
			e.hashes[dep] = contentHash(content)
		}
	}
}

// unresolvedImporters returns the paths of files with an edge to a
// non-external module placeholder, that is a local import that matched no
// file when it was indexed.
func (e *Engine) unresolvedImporters() map[string]bool {
	out := make(map[string]bool)
	for _, edge := range e.store.Edges() {
		if edge.Meta.IsExternal || !strings.HasPrefix(edge.To, store.ModulePrefix) {
			continue
		}
		if from := e.store.Node(edge.From); from != nil && from.Path != "" {
			out[from.Path] = true
		}
	}
	return out
}

// dependentsOf returns the paths of files with an edge into any of paths,
// excluding paths themselves.
func (e *Engine) dependentsOf(paths []string) map[string]bool {
	out := make(map[string]bool)
	gone := make(map[string]bool, len(paths))
	for _, p := range paths {
		gone[p] = true
	}
	for _, p := range paths {
		for _, n := range e.store.NodesAtPath(p) {
			for _, edge := range e.store.EdgesTo(n.ID) {
				from := e.store.Node(edge.From)
				if from != nil && from.Path != "" && !gone[from.Path] {
					out[from.Path] = true
				}
			}
		}
	}
	return out
}

// relPath converts an absolute path under root to a workspace-relative,
// slash-separated path. Relative paths are cleaned and returned as is.
func (e *Engine) relPath(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(e.root, p); err == nil {
			p = rel
		}
	}
	return path.Clean(filepath.ToSlash(p))
}

func contentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(content))
}

// Save persists the graph and file hashes to the SQLite database at dbPath,
// or the configured database when dbPath is empty.
func (e *Engine) Save(ctx context.Context, dbPath string) error {
	if dbPath == "" {
		dbPath = e.cfg.DB
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("codegraph: save: %w", err)
	}
	db, err := store.OpenSnapshotDB(dbPath)
	if err != nil {
		return fmt.Errorf("codegraph: save: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("codegraph: save: %w", err)
	}

	e.mu.Lock()
	hashes := make(map[string]string, len(e.hashes))
	for k, v := range e.hashes {
		hashes[k] = v
	}
	e.mu.Unlock()

	if err := db.Save(ctx, e.store.ToSerializable(), hashes); err != nil {
		return fmt.Errorf("codegraph: save: %w", err)
	}
	return nil
}

// Load replaces the graph with the snapshot stored at dbPath, or the
// configured database when dbPath is empty. A missing database yields an
// error wrapping fs.ErrNotExist.
func (e *Engine) Load(ctx context.Context, dbPath string) error {
	if dbPath == "" {
		dbPath = e.cfg.DB
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("codegraph: load: %w", err)
	}
	db, err := store.OpenSnapshotDB(dbPath)
	if err != nil {
		return fmt.Errorf("codegraph: load: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("codegraph: load: %w", err)
	}
	snap, hashes, err := db.Load(ctx)
	if err != nil {
		return fmt.Errorf("codegraph: load: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.FromSerializable(snap)
	e.hashes = hashes
	if e.hashes == nil {
		e.hashes = make(map[string]string)
	}
	e.barrels.Reset()
	return nil
}

// skipDirs are never descended into by the filesystem walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// discover lists the workspace-relative paths of indexable files, sorted.
// Inside a git repository git ls-files is used so that .gitignore, the
// global excludes and .git/info/exclude apply; otherwise the tree is walked.
// The root .gitignore and the configured exclude patterns filter both.
func (e *Engine) discover(ctx context.Context, indexers []indexer.Indexer) ([]string, error) {
	var (
		paths []string
		err   error
	)
	if e.osFS {
		paths, err = e.gitListFiles(ctx)
		if err != nil {
			e.logger.Debug("engine.discover.git", "root", e.root, "err", err)
		}
	}
	if paths == nil {
		paths, err = e.walkListFiles()
		if err != nil {
			return nil, err
		}
	}

	ign := e.ignoreMatcher()
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] || indexer.Select(indexers, p) == nil {
			continue
		}
		if ign != nil && ign.MatchesPath(p) {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// gitListFiles lists tracked and untracked, non-ignored files under root.
// Tracked files deleted from the working tree are dropped.
func (e *Engine) gitListFiles(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = e.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	paths := []string{}
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !fs.ValidPath(line) {
			continue
		}
		if info, err := fs.Stat(e.fsys, line); err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// walkListFiles walks the workspace, skipping hidden directories and the
// dependency and build directories in skipDirs.
func (e *Engine) walkListFiles() ([]string, error) {
	paths := []string{}
	err := fs.WalkDir(e.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != "." && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return fs.SkipDir
			}
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// ignoreMatcher compiles the root .gitignore and configured exclude
// patterns. It returns nil when there is nothing to ignore.
func (e *Engine) ignoreMatcher() *ignore.GitIgnore {
	var lines []string
	if data, err := fs.ReadFile(e.fsys, ".gitignore"); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	lines = append(lines, e.cfg.Index.Exclude...)
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}
