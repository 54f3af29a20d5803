package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/jward/codegraph/internal/resolver"
	"github.com/jward/codegraph/internal/rules"
	"github.com/jward/codegraph/internal/workspace"
)

// GrammarState tracks whether a tree-sitter grammar could be loaded.
// Transitions happen once: Unknown -> Available or Unknown -> Unavailable.
type GrammarState int32

const (
	GrammarUnknown GrammarState = iota
	GrammarAvailable
	GrammarUnavailable
)

func (g GrammarState) String() string {
	switch g {
	case GrammarAvailable:
		return "available"
	case GrammarUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

var errGrammarUnavailable = errors.New("grammar unavailable")

// GrammarLoader returns a tree-sitter language. It may panic or return nil
// to signal that the grammar is missing.
type GrammarLoader func() *sitter.Language

var builtinGrammars = map[string]GrammarLoader{
	"typescript": typescript.GetLanguage,
	"tsx":        tsx.GetLanguage,
	"javascript": javascript.GetLanguage,
	"python":     python.GetLanguage,
	"go":         golang.GetLanguage,
	"rust":       rust.GetLanguage,
	"java":       java.GetLanguage,
}

// grammarLanguage maps grammar names to the language a user disables.
var grammarLanguage = map[string]string{
	"tsx": "typescript",
}

type grammarSlot struct {
	once    sync.Once
	state   atomic.Int32
	lang    *sitter.Language
	parsers sync.Pool
}

// Session is the shared state of one indexing run over a workspace root.
// Construct it before fanning out; all methods are safe for concurrent use.
type Session struct {
	root     string
	fsys     fs.FS
	packages *workspace.Packages
	resolver *resolver.PathResolver
	rules    *rules.Set
	logger   *slog.Logger
	disabled map[string]bool
	loaders  map[string]GrammarLoader
	grammars map[string]*grammarSlot
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithFS sets the filesystem rooted at the workspace root.
func WithFS(fsys fs.FS) SessionOption {
	return func(s *Session) { s.fsys = fsys }
}

// WithPackages sets pre-scanned workspace packages.
func WithPackages(p *workspace.Packages) SessionOption {
	return func(s *Session) { s.packages = p }
}

// WithResolver sets the JS/TS path resolver.
func WithResolver(r *resolver.PathResolver) SessionOption {
	return func(s *Session) { s.resolver = r }
}

// WithRules sets custom entrypoint rules.
func WithRules(r *rules.Set) SessionOption {
	return func(s *Session) { s.rules = r }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDisabledParsers forces the named languages onto the regex fallback.
func WithDisabledParsers(languages ...string) SessionOption {
	return func(s *Session) {
		for _, l := range languages {
			s.disabled[strings.ToLower(l)] = true
		}
	}
}

// WithGrammarLoader replaces the loader for one grammar.
func WithGrammarLoader(grammar string, load GrammarLoader) SessionOption {
	return func(s *Session) { s.loaders[grammar] = load }
}

// NewSession prepares a session for root. Workspace packages and the
// tsconfig-aware resolver are derived from the filesystem unless supplied.
func NewSession(root string, opts ...SessionOption) *Session {
	s := &Session{
		root:     root,
		logger:   slog.Default(),
		disabled: make(map[string]bool),
		loaders:  make(map[string]GrammarLoader, len(builtinGrammars)),
	}
	for name, load := range builtinGrammars {
		s.loaders[name] = load
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fsys == nil {
		s.fsys = os.DirFS(root)
	}
	if s.packages == nil {
		s.packages = workspace.Scan(s.fsys, s.logger)
	}
	if s.resolver == nil {
		cfg, err := resolver.LoadTSConfigFS(s.fsys)
		if err != nil {
			s.logger.Warn("indexer.tsconfig", "root", root, "err", err)
		}
		s.resolver = resolver.New(s.fsys, cfg)
	}
	s.grammars = make(map[string]*grammarSlot, len(s.loaders))
	for name := range s.loaders {
		s.grammars[name] = &grammarSlot{}
	}
	return s
}

func (s *Session) Root() string                     { return s.root }
func (s *Session) Packages() *workspace.Packages    { return s.packages }
func (s *Session) Resolver() *resolver.PathResolver { return s.resolver }
func (s *Session) Logger() *slog.Logger             { return s.logger }

// Grammar returns the loaded grammar, loading it on first use. A grammar
// that fails to load is reported once and never retried.
func (s *Session) Grammar(name string) (*sitter.Language, bool) {
	slot, ok := s.grammars[name]
	if !ok {
		return nil, false
	}
	slot.once.Do(func() {
		lang, state := s.loadGrammar(name)
		slot.lang = lang
		slot.state.Store(int32(state))
	})
	return slot.lang, GrammarState(slot.state.Load()) == GrammarAvailable
}

// GrammarState reports the current state without triggering a load.
func (s *Session) GrammarState(name string) GrammarState {
	slot, ok := s.grammars[name]
	if !ok {
		return GrammarUnavailable
	}
	return GrammarState(slot.state.Load())
}

// GrammarStates returns the state of every known grammar.
func (s *Session) GrammarStates() map[string]GrammarState {
	out := make(map[string]GrammarState, len(s.grammars))
	for name := range s.grammars {
		out[name] = s.GrammarState(name)
	}
	return out
}

func (s *Session) loadGrammar(name string) (lang *sitter.Language, state GrammarState) {
	language := name
	if l, ok := grammarLanguage[name]; ok {
		language = l
	}
	if s.disabled[name] || s.disabled[language] {
		s.logger.Info("indexer.parser.disabled", "grammar", name)
		return nil, GrammarUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("indexer.parser.unavailable", "grammar", name, "err", fmt.Sprint(r))
			lang, state = nil, GrammarUnavailable
		}
	}()
	lang = s.loaders[name]()
	if lang == nil {
		s.logger.Warn("indexer.parser.unavailable", "grammar", name, "err", "loader returned nil")
		return nil, GrammarUnavailable
	}
	return lang, GrammarAvailable
}

// parse runs tree-sitter for grammar. Parsers are pooled per grammar since a
// sitter.Parser must not be shared between goroutines.
func (s *Session) parse(ctx context.Context, grammar string, content []byte) (*sitter.Tree, error) {
	lang, ok := s.Grammar(grammar)
	if !ok {
		return nil, errGrammarUnavailable
	}
	slot := s.grammars[grammar]
	p, _ := slot.parsers.Get().(*sitter.Parser)
	if p == nil {
		p = sitter.NewParser()
		p.SetLanguage(lang)
	}
	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		p.Close()
		return nil, err
	}
	slot.parsers.Put(p)
	if tree == nil {
		return nil, errors.New("tree-sitter returned no tree")
	}
	return tree, nil
}

func (s *Session) isFile(p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(s.fsys, p)
	return err == nil && !info.IsDir()
}

func (s *Session) firstFile(candidates ...string) (string, bool) {
	for _, c := range candidates {
		c = path.Clean(c)
		if s.isFile(c) {
			return c, true
		}
	}
	return "", false
}

// dirFile picks a representative file with extension ext in dir: the file
// named after the directory, then doc files, then the first by name.
// Test files are skipped.
func (s *Session) dirFile(dir, ext string, skipSuffix string) (string, bool) {
	dir = path.Clean(dir)
	if !fs.ValidPath(dir) {
		return "", false
	}
	entries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return "", false
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || path.Ext(n) != ext || (skipSuffix != "" && strings.HasSuffix(n, skipSuffix)) {
			continue
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	preferred := []string{path.Base(dir) + ext, "doc" + ext}
	for _, want := range preferred {
		for _, n := range names {
			if n == want {
				return path.Join(dir, n), true
			}
		}
	}
	return path.Join(dir, names[0]), true
}
