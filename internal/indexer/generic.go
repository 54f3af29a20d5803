package indexer

import (
	"context"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/jward/codegraph/internal/store"
)

type genericPattern struct {
	re    *regexp.Regexp
	local bool
}

// genericLanguage is a regex-only language description.
type genericLanguage struct {
	name       string
	extensions []string
	patterns   []genericPattern
	main       *regexp.Regexp
	framework  string

	// probe lists extensions appended to local specifiers without one.
	probe []string
}

var genericLanguages = []*genericLanguage{
	{
		name:       "c",
		extensions: []string{".c", ".h"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*"([^"]+)"`), local: true},
			{re: regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*<([^>]+)>`)},
		},
		main:      regexp.MustCompile(`(?m)^[ \t]*int[ \t]+main[ \t]*\(`),
		framework: "c",
	},
	{
		name:       "cpp",
		extensions: []string{".cc", ".cpp", ".cxx", ".hpp", ".hh", ".hxx"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*"([^"]+)"`), local: true},
			{re: regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*<([^>]+)>`)},
		},
		main:      regexp.MustCompile(`(?m)^[ \t]*int[ \t]+main[ \t]*\(`),
		framework: "cpp",
	},
	{
		name:       "ruby",
		extensions: []string{".rb"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`\brequire_relative[ \t]*\(?[ \t]*['"]([^'"]+)['"]`), local: true},
			{re: regexp.MustCompile(`(?m)^[ \t]*require[ \t]*\(?[ \t]*['"]([^'"]+)['"]`)},
		},
		probe:     []string{".rb"},
		main:      regexp.MustCompile(`if[ \t]+(?:__FILE__[ \t]*==[ \t]*\$0|\$0[ \t]*==[ \t]*__FILE__|\$PROGRAM_NAME[ \t]*==[ \t]*__FILE__)`),
		framework: "ruby",
	},
	{
		name:       "php",
		extensions: []string{".php"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`\b(?:require|include)(?:_once)?[ \t]*\(?[ \t]*(?:__DIR__[ \t]*\.[ \t]*)?['"]([^'"]+)['"]`), local: true},
			{re: regexp.MustCompile(`(?m)^[ \t]*use[ \t]+([\w\\]+)[ \t]*;`)},
		},
		probe: []string{".php"},
	},
	{
		name:       "csharp",
		extensions: []string{".cs"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*using[ \t]+(?:static[ \t]+)?([\w.]+)[ \t]*;`)},
		},
		main:      regexp.MustCompile(`\bstatic[ \t]+(?:async[ \t]+)?[\w<>]+[ \t]+Main[ \t]*\(`),
		framework: "dotnet",
	},
	{
		name:       "kotlin",
		extensions: []string{".kt", ".kts"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w.]+)`)},
		},
		main:      regexp.MustCompile(`(?m)^[ \t]*fun[ \t]+main[ \t]*\(`),
		framework: "kotlin",
	},
	{
		name:       "swift",
		extensions: []string{".swift"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(\w+)`)},
		},
		main:      regexp.MustCompile(`(?m)^[ \t]*@main\b`),
		framework: "swift",
	},
	{
		name:       "scala",
		extensions: []string{".scala"},
		patterns: []genericPattern{
			{re: regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w.]+)`)},
		},
		main:      regexp.MustCompile(`\bextends[ \t]+App\b|\bdef[ \t]+main[ \t]*\(`),
		framework: "scala",
	},
}

// GenericIndexer handles languages without a tree-sitter spec. It extracts
// includes and requires with regular expressions and never produces
// high-confidence edges.
type GenericIndexer struct {
	session *Session
}

func NewGenericIndexer(s *Session) *GenericIndexer {
	return &GenericIndexer{session: s}
}

func (ix *GenericIndexer) Name() string { return "generic" }

func (ix *GenericIndexer) Supports(p string) bool {
	return genericLanguageFor(p) != nil
}

func genericLanguageFor(p string) *genericLanguage {
	ext := strings.ToLower(path.Ext(p))
	for _, l := range genericLanguages {
		if slices.Contains(l.extensions, ext) {
			return l
		}
	}
	return nil
}

func (ix *GenericIndexer) IndexFile(ctx context.Context, p string, content []byte) (res *Result) {
	lang := genericLanguageFor(p)
	name := "unknown"
	if lang != nil {
		name = lang.name
	}
	defer recoverInto(&res, p, name)

	if lang == nil {
		return &Result{Nodes: []store.Node{fileNode(p, name, store.ConfidenceMedium, ParserGeneric)}}
	}

	facts := newFacts(content)
	for _, pat := range lang.patterns {
		for _, m := range pat.re.FindAllSubmatchIndex(content, -1) {
			facts.addImport(importFact{
				Spec:  string(content[m[2]:m[3]]),
				Line:  lineAt(content, m[0]),
				Local: pat.local,
			})
		}
	}

	var rules []entrypointRule
	if lang.main != nil {
		rules = []entrypointRule{{
			name: lang.name + "-main", typ: EntrypointMain, framework: lang.framework, confidence: store.ConfidenceMedium,
			match: func(string, *fileFacts) bool { return lang.main.Match(content) },
		}}
	}

	b := &builder{
		session:  ix.session,
		path:     p,
		language: lang.name,
		content:  content,
		facts:    facts,
		parser:   ParserGeneric,
		ceiling:  store.ConfidenceMedium,
		resolve: func(imp importFact) importTarget {
			return ix.session.resolveGeneric(lang, p, imp)
		},
		rules: rules,
	}
	return b.build(ctx)
}

func (s *Session) resolveGeneric(lang *genericLanguage, from string, imp importFact) importTarget {
	spec := strings.ReplaceAll(imp.Spec, "\\", "/")
	if imp.Local {
		rel := strings.TrimPrefix(spec, "/")
		if p, ok := s.probeGeneric(path.Join(path.Dir(from), rel), lang.probe); ok {
			return fileTarget(p, store.ConfidenceHigh, "relative include")
		}
		for _, root := range []string{"", "include", "src", "lib"} {
			if p, ok := s.probeGeneric(path.Join(root, rel), lang.probe); ok {
				return fileTarget(p, store.ConfidenceMedium, "include path")
			}
		}
		return moduleTarget(imp.Spec, "include target not found", false)
	}
	for _, root := range []string{"include", "lib"} {
		if p, ok := s.probeGeneric(path.Join(root, spec), lang.probe); ok {
			return fileTarget(p, store.ConfidenceMedium, "include path")
		}
	}
	return moduleTarget(imp.Spec, "assumed external dependency", true)
}

func (s *Session) probeGeneric(base string, exts []string) (string, bool) {
	candidates := []string{base}
	for _, ext := range exts {
		if !strings.HasSuffix(base, ext) {
			candidates = append(candidates, base+ext)
		}
	}
	return s.firstFile(candidates...)
}
