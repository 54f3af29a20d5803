package indexer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
)

// languageSpec describes one tree-sitter backed language.
type languageSpec struct {
	name       string
	extensions []string
	// grammar picks the grammar for a path; languageFor the language label.
	grammar     func(p string) string
	languageFor func(p string) string
	extract     func(root *sitter.Node, src []byte) *fileFacts
	fallback    func(src []byte) *fileFacts
	resolve     func(s *Session, from string, imp importFact) importTarget
	rules       []entrypointRule
}

func (spec *languageSpec) language(p string) string {
	if spec.languageFor != nil {
		return spec.languageFor(p)
	}
	return spec.name
}

// fallbackParser extracts facts with tree-sitter while the grammar is
// available and with the regex extractor once it is not.
type fallbackParser struct {
	session *Session
	spec    *languageSpec
}

func (fp fallbackParser) parse(ctx context.Context, p string, content []byte) (*fileFacts, string, error) {
	tree, err := fp.session.parse(ctx, fp.spec.grammar(p), content)
	if err != nil {
		facts := fp.spec.fallback(content)
		if errors.Is(err, errGrammarUnavailable) {
			return facts, ParserFallback, nil
		}
		return facts, ParserFallback, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()
	return fp.spec.extract(tree.RootNode(), content), ParserTreeSitter, nil
}

// TreeSitterIndexer indexes one language family.
type TreeSitterIndexer struct {
	session *Session
	spec    *languageSpec
	parser  fallbackParser
}

func NewTreeSitterIndexer(s *Session, spec *languageSpec) *TreeSitterIndexer {
	return &TreeSitterIndexer{
		session: s,
		spec:    spec,
		parser:  fallbackParser{session: s, spec: spec},
	}
}

func (ix *TreeSitterIndexer) Name() string { return ix.spec.name }

func (ix *TreeSitterIndexer) Supports(p string) bool {
	return slices.Contains(ix.spec.extensions, strings.ToLower(path.Ext(p)))
}

func (ix *TreeSitterIndexer) IndexFile(ctx context.Context, p string, content []byte) (res *Result) {
	lang := ix.spec.language(p)
	defer recoverInto(&res, p, lang)

	facts, parser, err := ix.parser.parse(ctx, p, content)
	b := &builder{
		session:  ix.session,
		path:     p,
		language: lang,
		content:  content,
		facts:    facts,
		parser:   parser,
		resolve: func(imp importFact) importTarget {
			return ix.spec.resolve(ix.session, p, imp)
		},
		rules: ix.spec.rules,
	}
	if parser == ParserFallback {
		b.ceiling = store.ConfidenceLow
	}
	res = b.build(ctx)
	if err != nil {
		res.Errors = append(res.Errors, IndexError{File: p, Message: err.Error(), Recoverable: true})
	}
	return res
}

// Tree helpers.

// walk visits n and its descendants depth-first. Returning false from fn
// skips the children of the current node.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || n.IsNull() {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func text(n *sitter.Node, src []byte) string {
	if n == nil || n.IsNull() {
		return ""
	}
	return n.Content(src)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func field(n *sitter.Node, name string) *sitter.Node {
	c := n.ChildByFieldName(name)
	if c == nil || c.IsNull() {
		return nil
	}
	return c
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

func children(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.ChildCount())
	for i := 0; i < int(n.ChildCount()); i++ {
		out = append(out, n.Child(i))
	}
	return out
}

func firstNamedOfType(n *sitter.Node, types ...string) *sitter.Node {
	for _, c := range namedChildren(n) {
		if slices.Contains(types, c.Type()) {
			return c
		}
	}
	return nil
}

// hasToken reports whether n has a direct anonymous child spelled tok.
func hasToken(n *sitter.Node, src []byte, tok string) bool {
	for _, c := range children(n) {
		if !c.IsNamed() && c.Content(src) == tok {
			return true
		}
	}
	return false
}
