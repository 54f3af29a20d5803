// Package indexer turns one source file into graph nodes and edges.
//
// Each language is described by a languageSpec (grammar, tree extractor,
// regex fallback, import resolution and entrypoint rules). TreeSitterIndexer
// composes a spec with the shared fallback parser; GenericIndexer covers the
// remaining languages with regex extraction only. All indexers bound to the
// same Session share grammar availability, workspace packages, the path
// resolver and custom rules.
package indexer

import (
	"context"
	"fmt"
	"path"

	"github.com/jward/codegraph/internal/store"
)

// Parser names recorded on file nodes.
const (
	ParserTreeSitter = "tree-sitter"
	ParserFallback   = "fallback"
	ParserGeneric    = "generic"
)

// Indexer extracts the nodes and edges of a single file.
type Indexer interface {
	Name() string
	Supports(path string) bool
	// IndexFile never panics and never returns nil. Failures are reported
	// in Result.Errors alongside whatever could be extracted.
	IndexFile(ctx context.Context, path string, content []byte) *Result
}

// IndexError is a per-file failure.
type IndexError struct {
	File        string `json:"file"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e IndexError) Error() string {
	return e.File + ": " + e.Message
}

// Result is the output of indexing one file.
type Result struct {
	Nodes  []store.Node `json:"nodes"`
	Edges  []store.Edge `json:"edges"`
	Errors []IndexError `json:"errors"`
}

// Select returns the first indexer that supports p, or nil.
func Select(indexers []Indexer, p string) Indexer {
	for _, ix := range indexers {
		if ix.Supports(p) {
			return ix
		}
	}
	return nil
}

// Default returns the built-in indexers bound to s, most specific first.
func Default(s *Session) []Indexer {
	return []Indexer{
		NewTreeSitterIndexer(s, typeScriptSpec),
		NewTreeSitterIndexer(s, pythonSpec),
		NewTreeSitterIndexer(s, goSpec),
		NewTreeSitterIndexer(s, rustSpec),
		NewTreeSitterIndexer(s, javaSpec),
		NewGenericIndexer(s),
	}
}

func fileNode(p, language string, conf store.Confidence, parser string) store.Node {
	return store.Node{
		ID:   store.FileID(p),
		Kind: store.KindFile,
		Name: path.Base(p),
		Path: p,
		Meta: store.NodeMeta{
			Language:   language,
			Confidence: conf,
			FileMeta:   &store.FileMeta{Parser: parser},
		},
	}
}

// recoverInto replaces *res with a file-node-only result when the deferred
// call observes a panic.
func recoverInto(res **Result, p, language string) {
	r := recover()
	if r == nil {
		return
	}
	*res = &Result{
		Nodes: []store.Node{fileNode(p, language, store.ConfidenceLow, ParserFallback)},
		Errors: []IndexError{{
			File:        p,
			Message:     fmt.Sprintf("indexer panic: %v", r),
			Recoverable: true,
		}},
	}
}
