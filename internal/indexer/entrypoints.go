package indexer

import (
	"context"
	"path"
	"strings"

	"github.com/jward/codegraph/internal/rules"
	"github.com/jward/codegraph/internal/store"
)

// Entrypoint types.
const (
	EntrypointHTTP       = "http"
	EntrypointCLI        = "cli"
	EntrypointMain       = "main"
	EntrypointJob        = "job"
	EntrypointWorker     = "worker"
	EntrypointServerless = "serverless"
)

type entrypointRule struct {
	name       string
	typ        string
	framework  string
	confidence store.Confidence
	// router marks rules that detect route definitions which only run when
	// another file mounts them.
	router bool
	match  func(p string, f *fileFacts) bool
}

type entrypointMatch struct {
	Type       string
	Framework  string
	Rule       string
	Confidence store.Confidence
}

// routerRules is filled from every language's rule list at init.
var routerRules = map[string]bool{}

func registerRouterRules(lists ...[]entrypointRule) {
	for _, list := range lists {
		for _, r := range list {
			if r.router {
				routerRules[r.name] = true
			}
		}
	}
}

func init() {
	registerRouterRules(typeScriptRules, pythonRules, goRules, rustRules, javaRules)
}

// IsRouterRule reports whether rule detects a route module that must be
// mounted by another file to be reachable.
func IsRouterRule(rule string) bool {
	return routerRules[rule]
}

// detectEntrypoint runs custom rules, then the built-in battery; the first
// match wins.
func (b *builder) detectEntrypoint(ctx context.Context) *entrypointMatch {
	if b.session.rules.Len() > 0 {
		m, ok := b.session.rules.Match(ctx, rules.Input{
			Path:     b.path,
			Language: b.language,
			Content:  string(b.content),
			Imports:  b.facts.importSpecs(),
		})
		if ok {
			return &entrypointMatch{
				Type:       m.Type,
				Framework:  m.Framework,
				Rule:       "custom:" + m.Rule,
				Confidence: store.ConfidenceMedium,
			}
		}
	}
	for _, r := range b.rules {
		if r.match(b.path, b.facts) {
			return &entrypointMatch{Type: r.typ, Framework: r.framework, Rule: r.name, Confidence: r.confidence}
		}
	}
	return nil
}

func baseIs(p string, names ...string) bool {
	base := path.Base(p)
	for _, n := range names {
		if base == n {
			return true
		}
	}
	return false
}

func underDir(p, dir string) bool {
	return strings.HasPrefix(p, dir+"/") || strings.Contains(p, "/"+dir+"/")
}
