package indexer

import (
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var rustSpec = &languageSpec{
	name:       "rust",
	extensions: []string{".rs"},
	grammar:    func(string) string { return "rust" },
	extract:    extractRust,
	fallback:   fallbackRust,
	resolve:    resolveRust,
	rules:      rustRules,
}

var rustItemKinds = map[string]string{
	"function_item":    "function",
	"struct_item":      "struct",
	"enum_item":        "enum",
	"trait_item":       "trait",
	"type_item":        "type",
	"const_item":       "const",
	"static_item":      "static",
	"macro_definition": "macro",
}

func extractRust(root *sitter.Node, src []byte) *fileFacts {
	f := newFacts(src)
	for _, n := range namedChildren(root) {
		pub := firstNamedOfType(n, "visibility_modifier") != nil
		switch n.Type() {
		case "use_declaration":
			addRustUse(f, text(field(n, "argument"), src), line(n), pub)
		case "mod_item":
			if field(n, "body") == nil {
				f.addImport(importFact{Spec: text(field(n, "name"), src), Line: line(n), ModDecl: true})
			}
		case "extern_crate_declaration":
			f.addImport(importFact{Spec: text(field(n, "name"), src), Line: line(n)})
		default:
			if kind, ok := rustItemKinds[n.Type()]; ok {
				name := text(field(n, "name"), src)
				f.addSymbol(name, kind, line(n), pub)
				if kind == "function" {
					f.addFunction(name)
				}
			}
		}
	}
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "attribute_item":
			f.addDecorator(rustAttributeName(text(n, src)))
			return false
		case "call_expression":
			f.addCall(text(field(n, "function"), src))
		case "macro_invocation":
			f.addCall(text(field(n, "macro"), src) + "!")
		}
		return true
	})
	return f
}

// rustAttributeName turns `#[actix_web::get("/")]` into "actix_web::get".
func rustAttributeName(attr string) string {
	attr = strings.TrimPrefix(strings.TrimSpace(attr), "#")
	attr = strings.TrimPrefix(attr, "!")
	attr = strings.TrimSuffix(strings.TrimPrefix(attr, "["), "]")
	if i := strings.IndexAny(attr, "( ="); i >= 0 {
		attr = attr[:i]
	}
	return attr
}

// addRustUse expands a use tree into one fact per imported item.
// `a::{b, c::d}` yields a::b and a::c::d; `a::*` keeps the wildcard.
func addRustUse(f *fileFacts, tree string, ln int, pub bool) {
	tree = compactUseTree(tree)
	if tree == "" {
		return
	}
	open := strings.Index(tree, "{")
	if open < 0 {
		spec, sym := rustUsePath(tree)
		f.addImport(importFact{Spec: spec, Symbols: []string{sym}, Line: ln, Reexport: pub})
		return
	}
	base := strings.TrimSuffix(tree[:open], "::")
	inner := strings.TrimSuffix(tree[open+1:], "}")
	for _, item := range splitTopLevel(inner) {
		if item == "" {
			continue
		}
		if item == "self" {
			f.addImport(importFact{Spec: base, Symbols: []string{lastSegment(base)}, Line: ln, Reexport: pub})
			continue
		}
		full := item
		if base != "" {
			full = base + "::" + item
		}
		addRustUse(f, full, ln, pub)
	}
}

// compactUseTree drops whitespace except around `as` renames.
func compactUseTree(tree string) string {
	fields := strings.Fields(tree)
	var b strings.Builder
	for i, fld := range fields {
		if fld == "as" && i > 0 {
			b.WriteString(" as ")
			continue
		}
		b.WriteString(fld)
	}
	return b.String()
}

func rustUsePath(p string) (spec, symbol string) {
	if before, _, ok := strings.Cut(p, " as "); ok {
		p = before
	}
	if strings.HasSuffix(p, "::*") {
		return strings.TrimSuffix(p, "::*"), "*"
	}
	return p, lastSegment(p)
}

// splitTopLevel splits on commas outside braces.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

var (
	rsUseRe    = regexp.MustCompile(`(?m)^[ \t]*(pub(?:\([^)]*\))?[ \t]+)?use[ \t]+([^;]+);`)
	rsModRe    = regexp.MustCompile(`(?m)^[ \t]*(?:pub(?:\([^)]*\))?[ \t]+)?mod[ \t]+(\w+)[ \t]*;`)
	rsItemRe   = regexp.MustCompile(`(?m)^(pub(?:\([^)]*\))?[ \t]+)?(?:async[ \t]+)?(?:unsafe[ \t]+)?(fn|struct|enum|trait|type|const|static)[ \t]+(\w+)`)
	rsAttrRe   = regexp.MustCompile(`#!?\[([\w:]+)`)
	rsExternRe = regexp.MustCompile(`(?m)^[ \t]*extern[ \t]+crate[ \t]+(\w+)`)
)

func fallbackRust(src []byte) *fileFacts {
	f := newFacts(src)
	for _, m := range rsUseRe.FindAllSubmatchIndex(src, -1) {
		addRustUse(f, string(src[m[4]:m[5]]), lineAt(src, m[0]), m[2] >= 0)
	}
	for _, m := range rsModRe.FindAllSubmatchIndex(src, -1) {
		f.addImport(importFact{Spec: string(src[m[2]:m[3]]), Line: lineAt(src, m[0]), ModDecl: true})
	}
	for _, m := range rsExternRe.FindAllSubmatchIndex(src, -1) {
		f.addImport(importFact{Spec: string(src[m[2]:m[3]]), Line: lineAt(src, m[0])})
	}
	for _, m := range rsItemRe.FindAllSubmatchIndex(src, -1) {
		kind := string(src[m[4]:m[5]])
		name := string(src[m[6]:m[7]])
		if kind == "fn" {
			kind = "function"
			f.addFunction(name)
		}
		f.addSymbol(name, kind, lineAt(src, m[0]), m[2] >= 0)
	}
	for _, m := range rsAttrRe.FindAllSubmatch(src, -1) {
		f.addDecorator(string(m[1]))
	}
	scanCalls(f, src)
	return f
}

var rustStd = map[string]bool{"std": true, "core": true, "alloc": true, "proc_macro": true, "test": true}

func resolveRust(s *Session, from string, imp importFact) importTarget {
	if imp.ModDecl {
		dir := rustModDir(from)
		if p, ok := s.firstFile(path.Join(dir, imp.Spec+".rs"), path.Join(dir, imp.Spec, "mod.rs")); ok {
			return fileTarget(p, store.ConfidenceHigh, "module declaration")
		}
		return moduleTarget(imp.Spec, "module file not found", false)
	}

	segs := strings.Split(imp.Spec, "::")
	switch segs[0] {
	case "crate":
		if p, ok := s.rustPath(rustCrateRoot(from), segs[1:]); ok {
			return fileTarget(p, store.ConfidenceHigh, "crate path")
		}
		return moduleTarget(imp.Spec, "crate path not found", false)
	case "self", "super":
		dir := rustModDir(from)
		for len(segs) > 0 && segs[0] == "super" {
			dir = path.Dir(dir)
			segs = segs[1:]
		}
		if len(segs) > 0 && segs[0] == "self" {
			segs = segs[1:]
		}
		if p, ok := s.rustPath(dir, segs); ok {
			return fileTarget(p, store.ConfidenceHigh, "relative module path")
		}
		return moduleTarget(imp.Spec, "relative module path not found", false)
	}

	if pkg, _, ok := s.packages.Lookup(workspace.Rust, imp.Spec); ok {
		if p, ok := s.rustPath(path.Join(pkg.Dir, "src"), segs[1:]); ok {
			return fileTarget(p, store.ConfidenceMedium, "workspace crate "+pkg.Name)
		}
		if pkg.Entry != "" {
			return fileTarget(pkg.Entry, store.ConfidenceMedium, "workspace crate "+pkg.Name)
		}
		return moduleTarget(imp.Spec, "workspace crate source not found", false)
	}
	if rustStd[segs[0]] {
		return moduleTarget(imp.Spec, "rust standard library", true)
	}
	// Items of the current crate root can be used without a `crate::` prefix
	// in 2015-edition code and from main.rs submodule declarations.
	if p, ok := s.rustPathStrict(rustModDir(from), segs); ok {
		return fileTarget(p, store.ConfidenceMedium, "sibling module")
	}
	return moduleTarget(imp.Spec, "external crate", true)
}

// rustPath resolves the longest module prefix of segs under dir, falling
// back to the module file that owns dir.
func (s *Session) rustPath(dir string, segs []string) (string, bool) {
	if p, ok := s.rustPathStrict(dir, segs); ok {
		return p, true
	}
	return s.firstFile(path.Join(dir, "lib.rs"), path.Join(dir, "main.rs"), path.Join(dir, "mod.rs"), dir+".rs")
}

func (s *Session) rustPathStrict(dir string, segs []string) (string, bool) {
	for n := len(segs); n >= 1; n-- {
		p := path.Join(dir, strings.Join(segs[:n], "/"))
		if found, ok := s.firstFile(p+".rs", path.Join(p, "mod.rs")); ok {
			return found, true
		}
	}
	return "", false
}

// rustModDir is the directory holding the child modules of the file's module.
func rustModDir(from string) string {
	if baseIs(from, "main.rs", "lib.rs", "mod.rs") {
		return path.Dir(from)
	}
	return strings.TrimSuffix(from, ".rs")
}

// rustCrateRoot is the nearest enclosing src directory.
func rustCrateRoot(from string) string {
	dir := path.Dir(from)
	for d := dir; d != "." && d != "/"; d = path.Dir(d) {
		if path.Base(d) == "src" {
			return d
		}
	}
	return dir
}

var rustRules = []entrypointRule{
	{
		name: "actix-main", typ: EntrypointHTTP, framework: "actix-web", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasDecorator("actix_web::main") || f.hasCall("HttpServer::new")
		},
	},
	{
		name: "actix-routes", typ: EntrypointHTTP, framework: "actix-web", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("actix_web") && f.hasDecorator("get", "post", "put", "patch", "delete", "route")
		},
	},
	{
		name: "axum-router", typ: EntrypointHTTP, framework: "axum", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("axum") && f.hasCall("Router::new", "axum::Router::new")
		},
	},
	{
		name: "rocket-launch", typ: EntrypointHTTP, framework: "rocket", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasDecorator("launch", "rocket::main")
		},
	},
	{
		name: "tokio-main", typ: EntrypointMain, framework: "tokio", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool { return f.hasDecorator("tokio::main") },
	},
	{
		name: "clap-cli", typ: EntrypointCLI, framework: "clap", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("clap") && f.hasFunction("main") },
	},
	{
		name: "rust-main", typ: EntrypointMain, framework: "rust", confidence: store.ConfidenceHigh,
		match: func(p string, f *fileFacts) bool {
			return f.hasFunction("main") && (baseIs(p, "main.rs") || underDir(p, "src/bin") || strings.HasPrefix(p, "src/bin/"))
		},
	},
}
