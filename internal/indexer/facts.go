package indexer

import (
	"bytes"
	"regexp"
	"slices"
	"strings"
)

// importFact is one import, require, use or re-export statement.
type importFact struct {
	Spec     string
	Symbols  []string
	Line     int
	Reexport bool
	// Visible holds the names a re-export exposes when they differ from
	// Symbols (`export { a as b }` has Symbols [a] and Visible [b]).
	Visible  []string
	Dynamic  bool
	TypeOnly bool
	// ModDecl marks a Rust `mod name;` declaration.
	ModDecl bool
	// Local marks a quoted include or require_relative in generic languages.
	Local bool
}

type symbolFact struct {
	Name     string
	Kind     string
	Line     int
	Exported bool
}

// fileFacts is the language-neutral summary both extractors produce.
// Entrypoint rules and the graph builder work only from these facts.
type fileFacts struct {
	Imports    []importFact
	Exports    []string
	Symbols    []symbolFact
	Decorators []string
	Calls      []string
	Functions  []string
	Package    string
	MainGuard  bool
	Shebang    bool

	seen map[string]bool
}

func newFacts(src []byte) *fileFacts {
	return &fileFacts{
		seen:    make(map[string]bool),
		Shebang: bytes.HasPrefix(src, []byte("#!")),
	}
}

func (f *fileFacts) once(key string) bool {
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

func (f *fileFacts) addImport(imp importFact) {
	if imp.Spec == "" {
		return
	}
	f.Imports = append(f.Imports, imp)
}

func (f *fileFacts) addExport(name string) {
	if name != "" && f.once("e:"+name) {
		f.Exports = append(f.Exports, name)
	}
}

func (f *fileFacts) addSymbol(name, kind string, line int, exported bool) {
	if name == "" || !f.once("s:"+name) {
		return
	}
	f.Symbols = append(f.Symbols, symbolFact{Name: name, Kind: kind, Line: line, Exported: exported})
	if exported {
		f.addExport(name)
	}
}

func (f *fileFacts) addDecorator(name string) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	if name != "" && f.once("d:"+name) {
		f.Decorators = append(f.Decorators, name)
	}
}

func (f *fileFacts) addCall(callee string) {
	if callee == "" || len(callee) > 96 || strings.ContainsAny(callee, "\n()") {
		return
	}
	if f.once("c:" + callee) {
		f.Calls = append(f.Calls, callee)
	}
}

func (f *fileFacts) addFunction(name string) {
	if name != "" && f.once("f:"+name) {
		f.Functions = append(f.Functions, name)
	}
}

// importSpecs returns the distinct specifiers in source order.
func (f *fileFacts) importSpecs() []string {
	var out []string
	for _, imp := range f.Imports {
		if !slices.Contains(out, imp.Spec) {
			out = append(out, imp.Spec)
		}
	}
	return out
}

// hasImport matches a specifier exactly or as a package prefix under any
// of the path separators the supported languages use.
func (f *fileFacts) hasImport(prefixes ...string) bool {
	for _, imp := range f.Imports {
		for _, p := range prefixes {
			if imp.Spec == p || strings.HasPrefix(imp.Spec, p+"/") ||
				strings.HasPrefix(imp.Spec, p+".") || strings.HasPrefix(imp.Spec, p+"::") {
				return true
			}
		}
	}
	return false
}

// hasDecorator matches a decorator by full name or by its last segment.
func (f *fileFacts) hasDecorator(names ...string) bool {
	for _, d := range f.Decorators {
		for _, n := range names {
			if d == n || lastSegment(d) == n {
				return true
			}
		}
	}
	return false
}

// hasDecoratorSuffix matches decorators such as "app.get" against ".get".
func (f *fileFacts) hasDecoratorSuffix(suffixes ...string) bool {
	for _, d := range f.Decorators {
		for _, s := range suffixes {
			if strings.HasSuffix(d, s) {
				return true
			}
		}
	}
	return false
}

// hasCall matches a callee exactly.
func (f *fileFacts) hasCall(names ...string) bool {
	for _, c := range f.Calls {
		if slices.Contains(names, c) {
			return true
		}
	}
	return false
}

// hasMethodCall matches callees ending in "."+method or "::"+method.
func (f *fileFacts) hasMethodCall(methods ...string) bool {
	for _, c := range f.Calls {
		for _, m := range methods {
			if strings.HasSuffix(c, "."+m) || strings.HasSuffix(c, "::"+m) {
				return true
			}
		}
	}
	return false
}

func (f *fileFacts) hasFunction(names ...string) bool {
	for _, fn := range f.Functions {
		if slices.Contains(names, fn) {
			return true
		}
	}
	return false
}

func (f *fileFacts) hasExport(name string) bool {
	return slices.Contains(f.Exports, name)
}

func lastSegment(s string) string {
	if i := strings.LastIndexAny(s, ".:"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Regex helpers shared by the fallback extractors.

var reCallee = regexp.MustCompile(`([A-Za-z_$][\w$]*(?:(?:\.|::)[A-Za-z_$][\w$]*)*)\s*\(`)

var calleeKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"function": true, "catch": true, "func": true, "def": true, "fn": true,
	"match": true, "elif": true, "and": true, "or": true, "not": true,
	"super": true, "new": true, "typeof": true, "await": true, "print": true,
}

func scanCalls(f *fileFacts, src []byte) {
	for _, m := range reCallee.FindAllSubmatch(src, -1) {
		callee := string(m[1])
		if !calleeKeywords[callee] {
			f.addCall(callee)
		}
	}
}

func lineAt(src []byte, offset int) int {
	return bytes.Count(src[:offset], []byte("\n")) + 1
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

func isExportedGo(name string) bool {
	return name != "" && strings.ToUpper(name[:1]) == name[:1] && strings.ToLower(name[:1]) != name[:1]
}
