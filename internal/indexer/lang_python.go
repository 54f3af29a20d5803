package indexer

import (
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var pythonSpec = &languageSpec{
	name:       "python",
	extensions: []string{".py", ".pyi"},
	grammar:    func(string) string { return "python" },
	extract:    extractPython,
	fallback:   fallbackPython,
	resolve:    resolvePython,
	rules:      pythonRules,
}

func extractPython(root *sitter.Node, src []byte) *fileFacts {
	f := newFacts(src)
	for _, n := range namedChildren(root) {
		pyTopLevel(f, n, src)
	}
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for _, c := range namedChildren(n) {
				name := c
				if c.Type() == "aliased_import" {
					name = field(c, "name")
				}
				f.addImport(importFact{Spec: text(name, src), Line: line(n)})
			}
			return false
		case "import_from_statement":
			pyFromImport(f, n, src)
			return false
		case "decorator":
			if expr := n.NamedChild(0); expr != nil {
				if expr.Type() == "call" {
					expr = field(expr, "function")
				}
				f.addDecorator(text(expr, src))
			}
		case "call":
			f.addCall(text(field(n, "function"), src))
		}
		return true
	})
	return f
}

func pyTopLevel(f *fileFacts, n *sitter.Node, src []byte) {
	switch n.Type() {
	case "decorated_definition":
		if def := field(n, "definition"); def != nil {
			pyTopLevel(f, def, src)
		}
	case "function_definition":
		name := text(field(n, "name"), src)
		f.addSymbol(name, "function", line(n), !strings.HasPrefix(name, "_"))
		f.addFunction(name)
	case "class_definition":
		name := text(field(n, "name"), src)
		f.addSymbol(name, "class", line(n), !strings.HasPrefix(name, "_"))
	case "expression_statement":
		if a := n.NamedChild(0); a != nil && a.Type() == "assignment" {
			if left := field(a, "left"); left != nil && left.Type() == "identifier" {
				name := text(left, src)
				f.addSymbol(name, "variable", line(n), !strings.HasPrefix(name, "_"))
			}
		}
	case "if_statement":
		cond := text(field(n, "condition"), src)
		if strings.Contains(cond, "__name__") && strings.Contains(cond, "__main__") {
			f.MainGuard = true
		}
	}
}

func pyFromImport(f *fileFacts, n *sitter.Node, src []byte) {
	module := field(n, "module_name")
	if module == nil {
		return
	}
	spec := strings.ReplaceAll(text(module, src), " ", "")
	var names []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.Type() == "wildcard_import" {
			names = append(names, "*")
			continue
		}
		if n.FieldNameForChild(i) != "name" {
			continue
		}
		switch c.Type() {
		case "dotted_name", "identifier":
			names = append(names, text(c, src))
		case "aliased_import":
			names = append(names, text(field(c, "name"), src))
		}
	}
	addPythonFrom(f, spec, names, line(n))
}

// addPythonFrom records `from spec import names`. A bare relative module
// ("." or "..") imports submodules, one fact per name.
func addPythonFrom(f *fileFacts, spec string, names []string, ln int) {
	if strings.Trim(spec, ".") == "" {
		for _, name := range names {
			if name == "*" {
				f.addImport(importFact{Spec: spec, Symbols: []string{"*"}, Line: ln})
				continue
			}
			f.addImport(importFact{Spec: spec + name, Symbols: []string{name}, Line: ln})
		}
		return
	}
	f.addImport(importFact{Spec: spec, Symbols: names, Line: ln})
}

var (
	pyImportRe    = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w. \t,]+)$`)
	pyFromParenRe = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([.\w]+)[ \t]+import[ \t]*\(([^)]*)\)`)
	pyFromRe      = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([.\w]+)[ \t]+import[ \t]+([^(\n][^\n]*)$`)
	pyDecoratorRe = regexp.MustCompile(`(?m)^[ \t]*@([\w.]+)`)
	pyDefRe       = regexp.MustCompile(`(?m)^(?:async[ \t]+)?def[ \t]+(\w+)`)
	pyClassRe     = regexp.MustCompile(`(?m)^class[ \t]+(\w+)`)
	pyMainGuardRe = regexp.MustCompile(`if\s+__name__\s*==\s*['"]__main__['"]`)
	pyAsClause    = regexp.MustCompile(`\s+as\s+\w+`)
	pyLineComment = regexp.MustCompile(`#.*`)
)

func fallbackPython(src []byte) *fileFacts {
	f := newFacts(src)
	for _, m := range pyImportRe.FindAllSubmatchIndex(src, -1) {
		for _, part := range strings.Split(string(src[m[2]:m[3]]), ",") {
			spec := strings.TrimSpace(pyAsClause.ReplaceAllString(part, ""))
			f.addImport(importFact{Spec: spec, Line: lineAt(src, m[0])})
		}
	}
	for _, re := range []*regexp.Regexp{pyFromParenRe, pyFromRe} {
		for _, m := range re.FindAllSubmatchIndex(src, -1) {
			list := pyLineComment.ReplaceAllString(string(src[m[4]:m[5]]), "")
			var names []string
			for _, part := range strings.Split(list, ",") {
				if name := strings.TrimSpace(pyAsClause.ReplaceAllString(part, "")); name != "" {
					names = append(names, name)
				}
			}
			addPythonFrom(f, string(src[m[2]:m[3]]), names, lineAt(src, m[0]))
		}
	}
	for _, m := range pyDecoratorRe.FindAllSubmatch(src, -1) {
		f.addDecorator(string(m[1]))
	}
	for _, m := range pyDefRe.FindAllSubmatchIndex(src, -1) {
		name := string(src[m[2]:m[3]])
		f.addSymbol(name, "function", lineAt(src, m[0]), !strings.HasPrefix(name, "_"))
		f.addFunction(name)
	}
	for _, m := range pyClassRe.FindAllSubmatchIndex(src, -1) {
		name := string(src[m[2]:m[3]])
		f.addSymbol(name, "class", lineAt(src, m[0]), !strings.HasPrefix(name, "_"))
	}
	f.MainGuard = pyMainGuardRe.Match(src)
	scanCalls(f, src)
	return f
}

func resolvePython(s *Session, from string, imp importFact) importTarget {
	spec := imp.Spec
	if strings.HasPrefix(spec, ".") {
		dots := len(spec) - len(strings.TrimLeft(spec, "."))
		base := path.Dir(from)
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
		if p, ok := s.probePython(base, spec[dots:]); ok {
			return fileTarget(p, store.ConfidenceHigh, "relative import")
		}
		return moduleTarget(spec, "relative import target not found", false)
	}
	if pkg, rest, ok := s.packages.Lookup(workspace.Python, spec); ok {
		if p, ok := s.probePython(pkg.Dir, rest); ok {
			return fileTarget(p, store.ConfidenceMedium, "workspace package "+pkg.Name)
		}
		if rest == "" && pkg.Entry != "" {
			return fileTarget(pkg.Entry, store.ConfidenceMedium, "workspace package "+pkg.Name)
		}
		return moduleTarget(spec, "workspace package module not found", false)
	}
	for _, root := range []string{".", "src"} {
		if p, ok := s.probePython(root, spec); ok {
			return fileTarget(p, store.ConfidenceMedium, "source root module")
		}
	}
	return moduleTarget(spec, "assumed external package", true)
}

// probePython maps a dotted module under base to a module file or package
// __init__.py.
func (s *Session) probePython(base, dotted string) (string, bool) {
	rel := strings.ReplaceAll(dotted, ".", "/")
	if rel == "" {
		return s.firstFile(path.Join(base, "__init__.py"))
	}
	p := path.Join(base, rel)
	return s.firstFile(p+".py", p+".pyi", path.Join(p, "__init__.py"))
}

var pyRouteDecorators = []string{".get", ".post", ".put", ".patch", ".delete", ".route", ".api_route", ".websocket"}

var pythonRules = []entrypointRule{
	{
		name: "fastapi-app", typ: EntrypointHTTP, framework: "fastapi", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("fastapi") && f.hasCall("FastAPI", "fastapi.FastAPI")
		},
	},
	{
		name: "fastapi-router", typ: EntrypointHTTP, framework: "fastapi", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("fastapi") && f.hasDecoratorSuffix(pyRouteDecorators...)
		},
	},
	{
		name: "flask-app", typ: EntrypointHTTP, framework: "flask", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("flask") && f.hasCall("Flask", "flask.Flask")
		},
	},
	{
		name: "flask-blueprint", typ: EntrypointHTTP, framework: "flask", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("flask") && (f.hasCall("Blueprint") || f.hasDecoratorSuffix(".route"))
		},
	},
	{
		name: "django-views", typ: EntrypointHTTP, framework: "django", confidence: store.ConfidenceMedium,
		match: func(p string, f *fileFacts) bool {
			return f.hasImport("django") && baseIs(p, "views.py", "urls.py", "viewsets.py")
		},
	},
	{
		name: "celery-task", typ: EntrypointJob, framework: "celery", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool {
			return f.hasDecorator("shared_task") || f.hasDecoratorSuffix(".task", ".periodic_task")
		},
	},
	{
		name: "click-cli", typ: EntrypointCLI, framework: "click", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("click") && f.hasDecoratorSuffix(".command", ".group")
		},
	},
	{
		name: "typer-cli", typ: EntrypointCLI, framework: "typer", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("typer") },
	},
	{
		name: "argparse-cli", typ: EntrypointCLI, framework: "argparse", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("argparse") && f.MainGuard },
	},
	{
		name: "python-main", typ: EntrypointMain, framework: "python", confidence: store.ConfidenceHigh,
		match: func(p string, f *fileFacts) bool { return f.MainGuard || baseIs(p, "__main__.py") },
	},
	{
		name: "lambda-handler", typ: EntrypointServerless, framework: "aws-lambda", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasFunction("lambda_handler") },
	},
}
