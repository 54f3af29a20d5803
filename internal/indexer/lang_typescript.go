package indexer

import (
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var typeScriptSpec = &languageSpec{
	name:       "typescript",
	extensions: []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"},
	grammar: func(p string) string {
		switch strings.ToLower(path.Ext(p)) {
		case ".tsx":
			return "tsx"
		case ".ts", ".mts", ".cts":
			return "typescript"
		default:
			return "javascript"
		}
	},
	languageFor: func(p string) string {
		switch strings.ToLower(path.Ext(p)) {
		case ".ts", ".tsx", ".mts", ".cts":
			return "typescript"
		default:
			return "javascript"
		}
	},
	extract:  extractTypeScript,
	fallback: fallbackTypeScript,
	resolve:  resolveTypeScript,
	rules:    typeScriptRules,
}

func extractTypeScript(root *sitter.Node, src []byte) *fileFacts {
	f := newFacts(src)
	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "import_statement":
			tsImport(f, n, src)
		case "export_statement":
			tsExport(f, n, src)
		default:
			tsDeclaration(f, n, src, false)
		}
	}
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "call_expression":
			tsCall(f, n, src)
		case "decorator":
			if expr := n.NamedChild(0); expr != nil {
				if expr.Type() == "call_expression" {
					expr = field(expr, "function")
				}
				f.addDecorator(text(expr, src))
			}
		case "assignment_expression":
			tsCommonJSExport(f, n, src)
		}
		return true
	})
	return f
}

func tsImport(f *fileFacts, n *sitter.Node, src []byte) {
	source := field(n, "source")
	if source == nil {
		source = firstNamedOfType(n, "string")
	}
	if req := firstNamedOfType(n, "import_require_clause"); req != nil && source == nil {
		source = firstNamedOfType(req, "string")
	}
	if source == nil {
		return
	}
	imp := importFact{
		Spec:     unquote(text(source, src)),
		Line:     line(n),
		TypeOnly: hasToken(n, src, "type"),
	}
	if clause := firstNamedOfType(n, "import_clause"); clause != nil {
		for _, c := range namedChildren(clause) {
			switch c.Type() {
			case "identifier":
				imp.Symbols = append(imp.Symbols, "default")
			case "namespace_import":
				imp.Symbols = append(imp.Symbols, "*")
			case "named_imports":
				for _, spec := range namedChildren(c) {
					if spec.Type() == "import_specifier" {
						imp.Symbols = append(imp.Symbols, text(field(spec, "name"), src))
					}
				}
			}
		}
	}
	f.addImport(imp)
}

// tsExport records an export statement. Only the source field marks a
// re-export; a string elsewhere is an exported value.
func tsExport(f *fileFacts, n *sitter.Node, src []byte) {
	if source := field(n, "source"); source != nil {
		imp := importFact{
			Spec:     unquote(text(source, src)),
			Line:     line(n),
			Reexport: true,
			TypeOnly: hasToken(n, src, "type"),
		}
		if clause := firstNamedOfType(n, "export_clause"); clause != nil {
			imp.Symbols, imp.Visible = exportClauseNames(clause, src)
		} else if ns := firstNamedOfType(n, "namespace_export"); ns != nil {
			imp.Symbols = []string{"*"}
			if id := ns.NamedChild(0); id != nil {
				imp.Visible = []string{text(id, src)}
			}
		} else {
			imp.Symbols = []string{"*"}
		}
		f.addImport(imp)
		return
	}

	if decl := field(n, "declaration"); decl != nil {
		tsDeclaration(f, decl, src, true)
	}
	if hasToken(n, src, "default") {
		f.addExport("default")
	}
	if clause := firstNamedOfType(n, "export_clause"); clause != nil {
		_, visible := exportClauseNames(clause, src)
		for _, name := range visible {
			f.addExport(name)
		}
	}
}

// exportClauseNames returns the local names of an export clause and the
// names it makes visible.
func exportClauseNames(clause *sitter.Node, src []byte) (names, visible []string) {
	for _, spec := range namedChildren(clause) {
		if spec.Type() != "export_specifier" {
			continue
		}
		name := text(field(spec, "name"), src)
		if name == "" {
			continue
		}
		alias := text(field(spec, "alias"), src)
		if alias == "" {
			alias = name
		}
		names = append(names, name)
		visible = append(visible, alias)
	}
	return names, visible
}

func tsDeclaration(f *fileFacts, n *sitter.Node, src []byte, exported bool) {
	kind := ""
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature":
		kind = "function"
	case "class_declaration", "abstract_class_declaration":
		kind = "class"
	case "interface_declaration":
		kind = "interface"
	case "type_alias_declaration":
		kind = "type"
	case "enum_declaration":
		kind = "enum"
	case "lexical_declaration", "variable_declaration":
		for _, d := range namedChildren(n) {
			if d.Type() != "variable_declarator" {
				continue
			}
			name := field(d, "name")
			if name == nil || name.Type() != "identifier" {
				continue
			}
			k := "variable"
			if v := field(d, "value"); v != nil {
				switch v.Type() {
				case "arrow_function", "function", "function_expression":
					k = "function"
					f.addFunction(text(name, src))
				}
			}
			f.addSymbol(text(name, src), k, line(d), exported)
		}
		return
	default:
		return
	}
	name := text(field(n, "name"), src)
	f.addSymbol(name, kind, line(n), exported)
	if kind == "function" {
		f.addFunction(name)
	}
}

func tsCall(f *fileFacts, n *sitter.Node, src []byte) {
	fn := field(n, "function")
	if fn == nil {
		return
	}
	args := field(n, "arguments")
	var firstArg *sitter.Node
	if args != nil {
		firstArg = args.NamedChild(0)
	}
	switch {
	case fn.Type() == "import":
		if firstArg != nil && firstArg.Type() == "string" {
			f.addImport(importFact{Spec: unquote(text(firstArg, src)), Line: line(n), Dynamic: true})
		}
	case fn.Type() == "identifier" && text(fn, src) == "require":
		if firstArg != nil && firstArg.Type() == "string" {
			f.addImport(importFact{Spec: unquote(text(firstArg, src)), Line: line(n)})
		}
	default:
		f.addCall(text(fn, src))
	}
}

// tsCommonJSExport records `module.exports = x` and `exports.name = x`.
func tsCommonJSExport(f *fileFacts, n *sitter.Node, src []byte) {
	left := text(field(n, "left"), src)
	switch {
	case left == "module.exports":
		f.addExport("default")
	case strings.HasPrefix(left, "module.exports."):
		f.addExport(strings.TrimPrefix(left, "module.exports."))
	case strings.HasPrefix(left, "exports."):
		f.addExport(strings.TrimPrefix(left, "exports."))
	}
}

var (
	tsImportRe      = regexp.MustCompile(`(?m)^[ \t]*import\s+(type\s+)?(?:([\w$*{}\s,]+?)\s+from\s+)?['"]([^'"\n]+)['"]`)
	tsReexportRe    = regexp.MustCompile(`(?m)^[ \t]*export\s+(type\s+)?(\*(?:\s+as\s+[\w$]+)?|\{[^}]*\})\s*from\s+['"]([^'"\n]+)['"]`)
	tsRequireRe     = regexp.MustCompile(`\brequire\(\s*['"]([^'"\n]+)['"]\s*\)`)
	tsDynImportRe   = regexp.MustCompile(`\bimport\(\s*['"]([^'"\n]+)['"]\s*\)`)
	tsExportDeclRe  = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:declare\s+)?(?:async\s+)?(function\*?|class|abstract\s+class|const|let|var|interface|type|enum)\s+([\w$]+)`)
	tsExportDefRe   = regexp.MustCompile(`(?m)^[ \t]*export\s+default\b`)
	tsExportListRe  = regexp.MustCompile(`(?m)^[ \t]*export\s+\{([^}]*)\}\s*;?\s*$`)
	tsDecoratorRe   = regexp.MustCompile(`@([\w$.]+)\s*\(`)
	tsFunctionRe    = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([\w$]+)`)
	tsModuleExports = regexp.MustCompile(`(?m)^[ \t]*(?:module\.)?exports(?:\.([\w$]+))?\s*=`)
)

func fallbackTypeScript(src []byte) *fileFacts {
	f := newFacts(src)
	for _, m := range tsImportRe.FindAllSubmatchIndex(src, -1) {
		imp := importFact{Spec: string(src[m[6]:m[7]]), Line: lineAt(src, m[0]), TypeOnly: m[2] >= 0}
		if m[4] >= 0 {
			imp.Symbols = importClauseNames(string(src[m[4]:m[5]]))
		}
		f.addImport(imp)
	}
	for _, m := range tsReexportRe.FindAllSubmatchIndex(src, -1) {
		clause := string(src[m[4]:m[5]])
		imp := importFact{Spec: string(src[m[6]:m[7]]), Line: lineAt(src, m[0]), Reexport: true, TypeOnly: m[2] >= 0}
		switch {
		case clause == "*":
			imp.Symbols = []string{"*"}
		case strings.HasPrefix(clause, "*"):
			imp.Symbols = []string{"*"}
			imp.Visible = []string{strings.TrimSpace(clause[strings.LastIndex(clause, " ")+1:])}
		default:
			imp.Symbols, imp.Visible = exportListNames(clause)
		}
		f.addImport(imp)
	}
	for _, m := range tsRequireRe.FindAllSubmatchIndex(src, -1) {
		f.addImport(importFact{Spec: string(src[m[2]:m[3]]), Line: lineAt(src, m[0])})
	}
	for _, m := range tsDynImportRe.FindAllSubmatchIndex(src, -1) {
		f.addImport(importFact{Spec: string(src[m[2]:m[3]]), Line: lineAt(src, m[0]), Dynamic: true})
	}
	for _, m := range tsExportDeclRe.FindAllSubmatchIndex(src, -1) {
		kind := strings.TrimSuffix(strings.Fields(string(src[m[2]:m[3]]))[0], "*")
		name := string(src[m[4]:m[5]])
		switch kind {
		case "function":
			f.addFunction(name)
		case "abstract":
			kind = "class"
		case "const", "let", "var":
			kind = "variable"
		}
		f.addSymbol(name, kind, lineAt(src, m[0]), true)
	}
	if tsExportDefRe.Match(src) {
		f.addExport("default")
	}
	for _, m := range tsExportListRe.FindAllSubmatch(src, -1) {
		_, visible := exportListNames(string(m[1]))
		for _, name := range visible {
			f.addExport(name)
		}
	}
	for _, m := range tsModuleExports.FindAllSubmatch(src, -1) {
		if len(m[1]) > 0 {
			f.addExport(string(m[1]))
		} else {
			f.addExport("default")
		}
	}
	for _, m := range tsDecoratorRe.FindAllSubmatch(src, -1) {
		f.addDecorator(string(m[1]))
	}
	for _, m := range tsFunctionRe.FindAllSubmatch(src, -1) {
		f.addFunction(string(m[1]))
	}
	scanCalls(f, src)
	return f
}

// importClauseNames parses `def, { a, b as c }` or `* as ns`.
func importClauseNames(clause string) []string {
	var names []string
	clause = strings.TrimSpace(clause)
	if open := strings.Index(clause, "{"); open >= 0 {
		inner := clause[open+1:]
		if end := strings.Index(inner, "}"); end >= 0 {
			inner = inner[:end]
		}
		for _, part := range strings.Split(inner, ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 && fields[0] == "type" {
				fields = fields[1:]
			}
			if len(fields) > 0 {
				names = append(names, fields[0])
			}
		}
		clause = strings.TrimSpace(clause[:open])
	}
	clause = strings.TrimSuffix(clause, ",")
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "*"):
			names = append(names, "*")
		default:
			names = append(names, "default")
		}
	}
	return names
}

// exportListNames parses `{ a, b as c }` into the local names a, b and the
// visible names a, c.
func exportListNames(list string) (names, visible []string) {
	list = strings.Trim(strings.TrimSpace(list), "{}")
	for _, part := range strings.Split(list, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 && fields[0] == "type" {
			fields = fields[1:]
		}
		switch len(fields) {
		case 0:
		case 3:
			names = append(names, fields[0])
			visible = append(visible, fields[2])
		default:
			names = append(names, fields[0])
			visible = append(visible, fields[0])
		}
	}
	return names, visible
}

func resolveTypeScript(s *Session, from string, imp importFact) importTarget {
	res := s.resolver.Resolve(imp.Spec, from)
	if res == nil {
		return importTarget{}
	}
	if res.Found() {
		return fileTarget(res.Resolved, res.Confidence, res.Reason)
	}
	if res.AliasMiss() {
		return fileTarget(res.Resolved, store.ConfidenceMedium, res.Reason)
	}
	if pkg, rest, ok := s.packages.Lookup(workspace.JS, imp.Spec); ok {
		if p, ok := s.jsPackageFile(pkg, rest); ok {
			return fileTarget(p, store.ConfidenceMedium, "workspace package "+pkg.Name)
		}
		return moduleTarget(imp.Spec, "workspace package entry not found", false)
	}
	return moduleTarget(imp.Spec, res.Reason, res.IsExternal)
}

func (s *Session) jsPackageFile(pkg *workspace.Package, rest string) (string, bool) {
	if rest == "" {
		if pkg.Entry != "" {
			return pkg.Entry, true
		}
		return s.resolver.ProbeFile(path.Join(pkg.Dir, "index"))
	}
	if p, ok := s.resolver.ProbeFile(path.Join(pkg.Dir, rest)); ok {
		return p, true
	}
	return s.resolver.ProbeFile(path.Join(pkg.Dir, "src", rest))
}

var nextRoute = regexp.MustCompile(`(^|/)(pages/api/|app/(.+/)?route\.(ts|js|mts|mjs)$)`)

var typeScriptRules = []entrypointRule{
	{
		name: "nestjs-controller", typ: EntrypointHTTP, framework: "nestjs", confidence: store.ConfidenceHigh, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("@nestjs/common") && f.hasDecorator("Controller")
		},
	},
	{
		name: "nestjs-bootstrap", typ: EntrypointMain, framework: "nestjs", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("@nestjs/core") && f.hasCall("NestFactory.create")
		},
	},
	{
		name: "nextjs-route", typ: EntrypointHTTP, framework: "nextjs", confidence: store.ConfidenceMedium,
		match: func(p string, _ *fileFacts) bool { return nextRoute.MatchString(p) },
	},
	{
		name: "express-app", typ: EntrypointHTTP, framework: "express", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("express") && f.hasMethodCall("listen")
		},
	},
	{
		name: "express-router", typ: EntrypointHTTP, framework: "express", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("express") && f.hasMethodCall("get", "post", "put", "patch", "delete", "route")
		},
	},
	{
		name: "fastify-app", typ: EntrypointHTTP, framework: "fastify", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("fastify") && f.hasMethodCall("listen")
		},
	},
	{
		name: "koa-app", typ: EntrypointHTTP, framework: "koa", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("koa") },
	},
	{
		name: "hono-app", typ: EntrypointHTTP, framework: "hono", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("hono") },
	},
	{
		name: "commander-cli", typ: EntrypointCLI, framework: "commander", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("commander") && f.hasMethodCall("parse", "parseAsync")
		},
	},
	{
		name: "yargs-cli", typ: EntrypointCLI, framework: "yargs", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("yargs") },
	},
	{
		name: "node-cron-job", typ: EntrypointJob, framework: "node-cron", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("node-cron") && f.hasMethodCall("schedule")
		},
	},
	{
		name: "lambda-handler", typ: EntrypointServerless, framework: "aws-lambda", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasExport("handler") },
	},
	{
		name: "node-script", typ: EntrypointCLI, framework: "node", confidence: store.ConfidenceLow,
		match: func(_ string, f *fileFacts) bool { return f.Shebang },
	},
}
