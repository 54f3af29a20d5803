package indexer

import (
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var goSpec = &languageSpec{
	name:       "go",
	extensions: []string{".go"},
	grammar:    func(string) string { return "go" },
	extract:    extractGo,
	fallback:   fallbackGo,
	resolve:    resolveGo,
	rules:      goRules,
}

func extractGo(root *sitter.Node, src []byte) *fileFacts {
	f := newFacts(src)
	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "package_clause":
			if id := n.NamedChild(0); id != nil {
				f.Package = text(id, src)
			}
		case "function_declaration":
			name := text(field(n, "name"), src)
			f.addSymbol(name, "function", line(n), isExportedGo(name))
			f.addFunction(name)
		case "method_declaration":
			name := text(field(n, "name"), src)
			if recv := goReceiverType(field(n, "receiver"), src); recv != "" {
				name = recv + "." + name
			}
			f.addSymbol(name, "method", line(n), isExportedGo(text(field(n, "name"), src)))
		case "type_declaration":
			for _, spec := range namedChildren(n) {
				if spec.Type() == "type_spec" || spec.Type() == "type_alias" {
					name := text(field(spec, "name"), src)
					f.addSymbol(name, "type", line(spec), isExportedGo(name))
				}
			}
		}
	}
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_spec":
			f.addImport(importFact{Spec: unquote(text(field(n, "path"), src)), Line: line(n)})
			return false
		case "call_expression":
			f.addCall(text(field(n, "function"), src))
		}
		return true
	})
	return f
}

// goReceiverType returns the bare receiver type name of a method.
func goReceiverType(params *sitter.Node, src []byte) string {
	if params == nil {
		return ""
	}
	var name string
	walk(params, func(n *sitter.Node) bool {
		if name == "" && n.Type() == "type_identifier" {
			name = text(n, src)
		}
		return name == ""
	})
	return name
}

var (
	goPackageRe     = regexp.MustCompile(`(?m)^package[ \t]+(\w+)`)
	goImportBlockRe = regexp.MustCompile(`(?ms)^import[ \t]*\((.*?)^\)`)
	goImportLineRe  = regexp.MustCompile(`(?m)^import[ \t]+(?:[\w.]+[ \t]+)?"([^"]+)"`)
	goQuotedRe      = regexp.MustCompile(`"([^"\n]+)"`)
	goFuncRe        = regexp.MustCompile(`(?m)^func[ \t]+(\w+)`)
	goTypeRe        = regexp.MustCompile(`(?m)^type[ \t]+(\w+)`)
)

func fallbackGo(src []byte) *fileFacts {
	f := newFacts(src)
	if m := goPackageRe.FindSubmatch(src); m != nil {
		f.Package = string(m[1])
	}
	for _, m := range goImportBlockRe.FindAllSubmatchIndex(src, -1) {
		block := src[m[2]:m[3]]
		for _, q := range goQuotedRe.FindAllSubmatchIndex(block, -1) {
			f.addImport(importFact{Spec: string(block[q[2]:q[3]]), Line: lineAt(src, m[2]+q[0])})
		}
	}
	for _, m := range goImportLineRe.FindAllSubmatchIndex(src, -1) {
		f.addImport(importFact{Spec: string(src[m[2]:m[3]]), Line: lineAt(src, m[0])})
	}
	for _, m := range goFuncRe.FindAllSubmatchIndex(src, -1) {
		name := string(src[m[2]:m[3]])
		f.addSymbol(name, "function", lineAt(src, m[0]), isExportedGo(name))
		f.addFunction(name)
	}
	for _, m := range goTypeRe.FindAllSubmatchIndex(src, -1) {
		name := string(src[m[2]:m[3]])
		f.addSymbol(name, "type", lineAt(src, m[0]), isExportedGo(name))
	}
	scanCalls(f, src)
	return f
}

// resolveGo maps an import path inside a workspace module to a
// representative file of the package directory.
func resolveGo(s *Session, _ string, imp importFact) importTarget {
	if pkg, rest, ok := s.packages.Lookup(workspace.Go, imp.Spec); ok {
		if p, ok := s.dirFile(path.Join(pkg.Dir, rest), ".go", "_test.go"); ok {
			return fileTarget(p, store.ConfidenceMedium, "go module package "+pkg.Name)
		}
		return moduleTarget(imp.Spec, "go package directory not found", false)
	}
	first, _, _ := strings.Cut(imp.Spec, "/")
	if !strings.Contains(first, ".") {
		return moduleTarget(imp.Spec, "go standard library", true)
	}
	return moduleTarget(imp.Spec, "external go module", true)
}

var goRules = []entrypointRule{
	{
		name: "go-lambda", typ: EntrypointServerless, framework: "aws-lambda", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("github.com/aws/aws-lambda-go/lambda") && f.hasCall("lambda.Start")
		},
	},
	{
		name: "cobra-cli", typ: EntrypointCLI, framework: "cobra", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("github.com/spf13/cobra") && (f.Package == "main" || f.hasMethodCall("Execute", "ExecuteContext"))
		},
	},
	{
		name: "gin-server", typ: EntrypointHTTP, framework: "gin", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("github.com/gin-gonic/gin") && f.hasMethodCall("Run")
		},
	},
	{
		name: "gin-routes", typ: EntrypointHTTP, framework: "gin", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("github.com/gin-gonic/gin") && f.hasMethodCall("GET", "POST", "PUT", "PATCH", "DELETE", "Group")
		},
	},
	{
		name: "echo-server", typ: EntrypointHTTP, framework: "echo", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("github.com/labstack/echo") },
	},
	{
		name: "chi-router", typ: EntrypointHTTP, framework: "chi", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("github.com/go-chi/chi") },
	},
	{
		name: "fiber-app", typ: EntrypointHTTP, framework: "fiber", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("github.com/gofiber/fiber") },
	},
	{
		name: "net-http-server", typ: EntrypointHTTP, framework: "net/http", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("net/http") && (f.hasCall("http.ListenAndServe", "http.ListenAndServeTLS") || f.hasMethodCall("ListenAndServe", "ListenAndServeTLS"))
		},
	},
	{
		name: "net-http-handlers", typ: EntrypointHTTP, framework: "net/http", confidence: store.ConfidenceMedium, router: true,
		match: func(_ string, f *fileFacts) bool {
			return f.hasImport("net/http") && (f.hasCall("http.HandleFunc", "http.Handle") || f.hasMethodCall("HandleFunc"))
		},
	},
	{
		name: "go-main", typ: EntrypointMain, framework: "go", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool { return f.Package == "main" && f.hasFunction("main") },
	},
}
