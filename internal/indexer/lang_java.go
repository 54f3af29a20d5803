package indexer

import (
	"path"
	"regexp"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codegraph/internal/store"
	"github.com/jward/codegraph/internal/workspace"
)

var javaSpec = &languageSpec{
	name:       "java",
	extensions: []string{".java"},
	grammar:    func(string) string { return "java" },
	extract:    extractJava,
	fallback:   fallbackJava,
	resolve:    resolveJava,
	rules:      javaRules,
}

var javaTypeKinds = map[string]string{
	"class_declaration":           "class",
	"interface_declaration":       "interface",
	"enum_declaration":            "enum",
	"record_declaration":          "record",
	"annotation_type_declaration": "annotation",
}

func extractJava(root *sitter.Node, src []byte) *fileFacts {
	f := newFacts(src)
	for _, n := range namedChildren(root) {
		switch n.Type() {
		case "package_declaration":
			f.Package = javaDeclName(text(n, src), "package")
		case "import_declaration":
			addJavaImport(f, text(n, src), line(n))
		default:
			if kind, ok := javaTypeKinds[n.Type()]; ok {
				public := strings.Contains(text(firstNamedOfType(n, "modifiers"), src), "public")
				f.addSymbol(text(field(n, "name"), src), kind, line(n), public)
			}
		}
	}
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "marker_annotation", "annotation":
			f.addDecorator(text(field(n, "name"), src))
		case "method_declaration":
			mods := text(firstNamedOfType(n, "modifiers"), src)
			if strings.Contains(mods, "static") {
				f.addFunction(text(field(n, "name"), src))
			}
		case "method_invocation":
			name := text(field(n, "name"), src)
			if obj := field(n, "object"); obj != nil && obj.Type() == "identifier" {
				name = text(obj, src) + "." + name
			}
			f.addCall(name)
		}
		return true
	})
	return f
}

// javaDeclName strips the keyword and terminator from a package or import
// declaration.
func javaDeclName(decl, keyword string) string {
	decl = strings.TrimSpace(decl)
	decl = strings.TrimPrefix(decl, keyword)
	decl = strings.TrimSuffix(strings.TrimSpace(decl), ";")
	return strings.Join(strings.Fields(decl), "")
}

// addJavaImport records `import a.b.C;`, `import a.b.*;` and static imports.
// Static member imports are attributed to the declaring class.
func addJavaImport(f *fileFacts, decl string, ln int) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(decl), "import"))
	static := strings.HasPrefix(rest, "static ") || strings.HasPrefix(rest, "static\t")
	if static {
		rest = strings.TrimPrefix(rest, "static")
	}
	name := javaDeclName(rest, "")
	if strings.HasSuffix(name, ".*") {
		name = strings.TrimSuffix(name, ".*")
		f.addImport(importFact{Spec: name, Symbols: []string{"*"}, Line: ln})
		return
	}
	sym := lastSegment(name)
	if static {
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
	}
	f.addImport(importFact{Spec: name, Symbols: []string{sym}, Line: ln})
}

var (
	javaPackageRe    = regexp.MustCompile(`(?m)^[ \t]*package[ \t]+([\w.]+)[ \t]*;`)
	javaImportRe     = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(?:static[ \t]+)?[\w.*]+[ \t]*;`)
	javaAnnotationRe = regexp.MustCompile(`@([A-Z]\w*)`)
	javaTypeRe       = regexp.MustCompile(`(?m)^[ \t]*((?:public|protected|private|abstract|final|sealed|static|[ \t])*)(class|interface|enum|record)[ \t]+(\w+)`)
	javaStaticRe     = regexp.MustCompile(`\bstatic\s+(?:[\w<>\[\],\s]+?\s+)?(\w+)\s*\(`)
)

func fallbackJava(src []byte) *fileFacts {
	f := newFacts(src)
	if m := javaPackageRe.FindSubmatch(src); m != nil {
		f.Package = string(m[1])
	}
	for _, m := range javaImportRe.FindAllIndex(src, -1) {
		addJavaImport(f, string(src[m[0]:m[1]]), lineAt(src, m[0]))
	}
	for _, m := range javaAnnotationRe.FindAllSubmatch(src, -1) {
		f.addDecorator(string(m[1]))
	}
	for _, m := range javaTypeRe.FindAllSubmatchIndex(src, -1) {
		mods := string(src[m[2]:m[3]])
		f.addSymbol(string(src[m[6]:m[7]]), string(src[m[4]:m[5]]), lineAt(src, m[0]), strings.Contains(mods, "public"))
	}
	for _, m := range javaStaticRe.FindAllSubmatch(src, -1) {
		f.addFunction(string(m[1]))
	}
	scanCalls(f, src)
	return f
}

var javaSourceRoots = []string{"src/main/java", "src/test/java", "src/main/kotlin", "src", ""}

func resolveJava(s *Session, _ string, imp importFact) importTarget {
	if strings.HasPrefix(imp.Spec, "java.") || strings.HasPrefix(imp.Spec, "javax.") || strings.HasPrefix(imp.Spec, "jdk.") {
		return moduleTarget(imp.Spec, "java standard library", true)
	}

	internal := s.packages.IsInternal(workspace.Java, imp.Spec)
	dirs := s.packages.Dirs(workspace.Java)
	if !slices.Contains(dirs, ".") {
		dirs = append(dirs, ".")
	}
	wildcard := slices.Contains(imp.Symbols, "*")

	// Nested class imports name the outer class file; try trimming up to
	// two trailing segments.
	segs := strings.Split(imp.Spec, ".")
	for trim := 0; trim <= 2 && trim < len(segs); trim++ {
		rel := strings.Join(segs[:len(segs)-trim], "/")
		for _, dir := range dirs {
			for _, root := range javaSourceRoots {
				base := path.Join(dir, root, rel)
				if wildcard && trim == 0 {
					if p, ok := s.firstFile(base + ".java"); ok {
						return javaTarget(p, internal)
					}
					if p, ok := s.dirFile(base, ".java", ""); ok {
						return javaTarget(p, internal)
					}
					continue
				}
				if p, ok := s.firstFile(base + ".java"); ok {
					return javaTarget(p, internal)
				}
			}
		}
		if wildcard {
			break
		}
	}
	if internal {
		return moduleTarget(imp.Spec, "workspace module source not found", false)
	}
	return moduleTarget(imp.Spec, "external library", true)
}

func javaTarget(p string, internal bool) importTarget {
	if internal {
		return fileTarget(p, store.ConfidenceMedium, "workspace module source")
	}
	return fileTarget(p, store.ConfidenceMedium, "source root class")
}

var javaRules = []entrypointRule{
	{
		name: "spring-boot-app", typ: EntrypointMain, framework: "spring-boot", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool { return f.hasDecorator("SpringBootApplication") },
	},
	{
		name: "spring-controller", typ: EntrypointHTTP, framework: "spring", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool { return f.hasDecorator("RestController", "Controller") },
	},
	{
		name: "jaxrs-resource", typ: EntrypointHTTP, framework: "jax-rs", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool {
			return f.hasDecorator("Path") && f.hasImport("javax.ws.rs", "jakarta.ws.rs")
		},
	},
	{
		name: "servlet", typ: EntrypointHTTP, framework: "servlet", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasDecorator("WebServlet") },
	},
	{
		name: "spring-scheduled", typ: EntrypointJob, framework: "spring", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasDecorator("Scheduled") },
	},
	{
		name: "message-listener", typ: EntrypointWorker, framework: "spring", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool {
			return f.hasDecorator("KafkaListener", "RabbitListener", "JmsListener", "SqsListener")
		},
	},
	{
		name: "picocli-command", typ: EntrypointCLI, framework: "picocli", confidence: store.ConfidenceMedium,
		match: func(_ string, f *fileFacts) bool { return f.hasImport("picocli") && f.hasDecorator("Command") },
	},
	{
		name: "java-main", typ: EntrypointMain, framework: "java", confidence: store.ConfidenceHigh,
		match: func(_ string, f *fileFacts) bool { return f.hasFunction("main") },
	},
}
