package indexer

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codegraph/internal/rules"
	"github.com/jward/codegraph/internal/store"
)

type fixture struct {
	fsys    fstest.MapFS
	session *Session
}

func newTestFixture(t *testing.T, files map[string]string, opts ...SessionOption) *fixture {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	s := NewSession("", append([]SessionOption{WithFS(fsys)}, opts...)...)
	return &fixture{fsys: fsys, session: s}
}

func (f *fixture) index(t *testing.T, p string) *Result {
	t.Helper()
	ix := Select(Default(f.session), p)
	require.NotNil(t, ix, "no indexer for %s", p)
	res := ix.IndexFile(context.Background(), p, f.fsys[p].Data)
	require.NotNil(t, res)
	assertModuleEdgesLow(t, res)
	return res
}

func findNode(res *Result, id string) *store.Node {
	for i := range res.Nodes {
		if res.Nodes[i].ID == id {
			return &res.Nodes[i]
		}
	}
	return nil
}

func findEdge(res *Result, from string, kind store.EdgeKind, to string) *store.Edge {
	id := store.EdgeID(from, kind, to)
	for i := range res.Edges {
		if res.Edges[i].ID == id {
			return &res.Edges[i]
		}
	}
	return nil
}

func entrypointOf(res *Result) *store.Node {
	for i := range res.Nodes {
		if res.Nodes[i].Kind == store.KindEntrypoint {
			return &res.Nodes[i]
		}
	}
	return nil
}

func assertModuleEdgesLow(t *testing.T, res *Result) {
	t.Helper()
	for _, e := range res.Edges {
		if e.Kind == store.EdgeImports && strings.HasPrefix(e.To, store.ModulePrefix) {
			assert.Equal(t, store.ConfidenceLow, e.Confidence, "edge %s", e.ID)
		}
	}
}

// =============================================================================
// TypeScript
// =============================================================================

const serverTS = `import express from 'express';
import { helper, other as o } from './utils';
import type { Cfg } from '@/config';
export * from './models';
export { a, b as c } from './lib/ab.js';
export function start() {}
export const PORT = 3000;
const app = express();
app.get('/', helper);
app.listen(PORT);
const lazy = import('./lazy');
`

func tsFiles() map[string]string {
	return map[string]string{
		"tsconfig.json":       `{"compilerOptions": {"baseUrl": ".", "paths": {"@/*": ["src/*"]}}}`,
		"src/server.ts":       serverTS,
		"src/utils.ts":        "export const helper = 1;\n",
		"src/config.ts":       "export interface Cfg {}\n",
		"src/models/index.ts": "export * from './user';\n",
		"src/lib/ab.ts":       "export const a = 1, b = 2;\n",
		"src/lazy.tsx":        "export default function Lazy() { return null }\n",
	}
}

func TestTypeScript_ImportsReexportsAndExports(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, tsFiles())
	res := f.index(t, "src/server.ts")
	from := store.FileID("src/server.ts")

	file := findNode(res, from)
	require.NotNil(t, file)
	assert.Equal(t, "typescript", file.Meta.Language)
	assert.Equal(t, ParserTreeSitter, file.Meta.FileMeta.Parser)
	assert.ElementsMatch(t, []string{"start", "PORT", "a", "c"}, file.Exports())

	utils := findEdge(res, from, store.EdgeImports, "file:src/utils.ts")
	require.NotNil(t, utils)
	assert.Equal(t, store.ConfidenceHigh, utils.Confidence)
	assert.Equal(t, []string{"helper", "other"}, utils.Meta.Symbols)
	assert.Equal(t, 2, utils.Meta.Line)

	cfg := findEdge(res, from, store.EdgeImports, "file:src/config.ts")
	require.NotNil(t, cfg)
	assert.True(t, cfg.Meta.IsTypeOnly)

	models := findEdge(res, from, store.EdgeReexports, "file:src/models/index.ts")
	require.NotNil(t, models)
	assert.Equal(t, []string{"*"}, models.Meta.Symbols)

	ab := findEdge(res, from, store.EdgeReexports, "file:src/lib/ab.ts")
	require.NotNil(t, ab, "ESM .js specifier maps to the .ts source")
	assert.Equal(t, []string{"a", "b"}, ab.Meta.Symbols)

	lazy := findEdge(res, from, store.EdgeImports, "file:src/lazy.tsx")
	require.NotNil(t, lazy)
	assert.True(t, lazy.Meta.IsDynamic)

	ext := findEdge(res, from, store.EdgeImports, "module:express")
	require.NotNil(t, ext)
	assert.Equal(t, store.ConfidenceLow, ext.Confidence)
	assert.True(t, ext.Meta.IsExternal)

	assert.NotNil(t, findEdge(res, from, store.EdgeExports, "symbol:src/server.ts#start"))
	sym := findNode(res, "symbol:src/server.ts#PORT")
	require.NotNil(t, sym)
	assert.True(t, sym.Meta.SymbolMeta.Exported)
}

func TestTypeScript_DefaultExportOfStringIsNotReexport(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"src/a.ts": "export default \"hello\";\nimport './side-effect';\n",
	})
	res := f.index(t, "src/a.ts")
	from := store.FileID("src/a.ts")

	file := findNode(res, from)
	require.NotNil(t, file)
	assert.Equal(t, ParserTreeSitter, file.Meta.FileMeta.Parser)
	assert.Equal(t, []string{"default"}, file.Exports())

	for _, e := range res.Edges {
		assert.NotEqual(t, store.EdgeReexports, e.Kind, "edge %s", e.ID)
	}
	assert.Nil(t, findEdge(res, from, store.EdgeImports, "module:hello"))
	assert.NotNil(t, findEdge(res, from, store.EdgeImports, "module:./side-effect"))
}

func TestTypeScript_ExpressEntrypoint(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, tsFiles())
	res := f.index(t, "src/server.ts")

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "entrypoint:src/server.ts#http", ep.ID)
	assert.Equal(t, "http", ep.EntrypointType())
	assert.Equal(t, "express", ep.Framework())
	assert.Equal(t, "express-app", ep.Meta.EntrypointMeta.Rule)
	assert.Equal(t, store.ConfidenceHigh, ep.Meta.Confidence)

	reg := findEdge(res, "file:src/server.ts", store.EdgeRegisters, ep.ID)
	require.NotNil(t, reg)
}

func TestTypeScript_WorkspacePackageImport(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"package.json":                `{"workspaces": ["packages/*"]}`,
		"packages/ui/package.json":    `{"name": "@acme/ui"}`,
		"packages/ui/src/index.ts":    "export const Button = 1;\n",
		"packages/ui/src/theme.ts":    "export const dark = 1;\n",
		"packages/ghost/package.json": `{"name": "@acme/ghost"}`,
		"apps/web/main.ts":            "import { Button } from '@acme/ui';\nimport { dark } from '@acme/ui/theme';\nimport '@acme/ghost';\n",
	})
	res := f.index(t, "apps/web/main.ts")
	from := store.FileID("apps/web/main.ts")

	entry := findEdge(res, from, store.EdgeImports, "file:packages/ui/src/index.ts")
	require.NotNil(t, entry)
	assert.Equal(t, store.ConfidenceMedium, entry.Confidence)
	assert.False(t, entry.Meta.IsExternal)

	sub := findEdge(res, from, store.EdgeImports, "file:packages/ui/src/theme.ts")
	require.NotNil(t, sub)
	assert.Equal(t, store.ConfidenceMedium, sub.Confidence)

	ghost := findEdge(res, from, store.EdgeImports, "module:@acme/ghost")
	require.NotNil(t, ghost)
	assert.Equal(t, store.ConfidenceLow, ghost.Confidence)
	assert.False(t, ghost.Meta.IsExternal)
}

// =============================================================================
// Fallback
// =============================================================================

func TestFallback_DisabledParserCapsConfidence(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, tsFiles(), WithDisabledParsers("typescript"))
	res := f.index(t, "src/server.ts")

	file := findNode(res, "file:src/server.ts")
	require.NotNil(t, file)
	assert.Equal(t, ParserFallback, file.Meta.FileMeta.Parser)
	assert.Equal(t, store.ConfidenceLow, file.Meta.Confidence)
	assert.Equal(t, GrammarUnavailable, f.session.GrammarState("typescript"))

	require.NotNil(t, findEdge(res, "file:src/server.ts", store.EdgeImports, "file:src/utils.ts"))
	require.NotNil(t, findEdge(res, "file:src/server.ts", store.EdgeReexports, "file:src/lib/ab.ts"))
	for _, e := range res.Edges {
		assert.Equal(t, store.ConfidenceLow, e.Confidence, "edge %s", e.ID)
	}

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, store.ConfidenceLow, ep.Meta.Confidence)
	assert.Empty(t, res.Errors)
}

func TestSession_GrammarFailureIsSticky(t *testing.T) {
	t.Parallel()
	var loads atomic.Int32
	f := newTestFixture(t, map[string]string{
		"a.py": "import os\n",
		"b.py": "import sys\n",
		"c.py": "import json\n",
	}, WithGrammarLoader("python", func() *sitter.Language {
		loads.Add(1)
		panic("grammar not linked")
	}))

	for _, p := range []string{"a.py", "b.py", "c.py"} {
		res := f.index(t, p)
		assert.Equal(t, ParserFallback, findNode(res, store.FileID(p)).Meta.FileMeta.Parser)
		assert.Len(t, res.Edges, 1)
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, GrammarUnavailable, f.session.GrammarState("python"))
	assert.Equal(t, GrammarUnknown, f.session.GrammarState("rust"))
}

func TestIndexFile_RecoversPanic(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, nil)
	spec := &languageSpec{
		name:       "boom",
		extensions: []string{".boom"},
		grammar:    func(string) string { return "missing" },
		fallback:   func([]byte) *fileFacts { panic("kaboom") },
	}
	res := NewTreeSitterIndexer(f.session, spec).IndexFile(context.Background(), "x.boom", []byte("?"))

	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "file:x.boom", res.Nodes[0].ID)
	require.Len(t, res.Errors, 1)
	assert.True(t, res.Errors[0].Recoverable)
	assert.Contains(t, res.Errors[0].Message, "kaboom")
}

func TestCustomRulesRunFirst(t *testing.T) {
	t.Parallel()
	set := rules.NewSet(nil, rules.Rule{
		Name:   "queue",
		Source: "m := {\"type\": \"worker\", \"framework\": \"bullmq\"}\nm",
	})
	f := newTestFixture(t, tsFiles(), WithRules(set))
	ep := entrypointOf(f.index(t, "src/server.ts"))
	require.NotNil(t, ep)
	assert.Equal(t, "worker", ep.EntrypointType())
	assert.Equal(t, "custom:queue", ep.Meta.EntrypointMeta.Rule)
}

// =============================================================================
// Python
// =============================================================================

func TestPython_ResolutionAndFlask(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"app/__init__.py":                          "",
		"app/routes/__init__.py":                   "",
		"app/models.py":                            "",
		"app/services/billing.py":                  "",
		"libs/shared/pyproject.toml":               "[tool.poetry]\nname = \"shared\"\npackages = [{ include = \"shared_utils\", from = \"src\" }]\n",
		"libs/shared/src/shared_utils/__init__.py": "",
		"libs/shared/src/shared_utils/text.py":     "",
		"app/main.py": `import os
from flask import Flask
from .routes import users
from . import models
from app.services.billing import charge
from shared_utils.text import slugify

app = Flask(__name__)

def create_app():
    return app

if __name__ == "__main__":
    app.run()
`,
	})
	res := f.index(t, "app/main.py")
	from := store.FileID("app/main.py")

	rel := findEdge(res, from, store.EdgeImports, "file:app/routes/__init__.py")
	require.NotNil(t, rel)
	assert.Equal(t, store.ConfidenceHigh, rel.Confidence)
	assert.Equal(t, []string{"users"}, rel.Meta.Symbols)

	require.NotNil(t, findEdge(res, from, store.EdgeImports, "file:app/models.py"))

	abs := findEdge(res, from, store.EdgeImports, "file:app/services/billing.py")
	require.NotNil(t, abs)
	assert.Equal(t, store.ConfidenceMedium, abs.Confidence)

	ws := findEdge(res, from, store.EdgeImports, "file:libs/shared/src/shared_utils/text.py")
	require.NotNil(t, ws)
	assert.Equal(t, store.ConfidenceMedium, ws.Confidence)

	require.NotNil(t, findEdge(res, from, store.EdgeImports, "module:os"))

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "flask", ep.Framework())
	assert.NotNil(t, findNode(res, "symbol:app/main.py#create_app"))
}

func TestPython_MainGuard(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"tool.py": "def run():\n    pass\n\nif __name__ == '__main__':\n    run()\n",
	})
	ep := entrypointOf(f.index(t, "tool.py"))
	require.NotNil(t, ep)
	assert.Equal(t, "main", ep.EntrypointType())
	assert.Equal(t, "python-main", ep.Meta.EntrypointMeta.Rule)
}

// =============================================================================
// Go
// =============================================================================

func TestGo_ModuleImportsAndEntrypoint(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"go.mod":                       "module example.com/shop\n\ngo 1.22\n",
		"internal/store/doc.go":        "package store\n",
		"internal/store/store.go":      "package store\n\nfunc New() int { return 1 }\n",
		"internal/store/store_test.go": "package store\n",
		"cmd/api/main.go": `package main

import (
	"fmt"
	"net/http"

	"example.com/shop/internal/store"
)

func main() {
	fmt.Println(store.New())
	http.ListenAndServe(":8080", nil)
}
`,
	})
	res := f.index(t, "cmd/api/main.go")
	from := store.FileID("cmd/api/main.go")

	internal := findEdge(res, from, store.EdgeImports, "file:internal/store/store.go")
	require.NotNil(t, internal)
	assert.Equal(t, store.ConfidenceMedium, internal.Confidence)

	std := findEdge(res, from, store.EdgeImports, "module:net/http")
	require.NotNil(t, std)
	assert.True(t, std.Meta.IsExternal)

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "http", ep.EntrypointType())
	assert.Equal(t, "net/http", ep.Framework())
	assert.NotNil(t, findNode(res, "symbol:cmd/api/main.go#main"))
}

// =============================================================================
// Rust
// =============================================================================

func TestRust_ModulesAndTokioMain(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"Cargo.toml":     "[package]\nname = \"svc\"\n",
		"src/config.rs":  "pub struct Config;\n",
		"src/db/mod.rs":  "pub struct Conn;\n",
		"src/db/pool.rs": "pub fn pool() {}\n",
		"src/main.rs": `mod config;
use crate::db::{pool, Conn};
use serde::Deserialize;

#[tokio::main]
async fn main() {}
`,
	})
	res := f.index(t, "src/main.rs")
	from := store.FileID("src/main.rs")

	mod := findEdge(res, from, store.EdgeImports, "file:src/config.rs")
	require.NotNil(t, mod)
	assert.Equal(t, store.ConfidenceHigh, mod.Confidence)

	require.NotNil(t, findEdge(res, from, store.EdgeImports, "file:src/db/pool.rs"))
	require.NotNil(t, findEdge(res, from, store.EdgeImports, "file:src/db/mod.rs"))

	ext := findEdge(res, from, store.EdgeImports, "module:serde::Deserialize")
	require.NotNil(t, ext)
	assert.True(t, ext.Meta.IsExternal)

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "tokio", ep.Framework())
}

func TestAddRustUse_ExpandsTrees(t *testing.T) {
	t.Parallel()
	f := newFacts(nil)
	addRustUse(f, "crate::a::{b, c::{d, e as f}, self}", 1, true)
	addRustUse(f, "std::io::*", 2, false)

	var specs []string
	for _, imp := range f.Imports {
		specs = append(specs, imp.Spec)
	}
	assert.Equal(t, []string{"crate::a::b", "crate::a::c::d", "crate::a::c::e", "crate::a", "std::io"}, specs)
	assert.True(t, f.Imports[0].Reexport)
	assert.Equal(t, []string{"*"}, f.Imports[4].Symbols)
}

// =============================================================================
// Java
// =============================================================================

func TestJava_SourceRootsAndSpring(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"pom.xml":                                        `<project><groupId>com.acme</groupId></project>`,
		"src/main/java/com/acme/core/UserService.java":   "package com.acme.core;\npublic class UserService {}\n",
		"src/main/java/com/acme/web/UserController.java": `package com.acme.web;

import com.acme.core.UserService;
import java.util.List;
import org.springframework.web.bind.annotation.RestController;

@RestController
public class UserController {
}
`,
	})
	p := "src/main/java/com/acme/web/UserController.java"
	res := f.index(t, p)
	from := store.FileID(p)

	svc := findEdge(res, from, store.EdgeImports, "file:src/main/java/com/acme/core/UserService.java")
	require.NotNil(t, svc)
	assert.Equal(t, store.ConfidenceMedium, svc.Confidence)
	assert.Equal(t, []string{"UserService"}, svc.Meta.Symbols)

	require.NotNil(t, findEdge(res, from, store.EdgeImports, "module:java.util.List"))

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "spring", ep.Framework())
	assert.Contains(t, findNode(res, from).Exports(), "UserController")
}

// =============================================================================
// Generic
// =============================================================================

func TestGeneric_CIncludes(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"src/util.h": "int util(void);\n",
		"src/main.c": "#include \"util.h\"\n#include <stdio.h>\n\nint main(void) { return util(); }\n",
	})
	res := f.index(t, "src/main.c")
	from := store.FileID("src/main.c")

	assert.Equal(t, ParserGeneric, findNode(res, from).Meta.FileMeta.Parser)
	local := findEdge(res, from, store.EdgeImports, "file:src/util.h")
	require.NotNil(t, local)
	assert.Equal(t, store.ConfidenceMedium, local.Confidence)
	require.NotNil(t, findEdge(res, from, store.EdgeImports, "module:stdio.h"))

	ep := entrypointOf(res)
	require.NotNil(t, ep)
	assert.Equal(t, "main", ep.EntrypointType())
}

func TestGeneric_RubyRequireRelative(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, map[string]string{
		"lib/models/user.rb": "class User; end\n",
		"lib/app.rb":         "require_relative 'models/user'\nrequire 'json'\n",
	})
	res := f.index(t, "lib/app.rb")
	require.NotNil(t, findEdge(res, "file:lib/app.rb", store.EdgeImports, "file:lib/models/user.rb"))
	require.NotNil(t, findEdge(res, "file:lib/app.rb", store.EdgeImports, "module:json"))
}

// =============================================================================
// Registry
// =============================================================================

func TestSelect(t *testing.T) {
	t.Parallel()
	f := newTestFixture(t, nil)
	indexers := Default(f.session)

	assert.Equal(t, "typescript", Select(indexers, "a/b.tsx").Name())
	assert.Equal(t, "typescript", Select(indexers, "a/b.mjs").Name())
	assert.Equal(t, "python", Select(indexers, "x.py").Name())
	assert.Equal(t, "generic", Select(indexers, "x.rb").Name())
	assert.Nil(t, Select(indexers, "README.md"))
}

func TestIsRouterRule(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRouterRule("express-router"))
	assert.True(t, IsRouterRule("flask-blueprint"))
	assert.False(t, IsRouterRule("express-app"))
	assert.False(t, IsRouterRule("custom:x"))
}
