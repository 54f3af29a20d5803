package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

// =============================================================================
// JS / TS
// =============================================================================

func TestScan_NPMWorkspaces(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"package.json":                  `{"name": "root", "workspaces": ["packages/*", "!packages/ignored"]}`,
		"packages/ui/package.json":      `{"name": "@acme/ui", "main": "dist/index.js"}`,
		"packages/ui/src/index.ts":      `export {}`,
		"packages/core/package.json":    `{"name": "core", "source": "lib/main.ts"}`,
		"packages/core/lib/main.ts":     `export {}`,
		"packages/ignored/package.json": `{"name": "ignored"}`,
		"packages/noname/package.json":  `{"private": true}`,
	})
	p := Scan(fsys, nil)

	pkg, rest, ok := p.Lookup(JS, "@acme/ui/button")
	require.True(t, ok)
	assert.Equal(t, "packages/ui", pkg.Dir)
	assert.Equal(t, "packages/ui/src/index.ts", pkg.Entry)
	assert.Equal(t, "button", rest)

	pkg, _, ok = p.Lookup(JS, "core")
	require.True(t, ok)
	assert.Equal(t, "packages/core/lib/main.ts", pkg.Entry)

	assert.False(t, p.IsInternal(JS, "ignored"))
	assert.False(t, p.IsInternal(JS, "react"))
	assert.Len(t, p.All(JS), 2)
}

func TestScan_YarnWorkspacesObjectForm(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"package.json":          `{"workspaces": {"packages": ["apps/*"]}}`,
		"apps/web/package.json": `{"name": "web"}`,
		"apps/web/index.tsx":    ``,
	})
	p := Scan(fsys, nil)
	pkg, _, ok := p.Lookup(JS, "web")
	require.True(t, ok)
	assert.Equal(t, "apps/web/index.tsx", pkg.Entry)
}

func TestScan_PNPMAndLerna(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"pnpm-workspace.yaml":        "packages:\n  - 'libs/**'\n",
		"libs/a/package.json":        `{"name": "lib-a"}`,
		"libs/nested/b/package.json": `{"name": "lib-b"}`,
		"lerna.json":                 `{"packages": ["tools/*"]}`,
		"tools/cli/package.json":     `{"name": "cli-tool"}`,
	})
	p := Scan(fsys, nil)
	assert.True(t, p.IsInternal(JS, "lib-a"))
	assert.True(t, p.IsInternal(JS, "lib-b"))
	assert.True(t, p.IsInternal(JS, "cli-tool"))
}

// =============================================================================
// Python
// =============================================================================

func TestScan_PythonManifests(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"services/api/pyproject.toml":              "[project]\nname = \"acme-api\"\n",
		"services/api/src/acme_api/__init__.py":    "",
		"libs/shared/pyproject.toml":               "[tool.poetry]\nname = \"shared\"\npackages = [{ include = \"shared_utils\", from = \"src\" }]\n",
		"libs/shared/src/shared_utils/__init__.py": "",
		"legacy/setup.py":                          "from setuptools import setup\nsetup(name='legacy-core')\n",
		"scripts/__init__.py":                      "",
	})
	p := Scan(fsys, nil)

	pkg, rest, ok := p.Lookup(Python, "acme_api.routes.users")
	require.True(t, ok)
	assert.Equal(t, "services/api/src/acme_api", pkg.Dir)
	assert.Equal(t, "routes/users", rest)

	assert.True(t, p.IsInternal(Python, "shared_utils"))
	assert.True(t, p.IsInternal(Python, "shared"))
	assert.True(t, p.IsInternal(Python, "legacy_core"))
	assert.True(t, p.IsInternal(Python, "scripts.deploy"))
	assert.False(t, p.IsInternal(Python, ".relative"))
	assert.False(t, p.IsInternal(Python, "requests"))
}

// =============================================================================
// Go
// =============================================================================

func TestScan_GoWorkAndReplace(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"go.work":      "go 1.22\n\nuse (\n\t./svc\n\t./lib\n)\n",
		"svc/go.mod":   "module example.com/svc\n\ngo 1.22\n\nreplace example.com/extra => ../extra\n",
		"lib/go.mod":   "module example.com/lib\n\ngo 1.22\n",
		"extra/go.mod": "module example.com/extra\n",
		"go.mod":       "module example.com/root\n\nreplace example.com/vendored => ./third_party/vendored\n",
	})
	p := Scan(fsys, nil)

	pkg, rest, ok := p.Lookup(Go, "example.com/lib/store")
	require.True(t, ok)
	assert.Equal(t, "lib", pkg.Dir)
	assert.Equal(t, "store", rest)

	assert.True(t, p.IsInternal(Go, "example.com/extra"))
	assert.True(t, p.IsInternal(Go, "example.com/vendored/x"))
	assert.True(t, p.IsInternal(Go, "example.com/root/internal/a"))
	assert.False(t, p.IsInternal(Go, "example.com/library"))
	assert.False(t, p.IsInternal(Go, "github.com/spf13/cobra"))
}

// =============================================================================
// Rust
// =============================================================================

func TestScan_CargoWorkspace(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"Cargo.toml":                "[workspace]\nmembers = [\"crates/*\"]\n",
		"crates/my-core/Cargo.toml": "[package]\nname = \"my-core\"\n",
		"crates/my-core/src/lib.rs": "",
		"crates/cli/Cargo.toml":     "[package]\nname = \"cli\"\n",
		"crates/cli/src/main.rs":    "",
	})
	p := Scan(fsys, nil)

	pkg, rest, ok := p.Lookup(Rust, "my_core::parser::Token")
	require.True(t, ok)
	assert.Equal(t, "crates/my-core/src/lib.rs", pkg.Entry)
	assert.Equal(t, "parser/Token", rest)
	assert.True(t, p.IsInternal(Rust, "cli"))
	assert.False(t, p.IsInternal(Rust, "serde::Deserialize"))
}

// =============================================================================
// Java
// =============================================================================

func TestScan_MavenModules(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"pom.xml":      `<project><groupId>com.acme</groupId><modules><module>api</module><module>core</module></modules></project>`,
		"api/pom.xml":  `<project><parent><groupId>com.acme</groupId></parent><artifactId>api</artifactId></project>`,
		"core/pom.xml": `<project><groupId>com.acme.core</groupId></project>`,
	})
	p := Scan(fsys, nil)

	pkg, rest, ok := p.Lookup(Java, "com.acme.core.util.Strings")
	require.True(t, ok)
	assert.Equal(t, "com.acme.core", pkg.Name)
	assert.Equal(t, "util/Strings", rest)
	assert.True(t, p.IsInternal(Java, "com.acme.api.Handler"))
	assert.False(t, p.IsInternal(Java, "com.acmex.Thing"))
	assert.ElementsMatch(t, []string{".", "api", "core"}, p.Dirs(Java))
}

func TestScan_GradleSettings(t *testing.T) {
	t.Parallel()
	fsys := mapFS(map[string]string{
		"settings.gradle.kts":  "rootProject.name = \"shop\"\ninclude(\":billing\", \":web\")\n",
		"build.gradle.kts":     "group = \"io.shop\"\n",
		"billing/build.gradle": "group = 'io.shop.billing'\n",
	})
	p := Scan(fsys, nil)
	assert.True(t, p.IsInternal(Java, "io.shop.billing.Invoice"))
	assert.True(t, p.IsInternal(Java, "io.shop.web.Controller"))
	assert.Contains(t, p.Dirs(Java), "web")
}

// =============================================================================
// Cache
// =============================================================================

func TestCache_ScansOncePerRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/m\n"), 0o644))

	c := NewCache(nil)
	var wg sync.WaitGroup
	results := make([]*Packages, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Load(root)
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.True(t, results[0].IsInternal(Go, "example.com/m/x"))

	c.Invalidate(root)
	assert.NotSame(t, results[0], c.Load(root))
}

func TestPackages_NilSafe(t *testing.T) {
	t.Parallel()
	var p *Packages
	assert.False(t, p.IsInternal(JS, "x"))
	assert.Nil(t, p.All(JS))
	assert.Equal(t, 0, p.Len())
}
