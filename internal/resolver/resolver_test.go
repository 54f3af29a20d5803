package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codegraph/internal/store"
)

func newTestResolver(t *testing.T, cfg *Config, files ...string) *PathResolver {
	t.Helper()
	fsys := fstest.MapFS{}
	for _, f := range files {
		fsys[f] = &fstest.MapFile{Data: []byte("// " + f)}
	}
	return New(fsys, cfg)
}

// =============================================================================
// External recognition
// =============================================================================

func TestResolve_NodeBuiltins(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil)

	for _, spec := range []string{"fs", "node:fs", "path", "fs/promises", "node:test"} {
		res := r.Resolve(spec, "src/a.ts")
		require.NotNil(t, res, spec)
		assert.True(t, res.IsExternal, spec)
		assert.Equal(t, store.ConfidenceHigh, res.Confidence, spec)
	}
}

func TestResolve_ScopedPackage(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil)
	res := r.Resolve("@nestjs/common", "src/a.ts")
	assert.True(t, res.IsExternal)
	assert.Equal(t, store.ConfidenceHigh, res.Confidence)
}

func TestResolve_BarePackageIsLowExternal(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil)
	res := r.Resolve("lodash", "src/a.ts")
	assert.True(t, res.IsExternal)
	assert.Equal(t, store.ConfidenceLow, res.Confidence)
	assert.False(t, res.Found())
}

func TestResolve_EmptySpecifier(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil)
	assert.Nil(t, r.Resolve("", "src/a.ts"))
}

// =============================================================================
// Relative resolution
// =============================================================================

func TestResolve_RelativeProbesExtensions(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "src/a.ts", "src/b.tsx", "src/lib/index.ts", "src/c.js")

	tests := []struct {
		spec string
		want string
	}{
		{"./b", "src/b.tsx"},
		{"./lib", "src/lib/index.ts"},
		{"./c", "src/c.js"},
		{"../src/a", "src/a.ts"},
	}
	for _, tt := range tests {
		res := r.Resolve(tt.spec, "src/a.ts")
		require.NotNil(t, res)
		assert.Equal(t, tt.want, res.Resolved, tt.spec)
		assert.Equal(t, store.ConfidenceHigh, res.Confidence, tt.spec)
		assert.True(t, res.Found(), tt.spec)
	}
}

func TestResolve_ESMExtensionMapsToSource(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "src/foo.ts", "src/view.tsx", "src/legacy.js", "src/esm.mts")

	assert.Equal(t, "src/foo.ts", r.Resolve("./foo.js", "src/a.ts").Resolved)
	assert.Equal(t, "src/view.tsx", r.Resolve("./view.jsx", "src/a.ts").Resolved)
	assert.Equal(t, "src/esm.mts", r.Resolve("./esm.mjs", "src/a.ts").Resolved)
	// Genuine compiled JS with no source sibling.
	assert.Equal(t, "src/legacy.js", r.Resolve("./legacy.js", "src/a.ts").Resolved)
}

func TestResolve_RelativeMissIsLow(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "src/a.ts")
	res := r.Resolve("./nope", "src/a.ts")
	assert.Equal(t, store.ConfidenceLow, res.Confidence)
	assert.False(t, res.IsExternal)
	assert.False(t, res.Found())
	assert.Equal(t, "src/nope", res.Resolved)
}

func TestResolve_RelativeEscapingRootIsMiss(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "a.ts")
	res := r.Resolve("../../outside", "a.ts")
	assert.False(t, res.Found())
}

// =============================================================================
// Aliases & baseUrl
// =============================================================================

func TestResolve_AliasLongestPrefixWins(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", Paths: map[string][]string{
		"@/*":            {"src/*"},
		"@/components/*": {"src/ui/components/*"},
	}}
	r := newTestResolver(t, cfg, "src/utils/x.ts", "src/ui/components/button.tsx")

	res := r.Resolve("@/components/button", "src/a.ts")
	assert.Equal(t, "src/ui/components/button.tsx", res.Resolved)
	assert.Equal(t, store.ConfidenceHigh, res.Confidence)

	res = r.Resolve("@/utils/x", "src/a.ts")
	assert.Equal(t, "src/utils/x.ts", res.Resolved)
	assert.False(t, res.IsExternal)
}

func TestResolve_AliasTriesEveryTarget(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", BaseURL: ".", Paths: map[string][]string{
		"~lib/*": {"generated/*", "lib/*"},
	}}
	r := newTestResolver(t, cfg, "lib/math.ts")
	assert.Equal(t, "lib/math.ts", r.Resolve("~lib/math", "a.ts").Resolved)
}

func TestResolve_AliasMissIsMedium(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", Paths: map[string][]string{"@app/*": {"src/*"}}}
	r := newTestResolver(t, cfg)
	res := r.Resolve("@app/missing", "a.ts")
	assert.Equal(t, store.ConfidenceMedium, res.Confidence)
	assert.Equal(t, "src/missing", res.Resolved)
	assert.False(t, res.Found())
}

func TestResolve_AliasShadowsScopedPackage(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", Paths: map[string][]string{"@shared/*": {"packages/shared/src/*"}}}
	r := newTestResolver(t, cfg, "packages/shared/src/log.ts")
	res := r.Resolve("@shared/log", "apps/web/a.ts")
	assert.False(t, res.IsExternal)
	assert.Equal(t, "packages/shared/src/log.ts", res.Resolved)
}

func TestResolve_ExactAlias(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", Paths: map[string][]string{"config": {"src/config/index.ts"}}}
	r := newTestResolver(t, cfg, "src/config/index.ts")
	assert.Equal(t, "src/config/index.ts", r.Resolve("config", "a.ts").Resolved)
}

func TestResolve_BaseURL(t *testing.T) {
	t.Parallel()
	cfg := &Config{Dir: ".", BaseURL: "src"}
	r := newTestResolver(t, cfg, "src/services/api.ts")
	res := r.Resolve("services/api", "src/app.ts")
	assert.Equal(t, "src/services/api.ts", res.Resolved)
	assert.Equal(t, store.ConfidenceMedium, res.Confidence)
	assert.True(t, res.Found())
}

// =============================================================================
// Memoization
// =============================================================================

func TestResolve_Memoized(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "src/b.ts")
	first := r.Resolve("./b", "src/a.ts")
	second := r.Resolve("./b", "src/a.ts")
	assert.Same(t, first, second)

	again := r.Resolve("./"+"b.ts", "src/a.ts")
	assert.Equal(t, first.Resolved, again.Resolved)
}

func TestUpdateConfig_InvalidatesCache(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, nil, "src/x.ts")
	before := r.Resolve("@/x", "a.ts")
	assert.True(t, before.IsExternal)

	r.UpdateConfig(&Config{Dir: ".", Paths: map[string][]string{"@/*": {"src/*"}}})
	after := r.Resolve("@/x", "a.ts")
	assert.Equal(t, "src/x.ts", after.Resolved)

	r.ClearCache()
	assert.NotSame(t, after, r.Resolve("@/x", "a.ts"))
}

// =============================================================================
// tsconfig loading
// =============================================================================

func TestLoadTSConfig_MissingIsEmpty(t *testing.T) {
	t.Parallel()
	cfg := LoadTSConfig(t.TempDir())
	require.NotNil(t, cfg)
	assert.True(t, cfg.IsEmpty())
}

func TestLoadTSConfig_CommentsAndTrailingCommas(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	src := `{
  // editor settings
  "compilerOptions": {
    "baseUrl": "./src", /* inline */
    "paths": {
      "@/*": ["./*"], // trailing
    },
  },
}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "tsconfig.json"), []byte(src), 0o644))

	cfg := LoadTSConfig(root)
	assert.Equal(t, "src", cfg.BaseURL)
	assert.Equal(t, []string{"./*"}, cfg.Paths["@/*"])
}

func TestLoadTSConfigFS_Extends(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"tsconfig.json":      {Data: []byte(`{"extends": "./tsconfig.base", "compilerOptions": {"strict": true}}`)},
		"tsconfig.base.json": {Data: []byte(`{"compilerOptions": {"baseUrl": ".", "paths": {"@lib/*": ["lib/*"]}}}`)},
	}
	cfg, err := LoadTSConfigFS(fsys)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.BaseURL)
	assert.Equal(t, []string{"lib/*"}, cfg.Paths["@lib/*"])
}

func TestLoadTSConfigFS_Malformed(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"tsconfig.json": {Data: []byte(`{"compilerOptions": `)}}
	cfg, err := LoadTSConfigFS(fsys)
	assert.Error(t, err)
	assert.True(t, cfg.IsEmpty())
}

func TestLoadTSConfigFS_CommentMarkersInsideStrings(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"tsconfig.json": {Data: []byte(`{
  // aliases
  "compilerOptions": {
    "baseUrl": ".",
    "paths": {"@x/*": ["a/*b*/c", "http://x//y",],}, /* trailing */
  },
}`)}}
	cfg, err := LoadTSConfigFS(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/*b*/c", "http://x//y"}, cfg.Paths["@x/*"])
}
