// Package resolver maps import specifiers to workspace-relative file paths
// using relative resolution, tsconfig path aliases and baseUrl.
package resolver

import (
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/codegraph/internal/store"
)

// Resolution is the outcome of resolving one specifier. Resolutions are
// shared through the cache and must not be mutated.
type Resolution struct {
	Resolved   string           `json:"resolved"`
	Confidence store.Confidence `json:"confidence"`
	Reason     string           `json:"reason"`
	IsExternal bool             `json:"isExternal"`
}

// Found reports whether the resolution names an existing workspace file.
func (r *Resolution) Found() bool {
	if r == nil || r.IsExternal {
		return false
	}
	return r.Reason == reasonRelative || r.Reason == reasonAlias || r.Reason == reasonBaseURL
}

// AliasMiss reports whether a paths alias matched but none of its targets
// exist. Resolved then holds the first candidate path.
func (r *Resolution) AliasMiss() bool {
	return r != nil && r.Reason == reasonAliasMissing
}

// Probe order for extensionless specifiers.
var probeExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ""}

const (
	reasonBuiltin       = "node built-in module"
	reasonScoped        = "scoped npm package"
	reasonRelative      = "relative import"
	reasonRelMissing    = "relative import target not found"
	reasonAlias         = "tsconfig paths alias"
	reasonAliasMissing  = "tsconfig paths alias target not found"
	reasonBaseURL       = "tsconfig baseUrl"
	reasonAssumedExtern = "assumed external package"
)

var scopedPackage = regexp.MustCompile(`^@[a-z0-9][\w.-]*/[\w.-]+`)

var nodeBuiltins = map[string]bool{
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "diagnostics_channel": true, "dns": true, "domain": true,
	"events": true, "fs": true, "http": true, "http2": true, "https": true,
	"inspector": true, "module": true, "net": true, "os": true, "path": true,
	"perf_hooks": true, "process": true, "punycode": true, "querystring": true,
	"readline": true, "repl": true, "stream": true, "string_decoder": true,
	"sys": true, "timers": true, "tls": true, "trace_events": true, "tty": true,
	"url": true, "util": true, "v8": true, "vm": true, "wasi": true,
	"worker_threads": true, "zlib": true,
}

// DefaultCacheSize bounds the memoized resolutions.
const DefaultCacheSize = 10000

// PathResolver resolves import specifiers against a workspace. File
// existence checks go through fsys, rooted at the workspace.
type PathResolver struct {
	fsys  fs.FS
	ext   *store.ExtensionMapper
	cache *lru.Cache[string, *Resolution]

	mu      sync.RWMutex
	cfg     *Config
	aliases []alias // sorted by prefix length, longest first
}

type alias struct {
	pattern string
	prefix  string
	suffix  string
	star    bool
	targets []string
}

// Option configures a PathResolver.
type Option func(*PathResolver)

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(r *PathResolver) {
		if c, err := lru.New[string, *Resolution](n); err == nil {
			r.cache = c
		}
	}
}

// New returns a resolver over fsys. cfg may be nil.
func New(fsys fs.FS, cfg *Config, opts ...Option) *PathResolver {
	r := &PathResolver{fsys: fsys, ext: store.NewExtensionMapper()}
	r.cache, _ = lru.New[string, *Resolution](DefaultCacheSize)
	for _, opt := range opts {
		opt(r)
	}
	r.setConfig(cfg)
	return r
}

// NewForRoot returns a resolver over the directory root with its tsconfig loaded.
func NewForRoot(root string, opts ...Option) *PathResolver {
	return New(os.DirFS(root), LoadTSConfig(root), opts...)
}

// UpdateConfig swaps the alias configuration and clears the cache.
func (r *PathResolver) UpdateConfig(cfg *Config) {
	r.setConfig(cfg)
	r.ClearCache()
}

// ClearCache drops every memoized resolution.
func (r *PathResolver) ClearCache() {
	r.cache.Purge()
}

// Config returns the active configuration.
func (r *PathResolver) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *PathResolver) setConfig(cfg *Config) {
	if cfg == nil {
		cfg = &Config{Dir: "."}
	}
	var aliases []alias
	for pattern, targets := range cfg.Paths {
		a := alias{pattern: pattern, targets: targets}
		if i := strings.IndexByte(pattern, '*'); i >= 0 {
			a.star = true
			a.prefix = pattern[:i]
			a.suffix = pattern[i+1:]
		} else {
			a.prefix = pattern
		}
		aliases = append(aliases, a)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i].prefix) != len(aliases[j].prefix) {
			return len(aliases[i].prefix) > len(aliases[j].prefix)
		}
		return aliases[i].pattern < aliases[j].pattern
	})
	r.mu.Lock()
	r.cfg = cfg
	r.aliases = aliases
	r.mu.Unlock()
}

// Resolve maps importPath, as written in fromFile, to a workspace path.
// Returns nil only for an empty specifier. Results are memoized per
// (fromFile, importPath).
func (r *PathResolver) Resolve(importPath, fromFile string) *Resolution {
	if importPath == "" {
		return nil
	}
	key := fromFile + "\x00" + importPath
	if res, ok := r.cache.Get(key); ok {
		return res
	}
	res := r.resolve(importPath, fromFile)
	r.cache.Add(key, res)
	return res
}

func (r *PathResolver) resolve(spec, fromFile string) *Resolution {
	r.mu.RLock()
	cfg, aliases := r.cfg, r.aliases
	r.mu.RUnlock()

	match, capture, hasAlias := matchAlias(aliases, spec)

	if !hasAlias {
		if strings.HasPrefix(spec, "node:") || nodeBuiltins[RootSpecifier(spec)] {
			return &Resolution{Resolved: spec, Confidence: store.ConfidenceHigh, Reason: reasonBuiltin, IsExternal: true}
		}
		if scopedPackage.MatchString(spec) {
			return &Resolution{Resolved: spec, Confidence: store.ConfidenceHigh, Reason: reasonScoped, IsExternal: true}
		}
	}

	if isRelative(spec) {
		base := path.Clean(path.Join(path.Dir(fromFile), spec))
		if found, ok := r.ProbeFile(base); ok {
			return &Resolution{Resolved: found, Confidence: store.ConfidenceHigh, Reason: reasonRelative}
		}
		return &Resolution{Resolved: base, Confidence: store.ConfidenceLow, Reason: reasonRelMissing}
	}

	if hasAlias {
		var first string
		for _, target := range match.targets {
			candidate := target
			if match.star {
				candidate = strings.Replace(target, "*", capture, 1)
			}
			candidate = path.Clean(path.Join(cfg.aliasBase(), candidate))
			if first == "" {
				first = candidate
			}
			if found, ok := r.ProbeFile(candidate); ok {
				return &Resolution{Resolved: found, Confidence: store.ConfidenceHigh, Reason: reasonAlias}
			}
		}
		if first != "" {
			return &Resolution{Resolved: first, Confidence: store.ConfidenceMedium, Reason: reasonAliasMissing}
		}
	}

	if cfg.BaseURL != "" {
		if found, ok := r.ProbeFile(path.Clean(path.Join(cfg.BaseURL, spec))); ok {
			return &Resolution{Resolved: found, Confidence: store.ConfidenceMedium, Reason: reasonBaseURL}
		}
	}

	return &Resolution{Resolved: spec, Confidence: store.ConfidenceLow, Reason: reasonAssumedExtern, IsExternal: true}
}

// matchAlias returns the longest-prefix alias matching spec and the text
// captured by its wildcard.
func matchAlias(aliases []alias, spec string) (alias, string, bool) {
	for _, a := range aliases {
		if !a.star {
			if spec == a.pattern {
				return a, "", true
			}
			continue
		}
		if len(spec) >= len(a.prefix)+len(a.suffix) &&
			strings.HasPrefix(spec, a.prefix) && strings.HasSuffix(spec, a.suffix) {
			return a, spec[len(a.prefix) : len(spec)-len(a.suffix)], true
		}
	}
	return alias{}, "", false
}

// ProbeFile finds the source file a module base path refers to. A compiled
// extension (.js, .jsx, .mjs, .cjs) is first mapped to its source family,
// then the untouched path, the probe extensions and index files are tried.
func (r *PathResolver) ProbeFile(base string) (string, bool) {
	if base == "" || base == ".." || strings.HasPrefix(base, "../") || path.IsAbs(base) {
		return "", false
	}
	for _, src := range r.ext.PossibleSourcePaths(base) {
		if r.IsFile(src) {
			return src, true
		}
	}
	for _, ext := range probeExtensions {
		if r.IsFile(base + ext) {
			return base + ext, true
		}
	}
	for _, ext := range probeExtensions {
		if ext == "" {
			continue
		}
		candidate := path.Join(base, "index"+ext)
		if r.IsFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// IsFile reports whether p names a regular file in the workspace.
func (r *PathResolver) IsFile(p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(r.fsys, p)
	return err == nil && !info.IsDir()
}

// IsDir reports whether p names a directory in the workspace.
func (r *PathResolver) IsDir(p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(r.fsys, p)
	return err == nil && info.IsDir()
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// RootSpecifier returns the package name of a bare specifier: "lodash/fp"
// -> "lodash", "@scope/pkg/x" -> "@scope/pkg".
func RootSpecifier(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
