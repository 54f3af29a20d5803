// Package workspace discovers the internal packages of a monorepo so that
// imports between them are not mistaken for third-party dependencies.
package workspace

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Ecosystem identifies a package manager family.
type Ecosystem string

const (
	JS     Ecosystem = "js"
	Python Ecosystem = "python"
	Go     Ecosystem = "go"
	Rust   Ecosystem = "rust"
	Java   Ecosystem = "java"
)

// Package is one internal package. Dir and Entry are workspace-relative;
// Entry is empty when no entry file could be located.
type Package struct {
	Name      string    `json:"name"`
	Ecosystem Ecosystem `json:"ecosystem"`
	Dir       string    `json:"dir"`
	Entry     string    `json:"entry,omitempty"`
}

// Packages is the immutable scan result for one workspace root.
type Packages struct {
	byEco map[Ecosystem]map[string]*Package
	dirs  map[Ecosystem][]string
}

func newPackages() *Packages {
	return &Packages{
		byEco: make(map[Ecosystem]map[string]*Package),
		dirs:  make(map[Ecosystem][]string),
	}
}

func (p *Packages) add(pkg *Package) {
	if pkg.Name == "" {
		return
	}
	if !slices.Contains(p.dirs[pkg.Ecosystem], pkg.Dir) {
		p.dirs[pkg.Ecosystem] = append(p.dirs[pkg.Ecosystem], pkg.Dir)
	}
	m, ok := p.byEco[pkg.Ecosystem]
	if !ok {
		m = make(map[string]*Package)
		p.byEco[pkg.Ecosystem] = m
	}
	if existing, ok := m[pkg.Name]; ok && existing.Entry != "" {
		return
	}
	m[pkg.Name] = pkg
}

// All returns every package of eco sorted by name.
func (p *Packages) All(eco Ecosystem) []*Package {
	if p == nil {
		return nil
	}
	out := make([]*Package, 0, len(p.byEco[eco]))
	for _, pkg := range p.byEco[eco] {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dirs returns every package directory registered for eco, including
// modules that share a name (Maven/Gradle submodules of one group).
func (p *Packages) Dirs(eco Ecosystem) []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.dirs[eco])
}

// Len returns the total number of packages across ecosystems.
func (p *Packages) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, m := range p.byEco {
		n += len(m)
	}
	return n
}

// Lookup finds the internal package a specifier belongs to and the
// remainder of the specifier inside it, slash-separated.
func (p *Packages) Lookup(eco Ecosystem, spec string) (*Package, string, bool) {
	if p == nil || spec == "" {
		return nil, "", false
	}
	m := p.byEco[eco]
	if len(m) == 0 {
		return nil, "", false
	}
	switch eco {
	case JS:
		name, rest := splitJSSpecifier(spec)
		if pkg, ok := m[name]; ok {
			return pkg, rest, true
		}
	case Python:
		if strings.HasPrefix(spec, ".") {
			return nil, "", false
		}
		first, rest, _ := strings.Cut(spec, ".")
		if pkg, ok := m[first]; ok {
			return pkg, strings.ReplaceAll(rest, ".", "/"), true
		}
	case Rust:
		first, rest, _ := strings.Cut(spec, "::")
		if pkg, ok := m[strings.ReplaceAll(first, "-", "_")]; ok {
			return pkg, strings.ReplaceAll(rest, "::", "/"), true
		}
	case Go:
		return longestPrefix(m, spec, "/")
	case Java:
		return longestPrefix(m, spec, ".")
	}
	return nil, "", false
}

// IsInternal reports whether spec names an internal package.
func (p *Packages) IsInternal(eco Ecosystem, spec string) bool {
	_, _, ok := p.Lookup(eco, spec)
	return ok
}

func longestPrefix(m map[string]*Package, spec, sep string) (*Package, string, bool) {
	var best *Package
	for name, pkg := range m {
		if spec != name && !strings.HasPrefix(spec, name+sep) {
			continue
		}
		if best == nil || len(name) > len(best.Name) {
			best = pkg
		}
	}
	if best == nil {
		return nil, "", false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(spec, best.Name), sep)
	return best, strings.ReplaceAll(rest, sep, "/"), true
}

func splitJSSpecifier(spec string) (string, string) {
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, parts[2]
		}
		return name, ""
	}
	name, rest, _ := strings.Cut(spec, "/")
	return name, rest
}

// Scan discovers internal packages for all five ecosystems in fsys.
// Unreadable or malformed manifests are skipped.
func Scan(fsys fs.FS, logger *slog.Logger) *Packages {
	if logger == nil {
		logger = slog.Default()
	}
	p := newPackages()
	s := &scanner{fsys: fsys, logger: logger, pkgs: p}
	s.scanJS()
	s.scanPython()
	s.scanGo()
	s.scanRust()
	s.scanJava()
	return p
}

type scanner struct {
	fsys   fs.FS
	logger *slog.Logger
	pkgs   *Packages
}

func (s *scanner) read(name string) ([]byte, bool) {
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *scanner) isFile(name string) bool {
	if !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(s.fsys, name)
	return err == nil && !info.IsDir()
}

func (s *scanner) firstFile(candidates ...string) string {
	for _, c := range candidates {
		if c != "" && s.isFile(path.Clean(c)) {
			return path.Clean(c)
		}
	}
	return ""
}

func (s *scanner) warn(file string, err error) {
	s.logger.Debug("workspace.manifest.skip", "file", file, "err", err)
}

// Cache memoizes scans per workspace root. Concurrent loads of the same
// root share one scan; results are never mutated after publication.
type Cache struct {
	mu     sync.RWMutex
	byRoot map[string]*Packages
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache returns an empty Cache. logger may be nil.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{byRoot: make(map[string]*Packages), logger: logger}
}

// Load returns the packages for root, scanning on first use.
func (c *Cache) Load(root string) *Packages {
	return c.LoadFS(root, os.DirFS(root))
}

// LoadFS is Load with an explicit filesystem for root.
func (c *Cache) LoadFS(root string, fsys fs.FS) *Packages {
	c.mu.RLock()
	p, ok := c.byRoot[root]
	c.mu.RUnlock()
	if ok {
		return p
	}
	v, _, _ := c.group.Do(root, func() (any, error) {
		c.mu.RLock()
		p, ok := c.byRoot[root]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}
		p = Scan(fsys, c.logger)
		c.mu.Lock()
		c.byRoot[root] = p
		c.mu.Unlock()
		c.logger.Info("workspace.scan", "root", root, "packages", p.Len())
		return p, nil
	})
	return v.(*Packages)
}

// Invalidate drops the cached scan for root.
func (c *Cache) Invalidate(root string) {
	c.mu.Lock()
	delete(c.byRoot, root)
	c.mu.Unlock()
}
