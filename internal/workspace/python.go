package workspace

import (
	"path"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

type pyproject struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name     string `toml:"name"`
			Packages []struct {
				Include string `toml:"include"`
				From    string `toml:"from"`
			} `toml:"packages"`
		} `toml:"poetry"`
		PDM struct {
			Build struct {
				PackageDir string `toml:"package-dir"`
			} `toml:"build"`
		} `toml:"pdm"`
	} `toml:"tool"`
}

var (
	setupPyName  = regexp.MustCompile(`name\s*=\s*["']([^"']+)["']`)
	setupCfgName = regexp.MustCompile(`(?m)^\s*name\s*=\s*(\S+)\s*$`)
)

// manifestDirs are the depths searched for per-package manifests.
var manifestDirs = []string{"", "*/", "*/*/"}

func (s *scanner) scanPython() {
	for _, prefix := range manifestDirs {
		for _, name := range s.glob(prefix + "pyproject.toml") {
			s.addPyproject(name)
		}
		for _, name := range s.glob(prefix + "setup.py") {
			if data, ok := s.read(name); ok {
				if m := setupPyName.FindSubmatch(data); m != nil {
					s.addPythonDist(path.Dir(name), string(m[1]), "")
				}
			}
		}
		for _, name := range s.glob(prefix + "setup.cfg") {
			if data, ok := s.read(name); ok {
				if m := setupCfgName.FindSubmatch(data); m != nil {
					s.addPythonDist(path.Dir(name), string(m[1]), "")
				}
			}
		}
	}

	// Top-level import packages in the root or a src/ layout.
	for _, pattern := range []string{"*/__init__.py", "src/*/__init__.py"} {
		for _, init := range s.glob(pattern) {
			dir := path.Dir(init)
			s.pkgs.add(&Package{Name: path.Base(dir), Ecosystem: Python, Dir: dir, Entry: init})
		}
	}
}

func (s *scanner) addPyproject(name string) {
	data, ok := s.read(name)
	if !ok {
		return
	}
	var pp pyproject
	if err := toml.Unmarshal(data, &pp); err != nil {
		s.warn(name, err)
		return
	}
	dir := path.Dir(name)
	for _, pkg := range pp.Tool.Poetry.Packages {
		if pkg.Include == "" {
			continue
		}
		s.addPythonDist(path.Join(dir, pkg.From), pkg.Include, "")
	}
	dist := pp.Project.Name
	if dist == "" {
		dist = pp.Tool.Poetry.Name
	}
	if dist != "" {
		s.addPythonDist(dir, dist, pp.Tool.PDM.Build.PackageDir)
	}
}

// addPythonDist registers a distribution under its import name, locating
// the package directory in dir, dir/src or dir/<packageDir>.
func (s *scanner) addPythonDist(dir, dist, packageDir string) {
	importName := strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(dist))
	if importName == "" {
		return
	}
	bases := []string{dir, path.Join(dir, "src")}
	if packageDir != "" {
		bases = append([]string{path.Join(dir, packageDir)}, bases...)
	}
	for _, base := range bases {
		pkgDir := path.Join(base, importName)
		if entry := s.firstFile(path.Join(pkgDir, "__init__.py")); entry != "" {
			s.pkgs.add(&Package{Name: importName, Ecosystem: Python, Dir: pkgDir, Entry: entry})
			return
		}
		if entry := s.firstFile(pkgDir + ".py"); entry != "" {
			s.pkgs.add(&Package{Name: importName, Ecosystem: Python, Dir: base, Entry: entry})
			return
		}
	}
	s.pkgs.add(&Package{Name: importName, Ecosystem: Python, Dir: dir})
}

// glob matches pattern, skipping vendored and hidden trees.
func (s *scanner) glob(pattern string) []string {
	matches, err := doublestar.Glob(s.fsys, pattern)
	if err != nil {
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if strings.Contains(m, "node_modules/") || strings.HasPrefix(m, ".") || strings.Contains(m, "/.") {
			continue
		}
		out = append(out, m)
	}
	return out
}
