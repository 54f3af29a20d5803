package workspace

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

type packageJSON struct {
	Name       string          `json:"name"`
	Main       string          `json:"main"`
	Module     string          `json:"module"`
	Types      string          `json:"types"`
	Source     string          `json:"source"`
	Workspaces json.RawMessage `json:"workspaces"`
}

// workspaceGlobs accepts both `"workspaces": [...]` and
// `"workspaces": {"packages": [...]}`.
func (p packageJSON) workspaceGlobs() []string {
	if len(p.Workspaces) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Workspaces, &list); err == nil {
		return list
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(p.Workspaces, &obj); err == nil {
		return obj.Packages
	}
	return nil
}

func (s *scanner) scanJS() {
	var globs []string

	if data, ok := s.read("package.json"); ok {
		var root packageJSON
		if err := json.Unmarshal(data, &root); err != nil {
			s.warn("package.json", err)
		} else {
			globs = append(globs, root.workspaceGlobs()...)
		}
	}

	if data, ok := s.read("pnpm-workspace.yaml"); ok {
		var pnpm struct {
			Packages []string `yaml:"packages"`
		}
		if err := yaml.Unmarshal(data, &pnpm); err != nil {
			s.warn("pnpm-workspace.yaml", err)
		} else {
			globs = append(globs, pnpm.Packages...)
		}
	}

	if data, ok := s.read("lerna.json"); ok {
		var lerna struct {
			Packages []string `json:"packages"`
		}
		if err := json.Unmarshal(data, &lerna); err != nil {
			s.warn("lerna.json", err)
		} else {
			globs = append(globs, lerna.Packages...)
		}
	}

	for _, dir := range s.expandDirs(globs) {
		s.addJSPackage(dir)
	}
}

// expandDirs expands workspace globs to directories, honoring "!" exclusions.
func (s *scanner) expandDirs(globs []string) []string {
	excluded := make(map[string]bool)
	var include []string
	for _, g := range globs {
		g = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(g), "./"), "/")
		if g == "" {
			continue
		}
		if strings.HasPrefix(g, "!") {
			matches, _ := doublestar.Glob(s.fsys, strings.TrimPrefix(strings.TrimPrefix(g, "!"), "./"))
			for _, m := range matches {
				excluded[m] = true
			}
			continue
		}
		include = append(include, g)
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, g := range include {
		matches, err := doublestar.Glob(s.fsys, g)
		if err != nil {
			s.warn(g, err)
			continue
		}
		for _, m := range matches {
			if excluded[m] || seen[m] || strings.Contains(m, "node_modules") {
				continue
			}
			seen[m] = true
			dirs = append(dirs, m)
		}
	}
	return dirs
}

func (s *scanner) addJSPackage(dir string) {
	manifest := path.Join(dir, "package.json")
	data, ok := s.read(manifest)
	if !ok {
		return
	}
	var pj packageJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		s.warn(manifest, err)
		return
	}
	if pj.Name == "" {
		return
	}
	s.pkgs.add(&Package{
		Name:      pj.Name,
		Ecosystem: JS,
		Dir:       dir,
		Entry:     s.jsEntry(dir, pj),
	})
}

// jsEntry prefers source entries over compiled ones: explicit "source",
// src/index.*, index.*, then "types"/"module"/"main" mapped back to source.
func (s *scanner) jsEntry(dir string, pj packageJSON) string {
	candidates := []string{}
	if pj.Source != "" {
		candidates = append(candidates, path.Join(dir, pj.Source))
	}
	for _, base := range []string{"src/index", "index"} {
		for _, ext := range []string{".ts", ".tsx", ".js", ".jsx", ".mjs"} {
			candidates = append(candidates, path.Join(dir, base+ext))
		}
	}
	for _, field := range []string{pj.Types, pj.Module, pj.Main} {
		if field == "" {
			continue
		}
		p := path.Join(dir, field)
		stem := strings.TrimSuffix(strings.TrimSuffix(p, ".d.ts"), path.Ext(p))
		srcStem := strings.Replace(stem, "/dist/", "/src/", 1)
		srcStem = strings.Replace(srcStem, "/lib/", "/src/", 1)
		candidates = append(candidates, srcStem+".ts", srcStem+".tsx", stem+".ts", p)
	}
	return s.firstFile(candidates...)
}
