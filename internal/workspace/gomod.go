package workspace

import (
	"path"
	"strings"

	"golang.org/x/mod/modfile"
)

func (s *scanner) scanGo() {
	if data, ok := s.read("go.work"); ok {
		wf, err := modfile.ParseWork("go.work", data, nil)
		if err != nil {
			s.warn("go.work", err)
		} else {
			for _, use := range wf.Use {
				s.addGoModule(path.Clean(strings.TrimPrefix(use.Path, "./")))
			}
		}
	}
	for _, prefix := range manifestDirs {
		for _, name := range s.glob(prefix + "go.mod") {
			s.addGoModule(path.Dir(name))
		}
	}
}

// addGoModule registers the module declared in dir/go.mod together with its
// local replace targets.
func (s *scanner) addGoModule(dir string) {
	name := path.Join(dir, "go.mod")
	data, ok := s.read(name)
	if !ok {
		return
	}
	f, err := modfile.ParseLax(name, data, nil)
	if err != nil {
		s.warn(name, err)
		return
	}
	if f.Module != nil && f.Module.Mod.Path != "" {
		s.pkgs.add(&Package{Name: f.Module.Mod.Path, Ecosystem: Go, Dir: dir})
	}
	for _, r := range f.Replace {
		if !modfile.IsDirectoryPath(r.New.Path) {
			continue
		}
		target := path.Clean(path.Join(dir, r.New.Path))
		if strings.HasPrefix(target, "..") {
			continue
		}
		s.pkgs.add(&Package{Name: r.Old.Path, Ecosystem: Go, Dir: target})
	}
}
