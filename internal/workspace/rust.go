package workspace

import (
	"path"
	"strings"

	"github.com/BurntSushi/toml"
)

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Lib struct {
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"lib"`
	Workspace struct {
		Members []string `toml:"members"`
		Exclude []string `toml:"exclude"`
	} `toml:"workspace"`
}

func (s *scanner) scanRust() {
	root, ok := s.readCargo("Cargo.toml")
	if !ok {
		return
	}
	s.addCrate(".", root)

	globs := append([]string{}, root.Workspace.Members...)
	for _, ex := range root.Workspace.Exclude {
		globs = append(globs, "!"+ex)
	}
	for _, dir := range s.expandDirs(globs) {
		if m, ok := s.readCargo(path.Join(dir, "Cargo.toml")); ok {
			s.addCrate(dir, m)
		}
	}
}

func (s *scanner) readCargo(name string) (cargoManifest, bool) {
	var m cargoManifest
	data, ok := s.read(name)
	if !ok {
		return m, false
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		s.warn(name, err)
		return m, false
	}
	return m, true
}

// addCrate registers a crate under the identifier used in `use` paths.
func (s *scanner) addCrate(dir string, m cargoManifest) {
	name := m.Lib.Name
	if name == "" {
		name = m.Package.Name
	}
	if name == "" {
		return
	}
	entry := ""
	if m.Lib.Path != "" {
		entry = s.firstFile(path.Join(dir, m.Lib.Path))
	}
	if entry == "" {
		entry = s.firstFile(path.Join(dir, "src/lib.rs"), path.Join(dir, "src/main.rs"))
	}
	s.pkgs.add(&Package{
		Name:      strings.ReplaceAll(name, "-", "_"),
		Ecosystem: Rust,
		Dir:       dir,
		Entry:     entry,
	})
}
