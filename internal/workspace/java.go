package workspace

import (
	"encoding/xml"
	"path"
	"regexp"
	"strings"
)

type pomProject struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Parent     struct {
		GroupID string `xml:"groupId"`
	} `xml:"parent"`
	Modules []string `xml:"modules>module"`
}

var (
	gradleInclude = regexp.MustCompile(`(?m)^\s*include\s*\(?([^)\n]*)`)
	gradleQuoted  = regexp.MustCompile(`["']:?([^"']+)["']`)
	gradleGroup   = regexp.MustCompile(`(?m)^\s*group\s*=\s*["']([^"']+)["']`)
)

// scanJava registers Maven and Gradle group ids as internal package prefixes.
// Each module directory is recorded so imports can be mapped to sources.
func (s *scanner) scanJava() {
	s.scanMaven(".", "", 0)
	s.scanGradle()
}

func (s *scanner) scanMaven(dir, parentGroup string, depth int) {
	if depth > 4 {
		return
	}
	name := path.Join(dir, "pom.xml")
	data, ok := s.read(name)
	if !ok {
		return
	}
	var pom pomProject
	if err := xml.Unmarshal(data, &pom); err != nil {
		s.warn(name, err)
		return
	}
	group := pom.GroupID
	if group == "" {
		group = pom.Parent.GroupID
	}
	if group == "" {
		group = parentGroup
	}
	if group != "" {
		s.pkgs.add(&Package{Name: group, Ecosystem: Java, Dir: dir})
	}
	for _, mod := range pom.Modules {
		s.scanMaven(path.Clean(path.Join(dir, strings.TrimSpace(mod))), group, depth+1)
	}
}

func (s *scanner) scanGradle() {
	var settings []byte
	for _, name := range []string{"settings.gradle", "settings.gradle.kts"} {
		if data, ok := s.read(name); ok {
			settings = data
			break
		}
	}

	dirs := []string{"."}
	for _, m := range gradleInclude.FindAllSubmatch(settings, -1) {
		for _, q := range gradleQuoted.FindAllSubmatch(m[1], -1) {
			dirs = append(dirs, strings.ReplaceAll(string(q[1]), ":", "/"))
		}
	}

	rootGroup := ""
	for _, dir := range dirs {
		group := ""
		for _, build := range []string{"build.gradle", "build.gradle.kts"} {
			if data, ok := s.read(path.Join(dir, build)); ok {
				if m := gradleGroup.FindSubmatch(data); m != nil {
					group = string(m[1])
				}
				break
			}
		}
		if dir == "." {
			rootGroup = group
		}
		if group == "" {
			group = rootGroup
		}
		if group != "" {
			s.pkgs.add(&Package{Name: group, Ecosystem: Java, Dir: dir})
		}
	}
}
