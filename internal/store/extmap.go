package store

import (
	"path"
	"strings"
)

// ExtensionMapper relates source files whose extensions are interchangeable
// in import specifiers. ESM code imports "./foo.js" while the file on disk is
// foo.ts; the mapper lets both names address the same logical file.
type ExtensionMapper struct {
	family  map[string]string   // ext -> family key
	members map[string][]string // family key -> exts, in probe order
	sources map[string][]string // compiled ext -> source exts
}

// NewExtensionMapper returns a mapper for the TypeScript/JavaScript families
// {.ts,.tsx,.js,.jsx}, {.mts,.mjs} and {.cts,.cjs}.
func NewExtensionMapper() *ExtensionMapper {
	m := &ExtensionMapper{
		family:  make(map[string]string),
		members: make(map[string][]string),
		sources: map[string][]string{
			".js":  {".ts", ".tsx"},
			".jsx": {".tsx"},
			".mjs": {".mts"},
			".cjs": {".cts"},
		},
	}
	for key, exts := range map[string][]string{
		"js":  {".ts", ".tsx", ".js", ".jsx"},
		"mjs": {".mts", ".mjs"},
		"cjs": {".cts", ".cjs"},
	} {
		m.members[key] = exts
		for _, ext := range exts {
			m.family[ext] = key
		}
	}
	return m
}

// IsSourceExtension reports whether ext belongs to a known family.
func (m *ExtensionMapper) IsSourceExtension(ext string) bool {
	_, ok := m.family[strings.ToLower(ext)]
	return ok
}

// PossibleSourcePaths returns the source-file candidates for a compiled
// path, e.g. foo.js -> [foo.ts foo.tsx]. Nil for paths with no mapping.
func (m *ExtensionMapper) PossibleSourcePaths(p string) []string {
	ext := path.Ext(p)
	srcs, ok := m.sources[strings.ToLower(ext)]
	if !ok {
		return nil
	}
	stem := strings.TrimSuffix(p, ext)
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = stem + s
	}
	return out
}

// NormalizePath maps every member of an extension family to one key.
// Paths outside the families are returned unchanged.
func (m *ExtensionMapper) NormalizePath(p string) string {
	ext := path.Ext(p)
	key, ok := m.family[strings.ToLower(ext)]
	if !ok {
		return p
	}
	return strings.TrimSuffix(p, ext) + "{" + key + "}"
}

// EquivalentPaths returns the other members of p's family, or nil.
func (m *ExtensionMapper) EquivalentPaths(p string) []string {
	ext := path.Ext(p)
	key, ok := m.family[strings.ToLower(ext)]
	if !ok {
		return nil
	}
	stem := strings.TrimSuffix(p, ext)
	var out []string
	for _, e := range m.members[key] {
		if e != ext {
			out = append(out, stem+e)
		}
	}
	return out
}

// Equivalent reports whether a and b name the same logical source file.
func (m *ExtensionMapper) Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	if !m.IsSourceExtension(path.Ext(a)) || !m.IsSourceExtension(path.Ext(b)) {
		return false
	}
	return m.NormalizePath(a) == m.NormalizePath(b)
}
