// Package rules evaluates user-supplied Risor scripts that classify files as
// entrypoints. Scripts live in .codegraph/rules/*.risor and run before the
// built-in detection battery. Modules under .codegraph/rules/lib/ can be
// shared between scripts with Risor's import statement.
package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Input is what a rule script sees about one file.
type Input struct {
	Path     string
	Language string
	Content  string
	Imports  []string
}

// Match is a successful classification.
type Match struct {
	Type      string
	Framework string
	Rule      string
}

// Rule is one loaded script.
type Rule struct {
	Name   string
	Source string
}

// Set is an ordered collection of rules. The zero value and nil are empty
// sets. A Set is safe for concurrent use.
type Set struct {
	rules  []Rule
	lib    fs.FS
	logger *slog.Logger
}

// globalNames are the variables every rule script and library module sees.
var globalNames = []string{"path", "language", "content", "imports", "has_import"}

// libDir holds importable helper modules inside the rules directory.
const libDir = "lib"

// NewSet returns a Set over rules in the given order. logger may be nil.
func NewSet(logger *slog.Logger, rules ...Rule) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{rules: rules, logger: logger}
}

// Load reads every .risor file in dir, sorted by name. A missing directory
// yields an empty set.
func Load(dir string, logger *slog.Logger) (*Set, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewSet(logger), nil
	}
	return LoadFS(os.DirFS(dir), logger)
}

// LoadFS is Load over an fs.FS whose root is the rules directory.
func LoadFS(fsys fs.FS, logger *slog.Logger) (*Set, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("rules: reading rules dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".risor" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("rules: loading %s: %w", name, err)
		}
		rules = append(rules, Rule{Name: strings.TrimSuffix(name, ".risor"), Source: string(data)})
	}
	set := NewSet(logger, rules...)
	if info, err := fs.Stat(fsys, libDir); err == nil && info.IsDir() {
		set.lib, _ = fs.Sub(fsys, libDir)
	}
	return set, nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Names returns rule names in evaluation order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Name
	}
	return out
}

// Match evaluates rules in order and returns the first classification.
// A script that fails is logged and skipped.
func (s *Set) Match(ctx context.Context, in Input) (*Match, bool) {
	if s.Len() == 0 {
		return nil, false
	}
	for _, r := range s.rules {
		m, err := s.eval(ctx, r, in)
		if err != nil {
			s.logger.Warn("rules.eval", "rule", r.Name, "file", in.Path, "err", err)
			continue
		}
		if m != nil {
			return m, true
		}
	}
	return nil, false
}

func (s *Set) eval(ctx context.Context, r Rule, in Input) (*Match, error) {
	imports := make([]object.Object, len(in.Imports))
	for i, imp := range in.Imports {
		imports[i] = object.NewString(imp)
	}

	opts := []risor.Option{
		risor.WithGlobal("path", object.NewString(in.Path)),
		risor.WithGlobal("language", object.NewString(in.Language)),
		risor.WithGlobal("content", object.NewString(in.Content)),
		risor.WithGlobal("imports", object.NewList(imports)),
		risor.WithGlobal("has_import", makeHasImportFn(in.Imports)),
	}
	if s.lib != nil {
		opts = append(opts, risor.WithImporter(importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    s.lib,
			Extensions:  []string{".risor"},
		})))
	}

	result, err := risor.Eval(ctx, r.Source, opts...)
	if err != nil {
		return nil, fmt.Errorf("rules: script %s: %w", r.Name, err)
	}
	return toMatch(r.Name, result)
}

// has_import(prefix) -> bool; true when any import specifier equals prefix
// or starts with prefix followed by a path separator.
func makeHasImportFn(imports []string) *object.Builtin {
	return object.NewBuiltin("has_import", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("has_import", 1, len(args))
		}
		prefix, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("has_import: argument must be a string, got %s", args[0].Type())
		}
		p := prefix.Value()
		return object.NewBool(slices.ContainsFunc(imports, func(imp string) bool {
			return imp == p || strings.HasPrefix(imp, p+"/") || strings.HasPrefix(imp, p+".") || strings.HasPrefix(imp, p+"::")
		}))
	})
}

func toMatch(name string, result object.Object) (*Match, error) {
	if result == nil {
		return nil, nil
	}
	if _, ok := result.(*object.NilType); ok {
		return nil, nil
	}
	m, ok := result.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("rules: script %s: expected map or nil, got %s", name, result.Type())
	}
	fields := m.Value()
	typ := getString(fields, "type")
	if typ == "" {
		return nil, nil
	}
	return &Match{Type: typ, Framework: getString(fields, "framework"), Rule: name}, nil
}

func getString(m map[string]object.Object, key string) string {
	if s, ok := m[key].(*object.String); ok {
		return s.Value()
	}
	return ""
}
