package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/tailscale/hujson"
)

// Config is the subset of tsconfig.json compilerOptions the resolver uses.
// Paths in BaseURL and Dir are workspace-relative and slash-separated.
type Config struct {
	// Dir is the directory holding the tsconfig.json ("." for the root).
	Dir     string
	BaseURL string
	Paths   map[string][]string
}

// IsEmpty reports whether the config carries no alias or baseUrl data.
func (c *Config) IsEmpty() bool {
	return c == nil || (c.BaseURL == "" && len(c.Paths) == 0)
}

// aliasBase returns the directory alias targets are relative to.
func (c *Config) aliasBase() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Dir == "" {
		return "."
	}
	return c.Dir
}

type rawTSConfig struct {
	Extends         any `json:"extends"`
	CompilerOptions struct {
		BaseURL *string             `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

const maxExtendsDepth = 5

// LoadTSConfig reads tsconfig.json (falling back to jsconfig.json) from the
// workspace root. A missing or unreadable file yields an empty config.
func LoadTSConfig(root string) *Config {
	cfg, err := LoadTSConfigFS(os.DirFS(root))
	if err != nil {
		return &Config{Dir: "."}
	}
	return cfg
}

// LoadTSConfigFS is LoadTSConfig over an fs.FS. Absence is not an error;
// a malformed file is.
func LoadTSConfigFS(fsys fs.FS) (*Config, error) {
	for _, name := range []string{"tsconfig.json", "jsconfig.json"} {
		cfg, err := loadChain(fsys, name, 0)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return &Config{Dir: "."}, err
		}
		return cfg, nil
	}
	return &Config{Dir: "."}, nil
}

// loadChain loads name and merges the relative configs it extends. Child
// values override parent values.
func loadChain(fsys fs.FS, name string, depth int) (*Config, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	// tsconfig files allow comments and trailing commas.
	data, err = hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	var raw rawTSConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	dir := path.Dir(name)
	cfg := &Config{Dir: dir}

	if parent, ok := raw.Extends.(string); ok && depth < maxExtendsDepth && strings.HasPrefix(parent, ".") {
		parentPath := path.Clean(path.Join(dir, parent))
		if !strings.HasSuffix(parentPath, ".json") {
			parentPath += ".json"
		}
		if base, err := loadChain(fsys, parentPath, depth+1); err == nil {
			cfg.BaseURL = base.BaseURL
			cfg.Paths = base.Paths
			cfg.Dir = base.Dir
		}
	}

	if raw.CompilerOptions.BaseURL != nil {
		cfg.BaseURL = path.Clean(path.Join(dir, *raw.CompilerOptions.BaseURL))
	}
	if raw.CompilerOptions.Paths != nil {
		cfg.Paths = raw.CompilerOptions.Paths
		cfg.Dir = dir
	}
	return cfg, nil
}
