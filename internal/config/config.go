// Package config loads workspace settings from .codegraph.yaml, an optional
// .env file and CODEGRAPH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up at the workspace root.
const FileName = ".codegraph.yaml"

// IndexConfig controls the indexing pipeline.
type IndexConfig struct {
	BatchSize       int      `yaml:"batch_size"`
	MaxConcurrency  int      `yaml:"max_concurrency"`
	Parallel        bool     `yaml:"parallel"`
	DisabledParsers []string `yaml:"disabled_parsers"`
	Exclude         []string `yaml:"exclude"`
}

// Config is the resolved configuration for one workspace.
type Config struct {
	Index             IndexConfig `yaml:"index"`
	DB                string      `yaml:"db"`
	RulesDir          string      `yaml:"rules_dir"`
	LogLevel          string      `yaml:"log_level"`
	ResolverCacheSize int         `yaml:"resolver_cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			BatchSize:      50,
			MaxConcurrency: 4,
			Parallel:       true,
		},
		DB:                filepath.Join(".codegraph", "graph.db"),
		RulesDir:          filepath.Join(".codegraph", "rules"),
		LogLevel:          "info",
		ResolverCacheSize: 10000,
	}
}

// Load reads the configuration for root using the process environment.
func Load(root string) (*Config, error) {
	return LoadWithEnv(root, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup. Missing files
// are not errors; a malformed .codegraph.yaml is.
func LoadWithEnv(root string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", FileName, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config: reading %s: %w", FileName, err)
	}

	dotenv, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.normalize(root)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) string) error {
	if v := lookup("CODEGRAPH_DB"); v != "" {
		c.DB = v
	}
	if v := lookup("CODEGRAPH_RULES_DIR"); v != "" {
		c.RulesDir = v
	}
	if v := lookup("CODEGRAPH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := lookup("CODEGRAPH_DISABLED_PARSERS"); v != "" {
		c.Index.DisabledParsers = splitList(v)
	}
	for key, dst := range map[string]*int{
		"CODEGRAPH_BATCH_SIZE":      &c.Index.BatchSize,
		"CODEGRAPH_MAX_CONCURRENCY": &c.Index.MaxConcurrency,
	} {
		v := lookup(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}
	if v := lookup("CODEGRAPH_PARALLEL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CODEGRAPH_PARALLEL: %w", err)
		}
		c.Index.Parallel = b
	}
	return nil
}

// normalize clamps numeric settings and anchors relative paths at root.
func (c *Config) normalize(root string) {
	def := Default()
	if c.Index.BatchSize < 1 {
		c.Index.BatchSize = def.Index.BatchSize
	}
	if c.Index.MaxConcurrency < 1 {
		c.Index.MaxConcurrency = 1
	}
	if c.ResolverCacheSize < 1 {
		c.ResolverCacheSize = def.ResolverCacheSize
	}
	if c.DB != "" && !filepath.IsAbs(c.DB) {
		c.DB = filepath.Join(root, c.DB)
	}
	if c.RulesDir != "" && !filepath.IsAbs(c.RulesDir) {
		c.RulesDir = filepath.Join(root, c.RulesDir)
	}
	for i, p := range c.Index.DisabledParsers {
		c.Index.DisabledParsers[i] = strings.ToLower(strings.TrimSpace(p))
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
