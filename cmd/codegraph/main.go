package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jward/codegraph"
	"github.com/jward/codegraph/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagDB     string
	flagFormat string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "codegraph",
	Short:         "Cross-language dependency graph for AI-assisted code navigation",
	Long:          "Codegraph indexes imports, re-exports and framework entrypoints of a workspace into a dependency graph and answers token-budgeted structural queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .codegraph/graph.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
}

var (
	flagForce  bool
	flagSerial bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a workspace into the dependency graph",
	Long:  "Discovers source files, extracts imports, re-exports and entrypoints, runs the structural analysis and writes the graph to the SQLite database. Unchanged files are skipped when a previous database exists.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "ignore the existing database and reindex from scratch")
	indexCmd.Flags().BoolVar(&flagSerial, "serial", false, "index files one at a time")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	repoRoot := findRepoRoot(targetDir)

	var opts []codegraph.Option
	if flagSerial {
		opts = append(opts, codegraph.WithParallel(false))
	}
	engine, err := newEngine(repoRoot, opts...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	dbPath := resolveDBPath(repoRoot, engine.Config())

	ctx := context.Background()

	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	} else if err := engine.Load(ctx, dbPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading previous index: %w", err)
	}

	report, err := engine.IndexWorkspace(ctx)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	if err := engine.Save(ctx, dbPath); err != nil {
		return fmt.Errorf("saving: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %s in %s (indexed: %d, unchanged: %d, removed: %d, errors: %d, issues: %d)\n",
		repoRoot,
		time.Since(start).Round(time.Millisecond),
		report.Indexed,
		report.Unchanged,
		report.Removed,
		len(report.Errors),
		report.Issues,
	)
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	if flagFormat == "json" {
		return outputResult(CLIResult{Command: "index", Results: report})
	}
	return nil
}

// newEngine loads the workspace configuration and builds an Engine that
// logs to stderr at the configured level.
func newEngine(root string, opts ...codegraph.Option) (*codegraph.Engine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	opts = append([]codegraph.Option{codegraph.WithConfig(cfg), codegraph.WithLogger(logger)}, opts...)
	return codegraph.New(root, opts...)
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, falling back
// to the configured database.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	if cfg != nil && cfg.DB != "" {
		return cfg.DB
	}
	return filepath.Join(repoRoot, ".codegraph", "graph.db")
}
