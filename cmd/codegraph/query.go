package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/jward/codegraph"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the dependency graph",
	Long:  "Run structural queries against an indexed workspace. Every result carries meta.tokensEstimate so callers can budget context.",
}

func init() {
	digestCmd.Flags().String("scope", "", "restrict to a path prefix")
	digestCmd.Flags().Int("limit", codegraph.DefaultDigestLimit, "number of hotspots (max 100)")

	issuesCmd.Flags().String("kind", "", "issue kind (e.g. BROKEN_EXPORT_CHAIN)")
	issuesCmd.Flags().String("severity", "", "minimum severity: info|warning|error")
	issuesCmd.Flags().String("scope", "", "restrict to a path prefix")
	issuesCmd.Flags().Int("limit", codegraph.DefaultIssuesLimit, "page size (max 50)")

	impactCmd.Flags().Int("depth", codegraph.DefaultImpactDepth, "dependent levels to walk (max 4)")
	impactCmd.Flags().Int("limit", codegraph.DefaultImpactLimit, "dependents to list (max 100)")

	pathCmd.Flags().Int("max-depth", codegraph.DefaultPathDepth, "maximum path length (max 10)")
	pathCmd.Flags().Int("max-paths", codegraph.DefaultMaxPaths, "maximum paths to return (max 10)")

	moduleCmd.Flags().Bool("transitive", false, "include transitive imports and dependents")

	queryCmd.AddCommand(digestCmd)
	queryCmd.AddCommand(issuesCmd)
	queryCmd.AddCommand(impactCmd)
	queryCmd.AddCommand(pathCmd)
	queryCmd.AddCommand(moduleCmd)
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Summarize the workspace: languages, entrypoints, hotspots and issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openQuery()
		if err != nil {
			return outputError("digest", err)
		}
		scope, _ := cmd.Flags().GetString("scope")
		limit, _ := cmd.Flags().GetInt("limit")
		return outputResult(CLIResult{Command: "digest", Results: q.Digest(scope, limit)})
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List structural issues, most severe first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		sev, _ := cmd.Flags().GetString("severity")
		scope, _ := cmd.Flags().GetString("scope")
		limit, _ := cmd.Flags().GetInt("limit")

		minSev, err := parseSeverity(sev)
		if err != nil {
			return outputError("issues", err)
		}
		q, err := openQuery()
		if err != nil {
			return outputError("issues", err)
		}
		res := q.Issues(codegraph.IssueFilter{
			Kind:        codegraph.IssueKind(strings.ToUpper(kind)),
			MinSeverity: minSev,
			Scope:       scope,
			Limit:       limit,
		})
		return outputResult(CLIResult{Command: "issues", Results: res})
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact <target>",
	Short: "Show the files and entrypoints affected by changing a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		limit, _ := cmd.Flags().GetInt("limit")

		q, err := openQuery()
		if err != nil {
			return outputError("impact", err)
		}
		res, err := q.Impact(context.Background(), args[0], codegraph.ImpactOptions{Depth: depth, Limit: limit})
		if err != nil {
			return outputError("impact", err)
		}
		return outputResult(CLIResult{Command: "impact", Results: res})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Find dependency paths between two files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		maxPaths, _ := cmd.Flags().GetInt("max-paths")

		q, err := openQuery()
		if err != nil {
			return outputError("path", err)
		}
		res, err := q.Path(context.Background(), args[0], args[1], codegraph.PathOptions{MaxDepth: maxDepth, MaxPaths: maxPaths})
		if err != nil {
			return outputError("path", err)
		}
		return outputResult(CLIResult{Command: "path", Results: res})
	},
}

var moduleCmd = &cobra.Command{
	Use:   "module <target>",
	Short: "Show the imports, dependents, exports and re-exports of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transitive, _ := cmd.Flags().GetBool("transitive")

		q, err := openQuery()
		if err != nil {
			return outputError("module", err)
		}
		return outputResult(CLIResult{Command: "module", Results: q.Module(args[0], transitive)})
	},
}

// --- Helpers ---

// openQuery loads the graph snapshot for the repository containing the
// working directory.
func openQuery() (*codegraph.Query, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	engine, err := newEngine(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	dbPath := resolveDBPath(repoRoot, engine.Config())
	if err := engine.Load(context.Background(), dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s (run 'codegraph index' first)", dbPath)
		}
		return nil, err
	}
	return engine.Query(), nil
}

// parseSeverity validates the --severity flag. Empty means no minimum.
func parseSeverity(s string) (codegraph.Severity, error) {
	switch sev := codegraph.Severity(strings.ToLower(s)); sev {
	case "", codegraph.SeverityInfo, codegraph.SeverityWarning, codegraph.SeverityError:
		return sev, nil
	default:
		return "", fmt.Errorf("invalid severity %q: must be info, warning or error", s)
	}
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}
