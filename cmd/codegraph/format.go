package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jward/codegraph"
)

// outputResultText renders a CLIResult as human-readable text.
func outputResultText(w io.Writer, result CLIResult) error {
	switch r := result.Results.(type) {
	case *codegraph.IndexReport:
		formatIndexReportText(w, r)
	case *codegraph.DigestResult:
		formatDigestText(w, r)
	case *codegraph.IssuesResult:
		formatIssuesText(w, r)
	case *codegraph.ImpactResult:
		formatImpactText(w, r)
	case *codegraph.PathResult:
		formatPathText(w, r)
	case *codegraph.ModuleResult:
		formatModuleText(w, r)
	default:
		// Unknown result types fall back to indented JSON.
		data, err := json.MarshalIndent(result.Results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

func formatIndexReportText(w io.Writer, r *codegraph.IndexReport) {
	fmt.Fprintf(w, "Discovered: %d\nIndexed: %d\nUnchanged: %d\nRemoved: %d\nIssues: %d\n",
		r.Discovered, r.Indexed, r.Unchanged, r.Removed, r.Issues)
	if len(r.Errors) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRECOVERABLE\tMESSAGE")
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", e.File, e.Recoverable, e.Message)
	}
	tw.Flush()
}

// formatDigestText formats a DigestResult as readable sections.
func formatDigestText(w io.Writer, d *codegraph.DigestResult) {
	title := "Workspace Digest"
	if d.Scope != "" {
		title += " (" + d.Scope + ")"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
	s := d.Summary
	fmt.Fprintf(w, "Files: %d  Modules: %d  Entrypoints: %d  Symbols: %d  Edges: %d  Issues: %d\n",
		s.Files, s.Modules, s.Entrypoints, s.Symbols, s.Edges, s.Issues)
	fmt.Fprintln(w)

	if len(d.Languages) > 0 {
		fmt.Fprintln(w, "Languages:")
		for _, lang := range sortedKeys(d.Languages) {
			fmt.Fprintf(w, "  %s: %d files\n", lang, d.Languages[lang])
		}
		fmt.Fprintln(w)
	}

	if len(d.Entrypoints) > 0 {
		fmt.Fprintln(w, "Entrypoints:")
		for _, g := range d.Entrypoints {
			fmt.Fprintf(w, "  %s (%d)\n", g.Type, g.Count)
			for _, ep := range g.Items {
				fmt.Fprintf(w, "    %s [%s]\n", ep.Path, ep.Framework)
			}
		}
		fmt.Fprintln(w)
	}

	if len(d.Hotspots) > 0 {
		fmt.Fprintf(w, "Hotspots (by %s):\n", d.HotspotsBy)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  PATH\tIMPORTERS\tEXPORTS")
		for _, h := range d.Hotspots {
			fmt.Fprintf(tw, "  %s\t%d\t%d\n", h.Path, h.Importers, h.Exports)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(d.IssuesByKind) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, k := range sortedKeys(d.IssuesByKind) {
			fmt.Fprintf(w, "  %s: %d\n", k, d.IssuesByKind[k])
		}
	}
}

// formatIssuesText formats an IssuesResult as aligned columns.
func formatIssuesText(w io.Writer, r *codegraph.IssuesResult) {
	if len(r.Issues) == 0 {
		fmt.Fprintln(w, "No issues.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tKIND\tFILE\tMESSAGE")
	for _, is := range r.Issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", is.Severity, is.Kind, is.Meta.FilePath, is.Message)
	}
	tw.Flush()
	if r.Truncated {
		fmt.Fprintf(w, "\nShowing %d of %d.", len(r.Issues), r.Total)
		if r.Suggestion != "" {
			fmt.Fprintf(w, " %s", r.Suggestion)
		}
		fmt.Fprintln(w)
	}
}

// formatImpactText formats an ImpactResult as dependent levels followed by
// the risk assessment.
func formatImpactText(w io.Writer, r *codegraph.ImpactResult) {
	fmt.Fprintf(w, "Impact of %s\n", r.Target)
	if !r.Found {
		fmt.Fprintf(w, "  %s\n", r.Meta.Reason)
		return
	}
	fmt.Fprintf(w, "Dependents: %d\n", r.TotalDependents)
	for _, lvl := range r.Levels {
		fmt.Fprintf(w, "  depth %d:\n", lvl.Depth)
		for _, d := range lvl.Dependents {
			fmt.Fprintf(w, "    %s\n", d)
		}
	}
	if r.Truncated {
		fmt.Fprintln(w, "  (listing truncated)")
	}
	if len(r.AffectedEntrypoints) > 0 {
		fmt.Fprintln(w, "Affected entrypoints:")
		for _, ep := range r.AffectedEntrypoints {
			fmt.Fprintf(w, "  %s (%s, %s)\n", ep.Path, ep.Type, ep.Framework)
		}
	}
	fmt.Fprintf(w, "Risk: %s\n", r.RiskAssessment.Level)
	for _, reason := range r.RiskAssessment.Reasons {
		fmt.Fprintf(w, "  - %s\n", reason)
	}
	for _, note := range r.RiskAssessment.Notes {
		fmt.Fprintf(w, "  note: %s\n", note)
	}
}

// formatPathText formats each path as an arrow-separated chain.
func formatPathText(w io.Writer, r *codegraph.PathResult) {
	if !r.Connected {
		fmt.Fprintf(w, "No path from %s to %s", r.From, r.To)
		if r.Meta.Reason != "" {
			fmt.Fprintf(w, ": %s", r.Meta.Reason)
		}
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "Shortest path: %d hops\n", r.ShortestPath)
	for _, p := range r.Paths {
		fmt.Fprintf(w, "  %s\n", strings.Join(p.Nodes, " -> "))
	}
	if r.DepthLimitReached {
		fmt.Fprintln(w, "(depth limit reached)")
	}
}

// formatModuleText formats a ModuleResult as readable sections.
func formatModuleText(w io.Writer, m *codegraph.ModuleResult) {
	if !m.Found {
		fmt.Fprintf(w, "%s: %s\n", m.ID, m.Meta.Reason)
		return
	}
	fmt.Fprintf(w, "Module: %s\n", m.Path)
	fmt.Fprintf(w, "Language: %s\n", m.Language)
	if m.IsBarrel {
		fmt.Fprintln(w, "Barrel: yes")
	}
	if len(m.Exports) > 0 {
		fmt.Fprintf(w, "Exports: %s\n", strings.Join(m.Exports, ", "))
	}
	fmt.Fprintln(w)

	if len(m.Imports) > 0 {
		fmt.Fprintln(w, "Imports:")
		formatModuleDepsText(w, m.Imports)
		fmt.Fprintln(w)
	}
	if len(m.Dependents) > 0 {
		fmt.Fprintln(w, "Dependents:")
		formatModuleDepsText(w, m.Dependents)
		fmt.Fprintln(w)
	}
	if len(m.Reexports) > 0 {
		fmt.Fprintln(w, "Re-exports:")
		for _, r := range m.Reexports {
			fmt.Fprintf(w, "  %s {%s}\n", r.Source, strings.Join(r.Symbols, ", "))
		}
		fmt.Fprintln(w)
	}
	if len(m.Entrypoints) > 0 {
		fmt.Fprintln(w, "Entrypoints:")
		for _, ep := range m.Entrypoints {
			fmt.Fprintf(w, "  %s (%s)\n", ep.Type, ep.Framework)
		}
		fmt.Fprintln(w)
	}
	if t := m.Transitive; t != nil {
		fmt.Fprintf(w, "Transitive (depth %d):\n", t.Depth)
		fmt.Fprintf(w, "  imports: %s\n", strings.Join(t.Imports, ", "))
		fmt.Fprintf(w, "  dependents: %s\n", strings.Join(t.Dependents, ", "))
	}
}

func formatModuleDepsText(w io.Writer, deps []codegraph.ModuleDep) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TARGET\tCONFIDENCE\tSYMBOLS")
	for _, d := range deps {
		target := d.Target
		if d.IsTypeOnly {
			target += " (type)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", target, d.Confidence, strings.Join(d.Symbols, ", "))
	}
	tw.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
