package store

import (
	"strings"
	"time"
)

// NodeKind is the kind of a graph node. Node IDs are namespaced by kind.
type NodeKind string

const (
	KindFile       NodeKind = "file"
	KindModule     NodeKind = "module"
	KindSymbol     NodeKind = "symbol"
	KindEntrypoint NodeKind = "entrypoint"
)

// EdgeKind is the relationship an edge encodes.
type EdgeKind string

const (
	EdgeImports   EdgeKind = "imports"
	EdgeExports   EdgeKind = "exports"
	EdgeReexports EdgeKind = "reexports"
	EdgeCalls     EdgeKind = "calls"
	EdgeRegisters EdgeKind = "registers"
	EdgeUnknown   EdgeKind = "unknown"
)

// Confidence ranks how reliable an inferred node or edge is.
// Ordering: high > medium > low > unknown.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// Rank returns the position of c in the confidence order. Unrecognized
// values rank with unknown.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// MaxConfidence returns the higher-ranked of a and b.
func MaxConfidence(a, b Confidence) Confidence {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// MinConfidence returns the lower-ranked of a and b.
func MinConfidence(a, b Confidence) Confidence {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// Severity of a structural issue. Ordering: info < warning < error.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rank returns the position of s in the severity order.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// IssueKind is the closed set of structural problems the analysis pass reports.
type IssueKind string

const (
	IssueBrokenExportChain  IssueKind = "BROKEN_EXPORT_CHAIN"
	IssueCircularReexport   IssueKind = "CIRCULAR_REEXPORT"
	IssueCircularDependency IssueKind = "CIRCULAR_DEPENDENCY"
	IssueUnreachableHandler IssueKind = "UNREACHABLE_HANDLER"
)

// ID namespace prefixes.
const (
	FilePrefix       = "file:"
	ModulePrefix     = "module:"
	SymbolPrefix     = "symbol:"
	EntrypointPrefix = "entrypoint:"
)

func FileID(path string) string { return FilePrefix + path }

func ModuleID(specifier string) string { return ModulePrefix + specifier }

func SymbolID(path, name string) string {
	return SymbolPrefix + path + "#" + name
}

func EntrypointID(path, entrypointType string) string {
	return EntrypointPrefix + path + "#" + entrypointType
}

// PathFromFileID returns the path portion of a file: id.
func PathFromFileID(id string) (string, bool) {
	if !strings.HasPrefix(id, FilePrefix) {
		return "", false
	}
	return id[len(FilePrefix):], true
}

// EdgeID derives the stable id of an edge. Edges with the same endpoints and
// kind collapse into one.
func EdgeID(from string, kind EdgeKind, to string) string {
	return from + "-" + string(kind) + "->" + to
}

// Node is a vertex in the dependency graph.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Name string   `json:"name"`
	Path string   `json:"path,omitempty"`
	Meta NodeMeta `json:"meta"`
}

// NodeMeta holds the fields every node may carry plus exactly one
// kind-specific block. The embedded pointers flatten into the JSON form.
type NodeMeta struct {
	Language   string     `json:"language,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Line       int        `json:"line,omitempty"`

	*FileMeta
	*EntrypointMeta
	*SymbolMeta

	Extra map[string]string `json:"extra,omitempty"`
}

// FileMeta is carried by file nodes.
type FileMeta struct {
	Exports  []string `json:"exports,omitempty"`
	IsBarrel bool     `json:"isBarrel,omitempty"`
	// Parser is "tree-sitter", "fallback" or "generic".
	Parser string `json:"parser,omitempty"`
}

// EntrypointMeta is carried by entrypoint nodes.
type EntrypointMeta struct {
	EntrypointType string `json:"entrypointType"`
	Framework      string `json:"framework,omitempty"`
	Rule           string `json:"rule,omitempty"`
}

// SymbolMeta is carried by symbol nodes.
type SymbolMeta struct {
	SymbolKind string `json:"symbolKind,omitempty"`
	Exported   bool   `json:"exported,omitempty"`
}

// Exports returns the export list of a file node, or nil.
func (n *Node) Exports() []string {
	if n == nil || n.Meta.FileMeta == nil {
		return nil
	}
	return n.Meta.FileMeta.Exports
}

// IsBarrel reports the explicit barrel marker of a file node.
func (n *Node) IsBarrel() bool {
	return n != nil && n.Meta.FileMeta != nil && n.Meta.FileMeta.IsBarrel
}

// EntrypointType returns the entrypoint type, or "" for other kinds.
func (n *Node) EntrypointType() string {
	if n == nil || n.Meta.EntrypointMeta == nil {
		return ""
	}
	return n.Meta.EntrypointMeta.EntrypointType
}

// Framework returns the detected framework of an entrypoint node.
func (n *Node) Framework() string {
	if n == nil || n.Meta.EntrypointMeta == nil {
		return ""
	}
	return n.Meta.EntrypointMeta.Framework
}

// Edge is a directed relationship between two node ids. To may name a node
// that is not in the store (unresolved or external targets).
type Edge struct {
	ID         string     `json:"id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Kind       EdgeKind   `json:"kind"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
	Meta       EdgeMeta   `json:"meta"`
}

// EdgeMeta carries import provenance.
type EdgeMeta struct {
	ImportPath string `json:"importPath,omitempty"`
	// Symbols lists imported or re-exported names; "*" marks a wildcard.
	Symbols    []string `json:"symbols,omitempty"`
	IsDynamic  bool     `json:"isDynamic,omitempty"`
	IsTypeOnly bool     `json:"isTypeOnly,omitempty"`
	IsExternal bool     `json:"isExternal,omitempty"`
	Line       int      `json:"line,omitempty"`
}

// Issue is a structural problem found by the analysis pass.
type Issue struct {
	ID           string    `json:"id"`
	Kind         IssueKind `json:"kind"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Evidence     []string  `json:"evidence,omitempty"`
	SuggestedFix string    `json:"suggestedFix,omitempty"`
	Meta         IssueMeta `json:"meta"`
}

// IssueMeta locates an issue.
type IssueMeta struct {
	FilePath string   `json:"filePath"`
	Symbol   string   `json:"symbol,omitempty"`
	Chain    []string `json:"chain,omitempty"`
}

// GraphMeta is the aggregate summary of a store, recomputed on every mutation.
type GraphMeta struct {
	NodeCount       int       `json:"nodeCount"`
	EdgeCount       int       `json:"edgeCount"`
	IssueCount      int       `json:"issueCount"`
	LastIndexed     time.Time `json:"lastIndexed"`
	IndexDurationMs int64     `json:"indexDurationMs"`
}

// SnapshotVersion is bumped when the Snapshot shape changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the round-trippable serialized form of a GraphStore.
type Snapshot struct {
	Version int       `json:"version"`
	Nodes   []Node    `json:"nodes"`
	Edges   []Edge    `json:"edges"`
	Issues  []Issue   `json:"issues"`
	Meta    GraphMeta `json:"meta"`
}
