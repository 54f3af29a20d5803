package codegraph

import (
	"github.com/jward/codegraph/internal/indexer"
	"github.com/jward/codegraph/internal/store"
)

// Public aliases for the internal graph types returned by the Engine and
// Query APIs.

type GraphStore = store.GraphStore
type Node = store.Node
type Edge = store.Edge
type Issue = store.Issue
type IssueKind = store.IssueKind
type Severity = store.Severity
type Confidence = store.Confidence
type GraphMeta = store.GraphMeta
type Snapshot = store.Snapshot
type Indexer = indexer.Indexer
type IndexError = indexer.IndexError

const (
	SeverityInfo    = store.SeverityInfo
	SeverityWarning = store.SeverityWarning
	SeverityError   = store.SeverityError
)

const (
	IssueBrokenExportChain  = store.IssueBrokenExportChain
	IssueCircularReexport   = store.IssueCircularReexport
	IssueCircularDependency = store.IssueCircularDependency
	IssueUnreachableHandler = store.IssueUnreachableHandler
)
