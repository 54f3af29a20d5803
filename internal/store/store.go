package store

import (
	"sort"
	"sync"
	"time"
)

type idSet map[string]struct{}

func (s idSet) add(id string)    { s[id] = struct{}{} }
func (s idSet) remove(id string) { delete(s, id) }

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GraphStore is the indexed in-memory node/edge/issue repository.
//
// Every mutating call updates the primary maps and all indices under a single
// write lock, so readers never observe a partially applied change. Getters
// return copies and report misses with nil or empty results.
type GraphStore struct {
	mu sync.RWMutex

	nodes  map[string]*Node
	edges  map[string]*Edge
	issues []Issue
	meta   GraphMeta

	nodesByKind           map[NodeKind]idSet
	nodesByPath           map[string]string // path -> file node id
	nodesByNormalizedPath map[string]idSet  // normalized path -> file node ids
	pathOwners            map[string]idSet  // path -> every node id carrying it
	edgesByFrom           map[string]idSet
	edgesByTo             map[string]idSet

	ext *ExtensionMapper
}

// New returns an empty GraphStore.
func New() *GraphStore {
	s := &GraphStore{ext: NewExtensionMapper()}
	s.reset()
	return s
}

func (s *GraphStore) reset() {
	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.issues = nil
	s.nodesByKind = make(map[NodeKind]idSet)
	s.nodesByPath = make(map[string]string)
	s.nodesByNormalizedPath = make(map[string]idSet)
	s.pathOwners = make(map[string]idSet)
	s.edgesByFrom = make(map[string]idSet)
	s.edgesByTo = make(map[string]idSet)
	s.meta = GraphMeta{}
}

// ExtensionMapper returns the mapper used for extension-aware lookups.
func (s *GraphStore) ExtensionMapper() *ExtensionMapper {
	return s.ext
}

// --- Mutations ---

// AddNode inserts n, replacing any node with the same id. Edges are kept.
func (s *GraphStore) AddNode(n Node) {
	if n.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putNode(n)
	s.recomputeMeta()
}

// RemoveNode deletes the node and every edge touching it in either direction.
func (s *GraphStore) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return false
	}
	s.dropNode(id)
	s.dropEdgesTouching(id)
	s.recomputeMeta()
	return true
}

// AddEdge inserts e, replacing any edge with the same id. An empty id is
// derived from the endpoints and kind.
func (s *GraphStore) AddEdge(e Edge) {
	if e.From == "" || e.To == "" {
		return
	}
	if e.ID == "" {
		e.ID = EdgeID(e.From, e.Kind, e.To)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putEdge(e)
	s.recomputeMeta()
}

// RemoveEdge deletes an edge by id.
func (s *GraphStore) RemoveEdge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return false
	}
	s.dropEdge(id)
	s.recomputeMeta()
	return true
}

// UpdateFile replaces everything indexed from path: the previous file node,
// its symbols and entrypoints and the edges they own are removed, then nodes
// and edges are inserted. Edges from other files into path are preserved.
func (s *GraphStore) UpdateFile(path string, nodes []Node, edges []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceFile(path, nodes, edges)
	s.recomputeMeta()
}

// RemoveFile deletes every node carrying path and all edges touching them.
func (s *GraphStore) RemoveFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := s.pathOwners[path]
	if len(owners) == 0 {
		return false
	}
	for _, id := range owners.sorted() {
		s.dropNode(id)
		s.dropEdgesTouching(id)
	}
	s.recomputeMeta()
	return true
}

// CommitBatch applies every file buffered in b under one write lock.
func (s *GraphStore) CommitBatch(b *Batch) {
	files := b.drain()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		s.replaceFile(f.path, f.nodes, f.edges)
	}
	s.recomputeMeta()
}

// SetIssues replaces the issue list wholesale.
func (s *GraphStore) SetIssues(issues []Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append([]Issue(nil), issues...)
	s.recomputeMeta()
}

// SetIndexTiming records when indexing finished and how long it took.
func (s *GraphStore) SetIndexTiming(at time.Time, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.LastIndexed = at
	s.meta.IndexDurationMs = d.Milliseconds()
}

// Clear removes all nodes, edges and issues.
func (s *GraphStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// --- Reads ---

// Node returns the node with id. A miss on a file: id falls back to
// extension-equivalent source paths (file:foo.js finds file:foo.ts).
func (s *GraphStore) Node(id string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := s.lookupNode(id); n != nil {
		c := *n
		return &c
	}
	return nil
}

// NodeByPath returns the file node for path, with the same extension-aware
// fallback as Node.
func (s *GraphStore) NodeByPath(path string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := s.lookupFile(path); n != nil {
		c := *n
		return &c
	}
	return nil
}

// NodesAtPath returns every node carrying path: the file node and the
// symbols and entrypoints derived from it.
func (s *GraphStore) NodesAtPath(path string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyNodes(s.pathOwners[path])
}

// NodesByKind returns all nodes of kind, sorted by id.
func (s *GraphStore) NodesByKind(kind NodeKind) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyNodes(s.nodesByKind[kind])
}

// Nodes returns every node sorted by id.
func (s *GraphStore) Nodes() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns every edge sorted by id.
func (s *GraphStore) Edges() []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edge returns the edge with id, or nil.
func (s *GraphStore) Edge(id string) *Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.edges[id]; ok {
		c := *e
		return &c
	}
	return nil
}

// EdgesFrom returns the outgoing edges of id.
func (s *GraphStore) EdgesFrom(id string) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyEdges(s.edgesByFrom[id])
}

// EdgesTo returns the incoming edges of id. For a file: id this includes
// edges addressed to an extension-equivalent path that has no node of its own.
func (s *GraphStore) EdgesTo(id string) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, isFile := PathFromFileID(id)
	if !isFile {
		return s.copyEdges(s.edgesByTo[id])
	}
	merged := make(idSet)
	for eid := range s.edgesByTo[id] {
		merged.add(eid)
	}
	for _, alt := range s.ext.EquivalentPaths(p) {
		altID := FileID(alt)
		if _, exists := s.nodes[altID]; exists {
			continue
		}
		for eid := range s.edgesByTo[altID] {
			merged.add(eid)
		}
	}
	return s.copyEdges(merged)
}

// IsSameNode reports whether two ids address the same logical node. File ids
// whose paths are extension-equivalent are the same node.
func (s *GraphStore) IsSameNode(a, b string) bool {
	if a == b {
		return true
	}
	pa, okA := PathFromFileID(a)
	pb, okB := PathFromFileID(b)
	if !okA || !okB {
		return false
	}
	return s.ext.Equivalent(pa, pb)
}

// Issues returns a copy of the current issue list.
func (s *GraphStore) Issues() []Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Issue(nil), s.issues...)
}

// Meta returns the current aggregate counters.
func (s *GraphStore) Meta() GraphMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// --- Snapshot ---

// ToSerializable returns a deterministic snapshot of the store.
func (s *GraphStore) ToSerializable() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Version: SnapshotVersion,
		Nodes:   make([]Node, 0, len(s.nodes)),
		Edges:   make([]Edge, 0, len(s.edges)),
		Issues:  append([]Issue{}, s.issues...),
		Meta:    s.meta,
	}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, *n)
	}
	for _, e := range s.edges {
		snap.Edges = append(snap.Edges, *e)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap
}

// FromSerializable replaces the store contents with snap. Entries with empty
// ids are skipped.
func (s *GraphStore) FromSerializable(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for _, n := range snap.Nodes {
		if n.ID != "" {
			s.putNode(n)
		}
	}
	for _, e := range snap.Edges {
		if e.From == "" || e.To == "" {
			continue
		}
		if e.ID == "" {
			e.ID = EdgeID(e.From, e.Kind, e.To)
		}
		s.putEdge(e)
	}
	s.issues = append([]Issue(nil), snap.Issues...)
	s.recomputeMeta()
	s.meta.LastIndexed = snap.Meta.LastIndexed
	s.meta.IndexDurationMs = snap.Meta.IndexDurationMs
}

// --- internals; callers hold s.mu ---

func (s *GraphStore) lookupNode(id string) *Node {
	if n, ok := s.nodes[id]; ok {
		return n
	}
	if p, ok := PathFromFileID(id); ok {
		return s.lookupFile(p)
	}
	return nil
}

func (s *GraphStore) lookupFile(path string) *Node {
	if id, ok := s.nodesByPath[path]; ok {
		return s.nodes[id]
	}
	for _, alt := range s.ext.PossibleSourcePaths(path) {
		if id, ok := s.nodesByPath[alt]; ok {
			return s.nodes[id]
		}
	}
	if ids := s.nodesByNormalizedPath[s.ext.NormalizePath(path)]; len(ids) > 0 {
		return s.nodes[ids.sorted()[0]]
	}
	return nil
}

func (s *GraphStore) putNode(n Node) {
	if _, exists := s.nodes[n.ID]; exists {
		s.dropNode(n.ID)
	}
	c := n
	s.nodes[n.ID] = &c
	addTo(s.nodesByKind, n.Kind, n.ID)
	if n.Path != "" {
		addTo(s.pathOwners, n.Path, n.ID)
		if n.Kind == KindFile {
			s.nodesByPath[n.Path] = n.ID
			addTo(s.nodesByNormalizedPath, s.ext.NormalizePath(n.Path), n.ID)
		}
	}
}

func (s *GraphStore) dropNode(id string) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	delete(s.nodes, id)
	removeFrom(s.nodesByKind, n.Kind, id)
	if n.Path != "" {
		removeFrom(s.pathOwners, n.Path, id)
		if n.Kind == KindFile {
			if s.nodesByPath[n.Path] == id {
				delete(s.nodesByPath, n.Path)
			}
			removeFrom(s.nodesByNormalizedPath, s.ext.NormalizePath(n.Path), id)
		}
	}
}

func (s *GraphStore) putEdge(e Edge) {
	if _, exists := s.edges[e.ID]; exists {
		s.dropEdge(e.ID)
	}
	c := e
	s.edges[e.ID] = &c
	addTo(s.edgesByFrom, e.From, e.ID)
	addTo(s.edgesByTo, e.To, e.ID)
}

func (s *GraphStore) dropEdge(id string) {
	e, ok := s.edges[id]
	if !ok {
		return
	}
	delete(s.edges, id)
	removeFrom(s.edgesByFrom, e.From, id)
	removeFrom(s.edgesByTo, e.To, id)
}

func (s *GraphStore) dropEdgesTouching(id string) {
	for _, eid := range s.edgesByFrom[id].sorted() {
		s.dropEdge(eid)
	}
	for _, eid := range s.edgesByTo[id].sorted() {
		s.dropEdge(eid)
	}
}

func (s *GraphStore) replaceFile(path string, nodes []Node, edges []Edge) {
	for _, id := range s.pathOwners[path].sorted() {
		s.dropNode(id)
		for _, eid := range s.edgesByFrom[id].sorted() {
			s.dropEdge(eid)
		}
	}
	for _, n := range nodes {
		if n.ID != "" {
			s.putNode(n)
		}
	}
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			continue
		}
		if e.ID == "" {
			e.ID = EdgeID(e.From, e.Kind, e.To)
		}
		s.putEdge(e)
	}
}

func (s *GraphStore) recomputeMeta() {
	s.meta.NodeCount = len(s.nodes)
	s.meta.EdgeCount = len(s.edges)
	s.meta.IssueCount = len(s.issues)
}

func (s *GraphStore) copyNodes(ids idSet) []*Node {
	out := make([]*Node, 0, len(ids))
	for _, id := range ids.sorted() {
		if n, ok := s.nodes[id]; ok {
			c := *n
			out = append(out, &c)
		}
	}
	return out
}

func (s *GraphStore) copyEdges(ids idSet) []*Edge {
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids.sorted() {
		if e, ok := s.edges[id]; ok {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

func addTo[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(idSet)
		m[key] = set
	}
	set.add(id)
}

func removeFrom[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	set.remove(id)
	if len(set) == 0 {
		delete(m, key)
	}
}
