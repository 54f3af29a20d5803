package store

import "sync"

// Batch buffers per-file index results produced by concurrent workers so
// they can be committed to a GraphStore in one write-locked pass.
//
// Thread safety: the mutex protects the buffered map and order slice. A
// later Put for the same path replaces the earlier one.
type Batch struct {
	mu    sync.Mutex
	files map[string]*batchFile
	order []string
}

type batchFile struct {
	path  string
	nodes []Node
	edges []Edge
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{files: make(map[string]*batchFile)}
}

// Put buffers the node and edge set for path.
func (b *Batch) Put(path string, nodes []Node, edges []Edge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[path]; !ok {
		b.order = append(b.order, path)
	}
	b.files[path] = &batchFile{path: path, nodes: nodes, edges: edges}
}

// Len returns the number of buffered files.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// drain returns the buffered files in insertion order and empties the batch.
func (b *Batch) drain() []*batchFile {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*batchFile, 0, len(b.order))
	for _, p := range b.order {
		out = append(out, b.files[p])
	}
	b.files = make(map[string]*batchFile)
	b.order = nil
	return out
}
