package codegraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/codegraph/internal/indexer"
	"github.com/jward/codegraph/internal/store"
)

// Defaults for ParallelIndexer.
const (
	DefaultBatchSize      = 50
	DefaultMaxConcurrency = 4
)

// SourceFile is one workspace-relative file handed to the indexer.
type SourceFile struct {
	Path    string
	Content []byte
}

// FileResult is the indexing outcome of one input file. Indexer is empty
// when no indexer supports the path.
type FileResult struct {
	Path    string               `json:"path"`
	Indexer string               `json:"indexer,omitempty"`
	Nodes   []store.Node         `json:"nodes"`
	Edges   []store.Edge         `json:"edges"`
	Errors  []indexer.IndexError `json:"errors,omitempty"`
}

// Failed reports whether the file counts toward BatchStats.ErrorCount.
func (r *FileResult) Failed() bool { return len(r.Errors) > 0 }

// BatchStats summarizes an IndexAll run. SuccessCount + ErrorCount always
// equals TotalFiles.
type BatchStats struct {
	TotalFiles   int           `json:"totalFiles"`
	SuccessCount int           `json:"successCount"`
	ErrorCount   int           `json:"errorCount"`
	Duration     time.Duration `json:"duration"`
}

// BatchResult aggregates the output of IndexAll. Files follows input order;
// Nodes, Edges and Errors are the concatenation of Files in that order.
type BatchResult struct {
	Nodes  []store.Node         `json:"nodes"`
	Edges  []store.Edge         `json:"edges"`
	Errors []indexer.IndexError `json:"errors"`
	Files  []FileResult         `json:"files"`
	Stats  BatchStats           `json:"stats"`
}

// ParallelIndexer indexes many files concurrently. Files are split into
// batches of BatchSize; up to MaxConcurrency batches form a wave and every
// file of a wave runs on its own goroutine. The next wave starts when the
// previous one has finished.
type ParallelIndexer struct {
	batchSize      int
	maxConcurrency int
	onProgress     func(processed, total int)
	logger         *slog.Logger
}

// ParallelOption configures a ParallelIndexer.
type ParallelOption func(*ParallelIndexer)

// WithBatchSize sets the number of files per batch.
func WithBatchSize(n int) ParallelOption {
	return func(p *ParallelIndexer) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxConcurrency sets the number of batches per wave.
func WithMaxConcurrency(n int) ParallelOption {
	return func(p *ParallelIndexer) {
		if n > 0 {
			p.maxConcurrency = n
		}
	}
}

// WithProgress registers a callback invoked once per completed wave.
func WithProgress(fn func(processed, total int)) ParallelOption {
	return func(p *ParallelIndexer) { p.onProgress = fn }
}

// WithIndexLogger sets the logger used for per-file failures.
func WithIndexLogger(l *slog.Logger) ParallelOption {
	return func(p *ParallelIndexer) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewParallelIndexer returns a ParallelIndexer with the given options.
func NewParallelIndexer(opts ...ParallelOption) *ParallelIndexer {
	p := &ParallelIndexer{
		batchSize:      DefaultBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexAll indexes files against indexers; the first indexer whose Supports
// returns true wins. A failing file never aborts the run. When ctx is
// cancelled no further waves are scheduled and the files that were not
// reached are reported as non-recoverable errors.
func (p *ParallelIndexer) IndexAll(ctx context.Context, files []SourceFile, indexers []indexer.Indexer) *BatchResult {
	start := time.Now()
	results := make([]FileResult, len(files))
	done := make([]bool, len(files))

	waveSize := p.batchSize * p.maxConcurrency
	processed := 0
	for lo := 0; lo < len(files); lo += waveSize {
		if ctx.Err() != nil {
			break
		}
		hi := min(lo+waveSize, len(files))

		var g errgroup.Group
		g.SetLimit(waveSize)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				results[i] = indexOne(ctx, files[i], indexers)
				return nil
			})
		}
		_ = g.Wait()

		for i := lo; i < hi; i++ {
			done[i] = true
		}
		processed = hi
		if p.onProgress != nil {
			p.onProgress(processed, len(files))
		}
	}

	if processed < len(files) {
		reason := "indexing cancelled"
		if err := ctx.Err(); err != nil {
			reason = fmt.Sprintf("indexing cancelled: %v", err)
		}
		for i := range files {
			if !done[i] {
				results[i] = FileResult{
					Path:   files[i].Path,
					Errors: []indexer.IndexError{{File: files[i].Path, Message: reason}},
				}
			}
		}
	}

	out := aggregate(results)
	out.Stats.Duration = time.Since(start)
	for _, r := range results {
		for _, e := range r.Errors {
			p.logger.Debug("indexer.file.error", "file", e.File, "err", e.Message, "recoverable", e.Recoverable)
		}
	}
	return out
}

// indexOne runs the first supporting indexer on f. Indexers are expected
// not to panic; one that does is contained here.
func indexOne(ctx context.Context, f SourceFile, indexers []indexer.Indexer) (out FileResult) {
	out.Path = f.Path
	ix := indexer.Select(indexers, f.Path)
	if ix == nil {
		return out
	}
	out.Indexer = ix.Name()
	defer func() {
		if r := recover(); r != nil {
			out.Nodes, out.Edges = nil, nil
			out.Errors = []indexer.IndexError{{
				File:        f.Path,
				Message:     fmt.Sprintf("indexer %s panic: %v", ix.Name(), r),
				Recoverable: true,
			}}
		}
	}()
	res := ix.IndexFile(ctx, f.Path, f.Content)
	if res == nil {
		out.Errors = []indexer.IndexError{{File: f.Path, Message: "indexer " + ix.Name() + " returned no result", Recoverable: true}}
		return out
	}
	out.Nodes, out.Edges, out.Errors = res.Nodes, res.Edges, res.Errors
	return out
}

func aggregate(results []FileResult) *BatchResult {
	out := &BatchResult{
		Nodes:  []store.Node{},
		Edges:  []store.Edge{},
		Errors: []indexer.IndexError{},
		Files:  results,
	}
	for i := range results {
		r := &results[i]
		out.Nodes = append(out.Nodes, r.Nodes...)
		out.Edges = append(out.Edges, r.Edges...)
		out.Errors = append(out.Errors, r.Errors...)
		if r.Failed() {
			out.Stats.ErrorCount++
		}
	}
	out.Stats.TotalFiles = len(results)
	out.Stats.SuccessCount = out.Stats.TotalFiles - out.Stats.ErrorCount
	return out
}
