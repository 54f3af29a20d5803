package indexer

import (
	"context"
	"slices"
	"strings"

	"github.com/jward/codegraph/internal/store"
)

// importTarget is where one import points after resolution.
type importTarget struct {
	ID         string
	Confidence store.Confidence
	Reason     string
	External   bool
}

func fileTarget(p string, conf store.Confidence, reason string) importTarget {
	return importTarget{ID: store.FileID(p), Confidence: conf, Reason: reason}
}

func moduleTarget(spec, reason string, external bool) importTarget {
	return importTarget{ID: store.ModuleID(spec), Confidence: store.ConfidenceLow, Reason: reason, External: external}
}

// builder turns fileFacts into the nodes and edges of one file.
type builder struct {
	session  *Session
	path     string
	language string
	content  []byte
	facts    *fileFacts
	parser   string
	resolve  func(importFact) importTarget
	rules    []entrypointRule

	// ceiling bounds every confidence the file produces; empty means high.
	ceiling store.Confidence
}

func (b *builder) cap(c store.Confidence) store.Confidence {
	if b.ceiling != "" {
		return store.MinConfidence(c, b.ceiling)
	}
	return c
}

func (b *builder) build(ctx context.Context) *Result {
	fileID := store.FileID(b.path)
	nodeConf := b.cap(store.ConfidenceHigh)

	res := &Result{}
	file := fileNode(b.path, b.language, nodeConf, b.parser)

	var edges []*store.Edge
	byID := make(map[string]*store.Edge)
	add := func(e store.Edge) {
		e.ID = store.EdgeID(e.From, e.Kind, e.To)
		if prev, ok := byID[e.ID]; ok {
			mergeEdge(prev, e)
			return
		}
		byID[e.ID] = &e
		edges = append(edges, &e)
	}

	for _, imp := range b.facts.Imports {
		target := b.resolve(imp)
		if target.ID == "" {
			continue
		}
		// A self re-export is kept so cycle detection can report it.
		if target.ID == fileID && !imp.Reexport {
			continue
		}
		kind := store.EdgeImports
		if imp.Reexport {
			kind = store.EdgeReexports
			visible := imp.Visible
			if visible == nil {
				visible = imp.Symbols
			}
			for _, sym := range visible {
				if sym != "*" {
					b.facts.addExport(sym)
				}
			}
		}
		conf := b.cap(target.Confidence)
		if strings.HasPrefix(target.ID, store.ModulePrefix) {
			conf = store.MinConfidence(conf, store.ConfidenceLow)
		}
		add(store.Edge{
			From:       fileID,
			To:         target.ID,
			Kind:       kind,
			Confidence: conf,
			Reason:     target.Reason,
			Meta: store.EdgeMeta{
				ImportPath: imp.Spec,
				Symbols:    slices.Clone(imp.Symbols),
				IsDynamic:  imp.Dynamic,
				IsTypeOnly: imp.TypeOnly,
				IsExternal: target.External,
				Line:       imp.Line,
			},
		})
	}

	for _, sym := range b.facts.Symbols {
		id := store.SymbolID(b.path, sym.Name)
		res.Nodes = append(res.Nodes, store.Node{
			ID:   id,
			Kind: store.KindSymbol,
			Name: sym.Name,
			Path: b.path,
			Meta: store.NodeMeta{
				Language:   b.language,
				Confidence: nodeConf,
				Line:       sym.Line,
				SymbolMeta: &store.SymbolMeta{SymbolKind: sym.Kind, Exported: sym.Exported},
			},
		})
		if sym.Exported {
			add(store.Edge{
				From:       fileID,
				To:         id,
				Kind:       store.EdgeExports,
				Confidence: nodeConf,
				Reason:     "exported declaration",
				Meta:       store.EdgeMeta{Symbols: []string{sym.Name}, Line: sym.Line},
			})
		}
	}

	if ep := b.detectEntrypoint(ctx); ep != nil {
		id := store.EntrypointID(b.path, ep.Type)
		conf := b.cap(ep.Confidence)
		res.Nodes = append(res.Nodes, store.Node{
			ID:   id,
			Kind: store.KindEntrypoint,
			Name: ep.Type,
			Path: b.path,
			Meta: store.NodeMeta{
				Language:   b.language,
				Confidence: conf,
				EntrypointMeta: &store.EntrypointMeta{
					EntrypointType: ep.Type,
					Framework:      ep.Framework,
					Rule:           ep.Rule,
				},
			},
		})
		add(store.Edge{
			From:       fileID,
			To:         id,
			Kind:       store.EdgeRegisters,
			Confidence: conf,
			Reason:     "entrypoint rule " + ep.Rule,
		})
	}

	file.Meta.FileMeta.Exports = slices.Clone(b.facts.Exports)
	res.Nodes = append([]store.Node{file}, res.Nodes...)
	res.Edges = make([]store.Edge, len(edges))
	for i, e := range edges {
		res.Edges[i] = *e
	}
	return res
}

// mergeEdge folds a duplicate import of the same target into dst.
func mergeEdge(dst *store.Edge, src store.Edge) {
	dst.Confidence = store.MaxConfidence(dst.Confidence, src.Confidence)
	for _, s := range src.Meta.Symbols {
		if !slices.Contains(dst.Meta.Symbols, s) {
			dst.Meta.Symbols = append(dst.Meta.Symbols, s)
		}
	}
	dst.Meta.IsDynamic = dst.Meta.IsDynamic && src.Meta.IsDynamic
	dst.Meta.IsTypeOnly = dst.Meta.IsTypeOnly && src.Meta.IsTypeOnly
	if src.Meta.Line > 0 && (dst.Meta.Line == 0 || src.Meta.Line < dst.Meta.Line) {
		dst.Meta.Line = src.Meta.Line
	}
}
