package engine

import (
	"context"
	"fmt"

	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/snapshot"
)

// Import loads a Neo4j-shaped bulk export (the mirror of
// snapshot.Snapshot.Export, SPEC_FULL.md §12) into one write
// transaction, mapping each ExportNode's external ID through the
// engine's own IdMap exactly as CreateNode would for a live caller.
func Import(ctx context.Context, e *Engine, exp *snapshot.Export, durability config.Durability) error {
	tx, err := e.BeginWrite(ctx)
	if err != nil {
		return err
	}

	byExternal := make(map[uint64]ids.NodeID, len(exp.Nodes))
	for _, n := range exp.Nodes {
		id, err := tx.CreateNode(ids.ExternalID(n.ID), n.Labels, n.Properties)
		if err != nil {
			tx.Abort()
			return err
		}
		byExternal[n.ID] = id
	}

	keys := make([]exportEdgeKey, len(exp.Edges))
	for i, edge := range exp.Edges {
		keys[i] = exportEdgeKey{start: edge.StartID, end: edge.EndID, typ: edge.Type}
	}

	for _, ord := range ordinalsByPair(keys) {
		edge := exp.Edges[ord.index]
		src, ok := byExternal[edge.StartID]
		if !ok {
			tx.Abort()
			return errMissingEndpoint(edge.StartID)
		}
		dst, ok := byExternal[edge.EndID]
		if !ok {
			tx.Abort()
			return errMissingEndpoint(edge.EndID)
		}
		if _, err := tx.CreateEdge(src, dst, edge.Type, ord.ordinal, edge.Properties); err != nil {
			tx.Abort()
			return err
		}
	}

	return tx.Commit(durability)
}

type edgeOrdinal struct {
	index   int
	ordinal uint32
}

// ordinalsByPair assigns each edge a deterministic ordinal that
// disambiguates parallel edges sharing the same (start, end, type)
// triple, in the order they appear in the export.
func ordinalsByPair(edges []exportEdgeKey) []edgeOrdinal {
	seen := make(map[exportEdgeKey]uint32, len(edges))
	out := make([]edgeOrdinal, len(edges))
	for i, key := range edges {
		ord := seen[key]
		seen[key] = ord + 1
		out[i] = edgeOrdinal{index: i, ordinal: ord}
	}
	return out
}

type exportEdgeKey struct {
	start uint64
	end   uint64
	typ   string
}

func errMissingEndpoint(ext uint64) error {
	return nverr.New(nverr.Execution, "engine.import_missing_endpoint", fmt.Sprintf("edge references unknown node external id %d", ext))
}
