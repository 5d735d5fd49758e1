package snapshot

import (
	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

// Export is NervusDB's Neo4j-shaped bulk export format, adapted from
// the teacher's ToNeo4jExport/Neo4jExport (pkg/storage/types.go) so
// the storage kernel is independently exercisable without a Cypher
// layer at all (SPEC_FULL.md §12). Unlike the teacher's caller-facing
// IDs, which are opaque strings throughout, Export resolves every
// node/edge back to the caller's own ExternalID via the snapshot's
// IdMap, and resolves interned label/rel-type IDs back to names, so
// the export is meaningful to a reader with no access to internal ids.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// ExportNode mirrors the teacher's Neo4jNode shape.
type ExportNode struct {
	ID         uint64                   `json:"id"`
	Labels     []string                 `json:"labels"`
	Properties map[string]value.Value   `json:"properties"`
}

// ExportEdge mirrors the teacher's Neo4jRelationship shape.
type ExportEdge struct {
	StartID    uint64                 `json:"start_id"`
	EndID      uint64                 `json:"end_id"`
	Type       string                 `json:"type"`
	Properties map[string]value.Value `json:"properties"`
}

// Export streams the snapshot's full live content into the Neo4j-
// shaped bulk format, resolving every interned id back to its
// caller-visible form.
func (s *Snapshot) Export() (*Export, error) {
	out := &Export{}
	err := s.StreamNodes(func(id ids.NodeID) error {
		ext, ok := s.ExternalID(id)
		if !ok {
			return nverr.New(nverr.Storage, "export.missing_external_id", "live node has no external id")
		}
		var labelNames []string
		for _, l := range s.NodeLabels(id) {
			if name, ok := s.LabelName(l); ok {
				labelNames = append(labelNames, name)
			}
		}
		props := s.NodeProperties(id)
		out.Nodes = append(out.Nodes, ExportNode{ID: uint64(ext), Labels: labelNames, Properties: props})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.StreamEdges(func(key ids.EdgeKey) error {
		startExt, ok := s.ExternalID(key.Src)
		if !ok {
			return nverr.New(nverr.Storage, "export.missing_external_id", "edge endpoint has no external id")
		}
		endExt, ok := s.ExternalID(key.Dst)
		if !ok {
			return nverr.New(nverr.Storage, "export.missing_external_id", "edge endpoint has no external id")
		}
		typeName, _ := s.RelTypeName(key.Rel)
		props := s.EdgeProperties(key)
		out.Edges = append(out.Edges, ExportEdge{StartID: uint64(startExt), EndID: uint64(endExt), Type: typeName, Properties: props})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NodeProperties merges every layer's recorded properties for id,
// respecting precedence (freshest value for a given key wins), for a
// caller that wants the whole property map rather than one key at a
// time (spec.md §4.8).
func (s *Snapshot) NodeProperties(id ids.NodeID) map[string]value.Value {
	merged := make(map[string]value.Value)
	for i := len(s.Segments) - 1; i >= 0; i-- {
		for k, v := range s.Segments[i].NodeProperties(id) {
			merged[k] = v
		}
	}
	for i := len(s.Runs) - 1; i >= 0; i-- {
		for k, v := range s.Runs[i].NodeProps[id] {
			merged[k] = v
		}
	}
	return merged
}

// EdgeProperties mirrors NodeProperties for an edge's full property map.
func (s *Snapshot) EdgeProperties(key ids.EdgeKey) map[string]value.Value {
	merged := make(map[string]value.Value)
	for i := len(s.Segments) - 1; i >= 0; i-- {
		for k, v := range s.Segments[i].EdgeProperties(key) {
			merged[k] = v
		}
	}
	for i := len(s.Runs) - 1; i >= 0; i-- {
		for k, v := range s.Runs[i].EdgeProps[key] {
			merged[k] = v
		}
	}
	return merged
}
