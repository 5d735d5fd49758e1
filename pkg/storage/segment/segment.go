// Package segment implements NervusDB's immutable, CSR-encoded
// compaction target (spec.md §4.4).
//
// A Segment holds the portion of the graph that has been compacted out
// of MemTable Runs: forward adjacency as parallel row_ptr/col_idx/
// rel_type/ordinal arrays (a compressed sparse row, the same layout
// relational and graph engines use for read-heavy adjacency), a mirror
// reverse CSR block for incoming-neighbor lookups, and two Bloom
// filters, one over node IDs and one over edge keys. HasNode consults
// the node filter before its live-set lookup; the edge filter is built
// and serialized but no lookup reads it.
package segment

import (
	"encoding/binary"
	"sort"

	"github.com/klauspost/compress/s2"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/bloom"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

// Segment is one immutable, page-aligned compacted block.
type Segment struct {
	Version ids.LSN

	MinNode ids.NodeID
	MaxNode ids.NodeID

	// Forward CSR: edges leaving a node, addressed by node - MinNode.
	RowPtr   []uint32
	ColIdx   []ids.NodeID
	RelType  []ids.RelTypeID
	Ordinal  []uint32

	// Reverse CSR: edges arriving at a node, same indexing scheme,
	// supplementing spec.md §4.4's forward-only description so
	// incoming-neighbor queries never need a full segment scan.
	InRowPtr  []uint32
	InColIdx  []ids.NodeID
	InRelType []ids.RelTypeID
	InOrdinal []uint32

	NodeLabels map[ids.NodeID][]ids.LabelID

	// nodeProps and edgeProps hold the decoded property maps, one entry
	// per live node or edge that has at least one property; WriteTo
	// encodes them with value.Codec inside the s2-compressed body.
	nodeProps map[ids.NodeID]map[string]value.Value
	edgeProps map[ids.EdgeKey]map[string]value.Value

	LiveNodes map[ids.NodeID]struct{}

	TombstoneNodes map[ids.NodeID]struct{}
	TombstoneEdges map[ids.EdgeKey]struct{}

	BloomNodes *bloom.Filter
	BloomEdges *bloom.Filter
}

// HasNode reports whether id is live in this segment, consulting the
// Bloom filter first to short-circuit nodes this segment cannot hold.
func (s *Segment) HasNode(id ids.NodeID) bool {
	if id < s.MinNode || id > s.MaxNode {
		return false
	}
	key := nodeBloomKey(id)
	if s.BloomNodes != nil && !s.BloomNodes.MayContain(key) {
		return false
	}
	_, ok := s.LiveNodes[id]
	return ok
}

// IsNodeTombstoned reports whether this segment records id as deleted,
// shadowing any older copy (spec.md §4.5's precedence rule).
func (s *Segment) IsNodeTombstoned(id ids.NodeID) bool {
	_, ok := s.TombstoneNodes[id]
	return ok
}

// IsEdgeTombstoned reports whether this segment records key as deleted.
func (s *Segment) IsEdgeTombstoned(key ids.EdgeKey) bool {
	_, ok := s.TombstoneEdges[key]
	return ok
}

// NodeProperty returns a node's property value if this segment has a
// recorded value for it (not necessarily the most recent across all
// layers — callers resolve precedence themselves).
func (s *Segment) NodeProperty(id ids.NodeID, key string) (value.Value, bool) {
	props, ok := s.nodeProps[id]
	if !ok {
		return value.Value{}, false
	}
	v, ok := props[key]
	return v, ok
}

// NodeProperties returns the full property map recorded for id in this
// segment, or nil if none.
func (s *Segment) NodeProperties(id ids.NodeID) map[string]value.Value {
	return s.nodeProps[id]
}

// EdgeProperty returns an edge's property value if recorded here.
func (s *Segment) EdgeProperty(key ids.EdgeKey, propKey string) (value.Value, bool) {
	props, ok := s.edgeProps[key]
	if !ok {
		return value.Value{}, false
	}
	v, ok := props[propKey]
	return v, ok
}

// EdgeProperties returns the full property map recorded for key in
// this segment, or nil if none.
func (s *Segment) EdgeProperties(key ids.EdgeKey) map[string]value.Value {
	return s.edgeProps[key]
}

// Labels returns the labels recorded for id in this segment.
func (s *Segment) Labels(id ids.NodeID) []ids.LabelID {
	return s.NodeLabels[id]
}

// Neighbors returns the out-edges of id matching filter, in sorted
// (Dst,Rel,Src,Ord) order.
func (s *Segment) Neighbors(id ids.NodeID, filter ids.RelFilter) []ids.EdgeKey {
	if id < s.MinNode || id > s.MaxNode || s.RowPtr == nil {
		return nil
	}
	idx := int(id - s.MinNode)
	start, end := s.RowPtr[idx], s.RowPtr[idx+1]
	var out []ids.EdgeKey
	for i := start; i < end; i++ {
		rel := s.RelType[i]
		if !filter.Matches(rel) {
			continue
		}
		out = append(out, ids.EdgeKey{Src: id, Dst: s.ColIdx[i], Rel: rel, Ord: s.Ordinal[i]})
	}
	return out
}

// IncomingNeighbors returns the in-edges of id matching filter.
func (s *Segment) IncomingNeighbors(id ids.NodeID, filter ids.RelFilter) []ids.EdgeKey {
	if id < s.MinNode || id > s.MaxNode || s.InRowPtr == nil {
		return nil
	}
	idx := int(id - s.MinNode)
	start, end := s.InRowPtr[idx], s.InRowPtr[idx+1]
	var out []ids.EdgeKey
	for i := start; i < end; i++ {
		rel := s.InRelType[i]
		if !filter.Matches(rel) {
			continue
		}
		out = append(out, ids.EdgeKey{Src: s.InColIdx[i], Dst: id, Rel: rel, Ord: s.InOrdinal[i]})
	}
	return out
}

func nodeBloomKey(id ids.NodeID) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

func edgeBloomKey(key ids.EdgeKey) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], uint32(key.Src))
	binary.LittleEndian.PutUint32(b[4:], uint32(key.Dst))
	binary.LittleEndian.PutUint32(b[8:], uint32(key.Rel))
	binary.LittleEndian.PutUint32(b[12:], uint32(key.Ord))
	return b
}

// liveEdge tracks one surviving edge plus its most-recent property map
// while Build folds layers together.
type liveEdge struct {
	key   ids.EdgeKey
	props map[string]value.Value
}

// Build compacts a set of Runs (newest first) and previously compacted
// Segments (newest first, all strictly older than every Run per
// spec.md §4.5's precedence rule) into one new Segment. Build performs
// a full merge: every layer passed in is fully represented in the
// output, so the result carries no tombstones of its own — there is
// nothing older left for a tombstone to shadow (spec.md §8 scenario 6:
// compaction must preserve semantic equality with the uncompacted
// layers it replaces).
func Build(runs []*memtable.Run, segments []*Segment, version ids.LSN) *Segment {
	liveNodes := make(map[ids.NodeID]struct{})
	deadNodes := make(map[ids.NodeID]struct{})
	nodeProps := make(map[ids.NodeID]map[string]value.Value)
	nodeLabels := make(map[ids.NodeID]map[ids.LabelID]struct{})

	liveEdges := make(map[ids.EdgeKey]*liveEdge)
	deadEdges := make(map[ids.EdgeKey]struct{})

	// Runs are already newest-first; segments are already newest-first
	// and strictly older than every run, so iterating runs then
	// segments visits layers in descending precedence.
	for _, run := range runs {
		foldRun(run, liveNodes, deadNodes, nodeProps, nodeLabels, liveEdges, deadEdges)
	}
	for _, seg := range segments {
		foldSegment(seg, liveNodes, deadNodes, nodeProps, nodeLabels, liveEdges, deadEdges)
	}

	var minNode, maxNode ids.NodeID
	first := true
	for id := range liveNodes {
		if first || id < minNode {
			minNode = id
		}
		if first || id > maxNode {
			maxNode = id
		}
		first = false
	}
	if first {
		return &Segment{Version: version, LiveNodes: liveNodes, NodeLabels: toLabelSlices(nodeLabels),
			nodeProps: nodeProps, edgeProps: make(map[ids.EdgeKey]map[string]value.Value),
			BloomNodes: bloom.New(1, 0.01), BloomEdges: bloom.New(1, 0.01)}
	}

	span := int(maxNode-minNode) + 1
	outBuckets := make([][]ids.EdgeKey, span)
	inBuckets := make([][]ids.EdgeKey, span)
	edgeProps := make(map[ids.EdgeKey]map[string]value.Value, len(liveEdges))
	for key, le := range liveEdges {
		outBuckets[key.Src-minNode] = append(outBuckets[key.Src-minNode], key)
		inBuckets[key.Dst-minNode] = append(inBuckets[key.Dst-minNode], key)
		if le.props != nil {
			edgeProps[key] = le.props
		}
	}
	for i := range outBuckets {
		sort.Slice(outBuckets[i], func(a, b int) bool { return outBuckets[i][a].Less(outBuckets[i][b]) })
		sort.Slice(inBuckets[i], func(a, b int) bool {
			x, y := inBuckets[i][a], inBuckets[i][b]
			if x.Src != y.Src {
				return x.Src < y.Src
			}
			if x.Rel != y.Rel {
				return x.Rel < y.Rel
			}
			return x.Ord < y.Ord
		})
	}

	seg := &Segment{
		Version:    version,
		MinNode:    minNode,
		MaxNode:    maxNode,
		RowPtr:     make([]uint32, span+1),
		InRowPtr:   make([]uint32, span+1),
		LiveNodes:  liveNodes,
		NodeLabels: toLabelSlices(nodeLabels),
		nodeProps:  nodeProps,
		edgeProps:  edgeProps,
	}
	for i := 0; i < span; i++ {
		seg.RowPtr[i+1] = seg.RowPtr[i] + uint32(len(outBuckets[i]))
		seg.InRowPtr[i+1] = seg.InRowPtr[i] + uint32(len(inBuckets[i]))
		for _, k := range outBuckets[i] {
			seg.ColIdx = append(seg.ColIdx, k.Dst)
			seg.RelType = append(seg.RelType, k.Rel)
			seg.Ordinal = append(seg.Ordinal, k.Ord)
		}
		for _, k := range inBuckets[i] {
			seg.InColIdx = append(seg.InColIdx, k.Src)
			seg.InRelType = append(seg.InRelType, k.Rel)
			seg.InOrdinal = append(seg.InOrdinal, k.Ord)
		}
	}

	seg.BloomNodes = bloom.New(max(1, len(liveNodes)), 0.01)
	for id := range liveNodes {
		seg.BloomNodes.Add(nodeBloomKey(id))
	}
	seg.BloomEdges = bloom.New(max(1, len(liveEdges)), 0.01)
	for key := range liveEdges {
		seg.BloomEdges.Add(edgeBloomKey(key))
	}

	return seg
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func toLabelSlices(m map[ids.NodeID]map[ids.LabelID]struct{}) map[ids.NodeID][]ids.LabelID {
	out := make(map[ids.NodeID][]ids.LabelID, len(m))
	for id, set := range m {
		labels := make([]ids.LabelID, 0, len(set))
		for l := range set {
			labels = append(labels, l)
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
		out[id] = labels
	}
	return out
}

func foldRun(run *memtable.Run, liveNodes, deadNodes map[ids.NodeID]struct{},
	nodeProps map[ids.NodeID]map[string]value.Value, nodeLabels map[ids.NodeID]map[ids.LabelID]struct{},
	liveEdges map[ids.EdgeKey]*liveEdge, deadEdges map[ids.EdgeKey]struct{}) {

	for id := range run.TombstoneNodes {
		if _, seen := liveNodes[id]; !seen {
			deadNodes[id] = struct{}{}
		}
	}
	for id := range run.LiveNodes {
		if _, dead := deadNodes[id]; dead {
			continue
		}
		liveNodes[id] = struct{}{}
		if props, ok := run.NodeProps[id]; ok {
			mergeProps(nodeProps, id, props)
		}
		if ops, ok := run.NodeLabels[id]; ok {
			applyLabelOps(nodeLabels, id, ops)
		}
	}
	for id, props := range run.NodeProps {
		if _, live := liveNodes[id]; live {
			mergeProps(nodeProps, id, props)
		}
	}
	for id, ops := range run.NodeLabels {
		if _, live := liveNodes[id]; live {
			applyLabelOps(nodeLabels, id, ops)
		}
	}

	for key := range run.TombstoneEdges {
		if _, seen := liveEdges[key]; !seen {
			deadEdges[key] = struct{}{}
		}
	}
	for _, bucket := range run.OutAdj {
		for _, key := range bucket {
			if _, dead := deadEdges[key]; dead {
				continue
			}
			le, ok := liveEdges[key]
			if !ok {
				le = &liveEdge{key: key}
				liveEdges[key] = le
			}
			if props, ok := run.EdgeProps[key]; ok {
				if le.props == nil {
					le.props = make(map[string]value.Value, len(props))
				}
				for k, v := range props {
					if _, set := le.props[k]; !set {
						le.props[k] = v
					}
				}
			}
		}
	}
}

func foldSegment(seg *Segment, liveNodes, deadNodes map[ids.NodeID]struct{},
	nodeProps map[ids.NodeID]map[string]value.Value, nodeLabels map[ids.NodeID]map[ids.LabelID]struct{},
	liveEdges map[ids.EdgeKey]*liveEdge, deadEdges map[ids.EdgeKey]struct{}) {

	for id := range seg.TombstoneNodes {
		if _, seen := liveNodes[id]; !seen {
			deadNodes[id] = struct{}{}
		}
	}
	for id := range seg.LiveNodes {
		if _, dead := deadNodes[id]; dead {
			continue
		}
		if _, seen := liveNodes[id]; seen {
			continue
		}
		liveNodes[id] = struct{}{}
		if props := seg.NodeProperties(id); props != nil {
			mergeProps(nodeProps, id, props)
		}
		if labels, ok := seg.NodeLabels[id]; ok {
			applyLabelSet(nodeLabels, id, labels)
		}
	}

	for key := range seg.TombstoneEdges {
		if _, seen := liveEdges[key]; !seen {
			deadEdges[key] = struct{}{}
		}
	}
	for _, key := range allSegmentEdgeKeys(seg) {
		if _, dead := deadEdges[key]; dead {
			continue
		}
		if _, seen := liveEdges[key]; seen {
			continue
		}
		le := &liveEdge{key: key}
		if props, ok := seg.edgeProps[key]; ok {
			le.props = props
		}
		liveEdges[key] = le
	}
}

func allSegmentEdgeKeys(seg *Segment) []ids.EdgeKey {
	var out []ids.EdgeKey
	for i := range seg.ColIdx {
		src := seg.MinNode + ids.NodeID(rowOf(seg.RowPtr, i))
		out = append(out, ids.EdgeKey{Src: src, Dst: seg.ColIdx[i], Rel: seg.RelType[i], Ord: seg.Ordinal[i]})
	}
	return out
}

func rowOf(rowPtr []uint32, flatIndex int) int {
	lo, hi := 0, len(rowPtr)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if rowPtr[mid] <= uint32(flatIndex) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func mergeProps(dst map[ids.NodeID]map[string]value.Value, id ids.NodeID, src map[string]value.Value) {
	props, ok := dst[id]
	if !ok {
		props = make(map[string]value.Value, len(src))
		dst[id] = props
	}
	for k, v := range src {
		if _, set := props[k]; !set {
			props[k] = v
		}
	}
}

func applyLabelOps(dst map[ids.NodeID]map[ids.LabelID]struct{}, id ids.NodeID, ops map[ids.LabelID]ids.LabelOp) {
	labels, ok := dst[id]
	if !ok {
		labels = make(map[ids.LabelID]struct{})
		dst[id] = labels
	}
	for label, op := range ops {
		switch op {
		case ids.LabelAdd:
			labels[label] = struct{}{}
		case ids.LabelRemove:
			delete(labels, label)
		}
	}
}

func applyLabelSet(dst map[ids.NodeID]map[ids.LabelID]struct{}, id ids.NodeID, labelList []ids.LabelID) {
	labels, ok := dst[id]
	if !ok {
		labels = make(map[ids.LabelID]struct{}, len(labelList))
		dst[id] = labels
	}
	for _, l := range labelList {
		if _, already := labels[l]; !already {
			labels[l] = struct{}{}
		}
	}
}

// compressBlock s2-compresses a block before it is written to
// page-aligned storage (SPEC_FULL.md §11's col_idx/property-blob
// compression); decompressBlock reverses it, rejecting a declared
// length that does not match the decompressed output, which guards
// against a corrupted length being mistaken for valid input before
// decompression is even attempted.
func compressBlock(data []byte) []byte {
	return s2.Encode(nil, data)
}

func decompressBlock(data []byte, wantLen int) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, nverr.Wrap(nverr.Storage, "segment.decompress", "decompress segment block", err)
	}
	if len(out) != wantLen {
		return nil, nverr.New(nverr.Storage, "segment.decompress_length", "decompressed length does not match footer")
	}
	return out, nil
}
