// Package memtable implements the write-transaction workspace and the
// immutable Run it freezes into on commit (spec.md §4.3).
//
// The teacher's Transaction (pkg/storage/transaction.go) buffers
// pendingNodes/pendingEdges/deletedNodes/deletedEdges maps so readers
// within the same transaction see their own uncommitted writes before
// Commit applies them to the shared engine. MemTable keeps that same
// buffered-workspace shape, but Commit here does not mutate shared
// state in place — it freezes the buffered operations into a brand
// new immutable Run, which Snapshot then prepends to its run list
// (spec.md §4.3's single-writer, copy-on-write discipline).
package memtable

import (
	"sort"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

// MemTable is the mutable workspace for one open write transaction.
// Not safe for concurrent use; spec.md's single-writer model means
// there is at most one MemTable open at a time per Engine.
type MemTable struct {
	createdNodes map[ids.NodeID]struct{}
	deletedNodes map[ids.NodeID]struct{}

	createdEdges map[ids.EdgeKey]struct{}
	deletedEdges map[ids.EdgeKey]struct{}

	labelOps map[ids.NodeID][]labelOp

	nodeProps map[ids.NodeID]map[string]value.Value
	edgeProps map[ids.EdgeKey]map[string]value.Value
}

type labelOp struct {
	label ids.LabelID
	op    ids.LabelOp
}

// New returns an empty write-transaction workspace.
func New() *MemTable {
	return &MemTable{
		createdNodes: make(map[ids.NodeID]struct{}),
		deletedNodes: make(map[ids.NodeID]struct{}),
		createdEdges: make(map[ids.EdgeKey]struct{}),
		deletedEdges: make(map[ids.EdgeKey]struct{}),
		labelOps:     make(map[ids.NodeID][]labelOp),
		nodeProps:    make(map[ids.NodeID]map[string]value.Value),
		edgeProps:    make(map[ids.EdgeKey]map[string]value.Value),
	}
}

func (mt *MemTable) CreateNode(id ids.NodeID) {
	delete(mt.deletedNodes, id)
	mt.createdNodes[id] = struct{}{}
}

func (mt *MemTable) DeleteNode(id ids.NodeID) {
	delete(mt.createdNodes, id)
	mt.deletedNodes[id] = struct{}{}
	delete(mt.nodeProps, id)
	delete(mt.labelOps, id)
}

func (mt *MemTable) CreateEdge(key ids.EdgeKey) {
	delete(mt.deletedEdges, key)
	mt.createdEdges[key] = struct{}{}
}

func (mt *MemTable) DeleteEdge(key ids.EdgeKey) {
	delete(mt.createdEdges, key)
	mt.deletedEdges[key] = struct{}{}
	delete(mt.edgeProps, key)
}

func (mt *MemTable) SetNodeLabel(id ids.NodeID, label ids.LabelID, op ids.LabelOp) {
	mt.labelOps[id] = append(mt.labelOps[id], labelOp{label: label, op: op})
}

func (mt *MemTable) SetNodeProperty(id ids.NodeID, key string, v value.Value) {
	props, ok := mt.nodeProps[id]
	if !ok {
		props = make(map[string]value.Value)
		mt.nodeProps[id] = props
	}
	props[key] = v
}

func (mt *MemTable) SetEdgeProperty(key ids.EdgeKey, propKey string, v value.Value) {
	props, ok := mt.edgeProps[key]
	if !ok {
		props = make(map[string]value.Value)
		mt.edgeProps[key] = props
	}
	props[propKey] = v
}

// NodeExists reports the transaction-local view of id: created and not
// since deleted within this same transaction. It does not consult any
// underlying snapshot; callers combine this with Snapshot lookups for
// full read-your-writes semantics.
func (mt *MemTable) NodeExists(id ids.NodeID) (exists bool, touched bool) {
	if _, del := mt.deletedNodes[id]; del {
		return false, true
	}
	if _, created := mt.createdNodes[id]; created {
		return true, true
	}
	return false, false
}

// IncidentEdges returns every edge this transaction has itself
// created or deleted whose src or dst is id, so Engine's DeleteNode
// can enforce DETACH semantics (spec.md §4.8) without reaching into
// MemTable's private maps.
func (mt *MemTable) IncidentEdges(id ids.NodeID) (created, deleted []ids.EdgeKey) {
	for k := range mt.createdEdges {
		if k.Src == id || k.Dst == id {
			created = append(created, k)
		}
	}
	for k := range mt.deletedEdges {
		if k.Src == id || k.Dst == id {
			deleted = append(deleted, k)
		}
	}
	return created, deleted
}

// IsEdgeDeleted reports whether this transaction has already recorded
// a tombstone for key.
func (mt *MemTable) IsEdgeDeleted(key ids.EdgeKey) bool {
	_, gone := mt.deletedEdges[key]
	return gone
}

// IsEmpty reports whether the transaction recorded no operations at
// all, letting Engine skip freezing a Run for a no-op write.
func (mt *MemTable) IsEmpty() bool {
	return len(mt.createdNodes) == 0 && len(mt.deletedNodes) == 0 &&
		len(mt.createdEdges) == 0 && len(mt.deletedEdges) == 0 &&
		len(mt.labelOps) == 0 && len(mt.nodeProps) == 0 && len(mt.edgeProps) == 0
}

// Run is the immutable, frozen delta produced by committing a
// MemTable. Runs are chained newest-first inside a Snapshot
// (spec.md §4.5's precedence rule).
type Run struct {
	Version ids.LSN

	LiveNodes      map[ids.NodeID]struct{}
	TombstoneNodes map[ids.NodeID]struct{}

	// OutAdj/InAdj are sorted adjacency buckets keyed by the edge's
	// source (OutAdj) or destination (InAdj) node, each a slice of
	// EdgeKey sorted by (Dst,Rel,Src,Ord) per ids.EdgeKey.Less — or the
	// symmetric ordering for InAdj, keyed by Src instead.
	OutAdj map[ids.NodeID][]ids.EdgeKey
	InAdj  map[ids.NodeID][]ids.EdgeKey

	TombstoneEdges map[ids.EdgeKey]struct{}

	NodeLabels map[ids.NodeID]map[ids.LabelID]ids.LabelOp

	NodeProps map[ids.NodeID]map[string]value.Value
	EdgeProps map[ids.EdgeKey]map[string]value.Value
}

// Freeze converts a MemTable's buffered operations into an immutable
// Run tagged with the commit LSN that produced it.
func Freeze(mt *MemTable, version ids.LSN) *Run {
	run := &Run{
		Version:        version,
		LiveNodes:      make(map[ids.NodeID]struct{}, len(mt.createdNodes)),
		TombstoneNodes: make(map[ids.NodeID]struct{}, len(mt.deletedNodes)),
		OutAdj:         make(map[ids.NodeID][]ids.EdgeKey),
		InAdj:          make(map[ids.NodeID][]ids.EdgeKey),
		TombstoneEdges: make(map[ids.EdgeKey]struct{}, len(mt.deletedEdges)),
		NodeLabels:     make(map[ids.NodeID]map[ids.LabelID]ids.LabelOp),
		NodeProps:      mt.nodeProps,
		EdgeProps:      mt.edgeProps,
	}

	for id := range mt.createdNodes {
		run.LiveNodes[id] = struct{}{}
	}
	for id := range mt.deletedNodes {
		run.TombstoneNodes[id] = struct{}{}
	}
	for key := range mt.createdEdges {
		run.OutAdj[key.Src] = append(run.OutAdj[key.Src], key)
		run.InAdj[key.Dst] = append(run.InAdj[key.Dst], key)
	}
	for key := range mt.deletedEdges {
		run.TombstoneEdges[key] = struct{}{}
	}
	for id, ops := range mt.labelOps {
		m := make(map[ids.LabelID]ids.LabelOp, len(ops))
		for _, op := range ops {
			m[op.label] = op.op
		}
		run.NodeLabels[id] = m
	}

	for _, bucket := range run.OutAdj {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Less(bucket[j]) })
	}
	for _, bucket := range run.InAdj {
		sort.Slice(bucket, func(i, j int) bool {
			a, b := bucket[i], bucket[j]
			if a.Src != b.Src {
				return a.Src < b.Src
			}
			if a.Rel != b.Rel {
				return a.Rel < b.Rel
			}
			return a.Ord < b.Ord
		})
	}

	return run
}
