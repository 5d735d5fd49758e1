// Package snapshot implements the point-in-time, Arc-like cheap-clone
// view over a database's Runs and Segments (spec.md §4.5), and the
// GraphSnapshot contract an external Cypher executor consumes.
//
// A Snapshot never mutates once constructed: Engine.BeginRead hands out
// a Snapshot that is safe to read from any goroutine for as long as the
// caller holds it, while writers keep producing new Runs underneath
// without disturbing already-issued snapshots — the same "readers see
// a stable view, writer proceeds independently" model the teacher's
// transaction.go gives a single in-flight Transaction, generalized
// here to any number of concurrent long-lived readers.
package snapshot

import (
	"iter"
	"sort"

	"github.com/ysankpia/nervusdb/pkg/storage/idmap"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/interner"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/segment"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

// Statistics holds cardinality hints for an external query planner
// (spec.md §4.8), maintained incrementally by Engine on commit and
// recomputed wholesale here during initial load and recovery
// (SPEC_FULL.md §12).
type Statistics struct {
	NodeCount     int
	EdgeCount     int
	LabelCounts   map[ids.LabelID]int
	RelTypeCounts map[ids.RelTypeID]int
}

// GraphSnapshot is the read-only contract an external query executor
// consumes (spec.md §4.8). Nodes/Neighbors/IncomingNeighbors return
// lazy, non-restartable iter.Seq sequences so a planner streaming a
// large traversal never needs to materialize the full result set.
type GraphSnapshot interface {
	NodeExists(ids.NodeID) bool
	NodeLabels(ids.NodeID) []ids.LabelID
	NodeProperty(ids.NodeID, string) (value.Value, bool)
	EdgeExists(ids.EdgeKey) bool
	EdgeProperty(ids.EdgeKey, string) (value.Value, bool)
	Neighbors(ids.NodeID, ids.RelFilter) iter.Seq[ids.EdgeKey]
	IncomingNeighbors(ids.NodeID, ids.RelFilter) iter.Seq[ids.EdgeKey]
	Nodes() iter.Seq[ids.NodeID]
	Statistics() Statistics
	ResolveExternal(ids.ExternalID) (ids.NodeID, bool)
	ExternalID(ids.NodeID) (ids.ExternalID, bool)
	LabelName(ids.LabelID) (string, bool)
	RelTypeName(ids.RelTypeID) (string, bool)
	ResolveLabelID(name string) (ids.LabelID, bool)
	ResolveRelTypeID(name string) (ids.RelTypeID, bool)
	NodeProperties(ids.NodeID) map[string]value.Value
	EdgeProperties(ids.EdgeKey) map[string]value.Value
}

// Snapshot is the concrete GraphSnapshot implementation: newest-first
// Runs, newest-first Segments, the interned name tables, and the
// external/internal id map, all shared (never copied) with whatever
// Engine state produced them.
type Snapshot struct {
	Runs     []*memtable.Run
	Segments []*segment.Segment

	Labels   *interner.Interner[ids.LabelID]
	RelTypes *interner.Interner[ids.RelTypeID]
	IDs      *idmap.IdMap

	stats Statistics
}

var _ GraphSnapshot = (*Snapshot)(nil)

// New builds a Snapshot from the given layers and a precomputed
// Statistics (Engine recomputes Statistics incrementally; callers
// doing a one-off load can use ComputeStatistics).
func New(runs []*memtable.Run, segments []*segment.Segment, labels *interner.Interner[ids.LabelID], relTypes *interner.Interner[ids.RelTypeID], ids_ *idmap.IdMap, stats Statistics) *Snapshot {
	return &Snapshot{Runs: runs, Segments: segments, Labels: labels, RelTypes: relTypes, IDs: ids_, stats: stats}
}

func (s *Snapshot) Statistics() Statistics { return s.stats }

// NodeExists resolves existence by precedence: freshest Run, then
// older Runs, then newest Segment, then older Segments (spec.md §4.5).
func (s *Snapshot) NodeExists(id ids.NodeID) bool {
	for _, run := range s.Runs {
		if _, dead := run.TombstoneNodes[id]; dead {
			return false
		}
		if _, live := run.LiveNodes[id]; live {
			return true
		}
	}
	for _, seg := range s.Segments {
		if seg.IsNodeTombstoned(id) {
			return false
		}
		if seg.HasNode(id) {
			return true
		}
	}
	return false
}

// NodeLabels merges the resolved label set from the newest Segment
// that records one for id with every Run's label ops, applied oldest
// to newest.
func (s *Snapshot) NodeLabels(id ids.NodeID) []ids.LabelID {
	set := make(map[ids.LabelID]struct{})
	for _, seg := range s.Segments {
		if labels, ok := seg.NodeLabels[id]; ok {
			for _, l := range labels {
				set[l] = struct{}{}
			}
			break
		}
	}
	for i := len(s.Runs) - 1; i >= 0; i-- {
		ops, ok := s.Runs[i].NodeLabels[id]
		if !ok {
			continue
		}
		for label, op := range ops {
			switch op {
			case ids.LabelAdd:
				set[label] = struct{}{}
			case ids.LabelRemove:
				delete(set, label)
			}
		}
	}
	out := make([]ids.LabelID, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeProperty resolves a property by precedence, returning the value
// from the freshest layer that recorded one for key.
func (s *Snapshot) NodeProperty(id ids.NodeID, key string) (value.Value, bool) {
	if !s.NodeExists(id) {
		return value.Value{}, false
	}
	for _, run := range s.Runs {
		if props, ok := run.NodeProps[id]; ok {
			if v, ok := props[key]; ok {
				return v, true
			}
		}
	}
	for _, seg := range s.Segments {
		if v, ok := seg.NodeProperty(id, key); ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// EdgeExists resolves edge existence by the same precedence rule as
// NodeExists.
func (s *Snapshot) EdgeExists(key ids.EdgeKey) bool {
	for _, run := range s.Runs {
		if _, dead := run.TombstoneEdges[key]; dead {
			return false
		}
		if bucketHas(run.OutAdj[key.Src], key) {
			return true
		}
	}
	for _, seg := range s.Segments {
		if seg.IsEdgeTombstoned(key) {
			return false
		}
		if bucketHas(seg.Neighbors(key.Src, nil), key) {
			return true
		}
	}
	return false
}

func bucketHas(bucket []ids.EdgeKey, key ids.EdgeKey) bool {
	for _, k := range bucket {
		if k == key {
			return true
		}
	}
	return false
}

// EdgeProperty resolves an edge property by precedence.
func (s *Snapshot) EdgeProperty(key ids.EdgeKey, propKey string) (value.Value, bool) {
	if !s.EdgeExists(key) {
		return value.Value{}, false
	}
	for _, run := range s.Runs {
		if props, ok := run.EdgeProps[key]; ok {
			if v, ok := props[propKey]; ok {
				return v, true
			}
		}
	}
	for _, seg := range s.Segments {
		if v, ok := seg.EdgeProperty(key, propKey); ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// Neighbors lazily yields id's out-edges matching filter, deduplicated
// across layers and re-checked against EdgeExists so a tombstone in a
// newer layer correctly hides an edge a deeper layer still lists.
func (s *Snapshot) Neighbors(id ids.NodeID, filter ids.RelFilter) iter.Seq[ids.EdgeKey] {
	return func(yield func(ids.EdgeKey) bool) {
		seen := make(map[ids.EdgeKey]struct{})
		for _, run := range s.Runs {
			for _, key := range run.OutAdj[id] {
				if !emitOnce(seen, key, filter, s.EdgeExists, yield) {
					return
				}
			}
		}
		for _, seg := range s.Segments {
			for _, key := range seg.Neighbors(id, nil) {
				if !emitOnce(seen, key, filter, s.EdgeExists, yield) {
					return
				}
			}
		}
	}
}

// IncomingNeighbors mirrors Neighbors for id's in-edges.
func (s *Snapshot) IncomingNeighbors(id ids.NodeID, filter ids.RelFilter) iter.Seq[ids.EdgeKey] {
	return func(yield func(ids.EdgeKey) bool) {
		seen := make(map[ids.EdgeKey]struct{})
		for _, run := range s.Runs {
			for _, key := range run.InAdj[id] {
				if !emitOnce(seen, key, filter, s.EdgeExists, yield) {
					return
				}
			}
		}
		for _, seg := range s.Segments {
			for _, key := range seg.IncomingNeighbors(id, nil) {
				if !emitOnce(seen, key, filter, s.EdgeExists, yield) {
					return
				}
			}
		}
	}
}

func emitOnce(seen map[ids.EdgeKey]struct{}, key ids.EdgeKey, filter ids.RelFilter, exists func(ids.EdgeKey) bool, yield func(ids.EdgeKey) bool) bool {
	if _, ok := seen[key]; ok {
		return true
	}
	seen[key] = struct{}{}
	if !filter.Matches(key.Rel) {
		return true
	}
	if !exists(key) {
		return true
	}
	return yield(key)
}

// Nodes lazily yields every currently-live node, newest-candidate-set
// deduplicated, in ascending NodeID order.
func (s *Snapshot) Nodes() iter.Seq[ids.NodeID] {
	return func(yield func(ids.NodeID) bool) {
		candidates := s.candidateNodeIDs()
		for _, id := range candidates {
			if s.NodeExists(id) {
				if !yield(id) {
					return
				}
			}
		}
	}
}

func (s *Snapshot) candidateNodeIDs() []ids.NodeID {
	seen := make(map[ids.NodeID]struct{})
	for _, run := range s.Runs {
		for id := range run.LiveNodes {
			seen[id] = struct{}{}
		}
		for id := range run.TombstoneNodes {
			seen[id] = struct{}{}
		}
	}
	for _, seg := range s.Segments {
		for id := range seg.LiveNodes {
			seen[id] = struct{}{}
		}
		for id := range seg.TombstoneNodes {
			seen[id] = struct{}{}
		}
	}
	out := make([]ids.NodeID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveExternal maps a caller-supplied ExternalID to its internal
// NodeID.
func (s *Snapshot) ResolveExternal(ext ids.ExternalID) (ids.NodeID, bool) {
	return s.IDs.Lookup(ext)
}

// ExternalID maps an internal NodeID back to its caller-supplied id.
func (s *Snapshot) ExternalID(id ids.NodeID) (ids.ExternalID, bool) {
	return s.IDs.External(id)
}

func (s *Snapshot) LabelName(id ids.LabelID) (string, bool)     { return s.Labels.Name(id) }
func (s *Snapshot) RelTypeName(id ids.RelTypeID) (string, bool) { return s.RelTypes.Name(id) }

// ResolveLabelID maps a label name to its interned LabelID, the
// reverse of LabelName, for a planner translating a parsed `:Label`
// token into the ID this kernel actually stores (spec.md §4.8).
func (s *Snapshot) ResolveLabelID(name string) (ids.LabelID, bool) { return s.Labels.Lookup(name) }

// ResolveRelTypeID maps a relationship-type name to its interned
// RelTypeID, the reverse of RelTypeName.
func (s *Snapshot) ResolveRelTypeID(name string) (ids.RelTypeID, bool) {
	return s.RelTypes.Lookup(name)
}

// ComputeStatistics recomputes per-label node counts and per-rel-type
// edge counts from scratch by walking the snapshot once, for initial
// load and recovery (SPEC_FULL.md §12); Engine otherwise maintains
// Statistics incrementally on every commit.
func ComputeStatistics(s *Snapshot) Statistics {
	stats := Statistics{
		LabelCounts:   make(map[ids.LabelID]int),
		RelTypeCounts: make(map[ids.RelTypeID]int),
	}
	for id := range s.Nodes() {
		stats.NodeCount++
		for _, l := range s.NodeLabels(id) {
			stats.LabelCounts[l]++
		}
		for key := range s.Neighbors(id, nil) {
			stats.EdgeCount++
			stats.RelTypeCounts[key.Rel]++
		}
	}
	return stats
}

// NodeVisitor and EdgeVisitor are the teacher's callback-streaming
// idiom (pkg/storage/types.go's NodeVisitor/EdgeVisitor), kept
// alongside the iter.Seq methods above for bulk consumers (import/
// export, compaction) that prefer a visitor over a for-range loop.
type NodeVisitor func(id ids.NodeID) error
type EdgeVisitor func(key ids.EdgeKey) error

// StreamNodes calls visit for every live node, stopping at the first
// error it returns.
func (s *Snapshot) StreamNodes(visit NodeVisitor) error {
	for id := range s.Nodes() {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// StreamEdges calls visit for every live edge exactly once, stopping
// at the first error it returns.
func (s *Snapshot) StreamEdges(visit EdgeVisitor) error {
	for id := range s.Nodes() {
		for key := range s.Neighbors(id, nil) {
			if err := visit(key); err != nil {
				return err
			}
		}
	}
	return nil
}
