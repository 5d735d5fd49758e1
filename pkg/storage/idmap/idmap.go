// Package idmap implements the bidirectional mapping between caller
// supplied ExternalIDs and NervusDB's dense internal NodeIDs
// (spec.md §3, §4.3).
//
// spec.md §4.3 describes IdMap as a "persistent BTree over the pager".
// A true multi-level B-tree keyed by page is out of proportion to what
// this kernel needs for its MVP scale (see DESIGN.md's
// pkg/storage/idmap section): IdMap instead keeps its mapping fully in memory and
// persists it as one length-prefixed record per checkpoint, the same
// whole-structure-serialization idiom the teacher's WAL snapshot
// (CreateSnapshot/SaveSnapshot/LoadSnapshot) uses for the entire
// storage engine rather than paging a tree incrementally.
package idmap

import (
	"encoding/binary"
	"sync"

	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
)

// IdMap is a concurrent-safe external-id to node-id map. Node IDs are
// assigned densely starting at 0 and are never recycled (DESIGN.md's
// Open Question resolution), even once every node referencing one is
// deleted, so compacted segments can keep referencing an old NodeID
// without ever colliding with a freshly assigned one.
type IdMap struct {
	mu      sync.RWMutex
	fwd     map[ids.ExternalID]ids.NodeID
	rev     map[ids.NodeID]ids.ExternalID
	nextID  ids.NodeID
}

// New creates an empty IdMap starting allocation at nextID (normally
// the value recovered from the pager's manifest).
func New(nextID ids.NodeID) *IdMap {
	return &IdMap{
		fwd:    make(map[ids.ExternalID]ids.NodeID),
		rev:    make(map[ids.NodeID]ids.ExternalID),
		nextID: nextID,
	}
}

// Lookup returns the internal NodeID for an external id, if mapped.
func (m *IdMap) Lookup(ext ids.ExternalID) (ids.NodeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.fwd[ext]
	return id, ok
}

// External returns the caller-supplied id for an internal NodeID.
func (m *IdMap) External(node ids.NodeID) (ids.ExternalID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ext, ok := m.rev[node]
	return ext, ok
}

// GetOrAssign returns the NodeID mapped to ext, assigning a fresh one
// if this is the first time ext has been seen.
func (m *IdMap) GetOrAssign(ext ids.ExternalID) ids.NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.fwd[ext]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.fwd[ext] = id
	m.rev[id] = ext
	return id
}

// NextID reports the next NodeID that would be assigned, for
// persisting into the manifest at checkpoint.
func (m *IdMap) NextID() ids.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID
}

// Len reports the number of mapped external ids.
func (m *IdMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fwd)
}

// Serialize flattens the whole map to a self-contained record:
// nextID, count, then (external u64, node u32) pairs in map iteration
// order (order does not matter, both directions are rebuilt from the
// same pairs).
func (m *IdMap) Serialize() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, 0, 12+len(m.fwd)*12)
	out = binary.LittleEndian.AppendUint32(out, uint32(m.nextID))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(m.fwd)))
	for ext, node := range m.fwd {
		out = binary.LittleEndian.AppendUint64(out, uint64(ext))
		out = binary.LittleEndian.AppendUint32(out, uint32(node))
	}
	return out
}

// Deserialize rebuilds an IdMap from Serialize's output.
func Deserialize(data []byte) (*IdMap, error) {
	if len(data) < 8 {
		return nil, nverr.New(nverr.Storage, "idmap.decode", "truncated idmap header")
	}
	nextID := ids.NodeID(binary.LittleEndian.Uint32(data))
	count := binary.LittleEndian.Uint32(data[4:])
	data = data[8:]
	m := New(nextID)
	for i := uint32(0); i < count; i++ {
		if len(data) < 12 {
			return nil, nverr.New(nverr.Storage, "idmap.decode", "truncated idmap entry")
		}
		ext := ids.ExternalID(binary.LittleEndian.Uint64(data))
		node := ids.NodeID(binary.LittleEndian.Uint32(data[8:]))
		data = data[12:]
		m.fwd[ext] = node
		m.rev[node] = ext
	}
	return m, nil
}
