package engine

import (
	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/snapshot"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
	"github.com/ysankpia/nervusdb/pkg/storage/wal"
)

// WriteTxn is the single, exclusively-held write transaction handle a
// caller gets back from Engine.BeginWrite (spec.md §4.8). Every
// mutating call here buffers into an in-memory MemTable and records
// the WAL payload it will need at Commit; nothing touches the WAL file
// itself until Commit succeeds, so Abort never leaves a partial
// transaction on disk to clean up.
type WriteTxn struct {
	engine *Engine
	txID   ids.TxID
	mt     *memtable.MemTable
	base   *snapshot.Snapshot

	pending []walRecord
	closed  bool
}

func (tx *WriteTxn) record(kind wal.Kind, payload []byte) {
	tx.pending = append(tx.pending, walRecord{kind: kind, payload: payload})
}

// CreateNode assigns (or reuses) the internal NodeID for ext, applies
// labelNames and props, and returns the NodeID.
func (tx *WriteTxn) CreateNode(ext ids.ExternalID, labelNames []string, props map[string]value.Value) (ids.NodeID, error) {
	if tx.closed {
		return 0, nverr.ErrTxnClosed
	}
	id := tx.engine.idMap.GetOrAssign(ext)
	tx.mt.CreateNode(id)
	tx.record(wal.KindCreateNode, encodeCreateNode(ext, id))

	for _, name := range labelNames {
		if err := tx.SetNodeLabel(id, name); err != nil {
			return 0, err
		}
	}
	for k, v := range props {
		if err := tx.SetNodeProperty(id, k, v); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DeleteNode tombstones id. With detach=false it fails with
// nverr.ErrDanglingEdge if any edge still touches id, in either the
// base snapshot or this transaction's own buffered creates; with
// detach=true it first tombstones every such edge itself (spec.md
// §4.8's DETACH semantics).
func (tx *WriteTxn) DeleteNode(id ids.NodeID, detach bool) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	if !detach {
		if tx.hasIncidentEdges(id) {
			return nverr.Wrap(nverr.Execution, "engine.dangling_edge", "node has incident edges", nverr.ErrDanglingEdge)
		}
	} else if err := tx.detach(id); err != nil {
		return err
	}
	tx.mt.DeleteNode(id)
	tx.record(wal.KindDeleteNode, encodeDeleteNode(id))
	return nil
}

func (tx *WriteTxn) hasIncidentEdges(id ids.NodeID) bool {
	created, _ := tx.mt.IncidentEdges(id)
	if len(created) > 0 {
		return true
	}
	for key := range tx.base.Neighbors(id, nil) {
		if !tx.mt.IsEdgeDeleted(key) {
			return true
		}
	}
	for key := range tx.base.IncomingNeighbors(id, nil) {
		if !tx.mt.IsEdgeDeleted(key) {
			return true
		}
	}
	return false
}

func (tx *WriteTxn) detach(id ids.NodeID) error {
	seen := make(map[ids.EdgeKey]struct{})
	var toDrop []ids.EdgeKey
	for key := range tx.base.Neighbors(id, nil) {
		toDrop = append(toDrop, key)
	}
	for key := range tx.base.IncomingNeighbors(id, nil) {
		toDrop = append(toDrop, key)
	}
	created, _ := tx.mt.IncidentEdges(id)
	toDrop = append(toDrop, created...)

	for _, key := range toDrop {
		if _, done := seen[key]; done || tx.mt.IsEdgeDeleted(key) {
			continue
		}
		seen[key] = struct{}{}
		if err := tx.DeleteEdge(key); err != nil {
			return err
		}
	}
	return nil
}

// CreateEdge interns relName, buffers the edge, and returns its key.
func (tx *WriteTxn) CreateEdge(src, dst ids.NodeID, relName string, ord uint32, props map[string]value.Value) (ids.EdgeKey, error) {
	if tx.closed {
		return ids.EdgeKey{}, nverr.ErrTxnClosed
	}
	rel, err := tx.internRelType(relName)
	if err != nil {
		return ids.EdgeKey{}, err
	}
	key := ids.EdgeKey{Src: src, Dst: dst, Rel: rel, Ord: ord}
	tx.mt.CreateEdge(key)
	tx.record(wal.KindCreateEdge, encodeEdgeKey(nil, key))

	for k, v := range props {
		if err := tx.SetEdgeProperty(key, k, v); err != nil {
			return ids.EdgeKey{}, err
		}
	}
	return key, nil
}

// DeleteEdge tombstones key.
func (tx *WriteTxn) DeleteEdge(key ids.EdgeKey) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	tx.mt.DeleteEdge(key)
	tx.record(wal.KindDeleteEdge, encodeEdgeKey(nil, key))
	return nil
}

// SetNodeLabel interns name if needed and adds it to id.
func (tx *WriteTxn) SetNodeLabel(id ids.NodeID, name string) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	label, err := tx.internLabel(name)
	if err != nil {
		return err
	}
	tx.mt.SetNodeLabel(id, label, ids.LabelAdd)
	tx.record(wal.KindSetNodeLabel, encodeSetNodeLabel(id, label, ids.LabelAdd))
	return nil
}

// RemoveNodeLabel records a label-remove op for id, interning name
// first if it is not yet known; removing a name nobody has ever set is
// a no-op tombstone, not an error, mirroring SetNodeProperty's
// overwrite semantics.
func (tx *WriteTxn) RemoveNodeLabel(id ids.NodeID, name string) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	label, err := tx.internLabel(name)
	if err != nil {
		return err
	}
	tx.mt.SetNodeLabel(id, label, ids.LabelRemove)
	tx.record(wal.KindSetNodeLabel, encodeSetNodeLabel(id, label, ids.LabelRemove))
	return nil
}

// SetNodeProperty buffers a property write for id.
func (tx *WriteTxn) SetNodeProperty(id ids.NodeID, key string, v value.Value) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	if err := checkKeyLen(key, tx.engine.opts.MaxPropertyKeyBytes); err != nil {
		return err
	}
	tx.mt.SetNodeProperty(id, key, v)
	tx.record(wal.KindSetNodeProp, encodeSetNodeProp(id, key, v))
	return nil
}

// SetEdgeProperty buffers a property write for key.
func (tx *WriteTxn) SetEdgeProperty(key ids.EdgeKey, propKey string, v value.Value) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	if err := checkKeyLen(propKey, tx.engine.opts.MaxPropertyKeyBytes); err != nil {
		return err
	}
	tx.mt.SetEdgeProperty(key, propKey, v)
	tx.record(wal.KindSetEdgeProp, encodeSetEdgeProp(key, propKey, v))
	return nil
}

func checkKeyLen(key string, max int) error {
	if len(key) == 0 || len(key) > max {
		return nverr.New(nverr.Syntax, "engine.property_key_length", "property key length out of bounds")
	}
	return nil
}

func (tx *WriteTxn) internLabel(name string) (ids.LabelID, error) {
	_, existed := tx.engine.labels.Lookup(name)
	id, err := tx.engine.labels.Intern(name)
	if err != nil {
		return 0, err
	}
	if !existed {
		tx.record(wal.KindInternLabel, encodeInternName(name, uint32(id)))
	}
	return id, nil
}

func (tx *WriteTxn) internRelType(name string) (ids.RelTypeID, error) {
	_, existed := tx.engine.relTypes.Lookup(name)
	id, err := tx.engine.relTypes.Intern(name)
	if err != nil {
		return 0, err
	}
	if !existed {
		tx.record(wal.KindInternRelType, encodeInternName(name, uint32(id)))
	}
	return id, nil
}

// Commit encodes every buffered record to the WAL, fsyncs per
// durability, freezes the MemTable into a Run, and publishes a new
// snapshot — in that order (spec.md §4.7's write path). The writer
// slot is released whether Commit succeeds or fails; a failed Commit
// leaves the transaction closed, not retryable.
func (tx *WriteTxn) Commit(durability config.Durability) error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	tx.closed = true
	defer tx.engine.writer.Unlock()

	if durability == "" {
		durability = tx.engine.opts.Durability
	}
	if tx.mt.IsEmpty() {
		return nil
	}

	if _, err := tx.engine.wal.Append(tx.txID, wal.KindTxnBegin, nil); err != nil {
		return err
	}
	for _, rec := range tx.pending {
		if _, err := tx.engine.wal.Append(tx.txID, rec.kind, rec.payload); err != nil {
			return err
		}
	}
	commitLSN, err := tx.engine.wal.Append(tx.txID, wal.KindTxnCommit, nil)
	if err != nil {
		return err
	}

	switch durability {
	case config.Sync, config.Batched:
		// wal.Append syncs per record only when the WAL itself was opened
		// with Sync durability, so a per-commit Sync still fsyncs here.
		if err := tx.engine.wal.Sync(); err != nil {
			return err
		}
	case config.Async:
		// no sync; only the most recent unsynced group is at risk.
	}

	run := memtable.Freeze(tx.mt, commitLSN)
	tx.engine.mu.Lock()
	tx.engine.runs = append([]*memtable.Run{run}, tx.engine.runs...)
	tx.engine.mu.Unlock()

	view := tx.engine.currentView()
	stats := statsAfterCommit(tx.base, view, run)
	tx.engine.publishSnapshotWithStats(stats)
	return nil
}

// Abort discards every buffered operation. Nothing was ever written to
// the WAL, so there is nothing to undo on disk.
func (tx *WriteTxn) Abort() error {
	if tx.closed {
		return nverr.ErrTxnClosed
	}
	tx.closed = true
	tx.engine.writer.Unlock()
	return nil
}
