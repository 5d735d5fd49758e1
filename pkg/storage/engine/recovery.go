package engine

import (
	"github.com/ysankpia/nervusdb/pkg/storage/idmap"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/interner"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/pager"
	"github.com/ysankpia/nervusdb/pkg/storage/segment"
	"github.com/ysankpia/nervusdb/pkg/storage/snapshot"
	"github.com/ysankpia/nervusdb/pkg/storage/wal"
)

// recover implements spec.md §4.7's recovery contract: load the
// manifest, rebuild the id/label/rel-type tables and segment list it
// points at, then replay the WAL tail on top to reconstruct whatever
// Runs were committed since the last checkpoint. A short or corrupt
// tail record (the signature of a crash mid-append) ends replay
// without error; the corrupt bytes are then truncated away so the
// next Append starts clean.
func (e *Engine) recover() error {
	m := e.pager.Manifest()

	if m.IdMapRoot != ids.NilPage {
		data, err := pager.ReadBlob(e.pager, m.IdMapRoot)
		if err != nil {
			return err
		}
		im, err := idmap.Deserialize(data)
		if err != nil {
			return err
		}
		e.idMap = im
	} else {
		e.idMap = idmap.New(m.NextNodeID)
	}

	if m.LabelRoot != ids.NilPage {
		data, err := pager.ReadBlob(e.pager, m.LabelRoot)
		if err != nil {
			return err
		}
		labels, err := interner.Deserialize[ids.LabelID](data, e.opts.MaxLabelBytes)
		if err != nil {
			return err
		}
		e.labels = labels
	} else {
		e.labels = interner.New[ids.LabelID](m.NextLabelID, e.opts.MaxLabelBytes)
	}

	if m.RelTypeRoot != ids.NilPage {
		data, err := pager.ReadBlob(e.pager, m.RelTypeRoot)
		if err != nil {
			return err
		}
		relTypes, err := interner.Deserialize[ids.RelTypeID](data, e.opts.MaxLabelBytes)
		if err != nil {
			return err
		}
		e.relTypes = relTypes
	} else {
		e.relTypes = interner.New[ids.RelTypeID](m.NextRelTypeID, e.opts.MaxLabelBytes)
	}

	var segments []*segment.Segment
	if m.SnapshotRoot != ids.NilPage {
		rootsBlob, err := pager.ReadBlob(e.pager, m.SnapshotRoot)
		if err != nil {
			return err
		}
		roots, err := decodeSegmentRoots(rootsBlob)
		if err != nil {
			return err
		}
		for _, footer := range roots {
			seg, err := segment.ReadFrom(e.pager, footer)
			if err != nil {
				return err
			}
			segments = append(segments, seg)
		}
	}
	e.segments = segments

	runs, err := e.replayWAL()
	if err != nil {
		return err
	}
	e.runs = runs

	view := e.currentView()
	e.publishSnapshotWithStats(snapshot.ComputeStatistics(view))
	return nil
}

// replayWAL scans the WAL from byte 0, grouping records by tx_id and
// only materializing a Run for transactions whose TxnCommit record was
// itself well-formed and present — an uncommitted transaction's
// buffered ops are simply dropped (spec.md §4.2, §8). Re-interning a
// label/rel-type name or re-resolving an ExternalID already present in
// the tables loaded from the manifest is idempotent, so replaying from
// the very start of the file is always safe even after a checkpoint
// has persisted those tables.
func (e *Engine) replayWAL() ([]*memtable.Run, error) {
	pending := make(map[ids.TxID]*memtable.MemTable)
	var committedOldestFirst []*memtable.Run

	validBytes, err := wal.Replay(e.walPath, func(rec wal.Record) error {
		mt, ok := pending[rec.TxID]
		if !ok {
			mt = memtable.New()
			pending[rec.TxID] = mt
		}

		switch rec.Kind {
		case wal.KindTxnBegin:
			// marker only
		case wal.KindCreateNode:
			ext, _ := decodeCreateNode(rec.Payload)
			mt.CreateNode(e.idMap.GetOrAssign(ext))
		case wal.KindDeleteNode:
			mt.DeleteNode(decodeDeleteNode(rec.Payload))
		case wal.KindCreateEdge:
			mt.CreateEdge(decodeEdgeKey(rec.Payload))
		case wal.KindDeleteEdge:
			mt.DeleteEdge(decodeEdgeKey(rec.Payload))
		case wal.KindSetNodeLabel:
			id, label, op := decodeSetNodeLabel(rec.Payload)
			mt.SetNodeLabel(id, label, op)
		case wal.KindSetNodeProp:
			id, key, v, err := decodeSetNodeProp(rec.Payload)
			if err != nil {
				return err
			}
			mt.SetNodeProperty(id, key, v)
		case wal.KindSetEdgeProp:
			key, propKey, v, err := decodeSetEdgeProp(rec.Payload)
			if err != nil {
				return err
			}
			mt.SetEdgeProperty(key, propKey, v)
		case wal.KindInternLabel:
			name, _ := decodeInternName(rec.Payload)
			if _, err := e.labels.Intern(name); err != nil {
				return err
			}
		case wal.KindInternRelType:
			name, _ := decodeInternName(rec.Payload)
			if _, err := e.relTypes.Intern(name); err != nil {
				return err
			}
		case wal.KindTxnCommit:
			if !mt.IsEmpty() {
				committedOldestFirst = append(committedOldestFirst, memtable.Freeze(mt, rec.LSN))
			}
			delete(pending, rec.TxID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := wal.Truncate(e.walPath, validBytes); err != nil {
		return nil, err
	}

	newestFirst := make([]*memtable.Run, len(committedOldestFirst))
	for i, r := range committedOldestFirst {
		newestFirst[len(committedOldestFirst)-1-i] = r
	}
	return newestFirst, nil
}
