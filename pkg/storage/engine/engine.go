// Package engine orchestrates the pager, WAL, MemTable/Run chain, and
// Segment list into one open database handle (spec.md §4.7).
//
// The teacher's WALEngine (pkg/storage/wal.go) wraps an in-memory
// Engine with WAL logging bolted on the outside: every mutating call
// appends a JSON WAL entry, then forwards to the wrapped engine, which
// mutates shared state directly under its own lock. The v2 kernel
// keeps the same "WAL first, then apply" discipline and the same
// single-writer serialization, but nothing mutates in place: a write
// transaction buffers into a MemTable, and Commit publishes an
// entirely new Snapshot built from the old one plus one freshly frozen
// Run, via an atomic pointer swap. Readers that already hold an older
// Snapshot are unaffected — no locks, no torn reads.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/idmap"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/interner"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/pager"
	"github.com/ysankpia/nervusdb/pkg/storage/segment"
	"github.com/ysankpia/nervusdb/pkg/storage/snapshot"
	"github.com/ysankpia/nervusdb/pkg/storage/wal"
)

// GraphStore is the executor-facing contract from spec.md §4.8. The
// query executor programs against this interface only; it must never
// reach into pager, WAL, or segment internals.
type GraphStore interface {
	BeginRead() *snapshot.Snapshot
	BeginWrite(ctx context.Context) (*WriteTxn, error)
	Checkpoint() error
	Compact(policy config.CompactionPolicy) error
	Close() error
}

var _ GraphStore = (*Engine)(nil)

// Engine is one open NervusDB database handle.
type Engine struct {
	opts    config.Options
	log     logr.Logger
	dataDir string
	walPath string

	pager *pager.Pager
	wal   *wal.WAL

	writer *writerLock

	labels   *interner.Interner[ids.LabelID]
	relTypes *interner.Interner[ids.RelTypeID]
	idMap    *idmap.IdMap

	// snap is the currently published Snapshot. Readers load it with
	// BeginRead; writers swap in a new one on Commit/Compact/Checkpoint.
	snap atomic.Pointer[snapshot.Snapshot]

	// segments is the durable segment list (newest first) backing the
	// published snapshot; kept separately because recovery and
	// compaction both need to rebuild it independently of Runs.
	mu       sync.Mutex
	runs     []*memtable.Run
	segments []*segment.Segment

	txSeq  atomic.Uint64
	closed atomic.Bool
}

// Open opens (creating if necessary) the database rooted at dir,
// replaying its WAL tail and publishing the recovered snapshot
// (spec.md §4.7's recovery contract: open → load manifest → verify
// checksums → replay WAL tail → publish snapshot).
func Open(dir string, opts config.Options, log logr.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		kind := nverr.Syntax
		if opts.CompactionPolicy == config.SizeTiered {
			kind = nverr.Compatibility
		}
		return nil, nverr.Wrap(kind, "engine.open_options", "invalid options", err)
	}

	p, err := pager.Open(filepath.Join(dir, "pages.db"), opts.PageCacheCapacity, log)
	if err != nil {
		return nil, err
	}
	walPath := filepath.Join(dir, "nervusdb.wal")
	w, err := wal.Open(walPath, opts.Durability, log)
	if err != nil {
		p.Close()
		return nil, err
	}

	e := &Engine{
		opts:    opts,
		log:     log,
		dataDir: dir,
		walPath: walPath,
		pager:   p,
		wal:     w,
		writer:  newWriterLock(),
	}

	if err := e.recover(); err != nil {
		w.Close()
		p.Close()
		return nil, err
	}
	return e, nil
}

// Dir returns the directory this handle was opened against, for
// diagnostics (the CLI's stats command reports it alongside page and
// WAL file sizes).
func (e *Engine) Dir() string { return e.dataDir }

// WALPath returns the path of the WAL file backing this handle, for
// the diagnostic dump-wal command.
func (e *Engine) WALPath() string { return e.walPath }

// BeginRead publishes the caller a cheap, immutable point-in-time view
// (spec.md §4.6). Readers never block the writer and are never
// blocked by it.
func (e *Engine) BeginRead() *snapshot.Snapshot {
	return e.snap.Load()
}

// BeginWrite acquires the single-writer slot and returns a fresh
// transaction workspace. It blocks FIFO-fair until any earlier writer
// commits or aborts, or until ctx is done.
func (e *Engine) BeginWrite(ctx context.Context) (*WriteTxn, error) {
	if e.closed.Load() {
		return nil, nverr.ErrClosed
	}
	if e.opts.Readonly {
		return nil, nverr.Wrap(nverr.Execution, "engine.readonly", "database opened readonly", nverr.ErrReadonly)
	}
	if err := e.writer.Lock(ctx); err != nil {
		return nil, nverr.Wrap(nverr.Execution, "engine.begin_write", "waiting for writer slot", err)
	}
	if e.closed.Load() {
		e.writer.Unlock()
		return nil, nverr.ErrClosed
	}
	return &WriteTxn{
		engine: e,
		txID:   ids.TxID(e.txSeq.Add(1)),
		mt:     memtable.New(),
		base:   e.snap.Load(),
	}, nil
}

// Checkpoint folds every outstanding Run into the durable segment
// list, flushes the manifest, and truncates the WAL — a crash
// immediately after Checkpoint returns recovers with no replay at all
// (spec.md §4.7).
func (e *Engine) Checkpoint() error {
	if e.closed.Load() {
		return nverr.ErrClosed
	}
	if err := e.writer.Lock(context.Background()); err != nil {
		return err
	}
	defer e.writer.Unlock()

	if err := e.wal.Sync(); err != nil {
		return err
	}
	if err := e.compactLocked(); err != nil {
		return err
	}
	if err := e.persistManifest(e.wal.Stats().Sequence); err != nil {
		return err
	}
	if err := e.pager.Sync(); err != nil {
		return err
	}
	if err := wal.Truncate(e.walPath, 0); err != nil {
		return err
	}
	return nil
}

// Compact merges every outstanding Run and Segment into one new
// Segment and publishes it, but does not truncate the WAL. Only
// config.Manual is implemented (spec.md §1, §9's MVP scope); any other
// policy is a Compatibility error, not a silent no-op.
func (e *Engine) Compact(policy config.CompactionPolicy) error {
	if policy != config.Manual {
		return nverr.New(nverr.Compatibility, "engine.compaction_policy", "only Manual compaction is implemented")
	}
	if e.closed.Load() {
		return nverr.ErrClosed
	}
	if err := e.writer.Lock(context.Background()); err != nil {
		return err
	}
	defer e.writer.Unlock()

	if err := e.compactLocked(); err != nil {
		return err
	}
	return e.persistManifest(e.wal.Stats().Sequence)
}

// compactLocked folds e.runs and e.segments into a single new Segment,
// writes it durably, and republishes the snapshot with an empty Run
// list and that one Segment. Caller must hold e.writer.
func (e *Engine) compactLocked() error {
	e.mu.Lock()
	runs := e.runs
	segments := e.segments
	e.mu.Unlock()

	if len(runs) == 0 && len(segments) <= 1 {
		return nil // nothing to fold
	}

	merged := segment.Build(runs, segments, ids.LSN(e.wal.Stats().Sequence))
	footer, err := merged.WriteTo(e.pager)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.runs = nil
	e.segments = []*segment.Segment{merged}
	e.mu.Unlock()

	rootsBlob := encodeSegmentRoots([]ids.PageID{footer})
	rootPage, err := pager.WriteBlob(e.pager, rootsBlob)
	if err != nil {
		return err
	}
	m := e.pager.Manifest()
	m.SnapshotRoot = rootPage
	if err := e.pager.CommitManifest(m); err != nil {
		return err
	}
	// Folding Runs and Segments into one Segment changes only physical
	// layout, never logical graph content, so the published counts carry
	// forward unchanged rather than being recomputed.
	e.publishSnapshotWithStats(cloneStats(e.snap.Load().Statistics()))
	return nil
}

// persistManifest flushes the idMap/interner tables and the NextID
// counters into the manifest.
func (e *Engine) persistManifest(lsn uint64) error {
	idMapPage, err := pager.WriteBlob(e.pager, e.idMap.Serialize())
	if err != nil {
		return err
	}
	labelPage, err := pager.WriteBlob(e.pager, e.labels.Serialize())
	if err != nil {
		return err
	}
	relPage, err := pager.WriteBlob(e.pager, e.relTypes.Serialize())
	if err != nil {
		return err
	}

	m := e.pager.Manifest()
	m.LSN = ids.LSN(lsn)
	m.IdMapRoot = idMapPage
	m.LabelRoot = labelPage
	m.RelTypeRoot = relPage
	m.NextNodeID = e.idMap.NextID()
	m.NextLabelID = e.labels.Next()
	m.NextRelTypeID = e.relTypes.Next()
	return e.pager.CommitManifest(m)
}

// currentView builds a Snapshot over e.runs/e.segments for resolving
// what a given id/key looks like right now. Its Statistics field is a
// zero value and must never be published as-is — callers either feed
// it to statsAfterCommit or ComputeStatistics, or carry forward an
// already-correct Statistics via publishSnapshotWithStats.
func (e *Engine) currentView() *snapshot.Snapshot {
	e.mu.Lock()
	runs := append([]*memtable.Run(nil), e.runs...)
	segments := append([]*segment.Segment(nil), e.segments...)
	e.mu.Unlock()
	return snapshot.New(runs, segments, e.labels, e.relTypes, e.idMap, snapshot.Statistics{})
}

// publishSnapshotWithStats atomically swaps in a new Snapshot over the
// current runs/segments/interners/idmap, stamped with stats.
func (e *Engine) publishSnapshotWithStats(stats snapshot.Statistics) {
	view := e.currentView()
	e.snap.Store(snapshot.New(view.Runs, view.Segments, e.labels, e.relTypes, e.idMap, stats))
}

// Close flushes and releases every open resource. It does not
// checkpoint implicitly — callers that want a replay-free reopen must
// call Checkpoint first (spec.md §4.7 treats checkpoint as explicit).
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.pager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
