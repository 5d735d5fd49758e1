package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/config"
	"github.com/ysankpia/nervusdb/pkg/nverr"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

func openTestEngine(t *testing.T, opts config.Options) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateNodeAndEdgeVisibleAfterCommit(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, err := tx.CreateNode(1, []string{"Person"}, map[string]value.Value{"name": value.Text("Alice")})
	require.NoError(t, err)
	bob, err := tx.CreateNode(2, []string{"Person"}, nil)
	require.NoError(t, err)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	snap := e.BeginRead()
	assert.True(t, snap.NodeExists(alice))
	assert.True(t, snap.NodeExists(bob))
	name, ok := snap.NodeProperty(alice, "name")
	require.True(t, ok)
	assert.Equal(t, "Alice", name.String())

	var neighbors []ids.EdgeKey
	for key := range snap.Neighbors(alice, nil) {
		neighbors = append(neighbors, key)
	}
	require.Len(t, neighbors, 1)
	assert.Equal(t, bob, neighbors[0].Dst)
}

func TestSecondWriterBlocksUntilFirstCommits(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx1, err := e.BeginWrite(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		tx2, err := e.BeginWrite(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx2.Commit(config.Sync))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writer acquired the slot before the first committed")
	default:
	}

	require.NoError(t, tx1.Commit(config.Sync))
	<-done
}

func TestDeleteNodeWithoutDetachFailsWhenEdgesRemain(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, nil, nil)
	bob, _ := tx.CreateNode(2, nil, nil)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	tx2, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	err = tx2.DeleteNode(alice, false)
	require.ErrorIs(t, err, nverr.ErrDanglingEdge)
	require.NoError(t, tx2.Abort())
}

func TestDeleteNodeWithDetachRemovesIncidentEdges(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, nil, nil)
	bob, _ := tx.CreateNode(2, nil, nil)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	tx2, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteNode(alice, true))
	require.NoError(t, tx2.Commit(config.Sync))

	snap := e.BeginRead()
	assert.False(t, snap.NodeExists(alice))
	assert.False(t, snap.EdgeExists(ids.EdgeKey{Src: alice, Dst: bob, Rel: 0, Ord: 0}))
}

func TestAbortLeavesNoTrace(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	id, _ := tx.CreateNode(1, nil, nil)
	require.NoError(t, tx.Abort())

	snap := e.BeginRead()
	assert.False(t, snap.NodeExists(id))

	// The writer slot must have been released.
	tx2, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx2.Abort())
}

func TestCheckpointThenReopenRecoversWithoutReplay(t *testing.T) {
	dir := struct{ path string }{path: ""}
	func() {
		e := openTestEngine(t, config.Default())
		dir.path = e.Dir()

		tx, err := e.BeginWrite(context.Background())
		require.NoError(t, err)
		_, err = tx.CreateNode(1, []string{"Person"}, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(config.Sync))

		require.NoError(t, e.Checkpoint())
	}()

	e2, err := Open(dir.path, config.Default(), logr.Discard())
	require.NoError(t, err)
	defer e2.Close()

	snap := e2.BeginRead()
	id, ok := snap.ResolveExternal(1)
	require.True(t, ok)
	assert.True(t, snap.NodeExists(id))
}

func TestRecoveryDiscardsUncommittedTailAfterCrash(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, config.Default(), logr.Discard())
	require.NoError(t, err)

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	committed, err := tx.CreateNode(1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	// Simulate a crash mid-append: a second transaction's records reach
	// the WAL but its commit marker never does.
	tx2, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	_, err = tx2.CreateNode(2, nil, nil)
	require.NoError(t, err)
	for _, rec := range tx2.pending {
		_, err := e.wal.Append(tx2.txID, rec.kind, rec.payload)
		require.NoError(t, err)
	}
	require.NoError(t, e.wal.Sync())
	tx2.closed = true
	e.writer.Unlock()

	require.NoError(t, e.Close())

	e2, err := Open(dir, config.Default(), logr.Discard())
	require.NoError(t, err)
	defer e2.Close()

	snap := e2.BeginRead()
	assert.True(t, snap.NodeExists(committed))
	_, ok := snap.ResolveExternal(2)
	assert.False(t, ok, "uncommitted transaction must not survive recovery")
}

func TestCompactFoldsRunsIntoSegment(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, []string{"Person"}, nil)
	require.NoError(t, tx.Commit(config.Sync))

	require.NoError(t, e.Compact(config.Manual))

	snap := e.BeginRead()
	assert.True(t, snap.NodeExists(alice))
	assert.Empty(t, snap.Runs)
	require.Len(t, snap.Segments, 1)
}

func TestImportRoundtripsExport(t *testing.T) {
	e1 := openTestEngine(t, config.Default())
	tx, err := e1.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, []string{"Person"}, map[string]value.Value{"name": value.Text("Alice")})
	bob, _ := tx.CreateNode(2, []string{"Person"}, nil)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, map[string]value.Value{"since": value.Int(2020)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	exp, err := e1.BeginRead().Export()
	require.NoError(t, err)

	e2 := openTestEngine(t, config.Default())
	require.NoError(t, Import(context.Background(), e2, exp, config.Sync))

	snap := e2.BeginRead()
	id, ok := snap.ResolveExternal(1)
	require.True(t, ok)
	name, ok := snap.NodeProperty(id, "name")
	require.True(t, ok)
	assert.Equal(t, "Alice", name.String())
}

func TestReadonlyRejectsWrite(t *testing.T) {
	opts := config.Default()
	opts.Readonly = true
	e := openTestEngine(t, opts)
	_, err := e.BeginWrite(context.Background())
	require.ErrorIs(t, err, nverr.ErrReadonly)
}

func TestWALPathHelper(t *testing.T) {
	e := openTestEngine(t, config.Default())
	assert.Equal(t, filepath.Join(e.Dir(), "nervusdb.wal"), e.WALPath())
}

func TestStatisticsUpdateIncrementallyAcrossCommits(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, []string{"Person"}, nil)
	bob, _ := tx.CreateNode(2, []string{"Person"}, nil)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	stats := e.BeginRead().Statistics()
	require.Equal(t, 2, stats.NodeCount)
	require.Equal(t, 1, stats.EdgeCount)

	var personID, knowsID ids.LabelID
	for l := range stats.LabelCounts {
		personID = l
	}
	require.Equal(t, 2, stats.LabelCounts[personID])
	for r := range stats.RelTypeCounts {
		knowsID = r
	}
	require.Equal(t, 1, stats.RelTypeCounts[knowsID])

	tx2, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	_, err = tx2.CreateNode(3, []string{"Person"}, nil)
	require.NoError(t, err)
	require.NoError(t, tx2.Commit(config.Sync))

	stats2 := e.BeginRead().Statistics()
	assert.Equal(t, 3, stats2.NodeCount)
	assert.Equal(t, 1, stats2.EdgeCount)
	assert.Equal(t, 3, stats2.LabelCounts[personID])

	tx3, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx3.DeleteNode(alice, true))
	require.NoError(t, tx3.Commit(config.Sync))

	stats3 := e.BeginRead().Statistics()
	assert.Equal(t, 2, stats3.NodeCount)
	assert.Equal(t, 0, stats3.EdgeCount)
	assert.Equal(t, 2, stats3.LabelCounts[personID])
	_, hasKnows := stats3.RelTypeCounts[knowsID]
	assert.False(t, hasKnows, "rel type count must be pruned once no edges of that type remain")
}

func TestStatisticsSurviveCompactUnchanged(t *testing.T) {
	e := openTestEngine(t, config.Default())

	tx, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	alice, _ := tx.CreateNode(1, []string{"Person"}, nil)
	bob, _ := tx.CreateNode(2, []string{"Person"}, nil)
	_, err = tx.CreateEdge(alice, bob, "KNOWS", 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(config.Sync))

	before := e.BeginRead().Statistics()
	require.NoError(t, e.Compact(config.Manual))
	after := e.BeginRead().Statistics()

	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, before.EdgeCount, after.EdgeCount)
	assert.Equal(t, before.LabelCounts, after.LabelCounts)
	assert.Equal(t, before.RelTypeCounts, after.RelTypeCounts)
}
