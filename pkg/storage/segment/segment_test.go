package segment

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/pager"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

func buildSampleRun(t *testing.T, version ids.LSN) *memtable.Run {
	t.Helper()
	mt := memtable.New()
	mt.CreateNode(1)
	mt.CreateNode(2)
	mt.CreateNode(3)
	mt.SetNodeProperty(1, "name", value.Text("Ada"))
	mt.SetNodeProperty(2, "name", value.Text("Grace"))
	mt.SetNodeLabel(1, 10, ids.LabelAdd)
	mt.SetNodeLabel(2, 10, ids.LabelAdd)
	mt.CreateEdge(ids.EdgeKey{Src: 1, Dst: 2, Rel: 5, Ord: 0})
	mt.CreateEdge(ids.EdgeKey{Src: 2, Dst: 3, Rel: 5, Ord: 0})
	mt.SetEdgeProperty(ids.EdgeKey{Src: 1, Dst: 2, Rel: 5, Ord: 0}, "since", value.Int(2020))
	return memtable.Freeze(mt, version)
}

func TestBuildMergesRunIntoSegment(t *testing.T) {
	run := buildSampleRun(t, 1)
	seg := Build([]*memtable.Run{run}, nil, 1)

	assert.True(t, seg.HasNode(1))
	assert.True(t, seg.HasNode(2))
	assert.True(t, seg.HasNode(3))

	name, ok := seg.NodeProperty(1, "name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name.String())

	neighbors := seg.Neighbors(1, nil)
	require.Len(t, neighbors, 1)
	assert.Equal(t, ids.NodeID(2), neighbors[0].Dst)

	incoming := seg.IncomingNeighbors(3, nil)
	require.Len(t, incoming, 1)
	assert.Equal(t, ids.NodeID(2), incoming[0].Src)
}

func TestBuildAppliesTombstones(t *testing.T) {
	mt := memtable.New()
	mt.CreateNode(1)
	mt.CreateNode(2)
	mt.CreateEdge(ids.EdgeKey{Src: 1, Dst: 2, Rel: 0, Ord: 0})
	run1 := memtable.Freeze(mt, 1)

	mt2 := memtable.New()
	mt2.DeleteNode(2)
	mt2.DeleteEdge(ids.EdgeKey{Src: 1, Dst: 2, Rel: 0, Ord: 0})
	run2 := memtable.Freeze(mt2, 2)

	// run2 is newer (passed first, per newest-first ordering).
	seg := Build([]*memtable.Run{run2, run1}, nil, 2)

	assert.True(t, seg.HasNode(1))
	assert.False(t, seg.HasNode(2))
	assert.Empty(t, seg.Neighbors(1, nil))
}

func TestBuildFromSegmentsPreservesSemanticEquality(t *testing.T) {
	run := buildSampleRun(t, 1)
	firstPass := Build([]*memtable.Run{run}, nil, 1)

	secondPass := Build(nil, []*Segment{firstPass}, 2)

	assert.Equal(t, len(firstPass.LiveNodes), len(secondPass.LiveNodes))
	for id := range firstPass.LiveNodes {
		assert.True(t, secondPass.HasNode(id))
	}
	name1, _ := firstPass.NodeProperty(1, "name")
	name2, _ := secondPass.NodeProperty(1, "name")
	assert.True(t, value.Equal(name1, name2))

	assert.ElementsMatch(t, firstPass.Neighbors(1, nil), secondPass.Neighbors(1, nil))
	assert.ElementsMatch(t, firstPass.IncomingNeighbors(3, nil), secondPass.IncomingNeighbors(3, nil))
}

func TestWriteToReadFromRoundtrip(t *testing.T) {
	run := buildSampleRun(t, 1)
	seg := Build([]*memtable.Run{run}, nil, 1)

	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "db.pages"), 64, logr.Discard())
	require.NoError(t, err)
	defer p.Close()

	footer, err := seg.WriteTo(p)
	require.NoError(t, err)

	got, err := ReadFrom(p, footer)
	require.NoError(t, err)

	assert.Equal(t, seg.Version, got.Version)
	assert.Equal(t, seg.MinNode, got.MinNode)
	assert.Equal(t, seg.MaxNode, got.MaxNode)
	assert.Equal(t, len(seg.LiveNodes), len(got.LiveNodes))

	name, ok := got.NodeProperty(1, "name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name.String())

	since, ok := got.EdgeProperty(ids.EdgeKey{Src: 1, Dst: 2, Rel: 5, Ord: 0}, "since")
	require.True(t, ok)
	v, _ := since.AsInt()
	assert.Equal(t, int64(2020), v)

	assert.ElementsMatch(t, seg.Neighbors(1, nil), got.Neighbors(1, nil))
}

func TestRelFilterRestrictsNeighbors(t *testing.T) {
	run := buildSampleRun(t, 1)
	seg := Build([]*memtable.Run{run}, nil, 1)

	only5 := seg.Neighbors(1, func(r ids.RelTypeID) bool { return r == 5 })
	assert.Len(t, only5, 1)

	none := seg.Neighbors(1, func(r ids.RelTypeID) bool { return r == 99 })
	assert.Empty(t, none)
}
