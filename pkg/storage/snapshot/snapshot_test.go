package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/storage/idmap"
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/interner"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/segment"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

func buildTestSnapshot(t *testing.T) (*Snapshot, ids.LabelID, ids.RelTypeID) {
	t.Helper()
	im := idmap.New(0)
	alice := im.GetOrAssign(ids.ExternalID(1))
	bob := im.GetOrAssign(ids.ExternalID(2))

	labels := interner.New[ids.LabelID](0, 255)
	person, err := labels.Intern("Person")
	require.NoError(t, err)

	relTypes := interner.New[ids.RelTypeID](0, 255)
	knows, err := relTypes.Intern("KNOWS")
	require.NoError(t, err)

	mt := memtable.New()
	mt.CreateNode(alice)
	mt.CreateNode(bob)
	mt.SetNodeLabel(alice, person, ids.LabelAdd)
	mt.SetNodeLabel(bob, person, ids.LabelAdd)
	mt.SetNodeProperty(alice, "name", value.Text("Alice"))
	mt.SetNodeProperty(bob, "name", value.Text("Bob"))
	mt.CreateEdge(ids.EdgeKey{Src: alice, Dst: bob, Rel: knows, Ord: 0})
	mt.SetEdgeProperty(ids.EdgeKey{Src: alice, Dst: bob, Rel: knows, Ord: 0}, "since", value.Int(2019))
	run := memtable.Freeze(mt, 1)

	snap := New([]*memtable.Run{run}, nil, labels, relTypes, im, Statistics{})
	return snap, person, knows
}

func TestNodeExistsAndProperties(t *testing.T) {
	snap, person, _ := buildTestSnapshot(t)
	alice, ok := snap.ResolveExternal(1)
	require.True(t, ok)

	assert.True(t, snap.NodeExists(alice))
	name, ok := snap.NodeProperty(alice, "name")
	require.True(t, ok)
	assert.Equal(t, "Alice", name.String())

	labels := snap.NodeLabels(alice)
	require.Len(t, labels, 1)
	assert.Equal(t, person, labels[0])
}

func TestNeighborsAndEdgeProperty(t *testing.T) {
	snap, _, knows := buildTestSnapshot(t)
	alice, _ := snap.ResolveExternal(1)
	bob, _ := snap.ResolveExternal(2)

	var neighbors []ids.EdgeKey
	for key := range snap.Neighbors(alice, nil) {
		neighbors = append(neighbors, key)
	}
	require.Len(t, neighbors, 1)
	assert.Equal(t, bob, neighbors[0].Dst)
	assert.Equal(t, knows, neighbors[0].Rel)

	since, ok := snap.EdgeProperty(neighbors[0], "since")
	require.True(t, ok)
	v, _ := since.AsInt()
	assert.Equal(t, int64(2019), v)
}

func TestNodesIteratorDedupes(t *testing.T) {
	snap, _, _ := buildTestSnapshot(t)
	var count int
	for range snap.Nodes() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestTombstoneInNewerRunHidesOlderSegment(t *testing.T) {
	mt := memtable.New()
	mt.CreateNode(1)
	run1 := memtable.Freeze(mt, 1)
	seg := segment.Build([]*memtable.Run{run1}, nil, 1)

	mt2 := memtable.New()
	mt2.DeleteNode(1)
	run2 := memtable.Freeze(mt2, 2)

	im := idmap.New(2)
	labels := interner.New[ids.LabelID](0, 255)
	relTypes := interner.New[ids.RelTypeID](0, 255)
	snap := New([]*memtable.Run{run2}, []*segment.Segment{seg}, labels, relTypes, im, Statistics{})

	assert.False(t, snap.NodeExists(1))
}

func TestExportProducesNeo4jShape(t *testing.T) {
	snap, _, _ := buildTestSnapshot(t)
	export, err := snap.Export()
	require.NoError(t, err)
	require.Len(t, export.Nodes, 2)
	require.Len(t, export.Edges, 1)
	assert.Equal(t, "KNOWS", export.Edges[0].Type)
}

func TestResolveLabelAndRelTypeID(t *testing.T) {
	snap, person, knows := buildTestSnapshot(t)

	id, ok := snap.ResolveLabelID("Person")
	require.True(t, ok)
	assert.Equal(t, person, id)

	rel, ok := snap.ResolveRelTypeID("KNOWS")
	require.True(t, ok)
	assert.Equal(t, knows, rel)

	_, ok = snap.ResolveLabelID("NoSuchLabel")
	assert.False(t, ok)
}

func TestNodeAndEdgePropertiesReturnFullMap(t *testing.T) {
	snap, _, knows := buildTestSnapshot(t)
	alice, _ := snap.ResolveExternal(1)
	bob, _ := snap.ResolveExternal(2)

	props := snap.NodeProperties(alice)
	require.Len(t, props, 1)
	assert.Equal(t, "Alice", props["name"].String())

	edgeProps := snap.EdgeProperties(ids.EdgeKey{Src: alice, Dst: bob, Rel: knows, Ord: 0})
	require.Len(t, edgeProps, 1)
	v, _ := edgeProps["since"].AsInt()
	assert.Equal(t, int64(2019), v)
}

func TestComputeStatistics(t *testing.T) {
	snap, person, knows := buildTestSnapshot(t)
	stats := ComputeStatistics(snap)
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 2, stats.LabelCounts[person])
	assert.Equal(t, 1, stats.RelTypeCounts[knows])
}
