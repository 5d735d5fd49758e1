package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/value"
)

func TestCreateThenDeleteCancelsOut(t *testing.T) {
	mt := New()
	mt.CreateNode(1)
	mt.DeleteNode(1)

	exists, touched := mt.NodeExists(1)
	require.True(t, touched)
	assert.False(t, exists)
}

func TestSetPropertyCarriedIntoFrozenRun(t *testing.T) {
	mt := New()
	mt.CreateNode(1)
	mt.SetNodeProperty(1, "name", value.Text("Ada"))

	run := Freeze(mt, 1)
	assert.Contains(t, run.LiveNodes, ids.NodeID(1))
	got := run.NodeProps[1]["name"]
	assert.True(t, value.Equal(value.Text("Ada"), got))
}

func TestFreezeSortsAdjacency(t *testing.T) {
	mt := New()
	mt.CreateEdge(ids.EdgeKey{Src: 1, Dst: 3, Rel: 0, Ord: 0})
	mt.CreateEdge(ids.EdgeKey{Src: 1, Dst: 2, Rel: 0, Ord: 0})

	run := Freeze(mt, 1)
	bucket := run.OutAdj[1]
	require.Len(t, bucket, 2)
	assert.Equal(t, ids.NodeID(2), bucket[0].Dst)
	assert.Equal(t, ids.NodeID(3), bucket[1].Dst)
}

func TestIsEmpty(t *testing.T) {
	mt := New()
	assert.True(t, mt.IsEmpty())
	mt.CreateNode(1)
	assert.False(t, mt.IsEmpty())
}

func TestDeleteEdgeProducesTombstone(t *testing.T) {
	mt := New()
	key := ids.EdgeKey{Src: 1, Dst: 2, Rel: 0, Ord: 0}
	mt.CreateEdge(key)
	mt.DeleteEdge(key)

	run := Freeze(mt, 1)
	assert.Contains(t, run.TombstoneEdges, key)
	assert.Empty(t, run.OutAdj[1])
}
