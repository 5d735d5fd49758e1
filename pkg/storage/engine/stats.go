package engine

import (
	"github.com/ysankpia/nervusdb/pkg/storage/ids"
	"github.com/ysankpia/nervusdb/pkg/storage/memtable"
	"github.com/ysankpia/nervusdb/pkg/storage/snapshot"
)

// statsAfterCommit derives the Statistics for a just-committed Run from
// the pre-transaction snapshot's counts, touching only the nodes and
// edges that run actually created, deleted, or relabeled instead of
// re-walking the whole graph (SPEC_FULL.md §12, the same
// incremental-counter idiom the teacher's SchemaManager index tracking
// uses for its own label/property indexes). base is the snapshot the
// transaction started from; after is a view over the just-published
// runs/segments used only to resolve what each touched id/key looks
// like post-commit.
func statsAfterCommit(base, after *snapshot.Snapshot, run *memtable.Run) snapshot.Statistics {
	stats := cloneStats(base.Statistics())

	touchedNodes := make(map[ids.NodeID]struct{}, len(run.LiveNodes)+len(run.TombstoneNodes)+len(run.NodeLabels))
	for id := range run.LiveNodes {
		touchedNodes[id] = struct{}{}
	}
	for id := range run.TombstoneNodes {
		touchedNodes[id] = struct{}{}
	}
	for id := range run.NodeLabels {
		touchedNodes[id] = struct{}{}
	}

	for id := range touchedNodes {
		existedBefore := base.NodeExists(id)
		existsAfter := after.NodeExists(id)
		switch {
		case !existedBefore && existsAfter:
			stats.NodeCount++
		case existedBefore && !existsAfter:
			stats.NodeCount--
		}

		var labelsBefore, labelsAfter []ids.LabelID
		if existedBefore {
			labelsBefore = base.NodeLabels(id)
		}
		if existsAfter {
			labelsAfter = after.NodeLabels(id)
		}
		adjustLabelCounts(stats.LabelCounts, labelsBefore, labelsAfter)
	}

	touchedEdges := make(map[ids.EdgeKey]struct{}, len(run.TombstoneEdges))
	for _, bucket := range run.OutAdj {
		for _, key := range bucket {
			touchedEdges[key] = struct{}{}
		}
	}
	for key := range run.TombstoneEdges {
		touchedEdges[key] = struct{}{}
	}

	for key := range touchedEdges {
		existedBefore := base.EdgeExists(key)
		existsAfter := after.EdgeExists(key)
		switch {
		case !existedBefore && existsAfter:
			stats.EdgeCount++
			stats.RelTypeCounts[key.Rel]++
		case existedBefore && !existsAfter:
			stats.EdgeCount--
			decrementRelType(stats.RelTypeCounts, key.Rel)
		}
	}

	return stats
}

// cloneStats deep-copies a Statistics so a new published Snapshot never
// shares mutable count maps with an older one a reader might still
// hold.
func cloneStats(s snapshot.Statistics) snapshot.Statistics {
	out := snapshot.Statistics{
		NodeCount:     s.NodeCount,
		EdgeCount:     s.EdgeCount,
		LabelCounts:   make(map[ids.LabelID]int, len(s.LabelCounts)),
		RelTypeCounts: make(map[ids.RelTypeID]int, len(s.RelTypeCounts)),
	}
	for k, v := range s.LabelCounts {
		out.LabelCounts[k] = v
	}
	for k, v := range s.RelTypeCounts {
		out.RelTypeCounts[k] = v
	}
	return out
}

func adjustLabelCounts(counts map[ids.LabelID]int, before, after []ids.LabelID) {
	beforeSet := labelSet(before)
	afterSet := labelSet(after)
	for l := range afterSet {
		if _, had := beforeSet[l]; !had {
			counts[l]++
		}
	}
	for l := range beforeSet {
		if _, has := afterSet[l]; !has {
			decrementLabel(counts, l)
		}
	}
}

func labelSet(labels []ids.LabelID) map[ids.LabelID]struct{} {
	set := make(map[ids.LabelID]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

func decrementLabel(counts map[ids.LabelID]int, l ids.LabelID) {
	counts[l]--
	if counts[l] <= 0 {
		delete(counts, l)
	}
}

func decrementRelType(counts map[ids.RelTypeID]int, r ids.RelTypeID) {
	counts[r]--
	if counts[r] <= 0 {
		delete(counts, r)
	}
}
