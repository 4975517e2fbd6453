// Package merger implements the Group Merger (§4.I): it merges
// overlapping or adjacent Expanded Groups from the same message into a
// single Context Group, then enforces total-chunk and group-count caps.
package merger

import (
	"sort"
	"time"

	"convomem/model"
	"convomem/retriever"
)

// ContextGroup is the result of merging one or more Expanded Groups
// belonging to the same message.
type ContextGroup struct {
	MessageID        string
	Chunks           []*model.ChunkEmbedding // sorted union, ascending chunkIndex
	Score            float64                 // highest originating hit score
	EarliestTimestamp time.Time
	LatestTimestamp   time.Time
}

// Config caps the merged output.
type Config struct {
	MaxTotalChunks int
	MaxGroups      int
}

// DefaultConfig mirrors the spec's example defaults.
func DefaultConfig() Config {
	return Config{MaxTotalChunks: 20, MaxGroups: 3}
}

// Merge combines groups (all from the same session) into Context
// Groups, sorted by EarliestTimestamp ascending so prompt order matches
// conversation order, then applies the caps in cfg. Two Expanded Groups
// only merge into the same Context Group when they share a messageId
// AND their chunk-index ranges overlap or are adjacent; disjoint ranges
// for the same message stay as separate Context Groups.
func Merge(groups []retriever.ExpandedGroup, cfg Config) []ContextGroup {
	byMessage := make(map[string][]retriever.ExpandedGroup)
	order := make([]string, 0)
	for _, g := range groups {
		if _, seen := byMessage[g.MessageID]; !seen {
			order = append(order, g.MessageID)
		}
		byMessage[g.MessageID] = append(byMessage[g.MessageID], g)
	}

	merged := make([]ContextGroup, 0, len(order))
	for _, messageID := range order {
		merged = append(merged, mergeMessageGroups(messageID, byMessage[messageID])...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].EarliestTimestamp.Before(merged[j].EarliestTimestamp)
	})

	merged = enforceGroupCap(merged, cfg.MaxGroups)
	merged = enforceTotalChunkCap(merged, cfg.MaxTotalChunks)
	return merged
}

// clusterAcc accumulates the Expanded Groups merging into one Context
// Group, tracking the highest chunkIndex seen so far for the adjacency
// check against the next candidate group.
type clusterAcc struct {
	groups []retriever.ExpandedGroup
	maxIdx int
}

// mergeMessageGroups clusters messageID's Expanded Groups by chunk-index
// adjacency (gap <= 1 between a group's lowest index and the running
// cluster's highest), then builds one Context Group per cluster.
func mergeMessageGroups(messageID string, groups []retriever.ExpandedGroup) []ContextGroup {
	sort.SliceStable(groups, func(i, j int) bool {
		mi, _ := groupRange(groups[i])
		mj, _ := groupRange(groups[j])
		return mi < mj
	})

	var clusters []clusterAcc
	for _, g := range groups {
		gMin, gMax := groupRange(g)
		if n := len(clusters); n > 0 && gMin <= clusters[n-1].maxIdx+1 {
			clusters[n-1].groups = append(clusters[n-1].groups, g)
			if gMax > clusters[n-1].maxIdx {
				clusters[n-1].maxIdx = gMax
			}
			continue
		}
		clusters = append(clusters, clusterAcc{groups: []retriever.ExpandedGroup{g}, maxIdx: gMax})
	}

	out := make([]ContextGroup, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, buildContextGroup(messageID, c.groups))
	}
	return out
}

// groupRange returns an Expanded Group's lowest and highest chunkIndex.
func groupRange(g retriever.ExpandedGroup) (int, int) {
	if len(g.Chunks) == 0 {
		return 0, 0
	}
	return g.Chunks[0].ChunkIndex, g.Chunks[len(g.Chunks)-1].ChunkIndex
}

func buildContextGroup(messageID string, groups []retriever.ExpandedGroup) ContextGroup {
	byIndex := make(map[int]*model.ChunkEmbedding)
	var bestScore float64
	for _, g := range groups {
		if g.HitScore > bestScore {
			bestScore = g.HitScore
		}
		for _, c := range g.Chunks {
			byIndex[c.ChunkIndex] = c
		}
	}

	chunks := make([]*model.ChunkEmbedding, 0, len(byIndex))
	for _, c := range byIndex {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	earliest, latest := chunks[0].Timestamp, chunks[0].Timestamp
	for _, c := range chunks[1:] {
		if c.Timestamp.Before(earliest) {
			earliest = c.Timestamp
		}
		if c.Timestamp.After(latest) {
			latest = c.Timestamp
		}
	}

	return ContextGroup{
		MessageID:         messageID,
		Chunks:            chunks,
		Score:             bestScore,
		EarliestTimestamp: earliest,
		LatestTimestamp:   latest,
	}
}

// enforceGroupCap drops lowest-scoring whole groups last, i.e. keeps the
// maxGroups highest-scoring groups, then restores earliest-first order.
// Groups are identified by position, not messageId, since one message
// can now contribute more than one disjoint Context Group.
func enforceGroupCap(groups []ContextGroup, maxGroups int) []ContextGroup {
	if maxGroups <= 0 || len(groups) <= maxGroups {
		return groups
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return groups[order[i]].Score > groups[order[j]].Score })

	keptIdx := make(map[int]bool, maxGroups)
	for _, idx := range order[:maxGroups] {
		keptIdx[idx] = true
	}
	out := make([]ContextGroup, 0, maxGroups)
	for i, g := range groups {
		if keptIdx[i] {
			out = append(out, g)
		}
	}
	return out
}

// enforceTotalChunkCap trims the lowest-scoring group's tail chunks
// first until the total chunk count across all groups is within budget.
func enforceTotalChunkCap(groups []ContextGroup, maxTotalChunks int) []ContextGroup {
	if maxTotalChunks <= 0 {
		return groups
	}

	total := func() int {
		n := 0
		for _, g := range groups {
			n += len(g.Chunks)
		}
		return n
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return groups[order[i]].Score < groups[order[j]].Score })

	for _, idx := range order {
		for total() > maxTotalChunks && len(groups[idx].Chunks) > 0 {
			groups[idx].Chunks = groups[idx].Chunks[:len(groups[idx].Chunks)-1]
		}
		if total() <= maxTotalChunks {
			break
		}
	}

	out := make([]ContextGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Chunks) > 0 {
			out = append(out, g)
		}
	}
	return out
}
