package merger

import (
	"testing"
	"time"

	"convomem/model"
	"convomem/retriever"
)

func chunk(messageID string, idx int, score float64, ts time.Time) *model.ChunkEmbedding {
	return &model.ChunkEmbedding{MessageID: messageID, ChunkIndex: idx, Timestamp: ts, Text: "x"}
}

func TestMergeOverlappingGroupsForSameMessage(t *testing.T) {
	base := time.Now()
	groups := []retriever.ExpandedGroup{
		{MessageID: "m1", HitScore: 0.9, Chunks: []*model.ChunkEmbedding{chunk("m1", 0, 0.9, base), chunk("m1", 1, 0.9, base.Add(time.Second))}},
		{MessageID: "m1", HitScore: 0.8, Chunks: []*model.ChunkEmbedding{chunk("m1", 1, 0.8, base.Add(time.Second)), chunk("m1", 2, 0.8, base.Add(2 * time.Second))}},
	}

	merged := Merge(groups, DefaultConfig())
	if len(merged) != 1 {
		t.Fatalf("expected groups for the same message to merge into one, got %d", len(merged))
	}
	if len(merged[0].Chunks) != 3 {
		t.Fatalf("expected sorted union of 3 chunks, got %d", len(merged[0].Chunks))
	}
	if merged[0].Chunks[0].ChunkIndex != 0 || merged[0].Chunks[2].ChunkIndex != 2 {
		t.Fatalf("expected ascending chunk index order, got %+v", merged[0].Chunks)
	}
}

func TestMergeOrdersByEarliestTimestamp(t *testing.T) {
	base := time.Now()
	groups := []retriever.ExpandedGroup{
		{MessageID: "m2", HitScore: 0.5, Chunks: []*model.ChunkEmbedding{chunk("m2", 0, 0.5, base.Add(10 * time.Second))}},
		{MessageID: "m1", HitScore: 0.5, Chunks: []*model.ChunkEmbedding{chunk("m1", 0, 0.5, base)}},
	}

	merged := Merge(groups, DefaultConfig())
	if merged[0].MessageID != "m1" || merged[1].MessageID != "m2" {
		t.Fatalf("expected earliest-first order, got %+v", merged)
	}
}

func TestMergeKeepsDisjointRangesForSameMessageSeparate(t *testing.T) {
	base := time.Now()
	groups := []retriever.ExpandedGroup{
		{MessageID: "m1", HitScore: 0.9, Chunks: []*model.ChunkEmbedding{chunk("m1", 0, 0.9, base), chunk("m1", 1, 0.9, base.Add(time.Second))}},
		{MessageID: "m1", HitScore: 0.7, Chunks: []*model.ChunkEmbedding{chunk("m1", 40, 0.7, base.Add(40 * time.Second)), chunk("m1", 41, 0.7, base.Add(41 * time.Second))}},
	}

	merged := Merge(groups, Config{MaxGroups: 10, MaxTotalChunks: 100})
	if len(merged) != 2 {
		t.Fatalf("expected disjoint chunk ranges to stay as separate groups, got %d", len(merged))
	}
	for _, g := range merged {
		if g.MessageID != "m1" {
			t.Fatalf("expected both groups to belong to m1, got %+v", g)
		}
		if len(g.Chunks) != 2 {
			t.Fatalf("expected each disjoint group to keep its own 2 chunks, got %d", len(g.Chunks))
		}
	}
}

func TestMergeEnforcesGroupCap(t *testing.T) {
	base := time.Now()
	groups := []retriever.ExpandedGroup{
		{MessageID: "m1", HitScore: 0.9, Chunks: []*model.ChunkEmbedding{chunk("m1", 0, 0.9, base)}},
		{MessageID: "m2", HitScore: 0.1, Chunks: []*model.ChunkEmbedding{chunk("m2", 0, 0.1, base.Add(time.Second))}},
		{MessageID: "m3", HitScore: 0.95, Chunks: []*model.ChunkEmbedding{chunk("m3", 0, 0.95, base.Add(2 * time.Second))}},
	}

	merged := Merge(groups, Config{MaxGroups: 2, MaxTotalChunks: 100})
	if len(merged) != 2 {
		t.Fatalf("expected group cap enforced, got %d", len(merged))
	}
	for _, g := range merged {
		if g.MessageID == "m2" {
			t.Fatalf("expected lowest-scoring group m2 dropped, got %+v", merged)
		}
	}
}

func TestMergeEnforcesTotalChunkCap(t *testing.T) {
	base := time.Now()
	groups := []retriever.ExpandedGroup{
		{MessageID: "m1", HitScore: 0.2, Chunks: []*model.ChunkEmbedding{
			chunk("m1", 0, 0.2, base), chunk("m1", 1, 0.2, base.Add(time.Second)), chunk("m1", 2, 0.2, base.Add(2 * time.Second)),
		}},
		{MessageID: "m2", HitScore: 0.9, Chunks: []*model.ChunkEmbedding{chunk("m2", 0, 0.9, base.Add(3 * time.Second))}},
	}

	merged := Merge(groups, Config{MaxGroups: 10, MaxTotalChunks: 2})
	total := 0
	for _, g := range merged {
		total += len(g.Chunks)
	}
	if total > 2 {
		t.Fatalf("expected total chunks trimmed to 2, got %d", total)
	}
	for _, g := range merged {
		if g.MessageID == "m2" && len(g.Chunks) == 0 {
			t.Fatalf("expected higher-scoring group m2 kept intact")
		}
	}
}
