package vectorindex

import (
	"context"
	"testing"
	"time"

	"convomem/model"
	"convomem/store"
)

func unit(x float32, n int) []float32 {
	v := make([]float32, n)
	v[0] = x
	return v
}

func TestCosineRange(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := cosine(a, b); got != 1.0 {
		t.Fatalf("identical vectors: expected 1.0, got %v", got)
	}

	c := []float32{0, 1, 0}
	if got := cosine(a, c); got != 0.0 {
		t.Fatalf("orthogonal vectors: expected 0.0, got %v", got)
	}

	d := []float32{-1, 0, 0}
	if got := cosine(a, d); got != -1.0 {
		t.Fatalf("opposite vectors: expected -1.0, got %v", got)
	}
}

func seedChunk(id, sessionID, messageID string, idx int, vec []float32, ts time.Time) *model.ChunkEmbedding {
	return &model.ChunkEmbedding{
		ChunkID: id, SessionID: sessionID, MessageID: messageID,
		ChunkIndex: idx, Text: "hello world", Vector: vec, Timestamp: ts,
	}
}

func TestSearchInSessionExcludesMessage(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	ctx := context.Background()
	now := time.Now()

	chunks := []*model.ChunkEmbedding{
		seedChunk("c1", "s1", "m1", 0, unit(1, 8), now),
		seedChunk("c2", "s1", "m2", 0, unit(1, 8), now.Add(time.Second)),
	}
	if err := backend.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	idx := New(backend, DefaultConfig())
	results, err := idx.SearchInSession(ctx, "s1", unit(1, 8), 10, "m1")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.MessageID != "m2" {
		t.Fatalf("expected only m2's chunk, got %+v", results)
	}
}

func TestSearchGlobalSpansSessions(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	ctx := context.Background()
	now := time.Now()

	chunks := []*model.ChunkEmbedding{
		seedChunk("c1", "s1", "m1", 0, unit(1, 8), now),
		seedChunk("c2", "s2", "m2", 0, unit(1, 8), now),
	}
	if err := backend.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	idx := New(backend, DefaultConfig())
	results, err := idx.SearchGlobal(ctx, unit(1, 8), 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected chunks from both sessions, got %d", len(results))
	}
}

func TestSearchWithThresholdFiltersLowScores(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	ctx := context.Background()
	now := time.Now()

	chunks := []*model.ChunkEmbedding{
		seedChunk("c1", "s1", "m1", 0, unit(1, 8), now),
		seedChunk("c2", "s1", "m2", 0, []float32{0, 1, 0, 0, 0, 0, 0, 0}, now),
	}
	if err := backend.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	idx := New(backend, DefaultConfig())
	results, err := idx.SearchWithThreshold(ctx, "s1", unit(1, 8), 0.5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ChunkID != "c1" {
		t.Fatalf("expected only c1 above threshold, got %+v", results)
	}
}

func TestGetNeighborsClampsRange(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	ctx := context.Background()
	now := time.Now()

	chunks := []*model.ChunkEmbedding{
		seedChunk("c0", "s1", "m1", 0, unit(1, 4), now),
		seedChunk("c1", "s1", "m1", 1, unit(1, 4), now),
		seedChunk("c2", "s1", "m1", 2, unit(1, 4), now),
	}
	if err := backend.PutBatch(ctx, chunks); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	idx := New(backend, DefaultConfig())
	neighbors, err := idx.GetNeighbors(ctx, "m1", 1, 5, 5)
	if err != nil {
		t.Fatalf("get neighbors failed: %v", err)
	}
	if len(neighbors) != 3 {
		t.Fatalf("expected all 3 chunks within clamped range, got %d", len(neighbors))
	}
}

func TestDiversityFilterDropsNearDuplicates(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	idx := New(backend, Config{CosineWeight: 0.7, ContentWeight: 0.3, DiversityThreshold: 0.99})

	candidates := []Scored{
		{Chunk: seedChunk("c1", "s1", "m1", 0, unit(1, 4), time.Now()), Score: 1.0},
		{Chunk: seedChunk("c2", "s1", "m2", 0, unit(1, 4), time.Now()), Score: 0.9},
		{Chunk: seedChunk("c3", "s1", "m3", 0, []float32{0, 1, 0, 0}, time.Now()), Score: 0.5},
	}

	kept := idx.DiversityFilter(candidates, 10)
	if len(kept) != 2 {
		t.Fatalf("expected near-duplicate c2 dropped, got %d results", len(kept))
	}
	if kept[0].Chunk.ChunkID != "c1" || kept[1].Chunk.ChunkID != "c3" {
		t.Fatalf("unexpected survivors: %+v", kept)
	}
}
