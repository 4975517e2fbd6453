package retriever

import (
	"context"
	"testing"
	"time"

	"convomem/model"
	"convomem/store"
	"convomem/vectorindex"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func seed(backend *store.MemoryVectorBackend, id, sessionID, messageID string, idx int, vec []float32, text string) {
	_ = backend.PutBatch(context.Background(), []*model.ChunkEmbedding{{
		ChunkID: id, SessionID: sessionID, MessageID: messageID,
		ChunkIndex: idx, Text: text, Vector: vec, Timestamp: time.Now(),
	}})
}

func TestRetrieveEmptySessionReturnsEmpty(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	idx := vectorindex.New(backend, vectorindex.DefaultConfig())
	r := New(&fakeEmbedder{vector: []float32{1, 0, 0, 0}}, idx)

	groups, err := r.Retrieve(context.Background(), "hello", "s1", "m0", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups for empty session, got %d", len(groups))
	}
}

func TestRetrievePropagatesEmbeddingFailure(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	idx := vectorindex.New(backend, vectorindex.DefaultConfig())
	boom := model.NewError(model.KindEmbeddingUnavailable, "down", nil)
	r := New(&fakeEmbedder{err: boom}, idx)

	_, err := r.Retrieve(context.Background(), "hello", "s1", "m0", DefaultConfig())
	if model.KindOf(err) != model.KindEmbeddingUnavailable {
		t.Fatalf("expected EMBEDDING_UNAVAILABLE, got %v", err)
	}
}

func TestRetrieveExpandsNeighborhood(t *testing.T) {
	backend := store.NewMemoryVectorBackend()
	vec := []float32{1, 0, 0, 0}
	seed(backend, "c0", "s1", "m1", 0, vec, "alpha")
	seed(backend, "c1", "s1", "m1", 1, vec, "beta")
	seed(backend, "c2", "s1", "m1", 2, vec, "gamma")

	idx := vectorindex.New(backend, vectorindex.DefaultConfig())
	r := New(&fakeEmbedder{vector: vec}, idx)

	cfg := DefaultConfig()
	cfg.Strategy = StrategyFixed
	cfg.ChunksBefore, cfg.ChunksAfter = 1, 1
	cfg.SimilarityThreshold = 0

	groups, err := r.Retrieve(context.Background(), "alpha", "s1", "", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) == 0 {
		t.Fatalf("expected at least one expanded group")
	}
	if len(groups[0].Chunks) < 2 {
		t.Fatalf("expected neighborhood expansion, got %d chunks", len(groups[0].Chunks))
	}
}
