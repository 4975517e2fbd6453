// Package vectorindex implements the Vector Index (§4.D): it stores
// (chunk, vector, session, message, ordinal) rows via a store.VectorBackend
// and layers similarity search, neighborhood expansion, composite
// relevance scoring, and diversity selection on top. Exact search is
// used throughout — acceptable at the scale this engine targets
// (≤10^5 chunks per session); an approximate index is out of scope.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"strings"

	"convomem/model"
	"convomem/store"
)

// Config controls the composite relevance score and diversity filter.
// The 0.7/0.3 weighting and δ=0.9 diversity threshold were tuned
// empirically upstream and are kept configurable rather than hardcoded.
type Config struct {
	CosineWeight       float64
	ContentWeight      float64
	DiversityThreshold float64
}

// DefaultConfig mirrors the spec's example weights.
func DefaultConfig() Config {
	return Config{CosineWeight: 0.7, ContentWeight: 0.3, DiversityThreshold: 0.9}
}

// Scored pairs a chunk with its relevance score.
type Scored struct {
	Chunk *model.ChunkEmbedding
	Score float64
}

// Index is the Vector Index component, backed by a store.VectorBackend.
type Index struct {
	backend store.VectorBackend
	cfg     Config
}

// New builds a Vector Index over backend.
func New(backend store.VectorBackend, cfg Config) *Index {
	if cfg.CosineWeight == 0 && cfg.ContentWeight == 0 {
		cfg = DefaultConfig()
	}
	return &Index{backend: backend, cfg: cfg}
}

// PutBatch appends chunk rows with vectors, validating the canonical
// dimension before insert.
func (idx *Index) PutBatch(ctx context.Context, chunks []*model.ChunkEmbedding) error {
	for _, c := range chunks {
		if !c.Pending() && len(c.Vector) != model.EmbeddingDimension {
			return model.NewError(model.KindBadInput, "chunk vector has wrong dimension", nil)
		}
	}
	return idx.backend.PutBatch(ctx, chunks)
}

// SearchInSession returns the top-K chunks in sessionID by cosine
// similarity to queryVector, optionally excluding chunks belonging to
// excludeMessageID (used to keep the current user turn out of its own
// retrieved context).
func (idx *Index) SearchInSession(ctx context.Context, sessionID string, queryVector []float32, k int, excludeMessageID string) ([]Scored, error) {
	chunks, err := idx.backend.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying session chunks", err)
	}
	candidates := filterCandidates(chunks, excludeMessageID)
	return topK(candidates, queryVector, "", idx.cfg, k), nil
}

// SearchGlobal returns the top-K chunks across all sessions.
func (idx *Index) SearchGlobal(ctx context.Context, queryVector []float32, k int) ([]Scored, error) {
	chunks, err := idx.backend.QueryAll(ctx)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying all chunks", err)
	}
	return topK(chunks, queryVector, "", idx.cfg, k), nil
}

// SearchWithThreshold returns every chunk in sessionID scoring at least
// tau against queryVector, in descending score order.
func (idx *Index) SearchWithThreshold(ctx context.Context, sessionID string, queryVector []float32, tau float64) ([]Scored, error) {
	chunks, err := idx.backend.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying session chunks", err)
	}
	scored := scoreAll(chunks, queryVector, "", idx.cfg)
	sortScored(scored)

	out := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Score >= tau {
			out = append(out, s)
		}
	}
	return out, nil
}

// SearchByQueryText runs SearchInSession but additionally folds lexical
// overlap with queryText into the composite relevance score, matching
// the spec's 0.7·cosine + 0.3·content formula. queryVector must already
// be the embedding of queryText.
func (idx *Index) SearchByQueryText(ctx context.Context, sessionID string, queryVector []float32, queryText string, k int, excludeMessageID string) ([]Scored, error) {
	chunks, err := idx.backend.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying session chunks", err)
	}
	candidates := filterCandidates(chunks, excludeMessageID)
	return topK(candidates, queryVector, queryText, idx.cfg, k), nil
}

// GetNeighbors returns messageID's chunks in [chunkIndex-before,
// chunkIndex+after], clamped to existing ordinals, ascending order.
func (idx *Index) GetNeighbors(ctx context.Context, messageID string, chunkIndex, before, after int) ([]*model.ChunkEmbedding, error) {
	chunks, err := idx.backend.GetByMessage(ctx, messageID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying message chunks", err)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	lo, hi := chunkIndex-before, chunkIndex+after
	out := make([]*model.ChunkEmbedding, 0, len(chunks))
	for _, c := range chunks {
		if c.ChunkIndex >= lo && c.ChunkIndex <= hi {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteBySession removes all chunks for sessionID.
func (idx *Index) DeleteBySession(ctx context.Context, sessionID string) error {
	return idx.backend.DeleteBySession(ctx, sessionID)
}

// DeleteByMessage removes all chunks for messageID (used by idempotent
// reprocessing before reinserting a message's fresh chunk set).
func (idx *Index) DeleteByMessage(ctx context.Context, messageID string) error {
	return idx.backend.DeleteByMessage(ctx, messageID)
}

// CountBySession returns the chunk count for sessionID.
func (idx *Index) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return idx.backend.CountBySession(ctx, sessionID)
}

// Statistics returns the chunk count per session across the whole
// index, for the /vector/statistics endpoint and its graph view.
func (idx *Index) Statistics(ctx context.Context) (map[string]int, error) {
	chunks, err := idx.backend.QueryAll(ctx)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying vector statistics", err)
	}
	counts := make(map[string]int)
	for _, c := range chunks {
		counts[c.SessionID]++
	}
	return counts, nil
}

// GetByMessage returns messageID's chunks ordered by ChunkIndex.
func (idx *Index) GetByMessage(ctx context.Context, messageID string) ([]*model.ChunkEmbedding, error) {
	chunks, err := idx.backend.GetByMessage(ctx, messageID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed querying message chunks", err)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// DiversityFilter greedily drops a candidate whose cosine similarity to
// any already-selected candidate exceeds cfg.DiversityThreshold, up to
// maxKept results. Candidates must already be sorted by descending score.
func (idx *Index) DiversityFilter(candidates []Scored, maxKept int) []Scored {
	kept := make([]Scored, 0, maxKept)
	for _, cand := range candidates {
		if maxKept > 0 && len(kept) >= maxKept {
			break
		}
		tooSimilar := false
		for _, k := range kept {
			if cosine(cand.Chunk.Vector, k.Chunk.Vector) > idx.cfg.DiversityThreshold {
				tooSimilar = true
				break
			}
		}
		if !tooSimilar {
			kept = append(kept, cand)
		}
	}
	return kept
}

func filterCandidates(chunks []*model.ChunkEmbedding, excludeMessageID string) []*model.ChunkEmbedding {
	if excludeMessageID == "" {
		return chunks
	}
	out := make([]*model.ChunkEmbedding, 0, len(chunks))
	for _, c := range chunks {
		if c.MessageID != excludeMessageID {
			out = append(out, c)
		}
	}
	return out
}

func topK(chunks []*model.ChunkEmbedding, queryVector []float32, queryText string, cfg Config, k int) []Scored {
	scored := scoreAll(chunks, queryVector, queryText, cfg)
	sortScored(scored)
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func scoreAll(chunks []*model.ChunkEmbedding, queryVector []float32, queryText string, cfg Config) []Scored {
	scored := make([]Scored, 0, len(chunks))
	for _, c := range chunks {
		if c.Pending() {
			continue
		}
		cos := cosine(queryVector, c.Vector)
		score := cos
		if queryText != "" {
			content := jaccard(queryText, c.Text)
			score = cfg.CosineWeight*cos + cfg.ContentWeight*content
		}
		scored = append(scored, Scored{Chunk: c, Score: score})
	}
	return scored
}

// sortScored orders by descending score, ties broken by recency (higher
// timestamp wins) then chunkID ascending.
func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Chunk.Timestamp.Equal(scored[j].Chunk.Timestamp) {
			return scored[i].Chunk.Timestamp.After(scored[j].Chunk.Timestamp)
		}
		return scored[i].Chunk.ChunkID < scored[j].Chunk.ChunkID
	})
}

// cosine computes the cosine similarity of two vectors. It returns 0 if
// either vector is zero-length or zero-norm.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jaccard computes a token-set Jaccard similarity between two strings,
// a lightweight stand-in for lexical overlap in the composite score.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
