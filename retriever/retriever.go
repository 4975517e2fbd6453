// Package retriever implements the Context Retriever (§4.H): it embeds
// the current user message, asks the Vector Index for similar chunks,
// expands each hit into its message-local neighborhood, and applies one
// of three configurable strategies (FIXED, ADAPTIVE, INTELLIGENT) to
// decide how aggressively to widen that neighborhood.
package retriever

import (
	"context"
	"sort"
	"strings"

	"convomem/embedclient"
	"convomem/model"
	"convomem/vectorindex"
)

// Strategy selects how aggressively the retriever expands hits.
type Strategy string

const (
	StrategyFixed        Strategy = "FIXED"
	StrategyAdaptive     Strategy = "ADAPTIVE"
	StrategyIntelligent  Strategy = "INTELLIGENT"
)

// Config is fully overridable per call.
type Config struct {
	Strategy                 Strategy
	ChunksBefore             int
	ChunksAfter              int
	MaxSimilar               int
	SimilarityThreshold      float64
	MaxPerGroup              int
	AdaptiveQualityThreshold float64
	AdaptiveExpansionFactor  float64
	DuplicateOverlapThreshold float64 // δ for INTELLIGENT's duplicate-drop
	MaxExpansionFactor       float64 // cap on cumulative expansion
}

// DefaultConfig mirrors the spec's example defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:                  StrategyAdaptive,
		ChunksBefore:              2,
		ChunksAfter:               2,
		MaxSimilar:                5,
		SimilarityThreshold:       0.3,
		MaxPerGroup:               5,
		AdaptiveQualityThreshold:  0.7,
		AdaptiveExpansionFactor:   1.5,
		DuplicateOverlapThreshold: 0.85,
		MaxExpansionFactor:        4,
	}
}

// ExpandedGroup is the neighborhood of chunks around one similarity hit,
// keyed by the message the hit belongs to.
type ExpandedGroup struct {
	MessageID string
	Chunks    []*model.ChunkEmbedding // ascending chunkIndex order
	HitScore  float64
}

// Retriever wraps an Embedder and a Vector Index to produce Expanded
// Groups for a user turn.
type Retriever struct {
	embedder embedclient.Embedder
	index    *vectorindex.Index
}

// New builds a Retriever.
func New(embedder embedclient.Embedder, index *vectorindex.Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve runs the full retrieval pipeline for userMessage in
// sessionID, excluding currentMessageID's own chunks from candidates.
// An embedding failure propagates as EMBEDDING_UNAVAILABLE; the caller
// decides whether to continue with no retrieved context.
func (r *Retriever) Retrieve(ctx context.Context, userMessage, sessionID, currentMessageID string, cfg Config) ([]ExpandedGroup, error) {
	queryVector, err := r.embedder.Embed(ctx, userMessage)
	if err != nil {
		return nil, err
	}

	groups, err := r.expand(ctx, sessionID, userMessage, queryVector, currentMessageID, cfg.ChunksBefore, cfg.ChunksAfter, cfg)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	switch cfg.Strategy {
	case StrategyAdaptive, StrategyIntelligent:
		groups = r.maybeExpandAdaptively(ctx, sessionID, userMessage, queryVector, currentMessageID, groups, cfg)
	}

	if cfg.Strategy == StrategyIntelligent {
		groups = dropDuplicates(groups, cfg.DuplicateOverlapThreshold)
	}

	for i := range groups {
		groups[i].Chunks = capCentered(groups[i].Chunks, cfg.MaxPerGroup)
	}

	return groups, nil
}

func (r *Retriever) expand(ctx context.Context, sessionID, userMessage string, queryVector []float32, excludeMessageID string, before, after int, cfg Config) ([]ExpandedGroup, error) {
	hits, err := r.index.SearchByQueryText(ctx, sessionID, queryVector, userMessage, cfg.MaxSimilar, excludeMessageID)
	if err != nil {
		return nil, err
	}

	groups := make([]ExpandedGroup, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < cfg.SimilarityThreshold {
			continue
		}
		neighbors, err := r.index.GetNeighbors(ctx, hit.Chunk.MessageID, hit.Chunk.ChunkIndex, before, after)
		if err != nil {
			return nil, err
		}
		if len(neighbors) == 0 {
			neighbors = []*model.ChunkEmbedding{hit.Chunk}
		}
		groups = append(groups, ExpandedGroup{
			MessageID: hit.Chunk.MessageID,
			Chunks:    neighbors,
			HitScore:  hit.Score,
		})
	}
	return groups, nil
}

// maybeExpandAdaptively widens the neighborhood and re-expands if the
// mean hit score across groups is below the quality threshold,
// multiplying chunksBefore/After by the expansion factor, capped by
// MaxExpansionFactor.
func (r *Retriever) maybeExpandAdaptively(ctx context.Context, sessionID, userMessage string, queryVector []float32, excludeMessageID string, groups []ExpandedGroup, cfg Config) []ExpandedGroup {
	if meanScore(groups) >= cfg.AdaptiveQualityThreshold || cfg.AdaptiveExpansionFactor <= 1 {
		return groups
	}

	factor := cfg.AdaptiveExpansionFactor
	maxFactor := cfg.MaxExpansionFactor
	if maxFactor <= 0 {
		maxFactor = 4
	}
	if factor > maxFactor {
		factor = maxFactor
	}

	before := capFactor(cfg.ChunksBefore, factor, maxFactor)
	after := capFactor(cfg.ChunksAfter, factor, maxFactor)

	widened, err := r.expand(ctx, sessionID, userMessage, queryVector, excludeMessageID, before, after, cfg)
	if err != nil || len(widened) == 0 {
		return groups
	}
	return widened
}

func capFactor(base int, factor, maxFactor float64) int {
	widened := float64(base) * factor
	cap := float64(base) * maxFactor
	if widened > cap {
		widened = cap
	}
	if widened < float64(base) {
		widened = float64(base)
	}
	return int(widened)
}

func meanScore(groups []ExpandedGroup) float64 {
	if len(groups) == 0 {
		return 0
	}
	var sum float64
	for _, g := range groups {
		sum += g.HitScore
	}
	return sum / float64(len(groups))
}

// dropDuplicates removes groups whose combined text duplicates an
// already-kept group's combined text by at least threshold lexical
// overlap (token-set Jaccard), keeping the higher-scoring group of
// each duplicate pair. Groups are processed in descending score order
// so the retained one is always the best-scoring of its duplicate set.
func dropDuplicates(groups []ExpandedGroup, threshold float64) []ExpandedGroup {
	ordered := make([]ExpandedGroup, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].HitScore > ordered[j].HitScore })

	kept := make([]ExpandedGroup, 0, len(ordered))
	keptText := make([]string, 0, len(ordered))
	for _, g := range ordered {
		text := combinedText(g.Chunks)
		dup := false
		for _, existing := range keptText {
			if jaccard(text, existing) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, g)
			keptText = append(keptText, text)
		}
	}
	return kept
}

func combinedText(chunks []*model.ChunkEmbedding) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
		b.WriteString(" ")
	}
	return b.String()
}

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

// capCentered trims chunks to at most maxPerGroup entries, keeping the
// run centered on the group's midpoint (approximating "centered on the
// hit" since chunks are already the hit's local neighborhood).
func capCentered(chunks []*model.ChunkEmbedding, maxPerGroup int) []*model.ChunkEmbedding {
	if maxPerGroup <= 0 || len(chunks) <= maxPerGroup {
		return chunks
	}
	excess := len(chunks) - maxPerGroup
	trimFront := excess / 2
	trimBack := excess - trimFront
	return chunks[trimFront : len(chunks)-trimBack]
}
