package store

import (
	"context"
	"sort"
	"sync"

	"convomem/model"
)

// VectorBackend is the relational capability the Vector Index (§4.D)
// builds its similarity search on: insert (a row with the same key
// replaces the stored one), delete, and listing by session or message. It holds raw rows — cosine scoring,
// neighborhood expansion, and diversity filtering live in the
// vectorindex package, not here.
type VectorBackend interface {
	PutBatch(ctx context.Context, chunks []*model.ChunkEmbedding) error
	QueryBySession(ctx context.Context, sessionID string) ([]*model.ChunkEmbedding, error)
	QueryAll(ctx context.Context) ([]*model.ChunkEmbedding, error)
	GetByMessage(ctx context.Context, messageID string) ([]*model.ChunkEmbedding, error)
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteByMessage(ctx context.Context, messageID string) error
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// MemoryVectorBackend is an in-memory VectorBackend, the default for
// tests and small deployments.
type MemoryVectorBackend struct {
	mu     sync.RWMutex
	chunks map[string]*model.ChunkEmbedding // by chunkID
}

// NewMemoryVectorBackend creates an empty in-memory VectorBackend.
func NewMemoryVectorBackend() *MemoryVectorBackend {
	return &MemoryVectorBackend{chunks: make(map[string]*model.ChunkEmbedding)}
}

// PutBatch appends chunks, keyed by ChunkID.
func (b *MemoryVectorBackend) PutBatch(_ context.Context, chunks []*model.ChunkEmbedding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range chunks {
		cp := *c
		b.chunks[c.ChunkID] = &cp
	}
	return nil
}

// QueryBySession returns every chunk belonging to sessionID.
func (b *MemoryVectorBackend) QueryBySession(_ context.Context, sessionID string) ([]*model.ChunkEmbedding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.ChunkEmbedding, 0)
	for _, c := range b.chunks {
		if c.SessionID == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageID == out[j].MessageID {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out, nil
}

// QueryAll returns every chunk across all sessions, for global search.
func (b *MemoryVectorBackend) QueryAll(_ context.Context) ([]*model.ChunkEmbedding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.ChunkEmbedding, 0, len(b.chunks))
	for _, c := range b.chunks {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// GetByMessage returns messageID's chunks ordered by ChunkIndex ascending.
func (b *MemoryVectorBackend) GetByMessage(_ context.Context, messageID string) ([]*model.ChunkEmbedding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.ChunkEmbedding, 0)
	for _, c := range b.chunks {
		if c.MessageID == messageID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// DeleteBySession removes every chunk belonging to sessionID.
func (b *MemoryVectorBackend) DeleteBySession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.chunks {
		if c.SessionID == sessionID {
			delete(b.chunks, id)
		}
	}
	return nil
}

// DeleteByMessage removes every chunk belonging to messageID, used by
// idempotent reprocessing to clear stale chunks before reinserting.
func (b *MemoryVectorBackend) DeleteByMessage(_ context.Context, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.chunks {
		if c.MessageID == messageID {
			delete(b.chunks, id)
		}
	}
	return nil
}

// CountBySession returns the number of chunks stored for sessionID.
func (b *MemoryVectorBackend) CountBySession(_ context.Context, sessionID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.chunks {
		if c.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}
