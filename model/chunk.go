package model

import "time"

// EmbeddingDimension is the canonical vector dimension, a process
// constant shared by the Embedding Client and the Vector Index.
const EmbeddingDimension = 768

// ChunkEmbedding is one indexed text fragment. Vector is nil while the
// chunk is "pending-embedding"; once embedded it always has exactly
// EmbeddingDimension components. (MessageID, ChunkIndex) is unique.
type ChunkEmbedding struct {
	ChunkID    string
	MessageID  string
	SessionID  string
	ChunkIndex int
	Text       string
	Vector     []float32
	Timestamp  time.Time
}

// Pending reports whether this chunk is still awaiting its embedding.
func (c *ChunkEmbedding) Pending() bool {
	return len(c.Vector) == 0
}
