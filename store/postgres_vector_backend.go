package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"convomem/model"
)

// PostgresVectorBackend persists chunk embeddings in Postgres with the
// pgvector extension, grounded on the retrieved vectorstore package's
// schema/upsert/query shape (conversation_id → session_id, document_id
// → message_id here) but exposing the generic VectorBackend capability
// rather than a domain-specific document store.
type PostgresVectorBackend struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresVectorBackend connects to Postgres and ensures the chunk
// table + ivfflat cosine index exist.
func NewPostgresVectorBackend(ctx context.Context, dsn string, maxConns int, dimension int) (*PostgresVectorBackend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	b := &PostgresVectorBackend{pool: pool, dimension: dimension}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the underlying connection pool.
func (b *PostgresVectorBackend) Close() {
	b.pool.Close()
}

func (b *PostgresVectorBackend) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	chunk_index INT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (message_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunk_embeddings_session_idx ON chunk_embeddings (session_id);
CREATE INDEX IF NOT EXISTS chunk_embeddings_message_idx ON chunk_embeddings (message_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema()
			AND indexname = 'chunk_embeddings_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunk_embeddings_embedding_idx ON chunk_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`
	_, err := b.pool.Exec(ctx, fmt.Sprintf(statements, b.dimension))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// ivfflat needs a minimum row count to build; the failure is
		// ignored and index creation is not attempted again.
		return nil
	}
	return err
}

// PutBatch inserts chunks, replacing any existing row with the same
// (message_id, chunk_index) so reprocessing is idempotent.
func (b *PostgresVectorBackend) PutBatch(ctx context.Context, chunks []*model.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if len(c.Vector) != b.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d got %d", b.dimension, len(c.Vector))
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, session_id, message_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (message_id, chunk_index) DO UPDATE
			SET chunk_id = EXCLUDED.chunk_id, content = EXCLUDED.content, embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at
		`, c.ChunkID, c.SessionID, c.MessageID, c.ChunkIndex, c.Text, pgvector.NewVector(c.Vector), timeOrNow(c.Timestamp)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// QueryBySession returns every chunk belonging to sessionID.
func (b *PostgresVectorBackend) QueryBySession(ctx context.Context, sessionID string) ([]*model.ChunkEmbedding, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT chunk_id, session_id, message_id, chunk_index, content, embedding, created_at
		FROM chunk_embeddings WHERE session_id = $1
		ORDER BY message_id, chunk_index
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query by session: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// QueryAll returns every chunk across all sessions, for global search.
func (b *PostgresVectorBackend) QueryAll(ctx context.Context) ([]*model.ChunkEmbedding, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT chunk_id, session_id, message_id, chunk_index, content, embedding, created_at
		FROM chunk_embeddings
		ORDER BY session_id, message_id, chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// GetByMessage returns messageID's chunks ordered by chunk_index ascending.
func (b *PostgresVectorBackend) GetByMessage(ctx context.Context, messageID string) ([]*model.ChunkEmbedding, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT chunk_id, session_id, message_id, chunk_index, content, embedding, created_at
		FROM chunk_embeddings WHERE message_id = $1
		ORDER BY chunk_index
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query by message: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// DeleteBySession removes every chunk belonging to sessionID.
func (b *PostgresVectorBackend) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE session_id = $1`, sessionID)
	return err
}

// DeleteByMessage removes every chunk belonging to messageID.
func (b *PostgresVectorBackend) DeleteByMessage(ctx context.Context, messageID string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE message_id = $1`, messageID)
	return err
}

// CountBySession returns the number of chunks stored for sessionID.
func (b *PostgresVectorBackend) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_embeddings WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunkRows(rows pgxRows) ([]*model.ChunkEmbedding, error) {
	out := make([]*model.ChunkEmbedding, 0)
	for rows.Next() {
		var (
			c    model.ChunkEmbedding
			vec  pgvector.Vector
			when time.Time
		)
		if err := rows.Scan(&c.ChunkID, &c.SessionID, &c.MessageID, &c.ChunkIndex, &c.Text, &vec, &when); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		c.Vector = vec.Slice()
		c.Timestamp = when
		out = append(out, &c)
	}
	return out, rows.Err()
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
