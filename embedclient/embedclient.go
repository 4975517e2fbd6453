// Package embedclient calls a remote embedding endpoint and returns
// fixed-dimension vectors, retrying transient transport failures with
// exponential backoff (§4.C of the engine spec).
package embedclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"convomem/log"
	"convomem/model"
)

// Embedder is the capability interface the rest of the pipeline depends
// on, so retrieval/indexing are testable with in-memory fakes returning
// deterministic vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls retry behavior and the canonical vector dimension.
type Config struct {
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultConfig mirrors the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Model:      "text-embedding-3-small",
		Dimension:  model.EmbeddingDimension,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
	}
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint via go-openai,
// matching the client conventions the teacher uses for chat completions
// in llmutils.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIEmbedder builds an Embedder backed by an existing go-openai
// client (so callers can share one client, with its own base URL/key,
// across the embedding and completion concerns).
func NewOpenAIEmbedder(client *openai.Client, cfg Config) *OpenAIEmbedder {
	if cfg.Dimension <= 0 {
		cfg.Dimension = model.EmbeddingDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{client: client, cfg: cfg}
}

// Embed returns the canonical-dimension embedding of text, retrying
// transport failures with exponential backoff and jitter up to
// cfg.MaxRetries attempts before failing with KindEmbeddingUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, model.NewError(model.KindBadInput, "cannot embed empty text", nil)
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(e.cfg.BaseDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, model.NewError(model.KindEmbeddingUnavailable, "embedding request canceled", ctx.Err())
			}
		}

		vec, err := e.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		log.Log.Warnf("embedding attempt %d/%d failed: %v", attempt+1, e.cfg.MaxRetries+1, err)
	}

	return nil, model.NewError(model.KindEmbeddingUnavailable, "embedding service unavailable after retries", lastErr)
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.cfg.Model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, model.NewError(model.KindInternal, "embedding response had no data", nil)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.cfg.Dimension {
		return nil, model.NewError(model.KindInternal, "embedding response had unexpected dimension", nil)
	}
	if !finiteNonZero(vec) {
		return nil, model.NewError(model.KindInternal, "embedding response was non-finite or zero", nil)
	}
	return vec, nil
}

func finiteNonZero(v []float32) bool {
	var sumSq float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sumSq += f * f
	}
	return sumSq > 0
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(base)))
	return exp + jitter
}
